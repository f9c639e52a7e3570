package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratumops/quotawarden/internal/clock"
	"github.com/stratumops/quotawarden/internal/timeutil"
)

// WarningDedup caps warning notifications at one per subject per local
// calendar day. The claim key expires at the next local midnight so a fresh
// day opens a fresh warning window.
type WarningDedup struct {
	client   *redis.Client
	clock    clock.Clock
	location *time.Location
}

func NewWarningDedup(client *redis.Client, clk clock.Clock, loc *time.Location) *WarningDedup {
	if clk == nil {
		clk = clock.System{}
	}
	return &WarningDedup{
		client:   client,
		clock:    clk,
		location: timeutil.EnsureLocation(loc),
	}
}

// Claim reports whether a warning may be sent for the subject today. A Redis
// failure claims nothing: dropping one warning beats spamming on every event
// while the dedup store is unreachable.
func (d *WarningDedup) Claim(ctx context.Context, subjectKind, subjectID string) (bool, error) {
	if d == nil || d.client == nil {
		return true, nil
	}
	now := d.clock.Now().In(d.location)
	ttl := timeutil.NextMidnight(now, d.location).Sub(now)
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := d.client.SetNX(ctx, d.key(subjectKind, subjectID, now), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("warning dedup claim: %w", err)
	}
	return ok, nil
}

func (d *WarningDedup) key(subjectKind, subjectID string, now time.Time) string {
	return fmt.Sprintf("warnonce:%s:%s:%s", subjectKind, subjectID, now.Format("2006-01-02"))
}
