package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventClaims marks usage event ids as seen so retried deliveries are
// dropped before they reach the database. The unique index on event_id
// remains the authority; this is a cheap first pass.
type EventClaims struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEventClaims(client *redis.Client, ttl time.Duration) *EventClaims {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &EventClaims{client: client, ttl: ttl}
}

// Claim reports whether this process is the first to see the event id.
// Redis errors count as a successful claim so ingestion never stalls on the
// dedup layer.
func (c *EventClaims) Claim(ctx context.Context, eventID string) bool {
	if c == nil || c.client == nil || eventID == "" {
		return true
	}
	ok, err := c.client.SetNX(ctx, c.prefixed(eventID), 1, c.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Release drops a claim so a failed insert can be retried by the caller.
func (c *EventClaims) Release(ctx context.Context, eventID string) {
	if c == nil || c.client == nil || eventID == "" {
		return
	}
	c.client.Del(ctx, c.prefixed(eventID))
}

func (c *EventClaims) prefixed(key string) string {
	return "evclaim:" + key
}
