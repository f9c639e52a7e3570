package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const insertUsageEventSQL = `
INSERT INTO usage_events (id, event_id, user_id, scope, requests, model, occurred_at, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (event_id) DO NOTHING`

// InsertUsageEvent records one usage event. The second return value is false
// when the event_id was already recorded.
func (s *Store) InsertUsageEvent(ctx context.Context, ev UsageEvent) (uuid.UUID, bool, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	tag, err := s.db.Exec(ctx, insertUsageEventSQL,
		ev.ID, ev.EventID, ev.UserID, ev.Scope, ev.Requests, ev.Model, ev.OccurredAt, ev.RecordedAt)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert usage event: %w", err)
	}
	return ev.ID, tag.RowsAffected() > 0, nil
}

const countUserRequestsSQL = `
SELECT COALESCE(SUM(requests), 0)
FROM usage_events
WHERE user_id = $1
  AND scope = 'user'
  AND occurred_at >= $2
  AND occurred_at < $3`

// CountUserRequests sums per-user requests within [start, end). Team-tagged
// rows are excluded.
func (s *Store) CountUserRequests(ctx context.Context, userID string, start, end time.Time) (int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, countUserRequestsSQL, userID, start, end).Scan(&total); err != nil {
		return 0, fmt.Errorf("count user requests: %w", err)
	}
	return total, nil
}

const countTeamRequestsSQL = `
SELECT COALESCE(SUM(e.requests), 0)
FROM usage_events e
JOIN users u ON u.user_id = e.user_id
WHERE u.team_id = $1
  AND e.scope = 'user'
  AND e.occurred_at >= $2
  AND e.occurred_at < $3`

// CountTeamRequests sums the team's member per-user requests within
// [start, end). The sum deliberately mirrors CountUserRequests row for row:
// a team total is the sum of its members, nothing more.
func (s *Store) CountTeamRequests(ctx context.Context, teamID string, start, end time.Time) (int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, countTeamRequestsSQL, teamID, start, end).Scan(&total); err != nil {
		return 0, fmt.Errorf("count team requests: %w", err)
	}
	return total, nil
}
