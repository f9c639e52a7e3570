package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// The pct column is NUMERIC; values travel as text so the database does the
// exact-decimal parsing instead of a float round trip.
const insertAuditEntrySQL = `
INSERT INTO blocking_audit (
    id, user_id, operation, reason, performed_by,
    previous_status, new_status,
    usage_count, usage_limit, usage_pct,
    policy_updated, notified, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::text::numeric, $11, $12, $13)
RETURNING id`

func (s *Store) InsertAuditEntry(ctx context.Context, e AuditEntry) (uuid.UUID, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var id uuid.UUID
	err := s.db.QueryRow(ctx, insertAuditEntrySQL,
		e.ID, e.UserID, e.Operation, e.Reason, e.PerformedBy,
		e.PreviousStatus, e.NewStatus,
		e.UsageCount, e.UsageLimit, e.UsagePct.StringFixed(2),
		e.PolicyUpdated, e.Notified, e.CreatedAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert audit entry: %w", err)
	}
	return id, nil
}

const setAuditOutcomeSQL = `
UPDATE blocking_audit SET
    policy_updated = $2,
    notified = $3
WHERE id = $1`

// SetAuditOutcome records the advisory step results after the transition
// committed.
func (s *Store) SetAuditOutcome(ctx context.Context, id uuid.UUID, policyUpdated, notified bool) error {
	if _, err := s.db.Exec(ctx, setAuditOutcomeSQL, id, policyUpdated, notified); err != nil {
		return fmt.Errorf("set audit outcome: %w", err)
	}
	return nil
}

const listAuditEntriesSQL = `
SELECT id, user_id, operation, reason, performed_by,
       previous_status, new_status,
       COALESCE(usage_count, 0), COALESCE(usage_limit, 0), COALESCE(usage_pct, 0)::text,
       policy_updated, notified, created_at
FROM blocking_audit
WHERE ($1::text IS NULL OR user_id = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`

// ListAuditEntries returns entries newest first, optionally scoped to one user.
func (s *Store) ListAuditEntries(ctx context.Context, userID *string, limit, offset int32) ([]AuditEntry, error) {
	rows, err := s.db.Query(ctx, listAuditEntriesSQL, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

const countAuditEntriesSQL = `
SELECT COUNT(*) FROM blocking_audit
WHERE ($1::text IS NULL OR user_id = $1)`

func (s *Store) CountAuditEntries(ctx context.Context, userID *string) (int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, countAuditEntriesSQL, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return total, nil
}

func scanAuditEntries(rows pgx.Rows) ([]AuditEntry, error) {
	var out []AuditEntry
	for rows.Next() {
		var (
			e      AuditEntry
			rawPct string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Operation, &e.Reason, &e.PerformedBy,
			&e.PreviousStatus, &e.NewStatus,
			&e.UsageCount, &e.UsageLimit, &rawPct,
			&e.PolicyUpdated, &e.Notified, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		pct, err := decimal.NewFromString(rawPct)
		if err != nil {
			return nil, fmt.Errorf("parse audit pct: %w", err)
		}
		e.UsagePct = pct
		out = append(out, e)
	}
	return out, rows.Err()
}
