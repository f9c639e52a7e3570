package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const getBlockingStatusSQL = `
SELECT user_id, is_blocked, blocked_at, blocked_until, admin_protected, block_reason, blocked_by, updated_at
FROM blocking_status
WHERE user_id = $1`

func (s *Store) GetBlockingStatus(ctx context.Context, userID string) (BlockingStatus, error) {
	var b BlockingStatus
	err := s.db.QueryRow(ctx, getBlockingStatusSQL, userID).
		Scan(&b.UserID, &b.IsBlocked, &b.BlockedAt, &b.BlockedUntil, &b.AdminProtected, &b.BlockReason, &b.BlockedBy, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BlockingStatus{}, ErrNotFound
	}
	if err != nil {
		return BlockingStatus{}, fmt.Errorf("get blocking status: %w", err)
	}
	return b, nil
}

const ensureBlockingRowSQL = `
INSERT INTO blocking_status (user_id, updated_at)
VALUES ($1, $2)
ON CONFLICT (user_id) DO NOTHING`

// EnsureBlockingRow creates the default unblocked row so conditional updates
// have something to match against.
func (s *Store) EnsureBlockingRow(ctx context.Context, userID string, now time.Time) error {
	if _, err := s.db.Exec(ctx, ensureBlockingRowSQL, userID, now); err != nil {
		return fmt.Errorf("ensure blocking row: %w", err)
	}
	return nil
}

const autoBlockSQL = `
UPDATE blocking_status SET
    is_blocked = TRUE,
    blocked_at = $2,
    blocked_until = NULL,
    block_reason = $3,
    blocked_by = $4,
    updated_at = $2
WHERE user_id = $1
  AND is_blocked = FALSE
  AND admin_protected = FALSE`

// AutoBlockCAS flips an unprotected active row to blocked with no expiry.
// Returns false when the row was already blocked, protected, or changed
// underneath the caller.
func (s *Store) AutoBlockCAS(ctx context.Context, userID string, now time.Time, reason, by string) (bool, error) {
	tag, err := s.db.Exec(ctx, autoBlockSQL, userID, now, reason, by)
	if err != nil {
		return false, fmt.Errorf("auto block: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const adminBlockSQL = `
UPDATE blocking_status SET
    is_blocked = TRUE,
    blocked_at = $4,
    blocked_until = $5,
    admin_protected = TRUE,
    block_reason = $6,
    blocked_by = $7,
    updated_at = $4
WHERE user_id = $1
  AND is_blocked = $2
  AND admin_protected = $3`

// AdminBlockCAS applies an administrative block against the observed
// (is_blocked, admin_protected) pair.
func (s *Store) AdminBlockCAS(ctx context.Context, userID string, seenBlocked, seenProtected bool, now time.Time, until *time.Time, reason, by string) (bool, error) {
	tag, err := s.db.Exec(ctx, adminBlockSQL, userID, seenBlocked, seenProtected, now, until, reason, by)
	if err != nil {
		return false, fmt.Errorf("admin block: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const adminUnblockSQL = `
UPDATE blocking_status SET
    is_blocked = FALSE,
    blocked_at = NULL,
    blocked_until = NULL,
    admin_protected = TRUE,
    block_reason = NULL,
    blocked_by = NULL,
    updated_at = $4
WHERE user_id = $1
  AND is_blocked = $2
  AND admin_protected = $3`

// AdminUnblockCAS releases the row and leaves the protection shield raised.
func (s *Store) AdminUnblockCAS(ctx context.Context, userID string, seenBlocked, seenProtected bool, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, adminUnblockSQL, userID, seenBlocked, seenProtected, now)
	if err != nil {
		return false, fmt.Errorf("admin unblock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const scheduledUnblockSQL = `
UPDATE blocking_status SET
    is_blocked = FALSE,
    blocked_at = NULL,
    blocked_until = NULL,
    admin_protected = FALSE,
    block_reason = NULL,
    blocked_by = NULL,
    updated_at = $2
WHERE user_id = $1
  AND is_blocked = TRUE
  AND blocked_until IS NOT NULL
  AND blocked_until <= $2`

const scheduledUnblockIndefiniteSQL = `
UPDATE blocking_status SET
    is_blocked = FALSE,
    blocked_at = NULL,
    blocked_until = NULL,
    admin_protected = FALSE,
    block_reason = NULL,
    blocked_by = NULL,
    updated_at = $2
WHERE user_id = $1
  AND is_blocked = TRUE
  AND (blocked_until <= $2
       OR (blocked_until IS NULL AND admin_protected = FALSE))`

// ScheduledUnblockCAS releases an expired block and drops the shield with it.
// Time-boxed blocks expire whether admin-placed or automatic; indefinite rows
// are released only when unprotected and the policy knob admits them. The
// eligibility guard runs inside the UPDATE, so a row that was admin-touched
// between candidate selection and this write simply does not match.
func (s *Store) ScheduledUnblockCAS(ctx context.Context, userID string, now time.Time, includeIndefinite bool) (bool, error) {
	query := scheduledUnblockSQL
	if includeIndefinite {
		query = scheduledUnblockIndefiniteSQL
	}
	tag, err := s.db.Exec(ctx, query, userID, now)
	if err != nil {
		return false, fmt.Errorf("scheduled unblock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const listExpiredBlocksSQL = `
SELECT user_id, is_blocked, blocked_at, blocked_until, admin_protected, block_reason, blocked_by, updated_at
FROM blocking_status
WHERE is_blocked = TRUE
  AND blocked_until IS NOT NULL
  AND blocked_until <= $1
ORDER BY user_id`

const listExpiredBlocksIndefiniteSQL = `
SELECT user_id, is_blocked, blocked_at, blocked_until, admin_protected, block_reason, blocked_by, updated_at
FROM blocking_status
WHERE is_blocked = TRUE
  AND (blocked_until <= $1
       OR (blocked_until IS NULL AND admin_protected = FALSE))
ORDER BY user_id`

// ListExpiredBlocks returns the sweep candidates as of now.
func (s *Store) ListExpiredBlocks(ctx context.Context, now time.Time, includeIndefinite bool) ([]BlockingStatus, error) {
	query := listExpiredBlocksSQL
	if includeIndefinite {
		query = listExpiredBlocksIndefiniteSQL
	}
	rows, err := s.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list expired blocks: %w", err)
	}
	defer rows.Close()
	return scanBlockingStatuses(rows)
}

const listProtectedActiveSQL = `
SELECT user_id, is_blocked, blocked_at, blocked_until, admin_protected, block_reason, blocked_by, updated_at
FROM blocking_status
WHERE is_blocked = FALSE
  AND admin_protected = TRUE
ORDER BY user_id`

// ListProtectedActive returns active rows still carrying the admin shield.
func (s *Store) ListProtectedActive(ctx context.Context) ([]BlockingStatus, error) {
	rows, err := s.db.Query(ctx, listProtectedActiveSQL)
	if err != nil {
		return nil, fmt.Errorf("list protected active: %w", err)
	}
	defer rows.Close()
	return scanBlockingStatuses(rows)
}

const clearProtectionActiveSQL = `
UPDATE blocking_status SET
    admin_protected = FALSE,
    updated_at = $2
WHERE user_id = $1
  AND is_blocked = FALSE
  AND admin_protected = TRUE`

// ClearProtectionActiveCAS drops the shield from an active row. Blocked rows
// never match; their protection is released by the unblock paths.
func (s *Store) ClearProtectionActiveCAS(ctx context.Context, userID string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, clearProtectionActiveSQL, userID, now)
	if err != nil {
		return false, fmt.Errorf("clear protection: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanBlockingStatuses(rows pgx.Rows) ([]BlockingStatus, error) {
	var out []BlockingStatus
	for rows.Next() {
		var b BlockingStatus
		if err := rows.Scan(&b.UserID, &b.IsBlocked, &b.BlockedAt, &b.BlockedUntil, &b.AdminProtected, &b.BlockReason, &b.BlockedBy, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan blocking status: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
