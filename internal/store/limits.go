package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const getLimitDefaultsSQL = `
SELECT daily_limit, monthly_limit, warning_threshold, critical_threshold, updated_by, updated_at
FROM limit_defaults
WHERE id`

func (s *Store) GetLimitDefaults(ctx context.Context) (LimitDefaults, error) {
	var d LimitDefaults
	err := s.db.QueryRow(ctx, getLimitDefaultsSQL).
		Scan(&d.DailyLimit, &d.MonthlyLimit, &d.WarningThreshold, &d.CriticalThreshold, &d.UpdatedBy, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LimitDefaults{}, ErrNotFound
	}
	if err != nil {
		return LimitDefaults{}, fmt.Errorf("get limit defaults: %w", err)
	}
	return d, nil
}

const updateLimitDefaultsSQL = `
UPDATE limit_defaults SET
    daily_limit = $1,
    monthly_limit = $2,
    warning_threshold = $3,
    critical_threshold = $4,
    updated_by = $5,
    updated_at = now()
WHERE id
RETURNING daily_limit, monthly_limit, warning_threshold, critical_threshold, updated_by, updated_at`

func (s *Store) UpdateLimitDefaults(ctx context.Context, d LimitDefaults) (LimitDefaults, error) {
	var out LimitDefaults
	err := s.db.QueryRow(ctx, updateLimitDefaultsSQL,
		d.DailyLimit, d.MonthlyLimit, d.WarningThreshold, d.CriticalThreshold, d.UpdatedBy).
		Scan(&out.DailyLimit, &out.MonthlyLimit, &out.WarningThreshold, &out.CriticalThreshold, &out.UpdatedBy, &out.UpdatedAt)
	if err != nil {
		return LimitDefaults{}, fmt.Errorf("update limit defaults: %w", err)
	}
	return out, nil
}

const getUserLimitsSQL = `
SELECT user_id, daily_limit, monthly_limit, warning_threshold, critical_threshold, updated_by, updated_at
FROM user_limits
WHERE user_id = $1`

func (s *Store) GetUserLimitOverride(ctx context.Context, userID string) (UserLimitOverride, error) {
	var o UserLimitOverride
	err := s.db.QueryRow(ctx, getUserLimitsSQL, userID).
		Scan(&o.UserID, &o.DailyLimit, &o.MonthlyLimit, &o.WarningThreshold, &o.CriticalThreshold, &o.UpdatedBy, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserLimitOverride{}, ErrNotFound
	}
	if err != nil {
		return UserLimitOverride{}, fmt.Errorf("get user limits: %w", err)
	}
	return o, nil
}

const upsertUserLimitsSQL = `
INSERT INTO user_limits (user_id, daily_limit, monthly_limit, warning_threshold, critical_threshold, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (user_id) DO UPDATE SET
    daily_limit = EXCLUDED.daily_limit,
    monthly_limit = EXCLUDED.monthly_limit,
    warning_threshold = EXCLUDED.warning_threshold,
    critical_threshold = EXCLUDED.critical_threshold,
    updated_by = EXCLUDED.updated_by,
    updated_at = now()
RETURNING user_id, daily_limit, monthly_limit, warning_threshold, critical_threshold, updated_by, updated_at`

func (s *Store) UpsertUserLimitOverride(ctx context.Context, userID string, set LimitSet) (UserLimitOverride, error) {
	var o UserLimitOverride
	err := s.db.QueryRow(ctx, upsertUserLimitsSQL,
		userID, set.DailyLimit, set.MonthlyLimit, set.WarningThreshold, set.CriticalThreshold, set.UpdatedBy).
		Scan(&o.UserID, &o.DailyLimit, &o.MonthlyLimit, &o.WarningThreshold, &o.CriticalThreshold, &o.UpdatedBy, &o.UpdatedAt)
	if err != nil {
		return UserLimitOverride{}, fmt.Errorf("upsert user limits: %w", err)
	}
	return o, nil
}

const deleteUserLimitsSQL = `
DELETE FROM user_limits WHERE user_id = $1`

func (s *Store) DeleteUserLimitOverride(ctx context.Context, userID string) error {
	if _, err := s.db.Exec(ctx, deleteUserLimitsSQL, userID); err != nil {
		return fmt.Errorf("delete user limits: %w", err)
	}
	return nil
}

const listUserLimitsSQL = `
SELECT user_id, daily_limit, monthly_limit, warning_threshold, critical_threshold, updated_by, updated_at
FROM user_limits
ORDER BY user_id`

func (s *Store) ListUserLimitOverrides(ctx context.Context) ([]UserLimitOverride, error) {
	rows, err := s.db.Query(ctx, listUserLimitsSQL)
	if err != nil {
		return nil, fmt.Errorf("list user limits: %w", err)
	}
	defer rows.Close()

	var out []UserLimitOverride
	for rows.Next() {
		var o UserLimitOverride
		if err := rows.Scan(&o.UserID, &o.DailyLimit, &o.MonthlyLimit, &o.WarningThreshold, &o.CriticalThreshold, &o.UpdatedBy, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user limits: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const getTeamLimitsSQL = `
SELECT team_id, daily_limit, monthly_limit, warning_threshold, critical_threshold, updated_by, updated_at
FROM team_limits
WHERE team_id = $1`

func (s *Store) GetTeamLimitOverride(ctx context.Context, teamID string) (TeamLimitOverride, error) {
	var o TeamLimitOverride
	err := s.db.QueryRow(ctx, getTeamLimitsSQL, teamID).
		Scan(&o.TeamID, &o.DailyLimit, &o.MonthlyLimit, &o.WarningThreshold, &o.CriticalThreshold, &o.UpdatedBy, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TeamLimitOverride{}, ErrNotFound
	}
	if err != nil {
		return TeamLimitOverride{}, fmt.Errorf("get team limits: %w", err)
	}
	return o, nil
}

const upsertTeamLimitsSQL = `
INSERT INTO team_limits (team_id, daily_limit, monthly_limit, warning_threshold, critical_threshold, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (team_id) DO UPDATE SET
    daily_limit = EXCLUDED.daily_limit,
    monthly_limit = EXCLUDED.monthly_limit,
    warning_threshold = EXCLUDED.warning_threshold,
    critical_threshold = EXCLUDED.critical_threshold,
    updated_by = EXCLUDED.updated_by,
    updated_at = now()
RETURNING team_id, daily_limit, monthly_limit, warning_threshold, critical_threshold, updated_by, updated_at`

func (s *Store) UpsertTeamLimitOverride(ctx context.Context, teamID string, set LimitSet) (TeamLimitOverride, error) {
	var o TeamLimitOverride
	err := s.db.QueryRow(ctx, upsertTeamLimitsSQL,
		teamID, set.DailyLimit, set.MonthlyLimit, set.WarningThreshold, set.CriticalThreshold, set.UpdatedBy).
		Scan(&o.TeamID, &o.DailyLimit, &o.MonthlyLimit, &o.WarningThreshold, &o.CriticalThreshold, &o.UpdatedBy, &o.UpdatedAt)
	if err != nil {
		return TeamLimitOverride{}, fmt.Errorf("upsert team limits: %w", err)
	}
	return o, nil
}

const deleteTeamLimitsSQL = `
DELETE FROM team_limits WHERE team_id = $1`

func (s *Store) DeleteTeamLimitOverride(ctx context.Context, teamID string) error {
	if _, err := s.db.Exec(ctx, deleteTeamLimitsSQL, teamID); err != nil {
		return fmt.Errorf("delete team limits: %w", err)
	}
	return nil
}

const listTeamLimitsSQL = `
SELECT team_id, daily_limit, monthly_limit, warning_threshold, critical_threshold, updated_by, updated_at
FROM team_limits
ORDER BY team_id`

func (s *Store) ListTeamLimitOverrides(ctx context.Context) ([]TeamLimitOverride, error) {
	rows, err := s.db.Query(ctx, listTeamLimitsSQL)
	if err != nil {
		return nil, fmt.Errorf("list team limits: %w", err)
	}
	defer rows.Close()

	var out []TeamLimitOverride
	for rows.Next() {
		var o TeamLimitOverride
		if err := rows.Scan(&o.TeamID, &o.DailyLimit, &o.MonthlyLimit, &o.WarningThreshold, &o.CriticalThreshold, &o.UpdatedBy, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan team limits: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
