// Package adminlimits manages stored limit defaults and per-user/per-team
// overrides on behalf of the admin API.
package adminlimits

import (
	"context"
	"errors"
	"strings"

	"github.com/stratumops/quotawarden/internal/store"
)

var (
	ErrServiceUnavailable = errors.New("admin limits service not initialized")
	ErrEmptySubject       = errors.New("subject id required")
	ErrInvalidLimit       = errors.New("limits must be positive")
	ErrInvalidThreshold   = errors.New("thresholds must be between 0 and 1")
	ErrThresholdOrder     = errors.New("warning_threshold must be below critical_threshold")
	ErrNotFound           = store.ErrNotFound
)

// Store is the persistence surface for limit administration.
type Store interface {
	GetLimitDefaults(ctx context.Context) (store.LimitDefaults, error)
	UpdateLimitDefaults(ctx context.Context, d store.LimitDefaults) (store.LimitDefaults, error)
	GetUserLimitOverride(ctx context.Context, userID string) (store.UserLimitOverride, error)
	UpsertUserLimitOverride(ctx context.Context, userID string, set store.LimitSet) (store.UserLimitOverride, error)
	DeleteUserLimitOverride(ctx context.Context, userID string) error
	ListUserLimitOverrides(ctx context.Context) ([]store.UserLimitOverride, error)
	GetTeamLimitOverride(ctx context.Context, teamID string) (store.TeamLimitOverride, error)
	UpsertTeamLimitOverride(ctx context.Context, teamID string, set store.LimitSet) (store.TeamLimitOverride, error)
	DeleteTeamLimitOverride(ctx context.Context, teamID string) error
	ListTeamLimitOverrides(ctx context.Context) ([]store.TeamLimitOverride, error)
}

// Invalidator drops cached limit resolutions after a write. The quota
// resolver satisfies it.
type Invalidator interface {
	Invalidate(userID string)
	InvalidateAll()
}

// DefaultsUpdate replaces the stored defaults wholesale.
type DefaultsUpdate struct {
	DailyLimit        int32
	MonthlyLimit      int32
	WarningThreshold  float64
	CriticalThreshold float64
	UpdatedBy         string
}

// OverrideRequest carries a partial limit set; nil fields inherit from the
// next level of the hierarchy.
type OverrideRequest struct {
	DailyLimit        *int32
	MonthlyLimit      *int32
	WarningThreshold  *float64
	CriticalThreshold *float64
	UpdatedBy         string
}

type Service struct {
	store Store
	inval Invalidator
}

func NewService(st Store, inval Invalidator) *Service {
	return &Service{store: st, inval: inval}
}

func (s *Service) GetDefaults(ctx context.Context) (store.LimitDefaults, error) {
	if s == nil || s.store == nil {
		return store.LimitDefaults{}, ErrServiceUnavailable
	}
	return s.store.GetLimitDefaults(ctx)
}

func (s *Service) UpdateDefaults(ctx context.Context, req DefaultsUpdate) (store.LimitDefaults, error) {
	if s == nil || s.store == nil {
		return store.LimitDefaults{}, ErrServiceUnavailable
	}
	if req.DailyLimit <= 0 || req.MonthlyLimit <= 0 {
		return store.LimitDefaults{}, ErrInvalidLimit
	}
	if err := validateThresholds(&req.WarningThreshold, &req.CriticalThreshold); err != nil {
		return store.LimitDefaults{}, err
	}

	updatedBy := strings.TrimSpace(req.UpdatedBy)
	var byPtr *string
	if updatedBy != "" {
		byPtr = &updatedBy
	}
	defaults, err := s.store.UpdateLimitDefaults(ctx, store.LimitDefaults{
		DailyLimit:        req.DailyLimit,
		MonthlyLimit:      req.MonthlyLimit,
		WarningThreshold:  req.WarningThreshold,
		CriticalThreshold: req.CriticalThreshold,
		UpdatedBy:         byPtr,
	})
	if err != nil {
		return store.LimitDefaults{}, err
	}
	s.invalidateAll()
	return defaults, nil
}

func (s *Service) ListUserOverrides(ctx context.Context) ([]store.UserLimitOverride, error) {
	if s == nil || s.store == nil {
		return nil, ErrServiceUnavailable
	}
	return s.store.ListUserLimitOverrides(ctx)
}

func (s *Service) GetUserOverride(ctx context.Context, userID string) (store.UserLimitOverride, error) {
	if s == nil || s.store == nil {
		return store.UserLimitOverride{}, ErrServiceUnavailable
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return store.UserLimitOverride{}, ErrEmptySubject
	}
	return s.store.GetUserLimitOverride(ctx, userID)
}

func (s *Service) UpsertUserOverride(ctx context.Context, userID string, req OverrideRequest) (store.UserLimitOverride, error) {
	if s == nil || s.store == nil {
		return store.UserLimitOverride{}, ErrServiceUnavailable
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return store.UserLimitOverride{}, ErrEmptySubject
	}
	set, err := buildLimitSet(req)
	if err != nil {
		return store.UserLimitOverride{}, err
	}
	ov, err := s.store.UpsertUserLimitOverride(ctx, userID, set)
	if err != nil {
		return store.UserLimitOverride{}, err
	}
	s.invalidateUser(userID)
	return ov, nil
}

func (s *Service) DeleteUserOverride(ctx context.Context, userID string) error {
	if s == nil || s.store == nil {
		return ErrServiceUnavailable
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrEmptySubject
	}
	if err := s.store.DeleteUserLimitOverride(ctx, userID); err != nil {
		return err
	}
	s.invalidateUser(userID)
	return nil
}

func (s *Service) ListTeamOverrides(ctx context.Context) ([]store.TeamLimitOverride, error) {
	if s == nil || s.store == nil {
		return nil, ErrServiceUnavailable
	}
	return s.store.ListTeamLimitOverrides(ctx)
}

func (s *Service) GetTeamOverride(ctx context.Context, teamID string) (store.TeamLimitOverride, error) {
	if s == nil || s.store == nil {
		return store.TeamLimitOverride{}, ErrServiceUnavailable
	}
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return store.TeamLimitOverride{}, ErrEmptySubject
	}
	return s.store.GetTeamLimitOverride(ctx, teamID)
}

func (s *Service) UpsertTeamOverride(ctx context.Context, teamID string, req OverrideRequest) (store.TeamLimitOverride, error) {
	if s == nil || s.store == nil {
		return store.TeamLimitOverride{}, ErrServiceUnavailable
	}
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return store.TeamLimitOverride{}, ErrEmptySubject
	}
	set, err := buildLimitSet(req)
	if err != nil {
		return store.TeamLimitOverride{}, err
	}
	ov, err := s.store.UpsertTeamLimitOverride(ctx, teamID, set)
	if err != nil {
		return store.TeamLimitOverride{}, err
	}
	// Team membership is unknown here; drop everything.
	s.invalidateAll()
	return ov, nil
}

func (s *Service) DeleteTeamOverride(ctx context.Context, teamID string) error {
	if s == nil || s.store == nil {
		return ErrServiceUnavailable
	}
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return ErrEmptySubject
	}
	if err := s.store.DeleteTeamLimitOverride(ctx, teamID); err != nil {
		return err
	}
	s.invalidateAll()
	return nil
}

func (s *Service) invalidateUser(userID string) {
	if s.inval != nil {
		s.inval.Invalidate(userID)
	}
}

func (s *Service) invalidateAll() {
	if s.inval != nil {
		s.inval.InvalidateAll()
	}
}

func buildLimitSet(req OverrideRequest) (store.LimitSet, error) {
	if req.DailyLimit != nil && *req.DailyLimit <= 0 {
		return store.LimitSet{}, ErrInvalidLimit
	}
	if req.MonthlyLimit != nil && *req.MonthlyLimit <= 0 {
		return store.LimitSet{}, ErrInvalidLimit
	}
	if err := validateThresholds(req.WarningThreshold, req.CriticalThreshold); err != nil {
		return store.LimitSet{}, err
	}

	updatedBy := strings.TrimSpace(req.UpdatedBy)
	var byPtr *string
	if updatedBy != "" {
		byPtr = &updatedBy
	}
	return store.LimitSet{
		DailyLimit:        req.DailyLimit,
		MonthlyLimit:      req.MonthlyLimit,
		WarningThreshold:  req.WarningThreshold,
		CriticalThreshold: req.CriticalThreshold,
		UpdatedBy:         byPtr,
	}, nil
}

func validateThresholds(warning, critical *float64) error {
	if warning != nil && (*warning <= 0 || *warning > 1) {
		return ErrInvalidThreshold
	}
	if critical != nil && (*critical <= 0 || *critical > 1) {
		return ErrInvalidThreshold
	}
	if warning != nil && critical != nil && *warning >= *critical {
		return ErrThresholdOrder
	}
	return nil
}
