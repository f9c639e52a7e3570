// Package quota resolves effective request limits for a user and evaluates
// usage against them.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stratumops/quotawarden/internal/cache"
	"github.com/stratumops/quotawarden/internal/config"
	"github.com/stratumops/quotawarden/internal/store"
)

var ErrEmptyUserID = errors.New("user id required")

// Limit sources, most specific first.
const (
	SourceUser     = "user"
	SourceTeam     = "team"
	SourceDefaults = "defaults"
	SourceFallback = "fallback"
)

// Limits is the fully-resolved limit set applied to one user.
type Limits struct {
	Daily             int32   `json:"daily"`
	Monthly           int32   `json:"monthly"`
	WarningThreshold  float64 `json:"warning_threshold"`
	CriticalThreshold float64 `json:"critical_threshold"`
	Source            Sources `json:"source"`
}

// Sources records which level each field resolved from.
type Sources struct {
	Daily             string `json:"daily"`
	Monthly           string `json:"monthly"`
	WarningThreshold  string `json:"warning_threshold"`
	CriticalThreshold string `json:"critical_threshold"`
}

// Store is the slice of the persistence layer the resolver reads.
type Store interface {
	GetUser(ctx context.Context, userID string) (store.User, error)
	GetUserLimitOverride(ctx context.Context, userID string) (store.UserLimitOverride, error)
	GetTeamLimitOverride(ctx context.Context, teamID string) (store.TeamLimitOverride, error)
	GetLimitDefaults(ctx context.Context) (store.LimitDefaults, error)
}

// Resolver walks the override hierarchy (user, team, stored defaults,
// configured fallback) with field-level inheritance: a nil field at one
// level takes its value from the next level down. Resolutions are served
// through a read-through cache so hot enforcement paths do not hit the
// database per event.
type Resolver struct {
	store    Store
	cache    *cache.Cache[Limits]
	ttl      time.Duration
	fallback Limits
}

func NewResolver(st Store, c *cache.Cache[Limits], cfg config.LimitsConfig) *Resolver {
	ttl := cfg.ResolveCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		store: st,
		cache: c,
		ttl:   ttl,
		fallback: Limits{
			Daily:             int32(cfg.DefaultDaily),
			Monthly:           int32(cfg.DefaultMonthly),
			WarningThreshold:  cfg.WarningThreshold,
			CriticalThreshold: cfg.CriticalThreshold,
			Source: Sources{
				Daily:             SourceFallback,
				Monthly:           SourceFallback,
				WarningThreshold:  SourceFallback,
				CriticalThreshold: SourceFallback,
			},
		},
	}
}

// Resolve returns the effective limits for the user, from cache when fresh.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Limits, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Limits{}, ErrEmptyUserID
	}
	if r.cache == nil {
		return r.load(ctx, userID)
	}
	return r.cache.Get(ctx, "limits:"+userID, r.ttl, false, func(ctx context.Context) (Limits, error) {
		return r.load(ctx, userID)
	})
}

// ResolveTeam returns the effective limits for a team: team override over
// stored defaults over the configured fallback.
func (r *Resolver) ResolveTeam(ctx context.Context, teamID string) (Limits, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return Limits{}, ErrEmptyUserID
	}
	if r.cache == nil {
		return r.loadTeam(ctx, teamID)
	}
	return r.cache.Get(ctx, "teamlimits:"+teamID, r.ttl, false, func(ctx context.Context) (Limits, error) {
		return r.loadTeam(ctx, teamID)
	})
}

// Invalidate drops the cached resolution for one user. Admin limit updates
// call this so changes take effect without waiting out the TTL.
func (r *Resolver) Invalidate(userID string) {
	if r.cache != nil {
		r.cache.Invalidate("limits:" + userID)
	}
}

// InvalidateAll drops every cached resolution. Used when team overrides or
// defaults change, since those fan out to an unknown set of users.
func (r *Resolver) InvalidateAll() {
	if r.cache != nil {
		r.cache.Clear()
	}
}

func (r *Resolver) load(ctx context.Context, userID string) (Limits, error) {
	eff := r.fallback

	if defaults, err := r.store.GetLimitDefaults(ctx); err == nil {
		applySet(&eff, store.LimitSet{
			DailyLimit:        &defaults.DailyLimit,
			MonthlyLimit:      &defaults.MonthlyLimit,
			WarningThreshold:  &defaults.WarningThreshold,
			CriticalThreshold: &defaults.CriticalThreshold,
		}, SourceDefaults)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Limits{}, fmt.Errorf("load limit defaults: %w", err)
	}

	user, err := r.store.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Limits{}, fmt.Errorf("load user: %w", err)
	}
	if err == nil && user.TeamID != nil {
		teamOv, err := r.store.GetTeamLimitOverride(ctx, *user.TeamID)
		if err == nil {
			applySet(&eff, teamOv.LimitSet, SourceTeam)
		} else if !errors.Is(err, store.ErrNotFound) {
			return Limits{}, fmt.Errorf("load team override: %w", err)
		}
	}

	userOv, err := r.store.GetUserLimitOverride(ctx, userID)
	if err == nil {
		applySet(&eff, userOv.LimitSet, SourceUser)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Limits{}, fmt.Errorf("load user override: %w", err)
	}

	return eff, nil
}

func (r *Resolver) loadTeam(ctx context.Context, teamID string) (Limits, error) {
	eff := r.fallback

	if defaults, err := r.store.GetLimitDefaults(ctx); err == nil {
		applySet(&eff, store.LimitSet{
			DailyLimit:        &defaults.DailyLimit,
			MonthlyLimit:      &defaults.MonthlyLimit,
			WarningThreshold:  &defaults.WarningThreshold,
			CriticalThreshold: &defaults.CriticalThreshold,
		}, SourceDefaults)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Limits{}, fmt.Errorf("load limit defaults: %w", err)
	}

	teamOv, err := r.store.GetTeamLimitOverride(ctx, teamID)
	if err == nil {
		applySet(&eff, teamOv.LimitSet, SourceTeam)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Limits{}, fmt.Errorf("load team override: %w", err)
	}

	return eff, nil
}

func applySet(eff *Limits, set store.LimitSet, source string) {
	if set.DailyLimit != nil {
		eff.Daily = *set.DailyLimit
		eff.Source.Daily = source
	}
	if set.MonthlyLimit != nil {
		eff.Monthly = *set.MonthlyLimit
		eff.Source.Monthly = source
	}
	if set.WarningThreshold != nil {
		eff.WarningThreshold = *set.WarningThreshold
		eff.Source.WarningThreshold = source
	}
	if set.CriticalThreshold != nil {
		eff.CriticalThreshold = *set.CriticalThreshold
		eff.Source.CriticalThreshold = source
	}
}
