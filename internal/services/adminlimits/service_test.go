package adminlimits

import (
	"context"
	"errors"
	"testing"

	"github.com/stratumops/quotawarden/internal/store"
)

type fakeLimitsStore struct {
	defaults store.LimitDefaults
	userOv   map[string]store.UserLimitOverride
	teamOv   map[string]store.TeamLimitOverride
}

func newFakeLimitsStore() *fakeLimitsStore {
	return &fakeLimitsStore{
		defaults: store.LimitDefaults{DailyLimit: 350, MonthlyLimit: 5000, WarningThreshold: 0.60, CriticalThreshold: 0.85},
		userOv:   map[string]store.UserLimitOverride{},
		teamOv:   map[string]store.TeamLimitOverride{},
	}
}

func (f *fakeLimitsStore) GetLimitDefaults(context.Context) (store.LimitDefaults, error) {
	return f.defaults, nil
}

func (f *fakeLimitsStore) UpdateLimitDefaults(_ context.Context, d store.LimitDefaults) (store.LimitDefaults, error) {
	f.defaults = d
	return d, nil
}

func (f *fakeLimitsStore) GetUserLimitOverride(_ context.Context, userID string) (store.UserLimitOverride, error) {
	if ov, ok := f.userOv[userID]; ok {
		return ov, nil
	}
	return store.UserLimitOverride{}, store.ErrNotFound
}

func (f *fakeLimitsStore) UpsertUserLimitOverride(_ context.Context, userID string, set store.LimitSet) (store.UserLimitOverride, error) {
	ov := store.UserLimitOverride{UserID: userID, LimitSet: set}
	f.userOv[userID] = ov
	return ov, nil
}

func (f *fakeLimitsStore) DeleteUserLimitOverride(_ context.Context, userID string) error {
	delete(f.userOv, userID)
	return nil
}

func (f *fakeLimitsStore) ListUserLimitOverrides(context.Context) ([]store.UserLimitOverride, error) {
	out := make([]store.UserLimitOverride, 0, len(f.userOv))
	for _, ov := range f.userOv {
		out = append(out, ov)
	}
	return out, nil
}

func (f *fakeLimitsStore) GetTeamLimitOverride(_ context.Context, teamID string) (store.TeamLimitOverride, error) {
	if ov, ok := f.teamOv[teamID]; ok {
		return ov, nil
	}
	return store.TeamLimitOverride{}, store.ErrNotFound
}

func (f *fakeLimitsStore) UpsertTeamLimitOverride(_ context.Context, teamID string, set store.LimitSet) (store.TeamLimitOverride, error) {
	ov := store.TeamLimitOverride{TeamID: teamID, LimitSet: set}
	f.teamOv[teamID] = ov
	return ov, nil
}

func (f *fakeLimitsStore) DeleteTeamLimitOverride(_ context.Context, teamID string) error {
	delete(f.teamOv, teamID)
	return nil
}

func (f *fakeLimitsStore) ListTeamLimitOverrides(context.Context) ([]store.TeamLimitOverride, error) {
	out := make([]store.TeamLimitOverride, 0, len(f.teamOv))
	for _, ov := range f.teamOv {
		out = append(out, ov)
	}
	return out, nil
}

type countingInvalidator struct {
	single int
	all    int
}

func (c *countingInvalidator) Invalidate(string) { c.single++ }
func (c *countingInvalidator) InvalidateAll()    { c.all++ }

func i32(v int32) *int32     { return &v }
func f64(v float64) *float64 { return &v }

func TestUpdateDefaultsValidation(t *testing.T) {
	svc := NewService(newFakeLimitsStore(), nil)

	cases := []struct {
		name string
		req  DefaultsUpdate
		want error
	}{
		{"zero daily", DefaultsUpdate{MonthlyLimit: 5000, WarningThreshold: 0.6, CriticalThreshold: 0.85}, ErrInvalidLimit},
		{"zero monthly", DefaultsUpdate{DailyLimit: 350, WarningThreshold: 0.6, CriticalThreshold: 0.85}, ErrInvalidLimit},
		{"threshold above one", DefaultsUpdate{DailyLimit: 350, MonthlyLimit: 5000, WarningThreshold: 1.5, CriticalThreshold: 0.85}, ErrInvalidThreshold},
		{"warning above critical", DefaultsUpdate{DailyLimit: 350, MonthlyLimit: 5000, WarningThreshold: 0.9, CriticalThreshold: 0.85}, ErrThresholdOrder},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.UpdateDefaults(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestUpdateDefaultsInvalidatesEverything(t *testing.T) {
	st := newFakeLimitsStore()
	inval := &countingInvalidator{}
	svc := NewService(st, inval)

	updated, err := svc.UpdateDefaults(context.Background(), DefaultsUpdate{
		DailyLimit: 500, MonthlyLimit: 8000,
		WarningThreshold: 0.5, CriticalThreshold: 0.9,
		UpdatedBy: "ops",
	})
	if err != nil {
		t.Fatalf("update defaults: %v", err)
	}
	if updated.DailyLimit != 500 {
		t.Fatalf("defaults = %+v", updated)
	}
	if inval.all != 1 {
		t.Fatalf("invalidate-all calls = %d, want 1", inval.all)
	}
}

func TestUserOverrideLifecycle(t *testing.T) {
	st := newFakeLimitsStore()
	inval := &countingInvalidator{}
	svc := NewService(st, inval)

	ov, err := svc.UpsertUserOverride(context.Background(), "alice", OverrideRequest{
		DailyLimit: i32(100), UpdatedBy: "ops",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if *ov.DailyLimit != 100 || ov.MonthlyLimit != nil {
		t.Fatalf("override = %+v, want partial set", ov)
	}
	if inval.single != 1 {
		t.Fatalf("invalidate calls = %d, want 1", inval.single)
	}

	got, err := svc.GetUserOverride(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got.DailyLimit != 100 {
		t.Fatalf("got = %+v", got)
	}

	if err := svc.DeleteUserOverride(context.Background(), "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetUserOverride(context.Background(), "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete error = %v, want not found", err)
	}
}

func TestOverrideValidation(t *testing.T) {
	svc := NewService(newFakeLimitsStore(), nil)

	if _, err := svc.UpsertUserOverride(context.Background(), "alice", OverrideRequest{DailyLimit: i32(-5)}); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("negative limit error = %v", err)
	}
	if _, err := svc.UpsertUserOverride(context.Background(), "alice", OverrideRequest{WarningThreshold: f64(0.9), CriticalThreshold: f64(0.6)}); !errors.Is(err, ErrThresholdOrder) {
		t.Fatalf("threshold order error = %v", err)
	}
	if _, err := svc.UpsertUserOverride(context.Background(), "  ", OverrideRequest{}); !errors.Is(err, ErrEmptySubject) {
		t.Fatalf("empty subject error = %v", err)
	}
}

func TestTeamOverrideInvalidatesAll(t *testing.T) {
	inval := &countingInvalidator{}
	svc := NewService(newFakeLimitsStore(), inval)

	if _, err := svc.UpsertTeamOverride(context.Background(), "infra", OverrideRequest{MonthlyLimit: i32(9000)}); err != nil {
		t.Fatalf("upsert team: %v", err)
	}
	if inval.all != 1 {
		t.Fatalf("invalidate-all calls = %d, want 1", inval.all)
	}
}
