package blocking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stratumops/quotawarden/internal/clock"
	"github.com/stratumops/quotawarden/internal/config"
	"github.com/stratumops/quotawarden/internal/notify"
	"github.com/stratumops/quotawarden/internal/store"
)

// memStore is an in-memory Store whose guarded updates mirror the SQL
// predicates. InTx snapshots state and rolls it back on error so audit
// failures undo the transition like the real transaction does.
type memStore struct {
	rows     map[string]store.BlockingStatus
	audit    []store.AuditEntry
	outcomes map[uuid.UUID][2]bool

	auditErr    error
	failNextCAS int
}

func newMemStore() *memStore {
	return &memStore{
		rows:     map[string]store.BlockingStatus{},
		outcomes: map[uuid.UUID][2]bool{},
	}
}

func (m *memStore) GetBlockingStatus(_ context.Context, userID string) (store.BlockingStatus, error) {
	if st, ok := m.rows[userID]; ok {
		return st, nil
	}
	return store.BlockingStatus{}, store.ErrNotFound
}

func (m *memStore) EnsureBlockingRow(_ context.Context, userID string, now time.Time) error {
	if _, ok := m.rows[userID]; !ok {
		m.rows[userID] = store.BlockingStatus{UserID: userID, UpdatedAt: now}
	}
	return nil
}

func (m *memStore) stealCAS() bool {
	if m.failNextCAS > 0 {
		m.failNextCAS--
		return true
	}
	return false
}

func (m *memStore) AutoBlockCAS(_ context.Context, userID string, now time.Time, reason, by string) (bool, error) {
	if m.stealCAS() {
		return false, nil
	}
	st, ok := m.rows[userID]
	if !ok || st.IsBlocked || st.AdminProtected {
		return false, nil
	}
	st.IsBlocked = true
	st.BlockedAt = &now
	st.BlockedUntil = nil
	st.BlockReason = &reason
	st.BlockedBy = &by
	st.UpdatedAt = now
	m.rows[userID] = st
	return true, nil
}

func (m *memStore) AdminBlockCAS(_ context.Context, userID string, seenBlocked, seenProtected bool, now time.Time, until *time.Time, reason, by string) (bool, error) {
	if m.stealCAS() {
		return false, nil
	}
	st, ok := m.rows[userID]
	if !ok || st.IsBlocked != seenBlocked || st.AdminProtected != seenProtected {
		return false, nil
	}
	st.IsBlocked = true
	st.BlockedAt = &now
	st.BlockedUntil = until
	st.AdminProtected = true
	st.BlockReason = &reason
	st.BlockedBy = &by
	st.UpdatedAt = now
	m.rows[userID] = st
	return true, nil
}

func (m *memStore) AdminUnblockCAS(_ context.Context, userID string, seenBlocked, seenProtected bool, now time.Time) (bool, error) {
	if m.stealCAS() {
		return false, nil
	}
	st, ok := m.rows[userID]
	if !ok || st.IsBlocked != seenBlocked || st.AdminProtected != seenProtected {
		return false, nil
	}
	st.IsBlocked = false
	st.BlockedAt = nil
	st.BlockedUntil = nil
	st.AdminProtected = true
	st.BlockReason = nil
	st.BlockedBy = nil
	st.UpdatedAt = now
	m.rows[userID] = st
	return true, nil
}

func (m *memStore) ScheduledUnblockCAS(_ context.Context, userID string, now time.Time, includeIndefinite bool) (bool, error) {
	st, ok := m.rows[userID]
	if !ok || !sweepEligible(st, now, includeIndefinite) {
		return false, nil
	}
	st.IsBlocked = false
	st.BlockedAt = nil
	st.BlockedUntil = nil
	st.AdminProtected = false
	st.BlockReason = nil
	st.BlockedBy = nil
	st.UpdatedAt = now
	m.rows[userID] = st
	return true, nil
}

func (m *memStore) ListExpiredBlocks(_ context.Context, now time.Time, includeIndefinite bool) ([]store.BlockingStatus, error) {
	var out []store.BlockingStatus
	for _, st := range m.rows {
		if sweepEligible(st, now, includeIndefinite) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *memStore) ListProtectedActive(_ context.Context) ([]store.BlockingStatus, error) {
	var out []store.BlockingStatus
	for _, st := range m.rows {
		if !st.IsBlocked && st.AdminProtected {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *memStore) ClearProtectionActiveCAS(_ context.Context, userID string, now time.Time) (bool, error) {
	st, ok := m.rows[userID]
	if !ok || st.IsBlocked || !st.AdminProtected {
		return false, nil
	}
	st.AdminProtected = false
	st.UpdatedAt = now
	m.rows[userID] = st
	return true, nil
}

func (m *memStore) InsertAuditEntry(_ context.Context, e store.AuditEntry) (uuid.UUID, error) {
	if m.auditErr != nil {
		return uuid.Nil, m.auditErr
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.audit = append(m.audit, e)
	return e.ID, nil
}

func (m *memStore) SetAuditOutcome(_ context.Context, id uuid.UUID, policyUpdated, notified bool) error {
	m.outcomes[id] = [2]bool{policyUpdated, notified}
	return nil
}

func (m *memStore) InTx(ctx context.Context, fn func(Store) error) error {
	savedRows := make(map[string]store.BlockingStatus, len(m.rows))
	for k, v := range m.rows {
		savedRows[k] = v
	}
	savedAudit := len(m.audit)

	if err := fn(m); err != nil {
		m.rows = savedRows
		m.audit = m.audit[:savedAudit]
		return err
	}
	return nil
}

type captureSink struct {
	delivered []notify.Notification
}

func (c *captureSink) Deliver(_ context.Context, n notify.Notification, _ notify.Message) error {
	c.delivered = append(c.delivered, n)
	return nil
}

type denyAll struct{ blocks, restores int }

func (d *denyAll) Block(context.Context, string) error   { d.blocks++; return nil }
func (d *denyAll) Restore(context.Context, string) error { d.restores++; return nil }
func (d *denyAll) Name() string                          { return "test" }

func newTestService(st Store, clk clock.Clock) (*Service, *captureSink, *denyAll) {
	sink := &captureSink{}
	access := &denyAll{}
	dispatcher := notify.NewDispatcher(config.NotificationsConfig{Enabled: true}, sink, nil, clk, time.UTC, nil)
	svc := NewService(st, dispatcher, access, nil, clk, config.BlockingConfig{
		AdminDefaultDuration: 24 * time.Hour,
		StatusCacheTTL:       time.Second,
	}, nil, nil)
	return svc, sink, access
}

func testClock() *clock.Fake {
	return clock.NewFake(time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC))
}

func TestAutoBlockHappyPath(t *testing.T) {
	st := newMemStore()
	clk := testClock()
	svc, sink, access := newTestService(st, clk)

	res, err := svc.AutoBlock(context.Background(), "alice", UsageSnapshot{Count: 350, Limit: 350, Pct: 100})
	if err != nil {
		t.Fatalf("auto block: %v", err)
	}
	if res.NewStatus != "BLOCKED" || res.NoOp {
		t.Fatalf("result = %+v", res)
	}

	row := st.rows["alice"]
	if !row.IsBlocked || row.AdminProtected {
		t.Fatalf("row = %+v", row)
	}
	if row.BlockedUntil != nil {
		t.Fatal("auto block must be indefinite")
	}

	if len(st.audit) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(st.audit))
	}
	entry := st.audit[0]
	if entry.Operation != OpAutoBlock || entry.PerformedBy != "system" {
		t.Fatalf("audit = %+v", entry)
	}
	if entry.PreviousStatus != "ACTIVE" || entry.NewStatus != "BLOCKED" {
		t.Fatalf("audit status = %s -> %s", entry.PreviousStatus, entry.NewStatus)
	}
	if entry.UsageCount != 350 || entry.UsageLimit != 350 {
		t.Fatalf("audit usage = %d/%d", entry.UsageCount, entry.UsageLimit)
	}

	if len(sink.delivered) != 1 || sink.delivered[0].Kind != notify.KindBlocked {
		t.Fatalf("notifications = %+v", sink.delivered)
	}
	if access.blocks != 1 {
		t.Fatalf("access blocks = %d, want 1", access.blocks)
	}
	if outcome := st.outcomes[entry.ID]; outcome != [2]bool{true, true} {
		t.Fatalf("audit outcome = %v, want policy+notify true", outcome)
	}
}

func TestAutoBlockRefusedWhenProtected(t *testing.T) {
	st := newMemStore()
	clk := testClock()
	svc, sink, access := newTestService(st, clk)

	st.rows["alice"] = store.BlockingStatus{UserID: "alice", AdminProtected: true}

	_, err := svc.AutoBlock(context.Background(), "alice", UsageSnapshot{Count: 400, Limit: 350, Pct: 114.3})
	if !errors.Is(err, ErrAdminProtected) {
		t.Fatalf("error = %v, want ErrAdminProtected", err)
	}
	if len(st.audit) != 0 {
		t.Fatalf("refusal wrote %d audit rows", len(st.audit))
	}
	if len(sink.delivered) != 0 {
		t.Fatal("refusal sent a notification")
	}
	if access.blocks != 0 {
		t.Fatal("refusal touched access control")
	}
}

func TestAutoBlockAlreadyBlockedIsNoOp(t *testing.T) {
	st := newMemStore()
	svc, _, _ := newTestService(st, testClock())

	if _, err := svc.AutoBlock(context.Background(), "alice", UsageSnapshot{Count: 350, Limit: 350, Pct: 100}); err != nil {
		t.Fatalf("first block: %v", err)
	}
	res, err := svc.AutoBlock(context.Background(), "alice", UsageSnapshot{Count: 360, Limit: 350, Pct: 102.9})
	if err != nil {
		t.Fatalf("second block: %v", err)
	}
	if !res.NoOp {
		t.Fatalf("result = %+v, want no-op", res)
	}
	if len(st.audit) != 1 {
		t.Fatalf("audit rows = %d, want 1 (no duplicate)", len(st.audit))
	}
}

func TestAutoBlockRetriesLostCAS(t *testing.T) {
	st := newMemStore()
	svc, _, _ := newTestService(st, testClock())

	st.rows["alice"] = store.BlockingStatus{UserID: "alice"}
	st.failNextCAS = 1

	res, err := svc.AutoBlock(context.Background(), "alice", UsageSnapshot{Count: 350, Limit: 350, Pct: 100})
	if err != nil {
		t.Fatalf("auto block after one lost race: %v", err)
	}
	if res.NoOp || res.NewStatus != "BLOCKED" {
		t.Fatalf("result = %+v", res)
	}
}

func TestAutoBlockConflictAfterRetries(t *testing.T) {
	st := newMemStore()
	svc, _, _ := newTestService(st, testClock())

	st.rows["alice"] = store.BlockingStatus{UserID: "alice"}
	st.failNextCAS = 3

	if _, err := svc.AutoBlock(context.Background(), "alice", UsageSnapshot{Count: 350, Limit: 350, Pct: 100}); !errors.Is(err, ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
}

func TestAuditFailureRollsBackTransition(t *testing.T) {
	st := newMemStore()
	svc, sink, _ := newTestService(st, testClock())

	st.auditErr = errors.New("audit unavailable")

	_, err := svc.AutoBlock(context.Background(), "alice", UsageSnapshot{Count: 350, Limit: 350, Pct: 100})
	if err == nil {
		t.Fatal("expected error when audit append fails")
	}
	if st.rows["alice"].IsBlocked {
		t.Fatal("state write survived audit failure")
	}
	if len(sink.delivered) != 0 {
		t.Fatal("notification sent for rolled-back transition")
	}
}

func TestAdminBlockValidation(t *testing.T) {
	svc, _, _ := newTestService(newMemStore(), testClock())

	if _, err := svc.AdminBlock(context.Background(), "alice", BlockRequest{}); !errors.Is(err, ErrEmptyReason) {
		t.Fatalf("empty reason error = %v", err)
	}
	if _, err := svc.AdminBlock(context.Background(), "alice", BlockRequest{Reason: "x", Duration: "fortnight"}); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("bad duration error = %v", err)
	}
	past := testClock().Now().Add(-time.Hour)
	if _, err := svc.AdminBlock(context.Background(), "alice", BlockRequest{Reason: "x", Until: &past}); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("past until error = %v", err)
	}
}

func TestAdminBlockDurations(t *testing.T) {
	clk := testClock()
	now := clk.Now()

	cases := []struct {
		name     string
		req      BlockRequest
		wantNil  bool
		wantTime time.Time
	}{
		{"default", BlockRequest{Reason: "r"}, false, now.Add(24 * time.Hour)},
		{"one day", BlockRequest{Reason: "r", Duration: DurationOneDay}, false, now.AddDate(0, 0, 1)},
		{"thirty days", BlockRequest{Reason: "r", Duration: Duration30Days}, false, now.AddDate(0, 0, 30)},
		{"ninety days", BlockRequest{Reason: "r", Duration: Duration90Days}, false, now.AddDate(0, 0, 90)},
		{"indefinite", BlockRequest{Reason: "r", Duration: DurationIndefinite}, true, time.Time{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newMemStore()
			svc, _, _ := newTestService(st, clk)

			res, err := svc.AdminBlock(context.Background(), "alice", tc.req)
			if err != nil {
				t.Fatalf("admin block: %v", err)
			}
			if tc.wantNil {
				if res.ExpiresAt != nil {
					t.Fatalf("expires = %v, want nil", res.ExpiresAt)
				}
				return
			}
			if res.ExpiresAt == nil || !res.ExpiresAt.Equal(tc.wantTime) {
				t.Fatalf("expires = %v, want %v", res.ExpiresAt, tc.wantTime)
			}
		})
	}
}

func TestAdminBlockSetsProtection(t *testing.T) {
	st := newMemStore()
	svc, sink, _ := newTestService(st, testClock())

	if _, err := svc.AdminBlock(context.Background(), "alice", BlockRequest{Reason: "abuse", PerformedBy: "ops"}); err != nil {
		t.Fatalf("admin block: %v", err)
	}
	row := st.rows["alice"]
	if !row.IsBlocked || !row.AdminProtected {
		t.Fatalf("row = %+v, want blocked+protected", row)
	}
	if len(sink.delivered) != 1 || sink.delivered[0].Kind != notify.KindAdminBlocked {
		t.Fatalf("notifications = %+v", sink.delivered)
	}
}

func TestAdminReblockStillAudited(t *testing.T) {
	st := newMemStore()
	svc, _, _ := newTestService(st, testClock())

	if _, err := svc.AdminBlock(context.Background(), "alice", BlockRequest{Reason: "first"}); err != nil {
		t.Fatalf("first block: %v", err)
	}
	if _, err := svc.AdminBlock(context.Background(), "alice", BlockRequest{Reason: "extended", Duration: Duration30Days}); err != nil {
		t.Fatalf("re-block: %v", err)
	}
	if len(st.audit) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(st.audit))
	}
	if got := *st.rows["alice"].BlockReason; got != "extended" {
		t.Fatalf("reason = %q, want updated", got)
	}
}

func TestAdminUnblockShieldsUser(t *testing.T) {
	st := newMemStore()
	clk := testClock()
	svc, sink, access := newTestService(st, clk)

	if _, err := svc.AutoBlock(context.Background(), "alice", UsageSnapshot{Count: 350, Limit: 350, Pct: 100}); err != nil {
		t.Fatalf("auto block: %v", err)
	}

	res, err := svc.AdminUnblock(context.Background(), "alice", UnblockRequest{Reason: "false positive", PerformedBy: "ops"})
	if err != nil {
		t.Fatalf("admin unblock: %v", err)
	}
	if res.NewStatus != "ACTIVE" {
		t.Fatalf("result = %+v", res)
	}
	row := st.rows["alice"]
	if row.IsBlocked || !row.AdminProtected {
		t.Fatalf("row = %+v, want active+protected", row)
	}
	if access.restores != 1 {
		t.Fatalf("access restores = %d, want 1", access.restores)
	}
	if sink.delivered[len(sink.delivered)-1].Kind != notify.KindAdminUnblocked {
		t.Fatalf("last notification = %+v", sink.delivered)
	}

	// The shield now refuses automatic re-blocking.
	if _, err := svc.AutoBlock(context.Background(), "alice", UsageSnapshot{Count: 400, Limit: 350, Pct: 114.3}); !errors.Is(err, ErrAdminProtected) {
		t.Fatalf("re-block error = %v, want ErrAdminProtected", err)
	}
}

func TestAdminUnblockActiveUserStillAudited(t *testing.T) {
	st := newMemStore()
	svc, _, _ := newTestService(st, testClock())

	if _, err := svc.AdminUnblock(context.Background(), "alice", UnblockRequest{Reason: "precaution"}); err != nil {
		t.Fatalf("unblock active user: %v", err)
	}
	if len(st.audit) != 1 || st.audit[0].Operation != OpAdminUnblock {
		t.Fatalf("audit = %+v", st.audit)
	}
	if !st.rows["alice"].AdminProtected {
		t.Fatal("shield not raised")
	}
}

func TestScheduledResetSweep(t *testing.T) {
	st := newMemStore()
	clk := testClock()
	now := clk.Now()
	svc, sink, _ := newTestService(st, clk)

	expired := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	st.rows["expired"] = store.BlockingStatus{UserID: "expired", IsBlocked: true, BlockedUntil: &expired}
	st.rows["running"] = store.BlockingStatus{UserID: "running", IsBlocked: true, BlockedUntil: &future}
	st.rows["indefinite"] = store.BlockingStatus{UserID: "indefinite", IsBlocked: true}
	st.rows["shielded-expired"] = store.BlockingStatus{UserID: "shielded-expired", IsBlocked: true, AdminProtected: true, BlockedUntil: &expired}
	st.rows["shielded-indefinite"] = store.BlockingStatus{UserID: "shielded-indefinite", IsBlocked: true, AdminProtected: true}
	st.rows["shielded-active"] = store.BlockingStatus{UserID: "shielded-active", AdminProtected: true}

	result, err := svc.ScheduledReset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if result.UnblockedCount != 2 {
		t.Fatalf("unblocked = %d, want 2", result.UnblockedCount)
	}
	if result.ProtectionsCleared != 1 {
		t.Fatalf("protections cleared = %d, want 1", result.ProtectionsCleared)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("errors = %v", result.Errors)
	}

	if st.rows["expired"].IsBlocked {
		t.Fatal("expired block not released")
	}
	if !st.rows["running"].IsBlocked || !st.rows["indefinite"].IsBlocked {
		t.Fatal("unexpired or indefinite block released")
	}
	// An expired admin block is swept like any other, shield dropped.
	if row := st.rows["shielded-expired"]; row.IsBlocked || row.AdminProtected {
		t.Fatalf("expired admin block = %+v, want released with protection cleared", row)
	}
	// An indefinite admin block waits for a manual unblock.
	if row := st.rows["shielded-indefinite"]; !row.IsBlocked || !row.AdminProtected {
		t.Fatalf("indefinite admin block = %+v, want untouched", row)
	}
	if st.rows["shielded-active"].AdminProtected {
		t.Fatal("active shield not cleared")
	}

	var resets int
	for _, n := range sink.delivered {
		if n.Kind == notify.KindReset {
			resets++
		}
	}
	if resets != 2 {
		t.Fatalf("reset notifications = %d, want 2", resets)
	}
}

func TestScheduledResetReleasesExpiredAdminBlock(t *testing.T) {
	st := newMemStore()
	clk := testClock()
	svc, _, access := newTestService(st, clk)

	if _, err := svc.AdminBlock(context.Background(), "bob", BlockRequest{Reason: "overage", Duration: Duration30Days, PerformedBy: "ops"}); err != nil {
		t.Fatalf("admin block: %v", err)
	}

	clk.Advance(29 * 24 * time.Hour)
	early, err := svc.ScheduledReset(context.Background())
	if err != nil {
		t.Fatalf("reset at day 29: %v", err)
	}
	if early.UnblockedCount != 0 {
		t.Fatalf("day-29 unblocked = %d, want 0", early.UnblockedCount)
	}
	if !st.rows["bob"].IsBlocked {
		t.Fatal("block released before its window passed")
	}

	clk.Advance(2 * 24 * time.Hour)
	late, err := svc.ScheduledReset(context.Background())
	if err != nil {
		t.Fatalf("reset at day 31: %v", err)
	}
	if late.UnblockedCount != 1 {
		t.Fatalf("day-31 unblocked = %d, want 1", late.UnblockedCount)
	}
	row := st.rows["bob"]
	if row.IsBlocked || row.AdminProtected || row.BlockedUntil != nil {
		t.Fatalf("row = %+v, want released with protection cleared", row)
	}
	if access.restores != 1 {
		t.Fatalf("access restores = %d, want 1", access.restores)
	}

	// The shield went down with the block, so automatic blocking may
	// resume once usage warrants it.
	if _, err := svc.AutoBlock(context.Background(), "bob", UsageSnapshot{Count: 400, Limit: 350, Pct: 114.3}); err != nil {
		t.Fatalf("auto block after release: %v", err)
	}
}

func TestScheduledResetIndefinitePolicy(t *testing.T) {
	st := newMemStore()
	clk := testClock()
	dispatcher := notify.NewDispatcher(config.NotificationsConfig{Enabled: true}, &captureSink{}, nil, clk, time.UTC, nil)
	svc := NewService(st, dispatcher, &denyAll{}, nil, clk, config.BlockingConfig{
		AdminDefaultDuration:       24 * time.Hour,
		ExpireIndefiniteAutoBlocks: true,
		StatusCacheTTL:             time.Second,
	}, nil, nil)

	st.rows["indefinite"] = store.BlockingStatus{UserID: "indefinite", IsBlocked: true}

	result, err := svc.ScheduledReset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if result.UnblockedCount != 1 {
		t.Fatalf("unblocked = %d, want 1", result.UnblockedCount)
	}
	if st.rows["indefinite"].IsBlocked {
		t.Fatal("indefinite block kept despite expiry policy")
	}
}

func TestScheduledResetIdempotent(t *testing.T) {
	st := newMemStore()
	clk := testClock()
	now := clk.Now()
	svc, _, _ := newTestService(st, clk)

	expired := now.Add(-time.Hour)
	st.rows["expired"] = store.BlockingStatus{UserID: "expired", IsBlocked: true, BlockedUntil: &expired}

	if _, err := svc.ScheduledReset(context.Background()); err != nil {
		t.Fatalf("first reset: %v", err)
	}
	auditAfterFirst := len(st.audit)

	second, err := svc.ScheduledReset(context.Background())
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if second.UnblockedCount != 0 {
		t.Fatalf("second run unblocked = %d, want 0", second.UnblockedCount)
	}
	if len(st.audit) != auditAfterFirst {
		t.Fatalf("second run appended audit rows: %d -> %d", auditAfterFirst, len(st.audit))
	}
}

func TestStatusReportsPendingReset(t *testing.T) {
	st := newMemStore()
	clk := testClock()
	svc, _, _ := newTestService(st, clk)

	past := clk.Now().Add(-time.Minute)
	st.rows["alice"] = store.BlockingStatus{UserID: "alice", IsBlocked: true, BlockedUntil: &past}

	view, err := svc.Status(context.Background(), "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !view.IsBlocked || !view.PendingReset {
		t.Fatalf("view = %+v, want blocked+pending", view)
	}

	// Unknown users read as active.
	unknown, err := svc.Status(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("status unknown: %v", err)
	}
	if unknown.IsBlocked || unknown.AdminProtected {
		t.Fatalf("unknown view = %+v", unknown)
	}
}
