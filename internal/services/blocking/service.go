// Package blocking is the per-user blocking state machine. Every transition
// is a guarded conditional update plus exactly one audit row in the same
// transaction; access-control and notification steps run afterwards and are
// advisory.
package blocking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stratumops/quotawarden/internal/accesscontrol"
	"github.com/stratumops/quotawarden/internal/cache"
	"github.com/stratumops/quotawarden/internal/clock"
	"github.com/stratumops/quotawarden/internal/config"
	"github.com/stratumops/quotawarden/internal/notify"
	"github.com/stratumops/quotawarden/internal/store"
)

var (
	ErrEmptyUserID     = errors.New("user id required")
	ErrEmptyReason     = errors.New("reason required")
	ErrInvalidDuration = errors.New("invalid block duration")
	ErrAdminProtected  = errors.New("user is admin protected")
	ErrConflict        = errors.New("blocking state changed concurrently")
)

// Audit operations.
const (
	OpAutoBlock    = "AUTO_BLOCK"
	OpAdminBlock   = "ADMIN_BLOCK"
	OpAutoUnblock  = "AUTO_UNBLOCK"
	OpAdminUnblock = "ADMIN_UNBLOCK"
)

const (
	performedBySystem    = "system"
	performedByScheduler = "scheduler"

	autoBlockReason   = "daily limit exceeded"
	autoUnblockReason = "scheduled daily reset"
)

// Named block durations accepted by AdminBlock.
const (
	DurationOneDay     = "1day"
	Duration30Days     = "30days"
	Duration90Days     = "90days"
	DurationIndefinite = "indefinite"
)

// UsageSnapshot is carried onto the audit row and into notifications.
type UsageSnapshot struct {
	Count int64
	Limit int32
	Pct   float64
}

// BlockRequest describes an administrative block.
type BlockRequest struct {
	Reason      string
	Duration    string
	Until       *time.Time
	PerformedBy string
}

// UnblockRequest describes an administrative unblock.
type UnblockRequest struct {
	Reason      string
	PerformedBy string
}

// StatusView is the read-side projection of a blocking row.
type StatusView struct {
	UserID         string     `json:"user_id"`
	IsBlocked      bool       `json:"is_blocked"`
	AdminProtected bool       `json:"admin_protected"`
	BlockedAt      *time.Time `json:"blocked_at,omitempty"`
	BlockedUntil   *time.Time `json:"blocked_until,omitempty"`
	BlockReason    *string    `json:"block_reason,omitempty"`
	BlockedBy      *string    `json:"blocked_by,omitempty"`

	// PendingReset marks a block whose window has passed but which the
	// sweep has not yet released. The read path never writes.
	PendingReset bool `json:"pending_reset"`
}

// TransitionResult reports one completed transition.
type TransitionResult struct {
	UserID        string     `json:"user_id"`
	Operation     string     `json:"operation"`
	NewStatus     string     `json:"new_status"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	PolicyUpdated bool       `json:"policy_updated"`
	Notified      bool       `json:"notified"`
	NoOp          bool       `json:"no_op,omitempty"`
}

// Metrics is the transition counter surface; nil disables recording.
type Metrics interface {
	Transition(operation string)
	Conflict()
}

// Service coordinates transitions, audit, access control and notifications.
type Service struct {
	store    Store
	notifier *notify.Dispatcher
	access   accesscontrol.Controller
	cache    *cache.Cache[StatusView]
	clock    clock.Clock
	cfg      config.BlockingConfig
	metrics  Metrics
	logger   *slog.Logger
}

func NewService(st Store, dispatcher *notify.Dispatcher, access accesscontrol.Controller, statusCache *cache.Cache[StatusView], clk clock.Clock, cfg config.BlockingConfig, metrics Metrics, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AdminDefaultDuration <= 0 {
		cfg.AdminDefaultDuration = 24 * time.Hour
	}
	if cfg.StatusCacheTTL <= 0 {
		cfg.StatusCacheTTL = 30 * time.Second
	}
	return &Service{
		store:    st,
		notifier: dispatcher,
		access:   access,
		cache:    statusCache,
		clock:    clk,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "blocking")),
	}
}

// AutoBlock applies a system block after the daily limit is reached. A
// protected row refuses with ErrAdminProtected and leaves no trace beyond
// the caller's log; an already-blocked row is a silent no-op.
func (s *Service) AutoBlock(ctx context.Context, userID string, usage UsageSnapshot) (TransitionResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TransitionResult{}, ErrEmptyUserID
	}

	now := s.clock.Now()
	if err := s.store.EnsureBlockingRow(ctx, userID, now); err != nil {
		return TransitionResult{}, err
	}

	var auditID uuid.UUID
	for attempt := 0; attempt < 2; attempt++ {
		st, err := s.currentStatus(ctx, userID)
		if err != nil {
			return TransitionResult{}, err
		}
		if st.AdminProtected {
			return TransitionResult{}, ErrAdminProtected
		}
		if st.IsBlocked {
			// Desired outcome already holds; no duplicate audit row.
			return TransitionResult{UserID: userID, Operation: OpAutoBlock, NewStatus: statusLabel(true), NoOp: true}, nil
		}

		var applied bool
		err = s.store.InTx(ctx, func(tx Store) error {
			var txErr error
			applied, txErr = tx.AutoBlockCAS(ctx, userID, now, autoBlockReason, performedBySystem)
			if txErr != nil || !applied {
				return txErr
			}
			auditID, txErr = tx.InsertAuditEntry(ctx, s.auditEntry(userID, OpAutoBlock, autoBlockReason, performedBySystem, st.IsBlocked, true, usage, now))
			return txErr
		})
		if err != nil {
			return TransitionResult{}, err
		}
		if applied {
			s.recordTransition(OpAutoBlock)
			res := TransitionResult{UserID: userID, Operation: OpAutoBlock, NewStatus: statusLabel(true)}
			s.finishTransition(ctx, &res, auditID, notify.Notification{
				Kind:        notify.KindBlocked,
				SubjectID:   userID,
				SubjectKind: "user",
				Reason:      autoBlockReason,
				PerformedBy: performedBySystem,
				UsageCount:  usage.Count,
				UsageLimit:  usage.Limit,
				UsagePct:    usage.Pct,
				OccurredAt:  now,
			}, true)
			return res, nil
		}
		s.recordConflict()
	}
	// Two lost races in a row; re-check once more for a terminal answer.
	if st, err := s.currentStatus(ctx, userID); err == nil {
		if st.AdminProtected {
			return TransitionResult{}, ErrAdminProtected
		}
		if st.IsBlocked {
			return TransitionResult{UserID: userID, Operation: OpAutoBlock, NewStatus: statusLabel(true), NoOp: true}, nil
		}
	}
	return TransitionResult{}, ErrConflict
}

// AdminBlock applies or reshapes an administrative block. Blocking an
// already-blocked user updates the window and reason and is still audited.
func (s *Service) AdminBlock(ctx context.Context, userID string, req BlockRequest) (TransitionResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TransitionResult{}, ErrEmptyUserID
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return TransitionResult{}, ErrEmptyReason
	}
	performedBy := strings.TrimSpace(req.PerformedBy)
	if performedBy == "" {
		performedBy = "admin"
	}

	now := s.clock.Now()
	until, err := s.resolveUntil(req, now)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := s.store.EnsureBlockingRow(ctx, userID, now); err != nil {
		return TransitionResult{}, err
	}

	var auditID uuid.UUID
	for attempt := 0; attempt < 2; attempt++ {
		st, err := s.currentStatus(ctx, userID)
		if err != nil {
			return TransitionResult{}, err
		}

		var applied bool
		err = s.store.InTx(ctx, func(tx Store) error {
			var txErr error
			applied, txErr = tx.AdminBlockCAS(ctx, userID, st.IsBlocked, st.AdminProtected, now, until, reason, performedBy)
			if txErr != nil || !applied {
				return txErr
			}
			auditID, txErr = tx.InsertAuditEntry(ctx, s.auditEntry(userID, OpAdminBlock, reason, performedBy, st.IsBlocked, true, UsageSnapshot{}, now))
			return txErr
		})
		if err != nil {
			return TransitionResult{}, err
		}
		if applied {
			s.recordTransition(OpAdminBlock)
			res := TransitionResult{UserID: userID, Operation: OpAdminBlock, NewStatus: statusLabel(true), ExpiresAt: until}
			s.finishTransition(ctx, &res, auditID, notify.Notification{
				Kind:         notify.KindAdminBlocked,
				SubjectID:    userID,
				SubjectKind:  "user",
				Reason:       reason,
				PerformedBy:  performedBy,
				BlockedUntil: until,
				OccurredAt:   now,
			}, true)
			return res, nil
		}
		s.recordConflict()
	}
	return TransitionResult{}, ErrConflict
}

// AdminUnblock releases a user regardless of current state and raises the
// protection shield so the next evaluation cannot immediately re-block.
// Unblocking an active user is a state no-op but is still audited.
func (s *Service) AdminUnblock(ctx context.Context, userID string, req UnblockRequest) (TransitionResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TransitionResult{}, ErrEmptyUserID
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return TransitionResult{}, ErrEmptyReason
	}
	performedBy := strings.TrimSpace(req.PerformedBy)
	if performedBy == "" {
		performedBy = "admin"
	}

	now := s.clock.Now()
	if err := s.store.EnsureBlockingRow(ctx, userID, now); err != nil {
		return TransitionResult{}, err
	}

	var auditID uuid.UUID
	for attempt := 0; attempt < 2; attempt++ {
		st, err := s.currentStatus(ctx, userID)
		if err != nil {
			return TransitionResult{}, err
		}

		var applied bool
		err = s.store.InTx(ctx, func(tx Store) error {
			var txErr error
			applied, txErr = tx.AdminUnblockCAS(ctx, userID, st.IsBlocked, st.AdminProtected, now)
			if txErr != nil || !applied {
				return txErr
			}
			auditID, txErr = tx.InsertAuditEntry(ctx, s.auditEntry(userID, OpAdminUnblock, reason, performedBy, st.IsBlocked, false, UsageSnapshot{}, now))
			return txErr
		})
		if err != nil {
			return TransitionResult{}, err
		}
		if applied {
			s.recordTransition(OpAdminUnblock)
			res := TransitionResult{UserID: userID, Operation: OpAdminUnblock, NewStatus: statusLabel(false)}
			s.finishTransition(ctx, &res, auditID, notify.Notification{
				Kind:        notify.KindAdminUnblocked,
				SubjectID:   userID,
				SubjectKind: "user",
				Reason:      reason,
				PerformedBy: performedBy,
				OccurredAt:  now,
			}, false)
			return res, nil
		}
		s.recordConflict()
	}
	return TransitionResult{}, ErrConflict
}

// Status returns the cached blocking view for a user. Missing rows read as
// active and unprotected.
func (s *Service) Status(ctx context.Context, userID string) (StatusView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return StatusView{}, ErrEmptyUserID
	}
	if s.cache == nil {
		return s.loadStatus(ctx, userID)
	}
	return s.cache.Get(ctx, statusKey(userID), s.cfg.StatusCacheTTL, false, func(ctx context.Context) (StatusView, error) {
		return s.loadStatus(ctx, userID)
	})
}

func (s *Service) loadStatus(ctx context.Context, userID string) (StatusView, error) {
	st, err := s.store.GetBlockingStatus(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return StatusView{UserID: userID}, nil
	}
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{
		UserID:         st.UserID,
		IsBlocked:      st.IsBlocked,
		AdminProtected: st.AdminProtected,
		BlockedAt:      st.BlockedAt,
		BlockedUntil:   st.BlockedUntil,
		BlockReason:    st.BlockReason,
		BlockedBy:      st.BlockedBy,
		PendingReset:   isExpired(st, s.clock.Now()),
	}, nil
}

func (s *Service) currentStatus(ctx context.Context, userID string) (store.BlockingStatus, error) {
	st, err := s.store.GetBlockingStatus(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.BlockingStatus{UserID: userID}, nil
	}
	return st, err
}

func (s *Service) resolveUntil(req BlockRequest, now time.Time) (*time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(req.Duration)) {
	case "":
		if req.Until != nil {
			if !req.Until.After(now) {
				return nil, ErrInvalidDuration
			}
			t := req.Until.UTC()
			return &t, nil
		}
		t := now.Add(s.cfg.AdminDefaultDuration)
		return &t, nil
	case DurationOneDay:
		t := now.AddDate(0, 0, 1)
		return &t, nil
	case Duration30Days:
		t := now.AddDate(0, 0, 30)
		return &t, nil
	case Duration90Days:
		t := now.AddDate(0, 0, 90)
		return &t, nil
	case DurationIndefinite:
		return nil, nil
	default:
		return nil, ErrInvalidDuration
	}
}

func (s *Service) auditEntry(userID, operation, reason, performedBy string, prevBlocked, newBlocked bool, usage UsageSnapshot, now time.Time) store.AuditEntry {
	return store.AuditEntry{
		UserID:         userID,
		Operation:      operation,
		Reason:         reason,
		PerformedBy:    performedBy,
		PreviousStatus: statusLabel(prevBlocked),
		NewStatus:      statusLabel(newBlocked),
		UsageCount:     int32(usage.Count),
		UsageLimit:     usage.Limit,
		UsagePct:       decimal.NewFromFloat(usage.Pct),
		CreatedAt:      now,
	}
}

// finishTransition runs the advisory post-commit steps: access-control
// propagation, notification, and the audit outcome flags. Failures here are
// logged, never surfaced as operation errors.
func (s *Service) finishTransition(ctx context.Context, res *TransitionResult, auditID uuid.UUID, n notify.Notification, block bool) {
	s.invalidateStatus(res.UserID)

	if s.access != nil {
		var err error
		if block {
			err = s.access.Block(ctx, res.UserID)
		} else {
			err = s.access.Restore(ctx, res.UserID)
		}
		if err != nil {
			s.logger.Error("access control update failed",
				slog.String("user_id", res.UserID),
				slog.String("controller", s.access.Name()),
				slog.Any("error", err))
		} else {
			res.PolicyUpdated = true
		}
	}

	if s.notifier != nil {
		res.Notified = s.notifier.Dispatch(ctx, n).Delivered
	}

	if auditID != uuid.Nil {
		if err := s.store.SetAuditOutcome(ctx, auditID, res.PolicyUpdated, res.Notified); err != nil {
			s.logger.Error("record audit outcome failed",
				slog.String("user_id", res.UserID), slog.Any("error", err))
		}
	}
}

func (s *Service) invalidateStatus(userID string) {
	if s.cache != nil {
		s.cache.Invalidate(statusKey(userID))
	}
}

func (s *Service) recordTransition(op string) {
	if s.metrics != nil {
		s.metrics.Transition(op)
	}
}

func (s *Service) recordConflict() {
	if s.metrics != nil {
		s.metrics.Conflict()
	}
}

func statusKey(userID string) string {
	return "blockstatus:" + userID
}

// ExpiresAtString formats a pointer expiry for responses.
func ExpiresAtString(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
