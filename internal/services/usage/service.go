package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stratumops/quotawarden/internal/cache"
	"github.com/stratumops/quotawarden/internal/clock"
	"github.com/stratumops/quotawarden/internal/store"
	"github.com/stratumops/quotawarden/internal/timeutil"
)

var (
	ErrEmptyUserID   = errors.New("user id required")
	ErrEmptyEventID  = errors.New("event id required")
	ErrInvalidCount  = errors.New("request count must be positive")
	ErrEventTooOld   = errors.New("event timestamp outside accepted range")
	ErrEventInFuture = errors.New("event timestamp in the future")
	ErrUnavailable   = errors.New("usage aggregation unavailable")
)

// Store is the slice of the persistence layer the aggregator uses.
type Store interface {
	EnsureUser(ctx context.Context, userID string) error
	InsertUsageEvent(ctx context.Context, ev store.UsageEvent) (uuid.UUID, bool, error)
	CountUserRequests(ctx context.Context, userID string, start, end time.Time) (int64, error)
	CountTeamRequests(ctx context.Context, teamID string, start, end time.Time) (int64, error)
}

// Summary is the count of recorded requests for one subject over one window.
type Summary struct {
	SubjectID string    `json:"subject_id"`
	Window    string    `json:"window"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Requests  int64     `json:"requests"`
}

// Event is a single usage report submitted by an upstream proxy or batch job.
type Event struct {
	EventID    string
	UserID     string
	Requests   int32
	Model      *string
	OccurredAt time.Time
}

// RecordResult reports whether an event was newly recorded or already known.
type RecordResult struct {
	Recorded  bool `json:"recorded"`
	Duplicate bool `json:"duplicate"`
}

// Service aggregates usage events into per-user and per-team request counts
// over calendar windows in the configured timezone.
type Service struct {
	store    Store
	claims   *cache.EventClaims
	clock    clock.Clock
	location *time.Location
	maxAge   time.Duration
	maxSkew  time.Duration
	logger   *slog.Logger
}

// Options tunes event acceptance. Zero values fall back to defaults.
type Options struct {
	// MaxAge rejects events older than this. Defaults to 48h, matching the
	// idempotency claim horizon.
	MaxAge time.Duration
	// MaxSkew tolerates slightly-future timestamps from drifting clocks.
	MaxSkew time.Duration
}

func NewService(st Store, claims *cache.EventClaims, clk clock.Clock, loc *time.Location, opts Options, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}
	maxSkew := opts.MaxSkew
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	return &Service{
		store:    st,
		claims:   claims,
		clock:    clk,
		location: timeutil.EnsureLocation(loc),
		maxAge:   maxAge,
		maxSkew:  maxSkew,
		logger:   logger.With(slog.String("component", "usage")),
	}
}

// Record ingests one usage event. Duplicate event ids are acknowledged
// without double counting; the unique index on event_id is the final
// authority, the Redis claim only short-circuits the common case.
func (s *Service) Record(ctx context.Context, ev Event) (RecordResult, error) {
	if s == nil || s.store == nil {
		return RecordResult{}, ErrUnavailable
	}
	ev.EventID = strings.TrimSpace(ev.EventID)
	ev.UserID = strings.TrimSpace(ev.UserID)
	if ev.EventID == "" {
		return RecordResult{}, ErrEmptyEventID
	}
	if ev.UserID == "" {
		return RecordResult{}, ErrEmptyUserID
	}
	if ev.Requests <= 0 {
		return RecordResult{}, ErrInvalidCount
	}

	now := s.clock.Now()
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	if occurred.After(now.Add(s.maxSkew)) {
		return RecordResult{}, ErrEventInFuture
	}
	if occurred.Before(now.Add(-s.maxAge)) {
		return RecordResult{}, ErrEventTooOld
	}

	if !s.claims.Claim(ctx, ev.EventID) {
		return RecordResult{Duplicate: true}, nil
	}

	if err := s.store.EnsureUser(ctx, ev.UserID); err != nil {
		s.claims.Release(ctx, ev.EventID)
		return RecordResult{}, fmt.Errorf("ensure user: %w", err)
	}

	_, inserted, err := s.store.InsertUsageEvent(ctx, store.UsageEvent{
		EventID:    ev.EventID,
		UserID:     ev.UserID,
		Scope:      "user",
		Requests:   ev.Requests,
		Model:      ev.Model,
		OccurredAt: occurred,
		RecordedAt: now,
	})
	if err != nil {
		s.claims.Release(ctx, ev.EventID)
		return RecordResult{}, fmt.Errorf("insert usage event: %w", err)
	}
	if !inserted {
		return RecordResult{Duplicate: true}, nil
	}
	return RecordResult{Recorded: true}, nil
}

// DailySummary counts a user's requests for the calendar day containing now.
func (s *Service) DailySummary(ctx context.Context, userID string) (Summary, error) {
	return s.userSummary(ctx, userID, timeutil.DayWindow(s.clock.Now(), s.location))
}

// MonthlySummary counts a user's requests for the calendar month containing now.
func (s *Service) MonthlySummary(ctx context.Context, userID string) (Summary, error) {
	return s.userSummary(ctx, userID, timeutil.MonthWindow(s.clock.Now(), s.location))
}

// TeamDaily sums the daily request counts of every member of the team.
func (s *Service) TeamDaily(ctx context.Context, teamID string) (Summary, error) {
	return s.teamSummary(ctx, teamID, timeutil.DayWindow(s.clock.Now(), s.location))
}

// TeamMonthly sums the monthly request counts of every member of the team.
func (s *Service) TeamMonthly(ctx context.Context, teamID string) (Summary, error) {
	return s.teamSummary(ctx, teamID, timeutil.MonthWindow(s.clock.Now(), s.location))
}

// SummaryForWindow counts a user's requests over an arbitrary window. The
// enforcement pipeline uses this to evaluate both horizons from a single
// point-in-time snapshot.
func (s *Service) SummaryForWindow(ctx context.Context, userID string, win timeutil.Window) (Summary, error) {
	return s.userSummary(ctx, userID, win)
}

// TeamSummaryForWindow counts a team's requests over an arbitrary window.
func (s *Service) TeamSummaryForWindow(ctx context.Context, teamID string, win timeutil.Window) (Summary, error) {
	return s.teamSummary(ctx, teamID, win)
}

func (s *Service) userSummary(ctx context.Context, userID string, win timeutil.Window) (Summary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Summary{}, ErrEmptyUserID
	}
	count, err := s.store.CountUserRequests(ctx, userID, win.Start(), win.End())
	if err != nil {
		return Summary{}, fmt.Errorf("count user requests: %w", err)
	}
	return Summary{
		SubjectID: userID,
		Window:    win.Label(),
		Start:     win.Start(),
		End:       win.End(),
		Requests:  count,
	}, nil
}

func (s *Service) teamSummary(ctx context.Context, teamID string, win timeutil.Window) (Summary, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return Summary{}, ErrEmptyUserID
	}
	count, err := s.store.CountTeamRequests(ctx, teamID, win.Start(), win.End())
	if err != nil {
		return Summary{}, fmt.Errorf("count team requests: %w", err)
	}
	return Summary{
		SubjectID: teamID,
		Window:    win.Label(),
		Start:     win.Start(),
		End:       win.End(),
		Requests:  count,
	}, nil
}

// Location exposes the aggregation timezone so callers can build matching windows.
func (s *Service) Location() *time.Location {
	if s == nil || s.location == nil {
		return time.UTC
	}
	return s.location
}
