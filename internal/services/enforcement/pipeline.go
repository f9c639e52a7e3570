// Package enforcement runs the per-event pipeline: record usage, evaluate
// quotas, and act on the outcome.
package enforcement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stratumops/quotawarden/internal/notify"
	"github.com/stratumops/quotawarden/internal/services/blocking"
	"github.com/stratumops/quotawarden/internal/services/quota"
	"github.com/stratumops/quotawarden/internal/services/usage"
	"github.com/stratumops/quotawarden/internal/store"
)

// UsageSource records events and serves aggregated counts.
type UsageSource interface {
	Record(ctx context.Context, ev usage.Event) (usage.RecordResult, error)
	DailySummary(ctx context.Context, userID string) (usage.Summary, error)
	MonthlySummary(ctx context.Context, userID string) (usage.Summary, error)
	TeamDaily(ctx context.Context, teamID string) (usage.Summary, error)
	TeamMonthly(ctx context.Context, teamID string) (usage.Summary, error)
}

// LimitSource resolves effective limits.
type LimitSource interface {
	Resolve(ctx context.Context, userID string) (quota.Limits, error)
	ResolveTeam(ctx context.Context, teamID string) (quota.Limits, error)
}

// Blocker is the slice of the state machine the pipeline drives.
type Blocker interface {
	AutoBlock(ctx context.Context, userID string, snapshot blocking.UsageSnapshot) (blocking.TransitionResult, error)
}

// Notifier dispatches warning notifications.
type Notifier interface {
	Dispatch(ctx context.Context, n notify.Notification) notify.Result
}

// Directory looks up a user's team membership.
type Directory interface {
	GetUser(ctx context.Context, userID string) (store.User, error)
}

// Metrics counts pipeline outcomes; nil disables recording.
type Metrics interface {
	Event()
	Evaluation(status string)
	Block()
	BlockRefused()
}

// Decision summarizes what the pipeline did with one event.
type Decision struct {
	Recorded   bool         `json:"recorded"`
	Duplicate  bool         `json:"duplicate"`
	Status     quota.Status `json:"status"`
	DailyPct   float64      `json:"daily_pct"`
	MonthlyPct float64      `json:"monthly_pct"`
	DailyUsed  int64        `json:"daily_used"`
	DailyLimit int32        `json:"daily_limit"`
	Blocked    bool         `json:"blocked"`
	// BlockRefused is set when the evaluation called for a block but the
	// user's admin shield refused it.
	BlockRefused bool `json:"block_refused,omitempty"`
	WarningSent  bool `json:"warning_sent,omitempty"`
}

// Pipeline wires the per-event enforcement steps together.
type Pipeline struct {
	usage     UsageSource
	limits    LimitSource
	blocker   Blocker
	notifier  Notifier
	directory Directory
	metrics   Metrics
	logger    *slog.Logger
}

func NewPipeline(us UsageSource, limits LimitSource, blocker Blocker, notifier Notifier, directory Directory, metrics Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		usage:     us,
		limits:    limits,
		blocker:   blocker,
		notifier:  notifier,
		directory: directory,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "enforcement")),
	}
}

// Process ingests one usage event and enforces the user's quota against the
// updated counts. Duplicates still produce a decision so retried deliveries
// get a consistent answer.
func (p *Pipeline) Process(ctx context.Context, ev usage.Event) (Decision, error) {
	var decision Decision

	res, err := p.usage.Record(ctx, ev)
	if err != nil {
		return decision, err
	}
	decision.Recorded = res.Recorded
	decision.Duplicate = res.Duplicate
	if p.metrics != nil && res.Recorded {
		p.metrics.Event()
	}

	evaluated, err := p.evaluateUser(ctx, ev.UserID, &decision)
	if err != nil {
		return decision, err
	}
	if !evaluated {
		return decision, nil
	}

	p.evaluateTeam(ctx, ev.UserID)
	return decision, nil
}

// EvaluateUser computes the quota snapshot for a user without recording an
// event or taking enforcement actions. Status endpoints use it; a read must
// never block or notify.
func (p *Pipeline) EvaluateUser(ctx context.Context, userID string) (Decision, error) {
	var decision Decision
	if _, _, err := p.loadEvaluation(ctx, userID, &decision); err != nil {
		return decision, err
	}
	return decision, nil
}

func (p *Pipeline) loadEvaluation(ctx context.Context, userID string, decision *Decision) (quota.Evaluation, quota.Limits, error) {
	daily, err := p.usage.DailySummary(ctx, userID)
	if err != nil {
		return quota.Evaluation{}, quota.Limits{}, fmt.Errorf("daily summary: %w", err)
	}
	monthly, err := p.usage.MonthlySummary(ctx, userID)
	if err != nil {
		return quota.Evaluation{}, quota.Limits{}, fmt.Errorf("monthly summary: %w", err)
	}
	limits, err := p.limits.Resolve(ctx, userID)
	if err != nil {
		return quota.Evaluation{}, quota.Limits{}, fmt.Errorf("resolve limits: %w", err)
	}

	eval := quota.Evaluate(quota.Usage{Daily: daily.Requests, Monthly: monthly.Requests}, limits)
	decision.Status = eval.Status
	decision.DailyPct = eval.DailyPct
	decision.MonthlyPct = eval.MonthlyPct
	decision.DailyUsed = daily.Requests
	decision.DailyLimit = limits.Daily
	return eval, limits, nil
}

func (p *Pipeline) evaluateUser(ctx context.Context, userID string, decision *Decision) (bool, error) {
	eval, limits, err := p.loadEvaluation(ctx, userID, decision)
	if err != nil {
		return false, err
	}
	for _, warning := range eval.ConfigWarnings {
		p.logger.Warn("limit configuration problem", slog.String("user_id", userID), slog.String("detail", warning))
	}
	if p.metrics != nil {
		p.metrics.Evaluation(string(eval.Status))
	}

	if eval.RecommendBlock {
		result, err := p.blocker.AutoBlock(ctx, userID, blocking.UsageSnapshot{
			Count: decision.DailyUsed,
			Limit: limits.Daily,
			Pct:   eval.DailyPct,
		})
		switch {
		case errors.Is(err, blocking.ErrAdminProtected):
			decision.BlockRefused = true
			if p.metrics != nil {
				p.metrics.BlockRefused()
			}
			p.logger.Info("auto block refused by admin shield",
				slog.String("user_id", userID),
				slog.Int64("daily_used", decision.DailyUsed))
		case err != nil:
			return false, fmt.Errorf("auto block: %w", err)
		default:
			decision.Blocked = true
			if p.metrics != nil && !result.NoOp {
				p.metrics.Block()
			}
		}
		return true, nil
	}

	if eval.Status != quota.StatusOK && p.notifier != nil {
		sent := p.notifier.Dispatch(ctx, notify.Notification{
			Kind:        notify.KindWarning,
			SubjectID:   userID,
			SubjectKind: "user",
			UsageCount:  decision.DailyUsed,
			UsageLimit:  limits.Daily,
			UsagePct:    eval.DailyPct,
		})
		decision.WarningSent = sent.Delivered
	}
	return true, nil
}

// evaluateTeam checks the team aggregate and emits warnings only. Blocking
// stays per-user.
func (p *Pipeline) evaluateTeam(ctx context.Context, userID string) {
	if p.directory == nil {
		return
	}
	user, err := p.directory.GetUser(ctx, userID)
	if err != nil || user.TeamID == nil {
		return
	}
	teamID := *user.TeamID

	daily, err := p.usage.TeamDaily(ctx, teamID)
	if err != nil {
		p.logger.Warn("team daily summary failed", slog.String("team_id", teamID), slog.Any("error", err))
		return
	}
	monthly, err := p.usage.TeamMonthly(ctx, teamID)
	if err != nil {
		p.logger.Warn("team monthly summary failed", slog.String("team_id", teamID), slog.Any("error", err))
		return
	}
	limits, err := p.limits.ResolveTeam(ctx, teamID)
	if err != nil {
		p.logger.Warn("team limit resolve failed", slog.String("team_id", teamID), slog.Any("error", err))
		return
	}

	eval := quota.Evaluate(quota.Usage{Daily: daily.Requests, Monthly: monthly.Requests}, limits)
	if eval.Status == quota.StatusOK || p.notifier == nil {
		return
	}
	p.notifier.Dispatch(ctx, notify.Notification{
		Kind:        notify.KindWarning,
		SubjectID:   teamID,
		SubjectKind: "team",
		UsageCount:  daily.Requests,
		UsageLimit:  limits.Daily,
		UsagePct:    eval.DailyPct,
	})
}
