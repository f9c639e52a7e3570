package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stratumops/quotawarden/internal/clock"
	"github.com/stratumops/quotawarden/internal/config"
	"github.com/stratumops/quotawarden/internal/timeutil"
)

// Dispatcher renders notifications and fans them out. Delivery problems are
// reported to the caller as a false Delivered flag, never as a hard error:
// a lost notification must not undo a state transition.
type Dispatcher struct {
	sink     Sink
	dedup    *WarningDedup
	clock    clock.Clock
	location *time.Location
	enabled  bool
	dedupOn  bool
	sender   string
	support  string
	metrics  Metrics
	logger   *slog.Logger
}

// Result reports what happened to one notification.
type Result struct {
	Delivered bool `json:"delivered"`
	Deduped   bool `json:"deduped"`
}

// Metrics counts dispatch outcomes; nil disables recording.
type Metrics interface {
	Notification(kind, outcome string)
}

func NewDispatcher(cfg config.NotificationsConfig, sink Sink, dedup *WarningDedup, clk clock.Clock, loc *time.Location, logger *slog.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	sender := strings.TrimSpace(cfg.SenderName)
	if sender == "" {
		sender = "usage warden"
	}
	return &Dispatcher{
		sink:     sink,
		dedup:    dedup,
		clock:    clk,
		location: timeutil.EnsureLocation(loc),
		enabled:  cfg.Enabled,
		dedupOn:  cfg.WarningDedup,
		sender:   sender,
		support:  strings.TrimSpace(cfg.SupportEmail),
		logger:   logger.With(slog.String("component", "notify")),
	}
}

// SetMetrics attaches a dispatch outcome counter. Call before serving traffic.
func (d *Dispatcher) SetMetrics(m Metrics) {
	if d != nil {
		d.metrics = m
	}
}

func (d *Dispatcher) record(kind Kind, outcome string) {
	if d != nil && d.metrics != nil {
		d.metrics.Notification(string(kind), outcome)
	}
}

// Dispatch renders and delivers one notification. Warnings are deduplicated
// per subject per local day; transition kinds always go out.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) Result {
	if d == nil || !d.enabled || d.sink == nil {
		return Result{}
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = d.clock.Now()
	}

	if n.Kind == KindWarning && d.dedupOn {
		ok, err := d.dedup.Claim(ctx, n.SubjectKind, n.SubjectID)
		if err != nil {
			d.logger.Warn("warning dedup unavailable, skipping warning",
				slog.String("subject_id", n.SubjectID), slog.Any("error", err))
			d.record(n.Kind, "deduped")
			return Result{Deduped: true}
		}
		if !ok {
			d.record(n.Kind, "deduped")
			return Result{Deduped: true}
		}
	}

	msg := d.render(n)
	if err := d.sink.Deliver(ctx, n, msg); err != nil {
		d.logger.Error("notification delivery failed",
			slog.String("kind", string(n.Kind)),
			slog.String("subject_id", n.SubjectID),
			slog.Any("error", err))
		d.record(n.Kind, "failed")
		return Result{}
	}
	d.record(n.Kind, "delivered")
	return Result{Delivered: true}
}

func (d *Dispatcher) render(n Notification) Message {
	subject := n.SubjectID
	if n.SubjectKind == "team" {
		subject = "team " + n.SubjectID
	}

	var msg Message
	switch n.Kind {
	case KindBlocked:
		msg.Subject = fmt.Sprintf("[%s] API access blocked for %s", d.sender, subject)
		msg.Body = fmt.Sprintf(
			"Access for %s has been automatically blocked after reaching the daily request limit (%d of %d requests, %.1f%%).\n"+
				"Access is restored automatically by the daily reset.",
			subject, n.UsageCount, n.UsageLimit, n.UsagePct)
	case KindAdminBlocked:
		until := "until further notice"
		if n.BlockedUntil != nil {
			until = "until " + n.BlockedUntil.In(d.location).Format(time.RFC1123)
		}
		msg.Subject = fmt.Sprintf("[%s] API access blocked for %s by %s", d.sender, subject, n.PerformedBy)
		msg.Body = fmt.Sprintf(
			"Access for %s was blocked by %s %s.\nReason: %s",
			subject, n.PerformedBy, until, n.Reason)
	case KindReset:
		msg.Subject = fmt.Sprintf("[%s] API access restored for %s", d.sender, subject)
		msg.Body = fmt.Sprintf(
			"The daily reset has restored access for %s. Usage counters start fresh for the new day.",
			subject)
	case KindAdminUnblocked:
		msg.Subject = fmt.Sprintf("[%s] API access restored for %s by %s", d.sender, subject, n.PerformedBy)
		msg.Body = fmt.Sprintf(
			"Access for %s was restored by %s and shielded from automatic re-blocking for the rest of the day.\nReason: %s",
			subject, n.PerformedBy, n.Reason)
	case KindWarning:
		msg.Subject = fmt.Sprintf("[%s] usage warning for %s", d.sender, subject)
		msg.Body = fmt.Sprintf(
			"%s has used %d of %d requests (%.1f%%). Access is blocked automatically at 100%% of the daily limit.",
			subject, n.UsageCount, n.UsageLimit, n.UsagePct)
	default:
		msg.Subject = fmt.Sprintf("[%s] %s for %s", d.sender, n.Kind, subject)
		msg.Body = n.Reason
	}

	if d.support != "" {
		msg.Body += "\n\nQuestions? Contact " + d.support
	}
	return msg
}
