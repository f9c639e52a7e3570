// Package notify turns blocking decisions into operator-facing messages and
// fans them out to the configured sinks.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Kind labels the decision a notification reports.
type Kind string

const (
	KindBlocked        Kind = "blocked"
	KindAdminBlocked   Kind = "admin_blocked"
	KindReset          Kind = "reset"
	KindAdminUnblocked Kind = "admin_unblocked"
	KindWarning        Kind = "warning"
)

// IsTransition reports whether the kind announces a state change. Transition
// kinds are delivered unconditionally; only warnings are deduplicated.
func (k Kind) IsTransition() bool {
	return k != KindWarning
}

// Notification is one decision to announce.
type Notification struct {
	Kind         Kind       `json:"kind"`
	SubjectID    string     `json:"subject_id"`
	SubjectKind  string     `json:"subject_kind"` // user or team
	Reason       string     `json:"reason,omitempty"`
	PerformedBy  string     `json:"performed_by,omitempty"`
	UsageCount   int64      `json:"usage_count"`
	UsageLimit   int32      `json:"usage_limit"`
	UsagePct     float64    `json:"usage_pct"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// Message is the rendered subject and body for a notification.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Sink delivers a rendered notification somewhere.
type Sink interface {
	Deliver(ctx context.Context, n Notification, msg Message) error
}

// LogSink writes notifications to the structured log. It is the floor every
// deployment gets even with webhooks unconfigured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With(slog.String("component", "notify"))}
}

func (s *LogSink) Deliver(_ context.Context, n Notification, msg Message) error {
	if s == nil {
		return nil
	}
	s.logger.Info("notification",
		slog.String("kind", string(n.Kind)),
		slog.String("subject_kind", n.SubjectKind),
		slog.String("subject_id", n.SubjectID),
		slog.String("summary", msg.Subject),
	)
	return nil
}
