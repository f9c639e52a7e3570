// Package accesscontrol propagates blocking decisions to the upstream access
// layer. The service treats every controller call as advisory: a failed
// policy update is logged and recorded, never a reason to abandon the state
// transition that triggered it.
package accesscontrol

import (
	"context"
	"log/slog"
)

// Controller applies or lifts an access restriction for a user.
type Controller interface {
	Block(ctx context.Context, userID string) error
	Restore(ctx context.Context, userID string) error
	Name() string
}

// LogController records decisions without touching any external system. It
// is the default when no IAM integration is configured.
type LogController struct {
	logger *slog.Logger
}

func NewLogController(logger *slog.Logger) *LogController {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogController{logger: logger.With(slog.String("component", "accesscontrol"))}
}

func (c *LogController) Block(_ context.Context, userID string) error {
	c.logger.Info("access restriction recorded", slog.String("user_id", userID), slog.String("action", "block"))
	return nil
}

func (c *LogController) Restore(_ context.Context, userID string) error {
	c.logger.Info("access restriction recorded", slog.String("user_id", userID), slog.String("action", "restore"))
	return nil
}

func (c *LogController) Name() string { return "log" }
