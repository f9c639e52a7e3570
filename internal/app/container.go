package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stratumops/quotawarden/internal/accesscontrol"
	"github.com/stratumops/quotawarden/internal/auth"
	"github.com/stratumops/quotawarden/internal/cache"
	"github.com/stratumops/quotawarden/internal/clock"
	"github.com/stratumops/quotawarden/internal/config"
	"github.com/stratumops/quotawarden/internal/notify"
	"github.com/stratumops/quotawarden/internal/observability"
	"github.com/stratumops/quotawarden/internal/scheduler"
	adminlimitsvc "github.com/stratumops/quotawarden/internal/services/adminlimits"
	auditsvc "github.com/stratumops/quotawarden/internal/services/audit"
	blockingsvc "github.com/stratumops/quotawarden/internal/services/blocking"
	"github.com/stratumops/quotawarden/internal/services/enforcement"
	"github.com/stratumops/quotawarden/internal/services/quota"
	usagesvc "github.com/stratumops/quotawarden/internal/services/usage"
	"github.com/stratumops/quotawarden/internal/store"
)

// eventClaimTTL bounds how long an event id stays claimed for idempotency.
// It matches the maximum event age the usage service accepts.
const eventClaimTTL = 48 * time.Hour

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	DBPool        *pgxpool.Pool
	Redis         *redis.Client
	Store         *store.Store
	Usage         *usagesvc.Service
	Quota         *quota.Resolver
	Blocking      *blockingsvc.Service
	Audit         *auditsvc.Service
	AdminLimits   *adminlimitsvc.Service
	Enforcement   *enforcement.Pipeline
	Notifier      *notify.Dispatcher
	Access        accesscontrol.Controller
	Keys          *auth.KeyService
	Scheduler     *scheduler.Scheduler
	Observability *observability.Provider
	Location      *time.Location
	Logger        *slog.Logger
}

// NewContainer builds a dependency container from the provided primitives.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	loc := cfg.Location()

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	clk := clock.System{}
	st := store.New(pool)

	claims := cache.NewEventClaims(redisClient, eventClaimTTL)
	usageSvc := usagesvc.NewService(st, claims, clk, loc, usagesvc.Options{}, logger)

	resolver := quota.NewResolver(st, cache.New[quota.Limits](clk), cfg.Limits)

	access, err := accesscontrol.NewController(ctx, cfg.AccessControl, logger)
	if err != nil {
		return nil, fmt.Errorf("init access control: %w", err)
	}

	var sink notify.Sink = notify.NewLogSink(logger)
	if webhooks := notify.NewWebhookSink(cfg.Notifications); webhooks != nil {
		sink = notify.NewCompositeSink(webhooks, sink)
	}
	dedup := notify.NewWarningDedup(redisClient, clk, loc)
	dispatcher := notify.NewDispatcher(cfg.Notifications, sink, dedup, clk, loc, logger)
	dispatcher.SetMetrics(obs)

	blockingStore := blockingsvc.NewStore(st, pool)
	statusCache := cache.New[blockingsvc.StatusView](clk)
	blockingSvc := blockingsvc.NewService(blockingStore, dispatcher, access, statusCache, clk, cfg.Blocking, obs, logger)

	auditSvc := auditsvc.NewService(st)
	adminLimits := adminlimitsvc.NewService(st, resolver)

	pipeline := enforcement.NewPipeline(usageSvc, resolver, blockingSvc, dispatcher, st, obs, logger)

	keys := auth.NewKeyService(st, clk, logger)

	sched := scheduler.New(blockingSvc, cfg.Reset, loc, logger)

	c := &Container{
		Config:        cfg,
		DBPool:        pool,
		Redis:         redisClient,
		Store:         st,
		Usage:         usageSvc,
		Quota:         resolver,
		Blocking:      blockingSvc,
		Audit:         auditSvc,
		AdminLimits:   adminLimits,
		Enforcement:   pipeline,
		Notifier:      dispatcher,
		Access:        access,
		Keys:          keys,
		Scheduler:     sched,
		Observability: obs,
		Location:      loc,
		Logger:        logger,
	}

	if err := seedBootstrap(ctx, cfg.Bootstrap, st, logger); err != nil {
		return nil, fmt.Errorf("apply bootstrap: %w", err)
	}

	return c, nil
}

// Shutdown releases container-owned resources. The pool and Redis client are
// owned by the caller that created them.
func (c *Container) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Observability != nil {
		return c.Observability.Shutdown(ctx)
	}
	return nil
}
