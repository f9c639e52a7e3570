package blocking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratumops/quotawarden/internal/store"
)

// Store is the persistence surface transitions run against. The state write
// and its audit row share one transaction through InTx, so an audit failure
// rolls the transition back.
type Store interface {
	GetBlockingStatus(ctx context.Context, userID string) (store.BlockingStatus, error)
	EnsureBlockingRow(ctx context.Context, userID string, now time.Time) error
	AutoBlockCAS(ctx context.Context, userID string, now time.Time, reason, by string) (bool, error)
	AdminBlockCAS(ctx context.Context, userID string, seenBlocked, seenProtected bool, now time.Time, until *time.Time, reason, by string) (bool, error)
	AdminUnblockCAS(ctx context.Context, userID string, seenBlocked, seenProtected bool, now time.Time) (bool, error)
	ScheduledUnblockCAS(ctx context.Context, userID string, now time.Time, includeIndefinite bool) (bool, error)
	ListExpiredBlocks(ctx context.Context, now time.Time, includeIndefinite bool) ([]store.BlockingStatus, error)
	ListProtectedActive(ctx context.Context) ([]store.BlockingStatus, error)
	ClearProtectionActiveCAS(ctx context.Context, userID string, now time.Time) (bool, error)
	InsertAuditEntry(ctx context.Context, e store.AuditEntry) (uuid.UUID, error)
	SetAuditOutcome(ctx context.Context, id uuid.UUID, policyUpdated, notified bool) error
	InTx(ctx context.Context, fn func(Store) error) error
}

type pgStore struct {
	*store.Store
	pool *pgxpool.Pool
}

// NewStore binds the query layer and the pool into the transactional surface
// the service works with.
func NewStore(st *store.Store, pool *pgxpool.Pool) Store {
	return &pgStore{Store: st, pool: pool}
}

func (p *pgStore) InTx(ctx context.Context, fn func(Store) error) error {
	if p.pool == nil {
		// Already inside a transaction; run on the same binding.
		return fn(p)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgStore{Store: p.Store.WithTx(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
