package blocking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stratumops/quotawarden/internal/notify"
)

// ResetResult summarizes one sweep run.
type ResetResult struct {
	UnblockedCount     int      `json:"unblocked_count"`
	ProtectionsCleared int      `json:"protections_cleared"`
	Notified           int      `json:"notified"`
	Errors             []string `json:"errors,omitempty"`
}

// ScheduledReset releases expired blocks, clearing the admin shield on any
// row it unblocks, and drops the shield from rows that are already active
// again. A time-boxed admin block expires like any other; only indefinite
// protected blocks wait for a manual unblock. Per-row failures are
// collected; the sweep keeps going. Running it twice is harmless: the
// second pass finds no candidates.
func (s *Service) ScheduledReset(ctx context.Context) (ResetResult, error) {
	now := s.clock.Now()
	var result ResetResult

	candidates, err := s.store.ListExpiredBlocks(ctx, now, s.cfg.ExpireIndefiniteAutoBlocks)
	if err != nil {
		return result, fmt.Errorf("list reset candidates: %w", err)
	}

	for _, candidate := range candidates {
		var (
			applied bool
			auditID uuid.UUID
		)
		err := s.store.InTx(ctx, func(tx Store) error {
			var txErr error
			applied, txErr = tx.ScheduledUnblockCAS(ctx, candidate.UserID, now, s.cfg.ExpireIndefiniteAutoBlocks)
			if txErr != nil || !applied {
				return txErr
			}
			auditID, txErr = tx.InsertAuditEntry(ctx, s.auditEntry(candidate.UserID, OpAutoUnblock, autoUnblockReason, performedByScheduler, true, false, UsageSnapshot{}, now))
			return txErr
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", candidate.UserID, err))
			continue
		}
		if !applied {
			// The row changed between selection and the guarded update;
			// whoever changed it owns the outcome.
			continue
		}

		result.UnblockedCount++
		s.recordTransition(OpAutoUnblock)

		res := TransitionResult{UserID: candidate.UserID, Operation: OpAutoUnblock, NewStatus: statusLabel(false)}
		s.finishTransition(ctx, &res, auditID, notify.Notification{
			Kind:        notify.KindReset,
			SubjectID:   candidate.UserID,
			SubjectKind: "user",
			Reason:      autoUnblockReason,
			PerformedBy: performedByScheduler,
			OccurredAt:  now,
		}, false)
		if res.Notified {
			result.Notified++
		}
	}

	// Protection expires with the day on rows already active again.
	protected, err := s.store.ListProtectedActive(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list protected: %v", err))
		return result, nil
	}
	for _, row := range protected {
		cleared, err := s.store.ClearProtectionActiveCAS(ctx, row.UserID, now)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: clear protection: %v", row.UserID, err))
			continue
		}
		if cleared {
			result.ProtectionsCleared++
			s.invalidateStatus(row.UserID)
		}
	}

	s.logger.Info("scheduled reset complete",
		slog.Int("unblocked", result.UnblockedCount),
		slog.Int("protections_cleared", result.ProtectionsCleared),
		slog.Int("notified", result.Notified),
		slog.Int("errors", len(result.Errors)))
	return result, nil
}
