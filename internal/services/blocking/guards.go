package blocking

import (
	"time"

	"github.com/stratumops/quotawarden/internal/store"
)

// canAutoBlock permits a system block only on an unprotected active row.
func canAutoBlock(st store.BlockingStatus) bool {
	return !st.IsBlocked && !st.AdminProtected
}

// isExpired reports whether a block's window has passed. Indefinite blocks
// never expire on their own.
func isExpired(st store.BlockingStatus, now time.Time) bool {
	return st.IsBlocked && st.BlockedUntil != nil && !st.BlockedUntil.After(now)
}

// sweepEligible mirrors the scheduled-unblock UPDATE guard. A time-boxed
// block past its expiry is releasable whether admin-placed or automatic;
// an indefinite block is releasable only when unprotected and the policy
// knob admits those.
func sweepEligible(st store.BlockingStatus, now time.Time, includeIndefinite bool) bool {
	if !st.IsBlocked {
		return false
	}
	if st.BlockedUntil == nil {
		return includeIndefinite && !st.AdminProtected
	}
	return !st.BlockedUntil.After(now)
}

func statusLabel(blocked bool) string {
	if blocked {
		return "BLOCKED"
	}
	return "ACTIVE"
}
