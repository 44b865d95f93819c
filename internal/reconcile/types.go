package reconcile

import (
	"time"

	"fittrack/internal/types"
)

// Pass selects the candidate set and the transitions a run may apply.
// The renewal cron runs with RenewalPass, the status cron with StatusPass.
type Pass struct {
	// LocalStatuses is the set of local statuses to load candidates for.
	LocalStatuses []types.SubscriptionStatus
	// AllowRenew enables the expired -> active transition.
	AllowRenew bool
	// AllowDemote enables the active -> expired downgrade transition.
	AllowDemote bool
	// Now is the reference time for date synthesis. Zero means time.Now,
	// non-zero values make runs deterministic in tests.
	Now time.Time
}

// RenewalPass is the selection used by the renewal cron: it catches both
// "still active, confirm" and "expired locally but renewed upstream" rows.
func RenewalPass() Pass {
	return Pass{
		LocalStatuses: []types.SubscriptionStatus{types.SubStatusActive, types.SubStatusExpired},
		AllowRenew:    true,
	}
}

// StatusPass is the selection used by the status cron: active rows only,
// demoting any whose provider subscription is no longer alive.
func StatusPass() Pass {
	return Pass{
		LocalStatuses: []types.SubscriptionStatus{types.SubStatusActive},
		AllowDemote:   true,
	}
}

// RowOutcome records one candidate's reconciliation result with before/after
// end dates for auditability.
type RowOutcome struct {
	SubscriptionID int64
	UserID         int64
	Email          string
	PlanID         int64
	LocalStatus    types.SubscriptionStatus
	ProviderStatus types.ProviderStatus
	Action         types.ReconcileAction
	OldEndDate     time.Time
	NewEndDate     time.Time
	Err            string
}

// Outcome is the aggregate result of one reconciliation run. It exists only
// for the duration of one invocation; drivers translate it into logs, a
// summary line, and an exit code.
type Outcome struct {
	Checked   int
	Renewed   int
	Demoted   int
	Unchanged int
	Skipped   int
	Errors    int
	Rows      []RowOutcome
}

// Transitions returns the number of state transitions the run applied.
func (o *Outcome) Transitions() int {
	return o.Renewed + o.Demoted
}
