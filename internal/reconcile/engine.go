// Package reconcile implements the subscription state reconciliation engine:
// it brings every auto-renewing local subscription record into agreement
// with the billing provider's canonical state.
//
// Key behaviors:
//   - Each row is an independent unit of work; one bad row never aborts the
//     run (failure isolation). Only a failed candidate query is fatal.
//   - The decision table is idempotent: re-running against unchanged
//     provider state applies zero additional transitions.
//   - A provider 404 is ambiguous absence, never destructive: the row is
//     skipped without touching local state.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fittrack/internal/types"
)

// fallbackWindowMonths is the synthesized subscription window applied when
// the provider confirms a renewal but omits period bounds. A renewed
// subscription must never be left without a forward-looking expiry.
const fallbackWindowMonths = 1

// SubscriptionStore abstracts the database operations the engine needs.
// Implemented by db.SubscriptionRepository; the interface keeps the engine
// testable without a database.
type SubscriptionStore interface {
	// ListCandidates returns auto-renewing subscriptions with an external
	// reference whose local status is in the given set, ordered by user id.
	ListCandidates(ctx context.Context, statuses []types.SubscriptionStatus) ([]types.SubscriptionCandidate, error)
	// ApplyRenewal applies a renewal transition atomically.
	ApplyRenewal(ctx context.Context, upd types.RenewalUpdate) error
	// ApplyDemotion applies a downgrade transition atomically.
	ApplyDemotion(ctx context.Context, upd types.DemotionUpdate) error
}

// ProviderClient abstracts the billing provider read.
// Implemented by external.StripeClient.
type ProviderClient interface {
	// GetSubscriptionState fetches canonical state for an external
	// reference. A provider 404 is reported as a state with
	// ProviderStatusNotFound, not as an error.
	GetSubscriptionState(ctx context.Context, subscriptionID string) (*types.ProviderSubscriptionState, error)
}

// Engine reconciles local subscription records against provider state.
type Engine struct {
	store      SubscriptionStore
	provider   ProviderClient
	freePlanID int64
	logger     *slog.Logger
}

// EngineConfig holds the configuration for creating an Engine.
type EngineConfig struct {
	Store      SubscriptionStore
	Provider   ProviderClient
	FreePlanID int64
	Logger     *slog.Logger
}

// NewEngine creates an Engine with the given configuration.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      cfg.Store,
		provider:   cfg.Provider,
		freePlanID: cfg.FreePlanID,
		logger:     logger,
	}
}

// Run executes one reconciliation pass and returns the structured outcome.
// It returns an error only when the candidate set itself cannot be loaded;
// per-row failures are counted in the outcome and the run continues.
func (e *Engine) Run(ctx context.Context, pass Pass) (*Outcome, error) {
	now := pass.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	candidates, err := e.store.ListCandidates(ctx, pass.LocalStatuses)
	if err != nil {
		return nil, fmt.Errorf("loading reconciliation candidates: %w", err)
	}

	outcome := &Outcome{}
	for i := range candidates {
		row := e.reconcileRow(ctx, &candidates[i], pass, now)
		outcome.Rows = append(outcome.Rows, row)
		outcome.Checked++

		switch row.Action {
		case types.ActionRenewed:
			outcome.Renewed++
		case types.ActionDemoted:
			outcome.Demoted++
		case types.ActionSkipped:
			outcome.Skipped++
		case types.ActionError:
			outcome.Errors++
		case types.ActionUnchanged:
			outcome.Unchanged++
		}
	}

	e.logger.InfoContext(ctx, "reconciliation pass complete",
		"checked", outcome.Checked,
		"renewed", outcome.Renewed,
		"demoted", outcome.Demoted,
		"unchanged", outcome.Unchanged,
		"skipped", outcome.Skipped,
		"errors", outcome.Errors,
	)

	return outcome, nil
}

// UserLookupStore is the optional store extension used by the on-demand
// sync endpoint to load a single user's subscription.
type UserLookupStore interface {
	GetCandidateByUserID(ctx context.Context, userID int64) (*types.SubscriptionCandidate, error)
}

// ReconcileUser runs the full decision table against a single user's
// subscription, for the on-demand sync endpoint. Both transitions are
// enabled; the candidate is loaded regardless of local status.
func (e *Engine) ReconcileUser(ctx context.Context, userID int64) (*RowOutcome, error) {
	lookup, ok := e.store.(UserLookupStore)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"subscription store does not support single-user lookup", nil)
	}

	candidate, err := lookup.GetCandidateByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	pass := Pass{AllowRenew: true, AllowDemote: true}
	row := e.reconcileRow(ctx, candidate, pass, time.Now().UTC())
	return &row, nil
}

// reconcileRow fetches provider state for one candidate and applies the
// minimal transition needed to restore the local invariant.
func (e *Engine) reconcileRow(ctx context.Context, c *types.SubscriptionCandidate, pass Pass, now time.Time) RowOutcome {
	sub := &c.Subscription
	row := RowOutcome{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Email:          c.Email,
		PlanID:         sub.PlanID,
		LocalStatus:    sub.Status,
		OldEndDate:     sub.EndDate,
		NewEndDate:     sub.EndDate,
	}

	if sub.StripeSubscriptionID == nil || *sub.StripeSubscriptionID == "" {
		// Candidate queries exclude these, but single-row lookups may not.
		row.Action = types.ActionSkipped
		return row
	}

	state, err := e.provider.GetSubscriptionState(ctx, *sub.StripeSubscriptionID)
	if err != nil {
		e.logger.ErrorContext(ctx, "provider state fetch failed",
			"user_id", sub.UserID,
			"subscription_id", *sub.StripeSubscriptionID,
			"error", err,
		)
		row.Action = types.ActionError
		row.Err = err.Error()
		return row
	}
	row.ProviderStatus = state.Status

	if state.Status == types.ProviderStatusNotFound {
		// The external subscription may have been deleted independently.
		// Never destructively alter local state on ambiguous absence.
		e.logger.WarnContext(ctx, "provider subscription not found, skipping row",
			"user_id", sub.UserID,
			"subscription_id", *sub.StripeSubscriptionID,
		)
		row.Action = types.ActionSkipped
		return row
	}

	switch decide(sub.Status, state.Status, pass) {
	case types.ActionRenewed:
		return e.applyRenewal(ctx, row, sub, state, now)
	case types.ActionDemoted:
		return e.applyDemotion(ctx, row, sub, state, now)
	default:
		e.logger.InfoContext(ctx, "no transition for status combination",
			"user_id", sub.UserID,
			"local_status", string(sub.Status),
			"provider_status", string(state.Status),
		)
		row.Action = types.ActionUnchanged
		return row
	}
}

// decide is the decision table: local status x provider status -> action.
// Every combination is an explicit case; anything not named is a no-op.
func decide(local types.SubscriptionStatus, provider types.ProviderStatus, pass Pass) types.ReconcileAction {
	switch local {
	case types.SubStatusExpired:
		if pass.AllowRenew && provider == types.ProviderStatusActive {
			return types.ActionRenewed
		}
		return types.ActionUnchanged

	case types.SubStatusActive:
		switch provider {
		case types.ProviderStatusActive:
			// Already consistent.
			return types.ActionUnchanged
		case types.ProviderStatusCanceled,
			types.ProviderStatusIncompleteExpired,
			types.ProviderStatusUnpaid:
			if pass.AllowDemote {
				return types.ActionDemoted
			}
			return types.ActionUnchanged
		case types.ProviderStatusTrialing,
			types.ProviderStatusPastDue,
			types.ProviderStatusIncomplete:
			// Grace states. A later run settles them once the provider
			// resolves the subscription one way or the other.
			return types.ActionUnchanged
		default:
			return types.ActionUnchanged
		}

	case types.SubStatusNew, types.SubStatusCancelled, types.SubStatusRejected:
		return types.ActionUnchanged

	default:
		return types.ActionUnchanged
	}
}

// applyRenewal executes the renew transition: local status -> active, dates
// from the provider's period bounds when both are present, else a synthetic
// one-month window; the plan id is propagated onto the user's current-plan
// pointer and the provider state is mirrored when bounds were available.
func (e *Engine) applyRenewal(
	ctx context.Context,
	row RowOutcome,
	sub *types.UserSubscription,
	state *types.ProviderSubscriptionState,
	now time.Time,
) RowOutcome {
	upd := types.RenewalUpdate{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanID:         sub.PlanID,
		LastPaymentAt:  now,
	}

	if state.CurrentPeriodStart != nil && state.CurrentPeriodEnd != nil {
		upd.StartDate = *state.CurrentPeriodStart
		upd.EndDate = *state.CurrentPeriodEnd
		upd.Mirror = state
	} else {
		upd.StartDate = now
		upd.EndDate = now.AddDate(0, fallbackWindowMonths, 0)
	}

	if err := e.store.ApplyRenewal(ctx, upd); err != nil {
		e.logger.ErrorContext(ctx, "renewal update failed",
			"user_id", sub.UserID,
			"subscription_row", sub.ID,
			"error", err,
		)
		row.Action = types.ActionError
		row.Err = err.Error()
		return row
	}

	e.logger.InfoContext(ctx, "subscription renewed",
		"user_id", sub.UserID,
		"email", row.Email,
		"plan_id", sub.PlanID,
		"old_end_date", row.OldEndDate.Format(time.RFC3339),
		"new_end_date", upd.EndDate.Format(time.RFC3339),
		"provider_status", string(state.Status),
	)

	row.Action = types.ActionRenewed
	row.NewEndDate = upd.EndDate
	return row
}

// applyDemotion executes the downgrade transition: local status -> expired,
// end date clamped to the provider's period end when present, and the user's
// plan pointer reset to the free plan.
func (e *Engine) applyDemotion(
	ctx context.Context,
	row RowOutcome,
	sub *types.UserSubscription,
	state *types.ProviderSubscriptionState,
	now time.Time,
) RowOutcome {
	upd := types.DemotionUpdate{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		FreePlanID:     e.freePlanID,
		EndDate:        now,
	}
	if state.CurrentPeriodEnd != nil {
		upd.EndDate = *state.CurrentPeriodEnd
	}
	if state.CurrentPeriodStart != nil && state.CurrentPeriodEnd != nil {
		upd.Mirror = state
	}

	if err := e.store.ApplyDemotion(ctx, upd); err != nil {
		e.logger.ErrorContext(ctx, "demotion update failed",
			"user_id", sub.UserID,
			"subscription_row", sub.ID,
			"error", err,
		)
		row.Action = types.ActionError
		row.Err = err.Error()
		return row
	}

	e.logger.InfoContext(ctx, "subscription demoted",
		"user_id", sub.UserID,
		"email", row.Email,
		"old_end_date", row.OldEndDate.Format(time.RFC3339),
		"new_end_date", upd.EndDate.Format(time.RFC3339),
		"provider_status", string(state.Status),
	)

	row.Action = types.ActionDemoted
	row.NewEndDate = upd.EndDate
	return row
}
