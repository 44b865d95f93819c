package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"fittrack/internal/types"
)

// TxBeginner is the subset of *pgxpool.Pool the SubscriptionRepository needs:
// plain query access plus the ability to open a transaction for the per-row
// transition updates.
type TxBeginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SubscriptionRepository provides data access for user_subscriptions and the
// stripe_subscriptions mirror table. Transition updates (renewal, demotion)
// run inside a single transaction per row so a mid-row failure cannot leave
// the subscription and the user's plan pointer inconsistent.
type SubscriptionRepository struct {
	db TxBeginner
}

// NewSubscriptionRepository creates a SubscriptionRepository backed by the
// given pool.
func NewSubscriptionRepository(db TxBeginner) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const candidateColumns = `s.id, s.user_id, s.plan_id, s.stripe_subscription_id, s.payment_type,
	       s.start_date, s.end_date, s.auto_renew, s.status, s.last_payment_date, u.email`

// ListCandidates returns the reconciliation candidate set: every auto-renewing
// subscription with an external reference whose local status is in the given
// set, ordered by user id ascending.
func (r *SubscriptionRepository) ListCandidates(
	ctx context.Context,
	statuses []types.SubscriptionStatus,
) ([]types.SubscriptionCandidate, error) {
	statusStrs := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrs[i] = string(s)
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+candidateColumns+`
		 FROM user_subscriptions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.auto_renew = TRUE
		   AND s.stripe_subscription_id IS NOT NULL
		   AND s.status = ANY($1)
		 ORDER BY s.user_id ASC`,
		statusStrs,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query subscription candidates", err)
	}
	defer rows.Close()

	var candidates []types.SubscriptionCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription candidate", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read subscription candidates", err)
	}

	return candidates, nil
}

// GetCandidateByUserID returns the user's auto-renewing subscription with its
// external reference set, for on-demand single-user reconciliation.
func (r *SubscriptionRepository) GetCandidateByUserID(
	ctx context.Context,
	userID int64,
) (*types.SubscriptionCandidate, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+candidateColumns+`
		 FROM user_subscriptions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.user_id = $1
		   AND s.auto_renew = TRUE
		   AND s.stripe_subscription_id IS NOT NULL
		 ORDER BY s.id DESC
		 LIMIT 1`,
		userID,
	)

	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription,
				"no auto-renewing subscription for user", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription for user", err)
	}
	return &c, nil
}

// GetUserIDBySubscriptionRef resolves the owning user of an external
// subscription reference. Used by the webhook handler to map provider
// events back to local users.
func (r *SubscriptionRepository) GetUserIDBySubscriptionRef(ctx context.Context, ref string) (int64, error) {
	var userID int64
	err := r.db.QueryRow(ctx,
		`SELECT user_id FROM user_subscriptions
		 WHERE stripe_subscription_id = $1
		 ORDER BY id DESC
		 LIMIT 1`,
		ref,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, types.NewAppError(types.ErrCodeNotFoundSubscription,
				"no local subscription for provider reference", err)
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve subscription owner", err)
	}
	return userID, nil
}

// ApplyRenewal applies a renewal transition in a single transaction:
// the subscription's status and dates, the user's current-plan pointer, and
// (when period bounds were available) the provider mirror row.
func (r *SubscriptionRepository) ApplyRenewal(ctx context.Context, upd types.RenewalUpdate) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin renewal transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE user_subscriptions
		 SET status = $2, start_date = $3, end_date = $4, last_payment_date = $5
		 WHERE id = $1`,
		upd.SubscriptionID, string(types.SubStatusActive), upd.StartDate, upd.EndDate, upd.LastPaymentAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription for renewal", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET current_plan_id = $2 WHERE id = $1`,
		upd.UserID, upd.PlanID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update user plan pointer", err)
	}

	if upd.Mirror != nil {
		if err := upsertMirror(ctx, tx, upd.Mirror); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit renewal transaction", err)
	}
	return nil
}

// ApplyDemotion applies a downgrade transition in a single transaction:
// the subscription is expired and the user's plan pointer is reset to the
// free plan.
func (r *SubscriptionRepository) ApplyDemotion(ctx context.Context, upd types.DemotionUpdate) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin demotion transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE user_subscriptions
		 SET status = $2, end_date = $3
		 WHERE id = $1`,
		upd.SubscriptionID, string(types.SubStatusExpired), upd.EndDate,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription for demotion", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET current_plan_id = $2 WHERE id = $1`,
		upd.UserID, upd.FreePlanID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reset user plan pointer", err)
	}

	if upd.Mirror != nil {
		if err := upsertMirror(ctx, tx, upd.Mirror); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit demotion transaction", err)
	}
	return nil
}

// upsertMirror writes the provider's canonical state into the
// stripe_subscriptions cache table.
func upsertMirror(ctx context.Context, tx pgx.Tx, state *types.ProviderSubscriptionState) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO stripe_subscriptions (stripe_subscription_id, current_period_start, current_period_end, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (stripe_subscription_id) DO UPDATE
		   SET current_period_start = EXCLUDED.current_period_start,
		       current_period_end = EXCLUDED.current_period_end,
		       status = EXCLUDED.status`,
		state.ID, state.CurrentPeriodStart, state.CurrentPeriodEnd, string(state.Status),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert provider mirror row", err)
	}
	return nil
}

// scanCandidate scans one candidate row (subscription columns + user email).
func scanCandidate(row pgx.Row) (types.SubscriptionCandidate, error) {
	var (
		c      types.SubscriptionCandidate
		status string
		ptype  string
	)
	err := row.Scan(
		&c.Subscription.ID,
		&c.Subscription.UserID,
		&c.Subscription.PlanID,
		&c.Subscription.StripeSubscriptionID,
		&ptype,
		&c.Subscription.StartDate,
		&c.Subscription.EndDate,
		&c.Subscription.AutoRenew,
		&status,
		&c.Subscription.LastPaymentDate,
		&c.Email,
	)
	if err != nil {
		return types.SubscriptionCandidate{}, err
	}
	c.Subscription.Status = types.SubscriptionStatus(status)
	c.Subscription.PaymentType = types.PaymentType(ptype)
	return c, nil
}
