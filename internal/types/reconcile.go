package types

import "time"

// SubscriptionCandidate is one row of the reconciliation candidate set:
// the local subscription record plus the owner's email for audit output.
type SubscriptionCandidate struct {
	Subscription UserSubscription
	Email        string
}

// RenewalUpdate describes the renewal transition the engine decided on.
// The store applies all of it in a single transaction so the subscription,
// the user's plan pointer, and the provider mirror cannot drift apart.
type RenewalUpdate struct {
	SubscriptionID int64
	UserID         int64
	PlanID         int64
	StartDate      time.Time
	EndDate        time.Time
	LastPaymentAt  time.Time
	// Mirror is non-nil only when the provider reported period bounds;
	// it is written into the stripe_subscriptions cache table.
	Mirror *ProviderSubscriptionState
}

// DemotionUpdate describes the downgrade transition applied when the
// provider reports a subscription as no longer active.
type DemotionUpdate struct {
	SubscriptionID int64
	UserID         int64
	FreePlanID     int64
	EndDate        time.Time
	Mirror         *ProviderSubscriptionState
}
