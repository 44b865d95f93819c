package types

import "time"

// UserSubscription is a user's local billing relationship. In practice each
// user has at most one active record; the reconciliation engine only mutates
// the status and date fields, never creates or deletes rows.
type UserSubscription struct {
	ID                   int64
	UserID               int64
	PlanID               int64
	StripeSubscriptionID *string
	PaymentType          PaymentType
	StartDate            time.Time
	EndDate              time.Time
	AutoRenew            bool
	Status               SubscriptionStatus
	LastPaymentDate      *time.Time
}

// ProviderSubscriptionState is the normalized, read-only view of a
// subscription as reported by the billing provider. The provider is the
// authority for Status and the period bounds.
type ProviderSubscriptionState struct {
	ID                 string
	Status             ProviderStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CustomerID         string
}

// User is the slice of the users table the backend needs: identity, the
// current-plan pointer the engine maintains, and auth fields.
type User struct {
	ID            int64
	Email         string
	Role          UserRole
	CurrentPlanID int64
	GymID         *int64
	CreatedAt     time.Time
}

// Feedback is a free-text feedback entry submitted from the mobile app.
type Feedback struct {
	ID        string // UUID
	UserID    int64
	Subject   string
	Message   string
	CreatedAt time.Time
}

// DeviceToken registers an FCM push token for a user's device.
type DeviceToken struct {
	ID        int64
	UserID    int64
	Token     string
	Platform  DevicePlatform
	CreatedAt time.Time
}

// Notification is a stored record of a push dispatch attempt.
type Notification struct {
	ID        string // UUID
	UserID    int64
	Title     string
	Body      string
	Status    NotificationStatus
	CreatedAt time.Time
}

// GymStats holds the denormalized per-gym counters maintained by the
// stats-refresh endpoint.
type GymStats struct {
	GymID               int64
	MemberCount         int
	ActiveSubscriptions int
	RefreshedAt         time.Time
}
