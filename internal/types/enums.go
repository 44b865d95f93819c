package types

// SubscriptionStatus represents the lifecycle state of a local subscription
// record. These values MUST match the CHECK constraint on
// user_subscriptions.status.
type SubscriptionStatus string

const (
	SubStatusNew       SubscriptionStatus = "new"
	SubStatusActive    SubscriptionStatus = "active"
	SubStatusExpired   SubscriptionStatus = "expired"
	SubStatusCancelled SubscriptionStatus = "cancelled"
	SubStatusRejected  SubscriptionStatus = "rejected"
)

// ProviderStatus represents the billing provider's view of a subscription.
// ProviderStatusNotFound is a local sentinel for a 404 from the provider;
// it never appears on the wire.
type ProviderStatus string

const (
	ProviderStatusActive            ProviderStatus = "active"
	ProviderStatusTrialing          ProviderStatus = "trialing"
	ProviderStatusPastDue           ProviderStatus = "past_due"
	ProviderStatusCanceled          ProviderStatus = "canceled"
	ProviderStatusIncomplete        ProviderStatus = "incomplete"
	ProviderStatusIncompleteExpired ProviderStatus = "incomplete_expired"
	ProviderStatusUnpaid            ProviderStatus = "unpaid"
	ProviderStatusNotFound          ProviderStatus = "not_found"
)

// PaymentType distinguishes one-time purchases from recurring billing.
type PaymentType string

const (
	PaymentOneTime   PaymentType = "one_time"
	PaymentRecurring PaymentType = "recurring"
)

// UserRole defines authorization levels within the platform.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTrainer UserRole = "trainer"
	RoleMember  UserRole = "member"
)

// ReconcileAction identifies the transition the engine applied to a row.
type ReconcileAction string

const (
	ActionRenewed   ReconcileAction = "renewed"
	ActionDemoted   ReconcileAction = "demoted"
	ActionUnchanged ReconcileAction = "unchanged"
	ActionSkipped   ReconcileAction = "skipped_not_found"
	ActionError     ReconcileAction = "error"
)

// DevicePlatform identifies the mobile platform a push token belongs to.
type DevicePlatform string

const (
	PlatformAndroid DevicePlatform = "android"
	PlatformIOS     DevicePlatform = "ios"
)

// NotificationStatus tracks the delivery state of a push notification row.
type NotificationStatus string

const (
	NotifStatusPending NotificationStatus = "pending"
	NotifStatusSent    NotificationStatus = "sent"
	NotifStatusFailed  NotificationStatus = "failed"
)
