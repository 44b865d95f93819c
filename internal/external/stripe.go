package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"fittrack/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient fetches canonical subscription state from the Stripe REST API
// through BaseClient, so every call goes through the circuit breaker, retry,
// and error-mapping infrastructure.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient. The httpClient should carry a 10
// second timeout; the reconciliation path must never hang on a single row.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"FitTrack/1.0",
	)

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Useful for tests that need to control retry/breaker behavior.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// GetSubscriptionState performs an authenticated read of
// GET /v1/subscriptions/{id} and returns the normalized provider state.
//
// A provider 404 is NOT an error: the subscription may have been deleted
// upstream independently, so the state is returned with
// ProviderStatusNotFound and the caller decides what to do with the
// ambiguous absence. Any other non-2xx status, a transport failure, or an
// unparseable body is a hard adapter failure.
func (s *StripeClient) GetSubscriptionState(ctx context.Context, subscriptionID string) (*types.ProviderSubscriptionState, error) {
	if subscriptionID == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"subscription reference must not be empty",
			nil,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/v1/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build Stripe request", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		return nil, wrapStripeError("GetSubscriptionState", err)
	}
	defer resp.Body.Close()

	s.logger.DebugContext(ctx, "stripe subscription fetched",
		"subscription_id", subscriptionID,
		"status_code", resp.StatusCode,
	)

	if resp.StatusCode == http.StatusNotFound {
		return &types.ProviderSubscriptionState{
			ID:     subscriptionID,
			Status: types.ProviderStatusNotFound,
		}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("GetSubscriptionState: Stripe returned status %d", resp.StatusCode),
			nil,
		)
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamStripe,
			"GetSubscriptionState: failed to decode Stripe subscription response",
			err,
		)
	}

	return mapStripeSubscription(&sub), nil
}

// wrapStripeError wraps a BaseClient transport error with operation context.
func wrapStripeError(operation string, err error) error {
	// AppErrors from BaseClient already carry the right upstream code.
	if appErr, ok := err.(*types.AppError); ok {
		return appErr
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripeSubscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Customer           string `json:"customer"`
}

// mapStripeSubscription normalizes a Stripe subscription into the domain
// state record. Zero period bounds upstream (some subscription states omit
// them) map to nil pointers.
func mapStripeSubscription(sub *stripeSubscription) *types.ProviderSubscriptionState {
	state := &types.ProviderSubscriptionState{
		ID:                sub.ID,
		Status:            mapProviderStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CustomerID:        sub.Customer,
	}

	if sub.CurrentPeriodStart > 0 {
		start := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		state.CurrentPeriodStart = &start
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		state.CurrentPeriodEnd = &end
	}

	return state
}

// mapProviderStatus converts a Stripe subscription status string to the
// domain enum. Unknown statuses pass through as-is so the decision table can
// log them; they land in the no-op branch.
func mapProviderStatus(status string) types.ProviderStatus {
	switch status {
	case "active":
		return types.ProviderStatusActive
	case "trialing":
		return types.ProviderStatusTrialing
	case "past_due":
		return types.ProviderStatusPastDue
	case "canceled":
		return types.ProviderStatusCanceled
	case "incomplete":
		return types.ProviderStatusIncomplete
	case "incomplete_expired":
		return types.ProviderStatusIncompleteExpired
	case "unpaid":
		return types.ProviderStatusUnpaid
	default:
		return types.ProviderStatus(status)
	}
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier validates inbound Stripe webhook payloads using stripe-go's
// HMAC-SHA256 signature check with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a webhook payload against the signature header and
// signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
