package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"fittrack/internal/reconcile"
	"fittrack/internal/types"
)

type syncSubscriptionResponse struct {
	UserID         int64     `json:"user_id"`
	SubscriptionID int64     `json:"subscription_id"`
	Action         string    `json:"action"`
	LocalStatus    string    `json:"local_status"`
	ProviderStatus string    `json:"provider_status"`
	EndDate        time.Time `json:"end_date"`
}

func toSyncResponse(row *reconcile.RowOutcome) syncSubscriptionResponse {
	return syncSubscriptionResponse{
		UserID:         row.UserID,
		SubscriptionID: row.SubscriptionID,
		Action:         string(row.Action),
		LocalStatus:    string(row.LocalStatus),
		ProviderStatus: string(row.ProviderStatus),
		EndDate:        row.NewEndDate,
	}
}

// handleSyncSubscription reconciles a single user's subscription on demand,
// running the same decision table as the cron passes with both transitions
// enabled.
func (s *Server) handleSyncSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "user id must be a positive integer", err))
		return
	}

	row, err := s.reconciler.ReconcileUser(r.Context(), userID)
	if err != nil {
		Error(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "on-demand subscription sync",
		"user_id", userID,
		"action", string(row.Action),
	)
	JSON(w, r, http.StatusOK, toSyncResponse(row))
}

// isSubscriptionNotFound reports whether err means no reconcilable
// subscription exists for the reference.
func isSubscriptionNotFound(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundSubscription
}

// stripeEvent is the slice of a webhook event the handler needs: the type and
// the id of the affected object.
type stripeEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// handleBillingWebhook accepts Stripe webhook deliveries. After signature
// verification, subscription lifecycle events trigger a single-user
// reconciliation for the owning user; everything else is acknowledged and
// ignored. The endpoint always returns quickly so Stripe does not retry
// deliveries that merely carry event types we do not act on.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationBody, "failed to read webhook payload", err))
		return
	}

	if err := s.verifier.Verify(payload, r.Header.Get("Stripe-Signature"), s.webhookSecret.Unmask()); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodePermissionDenied, "webhook signature verification failed", err))
		return
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationBody, "malformed webhook event", err))
		return
	}

	switch event.Type {
	case "customer.subscription.updated", "customer.subscription.deleted":
	default:
		JSON(w, r, http.StatusOK, map[string]string{"received": event.Type})
		return
	}

	userID, err := s.subOwners.GetUserIDBySubscriptionRef(r.Context(), event.Data.Object.ID)
	if err != nil {
		// An event for a subscription we never recorded is not an error
		// worth a retry storm from Stripe.
		if isSubscriptionNotFound(err) {
			s.logger.WarnContext(r.Context(), "webhook for unknown subscription",
				"event_type", event.Type,
				"subscription_id", event.Data.Object.ID,
			)
			JSON(w, r, http.StatusOK, map[string]string{"received": event.Type})
			return
		}
		Error(w, r, err)
		return
	}

	row, err := s.reconciler.ReconcileUser(r.Context(), userID)
	if err != nil {
		// The row can exist without being a reconciliation candidate
		// (auto-renew off, external reference cleared since the lookup).
		// There is nothing to sync, so acknowledge rather than invite
		// Stripe to redeliver.
		if isSubscriptionNotFound(err) {
			s.logger.WarnContext(r.Context(), "webhook for non-candidate subscription",
				"event_type", event.Type,
				"subscription_id", event.Data.Object.ID,
				"user_id", userID,
			)
			JSON(w, r, http.StatusOK, map[string]string{"received": event.Type})
			return
		}
		Error(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "webhook-triggered subscription sync",
		"event_type", event.Type,
		"user_id", userID,
		"action", string(row.Action),
	)
	JSON(w, r, http.StatusOK, toSyncResponse(row))
}
