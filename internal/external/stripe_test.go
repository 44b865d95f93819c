package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fittrack/internal/types"
)

func newTestStripeClient(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	// No sleeping between retries in tests.
	base := NewBaseClient(srv.Client(), "stripe-test", RetryPolicy{MaxRetries: 1}, "test",
		WithSleepFunc(func(time.Duration) {}))

	return NewStripeClientWithBase(base, StripeClientConfig{
		SecretKey: types.SecretString("sk_test_123"),
		BaseURL:   srv.URL,
	})
}

func TestGetSubscriptionStateMapsActiveSubscription(t *testing.T) {
	var gotAuth string
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/subscriptions/sub_abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "sub_abc",
			"status": "active",
			"cancel_at_period_end": false,
			"current_period_start": 1753031209,
			"current_period_end": 1755709609,
			"customer": "cus_123"
		}`))
	})

	state, err := client.GetSubscriptionState(context.Background(), "sub_abc")
	if err != nil {
		t.Fatalf("GetSubscriptionState returned error: %v", err)
	}

	if gotAuth != "Bearer sk_test_123" {
		t.Errorf("authorization header = %q", gotAuth)
	}
	if state.Status != types.ProviderStatusActive {
		t.Errorf("status = %s, want active", state.Status)
	}
	if state.CustomerID != "cus_123" {
		t.Errorf("customer = %s", state.CustomerID)
	}

	wantStart := time.Date(2025, 7, 20, 17, 6, 49, 0, time.UTC)
	if state.CurrentPeriodStart == nil || !state.CurrentPeriodStart.Equal(wantStart) {
		t.Errorf("period start = %v, want %v", state.CurrentPeriodStart, wantStart)
	}
	wantEnd := time.Date(2025, 8, 20, 17, 6, 49, 0, time.UTC)
	if state.CurrentPeriodEnd == nil || !state.CurrentPeriodEnd.Equal(wantEnd) {
		t.Errorf("period end = %v, want %v", state.CurrentPeriodEnd, wantEnd)
	}
}

func TestGetSubscriptionStateNotFoundIsSentinelNotError(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": {"type": "invalid_request_error"}}`))
	})

	state, err := client.GetSubscriptionState(context.Background(), "sub_missing")
	if err != nil {
		t.Fatalf("404 must not be an error, got: %v", err)
	}
	if state.Status != types.ProviderStatusNotFound {
		t.Errorf("status = %s, want %s", state.Status, types.ProviderStatusNotFound)
	}
	if state.ID != "sub_missing" {
		t.Errorf("id = %s, want sub_missing", state.ID)
	}
}

func TestGetSubscriptionStateZeroBoundsMapToNil(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "sub_abc", "status": "active"}`))
	})

	state, err := client.GetSubscriptionState(context.Background(), "sub_abc")
	if err != nil {
		t.Fatalf("GetSubscriptionState returned error: %v", err)
	}
	if state.CurrentPeriodStart != nil || state.CurrentPeriodEnd != nil {
		t.Error("zero epoch bounds must map to nil pointers")
	}
}

func TestGetSubscriptionStateServerErrorAfterRetries(t *testing.T) {
	var hits int
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetSubscriptionState(context.Background(), "sub_abc")
	if err == nil {
		t.Fatal("expected error on persistent 500")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Fatalf("error = %v, want %s", err, types.ErrCodeUpstreamUnavailable)
	}
	if hits != 2 {
		t.Errorf("expected 2 attempts (1 retry), got %d", hits)
	}
}

func TestGetSubscriptionStateMalformedBody(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	_, err := client.GetSubscriptionState(context.Background(), "sub_abc")
	if err == nil {
		t.Fatal("expected error on malformed body")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamStripe {
		t.Fatalf("error = %v, want %s", err, types.ErrCodeUpstreamStripe)
	}
}

func TestGetSubscriptionStateEmptyReference(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for an empty reference")
	})

	_, err := client.GetSubscriptionState(context.Background(), "")
	if err == nil {
		t.Fatal("expected validation error for empty reference")
	}
}

func TestGetSubscriptionStateUnknownStatusPassesThrough(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "sub_abc", "status": "paused"}`))
	})

	state, err := client.GetSubscriptionState(context.Background(), "sub_abc")
	if err != nil {
		t.Fatalf("GetSubscriptionState returned error: %v", err)
	}
	if state.Status != types.ProviderStatus("paused") {
		t.Errorf("status = %s, want pass-through paused", state.Status)
	}
}
