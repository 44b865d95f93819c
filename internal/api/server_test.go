package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fittrack/internal/external"
	"fittrack/internal/reconcile"
	"fittrack/internal/types"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockAuth struct {
	users map[string]*types.User
}

func (m *mockAuth) ResolveToken(_ context.Context, token string) (*types.User, error) {
	if user, ok := m.users[token]; ok {
		return user, nil
	}
	return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown session token", nil)
}

type mockFeedback struct {
	created []types.Feedback
	items   []types.Feedback
	// listScope records the user-id scope the handler passed down.
	listScope   int64
	deleteScope int64
	deleted     bool
}

func (m *mockFeedback) Create(_ context.Context, fb *types.Feedback) error {
	m.created = append(m.created, *fb)
	return nil
}

func (m *mockFeedback) List(_ context.Context, userID int64, _, _ int) ([]types.Feedback, error) {
	m.listScope = userID
	return m.items, nil
}

func (m *mockFeedback) Delete(_ context.Context, _ string, ownerID int64) (bool, error) {
	m.deleteScope = ownerID
	return m.deleted, nil
}

type mockDevices struct {
	mu           sync.Mutex
	registered   map[string]types.DevicePlatform
	unregistered []string
	tokens       []types.DeviceToken
	prunedTokens []string
}

func (m *mockDevices) Register(_ context.Context, _ int64, token string, platform types.DevicePlatform) error {
	if m.registered == nil {
		m.registered = map[string]types.DevicePlatform{}
	}
	m.registered[token] = platform
	return nil
}

func (m *mockDevices) Unregister(_ context.Context, _ int64, token string) (bool, error) {
	m.unregistered = append(m.unregistered, token)
	return true, nil
}

func (m *mockDevices) ListByUser(_ context.Context, _ int64) ([]types.DeviceToken, error) {
	return m.tokens, nil
}

// DeleteByToken is called from the push fan-out goroutines.
func (m *mockDevices) DeleteByToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunedTokens = append(m.prunedTokens, token)
	return nil
}

type mockNotifications struct {
	created    []types.Notification
	lastStatus types.NotificationStatus
}

func (m *mockNotifications) Create(_ context.Context, n *types.Notification) error {
	m.created = append(m.created, *n)
	return nil
}

func (m *mockNotifications) UpdateStatus(_ context.Context, _ string, status types.NotificationStatus) error {
	m.lastStatus = status
	return nil
}

type mockGymStats struct {
	refreshed int
	stats     []types.GymStats
}

func (m *mockGymStats) RefreshAll(_ context.Context, _ time.Time) (int, error) {
	return m.refreshed, nil
}

func (m *mockGymStats) GetAll(_ context.Context) ([]types.GymStats, error) {
	return m.stats, nil
}

type mockPusher struct {
	mu         sync.Mutex
	errByToken map[string]error
	sent       []string
}

// Send is called from the push fan-out goroutines.
func (m *mockPusher) Send(_ context.Context, token, _, _ string) error {
	if err, ok := m.errByToken[token]; ok {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, token)
	return nil
}

type mockReconciler struct {
	row     *reconcile.RowOutcome
	err     error
	userIDs []int64
}

func (m *mockReconciler) ReconcileUser(_ context.Context, userID int64) (*reconcile.RowOutcome, error) {
	m.userIDs = append(m.userIDs, userID)
	if m.err != nil {
		return nil, m.err
	}
	return m.row, nil
}

type mockSubOwners struct {
	owners map[string]int64
}

func (m *mockSubOwners) GetUserIDBySubscriptionRef(_ context.Context, ref string) (int64, error) {
	if id, ok := m.owners[ref]; ok {
		return id, nil
	}
	return 0, types.NewAppError(types.ErrCodeNotFoundSubscription, "no local subscription for provider reference", nil)
}

type mockVerifier struct {
	err error
}

func (m *mockVerifier) Verify(_ []byte, _, _ string) error {
	return m.err
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	server        *Server
	feedback      *mockFeedback
	devices       *mockDevices
	notifications *mockNotifications
	gymStats      *mockGymStats
	pusher        *mockPusher
	reconciler    *mockReconciler
	subOwners     *mockSubOwners
	verifier      *mockVerifier
}

func newFixture() *fixture {
	f := &fixture{
		feedback:      &mockFeedback{},
		devices:       &mockDevices{},
		notifications: &mockNotifications{},
		gymStats:      &mockGymStats{},
		pusher:        &mockPusher{},
		reconciler: &mockReconciler{row: &reconcile.RowOutcome{
			SubscriptionID: 10,
			UserID:         42,
			Action:         types.ActionRenewed,
			LocalStatus:    types.SubStatusExpired,
			ProviderStatus: types.ProviderStatusActive,
		}},
		subOwners: &mockSubOwners{owners: map[string]int64{"sub_abc": 42}},
		verifier:  &mockVerifier{},
	}

	auth := &mockAuth{users: map[string]*types.User{
		"admin-token":  {ID: 1, Email: "admin@example.com", Role: types.RoleAdmin},
		"member-token": {ID: 42, Email: "member@example.com", Role: types.RoleMember},
	}}

	f.server = NewServer(ServerConfig{
		Logger:         slog.New(slog.DiscardHandler),
		AllowedOrigins: []string{"https://app.fittrack.example"},
		Auth:           auth,
		Feedback:       f.feedback,
		Devices:        f.devices,
		Notifications:  f.notifications,
		GymStats:       f.gymStats,
		Pusher:         f.pusher,
		Reconciler:     f.reconciler,
		SubOwners:      f.subOwners,
		Verifier:       f.verifier,
		WebhookSecret:  types.SecretString("whsec_test"),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	var data T
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	return data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorCode {
	t.Helper()
	var envelope APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.False(t, envelope.Success)
	return envelope.Error.Code
}

// ---------------------------------------------------------------------------
// Auth and middleware
// ---------------------------------------------------------------------------

func TestRoutesRejectMissingToken(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/feedback", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, types.ErrCodeAuthTokenMissing, errorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRoutesRejectUnknownToken(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/feedback", "bogus", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesRejectMembers(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/admin/gym-stats/refresh", "member-token", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, types.ErrCodePermissionRole, errorCode(t, rec))
}

func TestCORSPreflightAnsweredForAllowedOrigin(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodOptions, "/v1/feedback", nil)
	req.Header.Set("Origin", "https://app.fittrack.example")
	rec := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.fittrack.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSHeadersAbsentForDisallowedOrigin(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardAllowsAnyOrigin(t *testing.T) {
	mw := NewCORSMiddleware([]string{"*"})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Vary"))
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// ---------------------------------------------------------------------------
// Feedback
// ---------------------------------------------------------------------------

func TestCreateFeedback(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/feedback", "member-token", map[string]string{
		"subject": "Broken timer",
		"message": "The rest timer drifts on Android",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.feedback.created, 1)

	created := f.feedback.created[0]
	assert.Equal(t, int64(42), created.UserID)
	assert.Equal(t, "Broken timer", created.Subject)
	assert.NotEmpty(t, created.ID)
}

func TestCreateFeedbackRejectsEmptySubject(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/feedback", "member-token", map[string]string{
		"subject": "",
		"message": "hello",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.feedback.created)
}

func TestListFeedbackScopesMembersToThemselves(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/feedback", "member-token", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), f.feedback.listScope)
}

func TestListFeedbackAdminsSeeAll(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/feedback", "admin-token", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), f.feedback.listScope)
}

func TestDeleteFeedbackNotFound(t *testing.T) {
	f := newFixture()
	f.feedback.deleted = false
	rec := f.do(t, http.MethodDelete, "/v1/feedback/6d6f9a33-16ba-4c10-9e63-4f3f67a0c21a", "member-token", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, types.ErrCodeNotFoundFeedback, errorCode(t, rec))
	assert.Equal(t, int64(42), f.feedback.deleteScope)
}

func TestDeleteFeedbackRejectsNonUUID(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodDelete, "/v1/feedback/123", "member-token", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ---------------------------------------------------------------------------
// Devices
// ---------------------------------------------------------------------------

func TestRegisterDevice(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/devices", "member-token", map[string]string{
		"token":    "fcm-token-1",
		"platform": "android",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, types.PlatformAndroid, f.devices.registered["fcm-token-1"])
}

func TestRegisterDeviceRejectsUnknownPlatform(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/devices", "member-token", map[string]string{
		"token":    "fcm-token-1",
		"platform": "blackberry",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.devices.registered)
}

func TestUnregisterDevice(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodDelete, "/v1/devices", "member-token", map[string]string{
		"token": "fcm-token-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"fcm-token-1"}, f.devices.unregistered)
}

// ---------------------------------------------------------------------------
// Push dispatch
// ---------------------------------------------------------------------------

func pushBody() map[string]any {
	return map[string]any{
		"user_id": 42,
		"title":   "Class reminder",
		"body":    "Spin class starts in 30 minutes",
	}
}

func TestDispatchPushFansOutAndPrunesStaleTokens(t *testing.T) {
	f := newFixture()
	f.devices.tokens = []types.DeviceToken{
		{ID: 1, UserID: 42, Token: "tok-good-1"},
		{ID: 2, UserID: 42, Token: "tok-stale"},
		{ID: 3, UserID: 42, Token: "tok-good-2"},
	}
	f.pusher.errByToken = map[string]error{
		"tok-stale": external.ErrTokenUnregistered,
	}

	rec := f.do(t, http.MethodPost, "/v1/push", "admin-token", pushBody())
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeData[dispatchPushResponse](t, rec)
	assert.Equal(t, 3, resp.Devices)
	assert.Equal(t, 2, resp.Sent)
	assert.Equal(t, 1, resp.Pruned)
	assert.Equal(t, 0, resp.Failed)

	assert.Equal(t, []string{"tok-stale"}, f.devices.prunedTokens)
	require.Len(t, f.notifications.created, 1)
	assert.Equal(t, types.NotifStatusSent, f.notifications.lastStatus)
}

func TestDispatchPushAllFailuresMarksNotificationFailed(t *testing.T) {
	f := newFixture()
	f.devices.tokens = []types.DeviceToken{{ID: 1, UserID: 42, Token: "tok-1"}}
	f.pusher.errByToken = map[string]error{
		"tok-1": types.NewAppError(types.ErrCodeUpstreamFCM, "fcm down", nil),
	}

	rec := f.do(t, http.MethodPost, "/v1/push", "admin-token", pushBody())
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeData[dispatchPushResponse](t, rec)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, types.NotifStatusFailed, f.notifications.lastStatus)
}

func TestDispatchPushNoDevices(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/push", "admin-token", pushBody())

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.notifications.created)
}

func TestDispatchPushForbiddenForMembers(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/push", "member-token", pushBody())

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// ---------------------------------------------------------------------------
// Gym stats
// ---------------------------------------------------------------------------

func TestRefreshGymStats(t *testing.T) {
	f := newFixture()
	f.gymStats.refreshed = 12
	rec := f.do(t, http.MethodPost, "/v1/admin/gym-stats/refresh", "admin-token", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeData[map[string]int](t, rec)
	assert.Equal(t, 12, resp["refreshed"])
}

func TestGetGymStats(t *testing.T) {
	f := newFixture()
	f.gymStats.stats = []types.GymStats{
		{GymID: 1, MemberCount: 120, ActiveSubscriptions: 80},
	}
	rec := f.do(t, http.MethodGet, "/v1/gym-stats", "member-token", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeData[[]gymStatsResponse](t, rec)
	require.Len(t, resp, 1)
	assert.Equal(t, 80, resp[0].ActiveSubscriptions)
}

// ---------------------------------------------------------------------------
// Billing sync and webhook
// ---------------------------------------------------------------------------

func TestSyncSubscription(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/admin/users/42/subscription/sync", "admin-token", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{42}, f.reconciler.userIDs)

	resp := decodeData[syncSubscriptionResponse](t, rec)
	assert.Equal(t, string(types.ActionRenewed), resp.Action)
}

func TestSyncSubscriptionRejectsBadUserID(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/admin/users/abc/subscription/sync", "admin-token", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.reconciler.userIDs)
}

func webhookEvent(eventType, subID string) []byte {
	return fmt.Appendf(nil, `{"type": %q, "data": {"object": {"id": %q}}}`, eventType, subID)
}

func (f *fixture) postWebhook(t *testing.T, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture()
	f.verifier.err = fmt.Errorf("signature mismatch")

	rec := f.postWebhook(t, webhookEvent("customer.subscription.updated", "sub_abc"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.reconciler.userIDs)
}

func TestWebhookTriggersSyncForSubscriptionEvents(t *testing.T) {
	f := newFixture()

	rec := f.postWebhook(t, webhookEvent("customer.subscription.updated", "sub_abc"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{42}, f.reconciler.userIDs)
}

func TestWebhookIgnoresUnrelatedEvents(t *testing.T) {
	f := newFixture()

	rec := f.postWebhook(t, webhookEvent("invoice.finalized", "in_123"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.reconciler.userIDs)
}

func TestWebhookAcksUnknownSubscription(t *testing.T) {
	f := newFixture()

	rec := f.postWebhook(t, webhookEvent("customer.subscription.deleted", "sub_unknown"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.reconciler.userIDs)
}

func TestWebhookAcksNonCandidateSubscription(t *testing.T) {
	// The subscription row exists but is no longer a reconciliation
	// candidate (e.g., auto-renew turned off). Stripe must still get a 200
	// or it redelivers the event indefinitely.
	f := newFixture()
	f.reconciler.err = types.NewAppError(types.ErrCodeNotFoundSubscription,
		"no auto-renewing subscription for user", nil)

	rec := f.postWebhook(t, webhookEvent("customer.subscription.updated", "sub_abc"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{42}, f.reconciler.userIDs)
}
