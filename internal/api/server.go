// Package api exposes the ancillary HTTP surface of the backend: feedback,
// device token registration, push dispatch, gym stats, and the on-demand
// billing sync endpoints. The subscription reconciliation core runs in the
// cron binaries; this package only borrows the engine for single-user syncs.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"fittrack/internal/reconcile"
	"fittrack/internal/types"
)

// Consumer interfaces for the handlers. Implemented by the db repositories
// and the external clients; kept small so handler tests need only trivial
// mocks.

// FeedbackStore persists feedback entries.
type FeedbackStore interface {
	Create(ctx context.Context, fb *types.Feedback) error
	List(ctx context.Context, userID int64, limit, offset int) ([]types.Feedback, error)
	Delete(ctx context.Context, id string, ownerID int64) (bool, error)
}

// DeviceStore maintains the push token registry.
type DeviceStore interface {
	Register(ctx context.Context, userID int64, token string, platform types.DevicePlatform) error
	Unregister(ctx context.Context, userID int64, token string) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]types.DeviceToken, error)
	DeleteByToken(ctx context.Context, token string) error
}

// NotificationStore records push dispatch attempts.
type NotificationStore interface {
	Create(ctx context.Context, n *types.Notification) error
	UpdateStatus(ctx context.Context, id string, status types.NotificationStatus) error
}

// GymStatsStore maintains the per-gym counters.
type GymStatsStore interface {
	RefreshAll(ctx context.Context, now time.Time) (int, error)
	GetAll(ctx context.Context) ([]types.GymStats, error)
}

// Pusher sends a push notification to one device token. Implemented by
// external.FCMClient.
type Pusher interface {
	Send(ctx context.Context, deviceToken, title, body string) error
}

// Reconciler runs the decision table for a single user on demand.
// Implemented by reconcile.Engine.
type Reconciler interface {
	ReconcileUser(ctx context.Context, userID int64) (*reconcile.RowOutcome, error)
}

// SubscriptionOwnerLookup maps an external subscription reference to its
// local user, for webhook-triggered syncs.
type SubscriptionOwnerLookup interface {
	GetUserIDBySubscriptionRef(ctx context.Context, ref string) (int64, error)
}

// WebhookVerifier checks webhook payload signatures. Implemented by
// external.StripeVerifier.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// Authenticator resolves bearer tokens. Implemented by auth.Authenticator.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.User, error)
}

// ServerConfig holds everything the Server needs. All fields except
// WebhookSecret and AllowedOrigins are required.
type ServerConfig struct {
	Logger         *slog.Logger
	AllowedOrigins []string
	Auth           Authenticator
	Feedback       FeedbackStore
	Devices        DeviceStore
	Notifications  NotificationStore
	GymStats       GymStatsStore
	Pusher         Pusher
	Reconciler     Reconciler
	SubOwners      SubscriptionOwnerLookup
	Verifier       WebhookVerifier
	WebhookSecret  types.SecretString
}

// Server wires the handlers, middleware, and router together.
type Server struct {
	logger         *slog.Logger
	allowedOrigins []string
	validate       *validator.Validate
	auth           Authenticator
	feedback       FeedbackStore
	devices        DeviceStore
	notifications  NotificationStore
	gymStats       GymStatsStore
	pusher         Pusher
	reconciler     Reconciler
	subOwners      SubscriptionOwnerLookup
	verifier       WebhookVerifier
	webhookSecret  types.SecretString
}

// NewServer creates a Server from the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:         logger,
		allowedOrigins: cfg.AllowedOrigins,
		validate:       validator.New(),
		auth:           cfg.Auth,
		feedback:       cfg.Feedback,
		devices:        cfg.Devices,
		notifications:  cfg.Notifications,
		gymStats:       cfg.GymStats,
		pusher:         cfg.Pusher,
		reconciler:     cfg.Reconciler,
		subOwners:      cfg.SubOwners,
		verifier:       cfg.Verifier,
		webhookSecret:  cfg.WebhookSecret,
	}
}

// Routes builds the router. Middleware order matters: the request id must
// exist before the recoverer logs a panic, and both must wrap auth so auth
// failures carry a request id too.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(s.Recoverer)
	r.Use(NewCORSMiddleware(s.allowedOrigins))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		// Signature-verified, not session-authenticated.
		r.Post("/billing/webhook", s.handleBillingWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.Authenticate)

			r.Post("/feedback", s.handleCreateFeedback)
			r.Get("/feedback", s.handleListFeedback)
			r.Delete("/feedback/{id}", s.handleDeleteFeedback)

			r.Post("/devices", s.handleRegisterDevice)
			r.Delete("/devices", s.handleUnregisterDevice)

			r.Get("/gym-stats", s.handleGetGymStats)

			r.Group(func(r chi.Router) {
				r.Use(s.RequireRole(types.RoleAdmin, types.RoleTrainer))
				r.Post("/push", s.handleDispatchPush)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.RequireRole(types.RoleAdmin))
				r.Post("/admin/gym-stats/refresh", s.handleRefreshGymStats)
				r.Post("/admin/users/{userID}/subscription/sync", s.handleSyncSubscription)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
