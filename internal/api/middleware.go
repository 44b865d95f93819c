package api

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"fittrack/internal/types"
)

// RequestID attaches a request id to the context and echoes it in the
// response header. An inbound X-Request-Id is honored so mobile clients and
// upstream proxies can correlate logs.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
	})
}

// NewCORSMiddleware configures CORS from the allowed-origins list. A "*"
// entry allows every origin; otherwise the request Origin is checked against
// the list. Preflight OPTIONS requests are answered directly with 204.
func NewCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			break
		}
		originSet[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			var allowedOrigin string
			if allowAll {
				allowedOrigin = "*"
			} else if origin != "" {
				if _, ok := originSet[origin]; ok {
					allowedOrigin = origin
				}
			}

			if allowedOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
				w.Header().Set("Access-Control-Expose-Headers", "X-Request-Id")
				w.Header().Set("Access-Control-Max-Age", "86400")

				// Non-wildcard responses differ per origin, so caches
				// must key on it.
				if allowedOrigin != "*" {
					w.Header().Set("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Recoverer converts handler panics into 500 responses instead of dropping
// the connection.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.ErrorContext(r.Context(), "panic in handler",
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
					"an unexpected error occurred", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Authenticate resolves the bearer token and stores the user in the request
// context. Every route behind this middleware can assume types.GetUser
// succeeds.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r)
		if err != nil {
			Error(w, r, err)
			return
		}

		user, err := s.auth.ResolveToken(r.Context(), token)
		if err != nil {
			Error(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithUser(r.Context(), user)))
	})
}

// RequireRole gates a route to the given roles. Must be mounted behind
// Authenticate.
func (s *Server) RequireRole(roles ...types.UserRole) func(http.Handler) http.Handler {
	allowed := make(map[types.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := types.GetUser(r.Context())
			if !ok {
				Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing,
					"authentication required", nil))
				return
			}
			if _, ok := allowed[user.Role]; !ok {
				Error(w, r, types.NewAppError(types.ErrCodePermissionRole,
					"insufficient role for this operation", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken pulls the raw token out of the Authorization header.
func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenMissing, "missing Authorization header", nil)
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "Authorization header must use Bearer scheme", nil)
	}

	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenMissing, "empty bearer token", nil)
	}
	return token, nil
}
