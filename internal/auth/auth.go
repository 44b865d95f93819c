// Package auth resolves bearer session tokens to users. Tokens are opaque
// "<token_id>.<secret>" pairs; only a bcrypt hash of the secret is stored, so
// a leaked sessions table cannot be replayed.
package auth

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fittrack/internal/db"
	"fittrack/internal/types"
)

// SessionStore abstracts session lookup. Implemented by db.UserRepository.
type SessionStore interface {
	GetSession(ctx context.Context, tokenID string) (*db.SessionRecord, error)
}

// Authenticator validates bearer tokens against stored sessions.
type Authenticator struct {
	sessions SessionStore

	// now is injectable for deterministic expiry tests.
	now func() time.Time
}

// NewAuthenticator creates an Authenticator backed by the given session store.
func NewAuthenticator(sessions SessionStore) *Authenticator {
	return &Authenticator{
		sessions: sessions,
		now:      time.Now,
	}
}

// ResolveToken validates a raw bearer token and returns the owning user.
// Failures are reported with distinct auth error codes so clients can tell a
// malformed token from an expired session.
func (a *Authenticator) ResolveToken(ctx context.Context, token string) (*types.User, error) {
	tokenID, secret, ok := strings.Cut(token, ".")
	if !ok || tokenID == "" || secret == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed session token", nil)
	}

	rec, err := a.sessions.GetSession(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.TokenHash), []byte(secret)); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session token mismatch", err)
	}

	if a.now().UTC().After(rec.ExpiresAt) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "session token expired", nil)
	}

	user := rec.User
	return &user, nil
}
