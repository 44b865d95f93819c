package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"fittrack/internal/types"
)

// UserRepository provides data access for users and their API sessions.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a UserRepository backed by the given database
// connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// SessionRecord is a session row joined with its owning user, as needed by
// the auth middleware. TokenHash is the bcrypt hash of the token secret.
type SessionRecord struct {
	TokenHash string
	ExpiresAt time.Time
	User      types.User
}

// GetSession loads the session with the given token id together with its
// user. Returns ErrCodeAuthTokenInvalid when no such session exists.
func (r *UserRepository) GetSession(ctx context.Context, tokenID string) (*SessionRecord, error) {
	var (
		rec  SessionRecord
		role string
	)
	err := r.db.QueryRow(ctx,
		`SELECT s.token_hash, s.expires_at,
		        u.id, u.email, u.role, u.current_plan_id, u.gym_id, u.created_at
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.token_id = $1`,
		tokenID,
	).Scan(
		&rec.TokenHash,
		&rec.ExpiresAt,
		&rec.User.ID,
		&rec.User.Email,
		&role,
		&rec.User.CurrentPlanID,
		&rec.User.GymID,
		&rec.User.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown session token", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load session", err)
	}
	rec.User.Role = types.UserRole(role)
	return &rec, nil
}

// GetByID loads a user by primary key. Returns ErrCodeNotFoundUser when the
// user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*types.User, error) {
	var (
		u    types.User
		role string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, email, role, current_plan_id, gym_id, created_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &role, &u.CurrentPlanID, &u.GymID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load user", err)
	}
	u.Role = types.UserRole(role)
	return &u, nil
}
