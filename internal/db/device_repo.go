package db

import (
	"context"
	"time"

	"fittrack/internal/types"
)

// DeviceTokenRepository provides data access for the device_tokens table
// (FCM push registration).
type DeviceTokenRepository struct {
	db DBTX
}

// NewDeviceTokenRepository creates a DeviceTokenRepository backed by the
// given database connection (pool or transaction).
func NewDeviceTokenRepository(db DBTX) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// Register upserts a device token for a user. A token re-registered by a
// different user is moved to the new owner (device handover).
func (r *DeviceTokenRepository) Register(ctx context.Context, userID int64, token string, platform types.DevicePlatform) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO device_tokens (user_id, token, platform, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token) DO UPDATE
		   SET user_id = EXCLUDED.user_id,
		       platform = EXCLUDED.platform`,
		userID, token, string(platform), time.Now().UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to register device token", err)
	}
	return nil
}

// Unregister removes a token owned by the given user. Returns false when no
// row matched.
func (r *DeviceTokenRepository) Unregister(ctx context.Context, userID int64, token string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM device_tokens WHERE user_id = $1 AND token = $2`,
		userID, token,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to unregister device token", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByUser returns all registered tokens for a user.
func (r *DeviceTokenRepository) ListByUser(ctx context.Context, userID int64) ([]types.DeviceToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, token, platform, created_at
		 FROM device_tokens WHERE user_id = $1 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query device tokens", err)
	}
	defer rows.Close()

	var tokens []types.DeviceToken
	for rows.Next() {
		var (
			t        types.DeviceToken
			platform string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &platform, &t.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan device token row", err)
		}
		t.Platform = types.DevicePlatform(platform)
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read device token rows", err)
	}
	return tokens, nil
}

// DeleteByToken removes a token regardless of owner. Used to prune tokens
// FCM reports as unregistered.
func (r *DeviceTokenRepository) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM device_tokens WHERE token = $1`, token)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to prune device token", err)
	}
	return nil
}
