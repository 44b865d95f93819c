package db

import (
	"context"

	"fittrack/internal/types"
)

// NotificationRepository provides data access for the notifications table,
// which records push dispatch attempts.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a NotificationRepository backed by the
// given database connection (pool or transaction).
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification row. The caller assigns the UUID, status,
// and timestamp.
func (r *NotificationRepository) Create(ctx context.Context, n *types.Notification) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notifications (id, user_id, title, body, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.Title, n.Body, string(n.Status), n.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert notification", err)
	}
	return nil
}

// UpdateStatus sets the delivery status of a notification row.
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id string, status types.NotificationStatus) error {
	_, err := r.db.Exec(ctx,
		`UPDATE notifications SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update notification status", err)
	}
	return nil
}
