package db

import (
	"context"

	"fittrack/internal/types"
)

// FeedbackRepository provides data access for the feedback table.
type FeedbackRepository struct {
	db DBTX
}

// NewFeedbackRepository creates a FeedbackRepository backed by the given
// database connection (pool or transaction).
func NewFeedbackRepository(db DBTX) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Create inserts a new feedback row. The caller assigns the UUID and
// timestamp.
func (r *FeedbackRepository) Create(ctx context.Context, fb *types.Feedback) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO feedback (id, user_id, subject, message, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		fb.ID, fb.UserID, fb.Subject, fb.Message, fb.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert feedback", err)
	}
	return nil
}

// List returns feedback rows newest-first. When userID > 0 the result is
// scoped to that user; admins pass 0 to list across users.
func (r *FeedbackRepository) List(ctx context.Context, userID int64, limit, offset int) ([]types.Feedback, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, subject, message, created_at
		 FROM feedback
		 WHERE ($1 = 0 OR user_id = $1)
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query feedback", err)
	}
	defer rows.Close()

	var result []types.Feedback
	for rows.Next() {
		var fb types.Feedback
		if err := rows.Scan(&fb.ID, &fb.UserID, &fb.Subject, &fb.Message, &fb.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan feedback row", err)
		}
		result = append(result, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read feedback rows", err)
	}
	return result, nil
}

// Delete removes a feedback row. When ownerID > 0 the delete is scoped to
// that owner; admins pass 0 to delete any row. Returns false when no row
// matched.
func (r *FeedbackRepository) Delete(ctx context.Context, id string, ownerID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM feedback WHERE id = $1 AND ($2 = 0 OR user_id = $2)`,
		id, ownerID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to delete feedback", err)
	}
	return tag.RowsAffected() > 0, nil
}
