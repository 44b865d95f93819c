package db

import (
	"context"
	"time"

	"fittrack/internal/types"
)

// GymStatsRepository maintains the denormalized per-gym counters consumed by
// the admin dashboard.
type GymStatsRepository struct {
	db DBTX
}

// NewGymStatsRepository creates a GymStatsRepository backed by the given
// database connection (pool or transaction).
func NewGymStatsRepository(db DBTX) *GymStatsRepository {
	return &GymStatsRepository{db: db}
}

// RefreshAll recomputes member and active-subscription counts for every gym
// in one statement and returns the number of gyms refreshed.
//
// SQL pattern:
//
//	INSERT INTO gym_stats (gym_id, member_count, active_subscriptions, refreshed_at)
//	SELECT ... aggregated counts ...
//	ON CONFLICT (gym_id) DO UPDATE SET ...
func (r *GymStatsRepository) RefreshAll(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO gym_stats (gym_id, member_count, active_subscriptions, refreshed_at)
		 SELECT g.id,
		        COUNT(DISTINCT u.id),
		        COUNT(DISTINCT s.id) FILTER (WHERE s.status = 'active'),
		        $1
		 FROM gyms g
		 LEFT JOIN users u ON u.gym_id = g.id
		 LEFT JOIN user_subscriptions s ON s.user_id = u.id
		 GROUP BY g.id
		 ON CONFLICT (gym_id) DO UPDATE
		   SET member_count = EXCLUDED.member_count,
		       active_subscriptions = EXCLUDED.active_subscriptions,
		       refreshed_at = EXCLUDED.refreshed_at`,
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to refresh gym stats", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetAll returns the current stats snapshot for every gym.
func (r *GymStatsRepository) GetAll(ctx context.Context) ([]types.GymStats, error) {
	rows, err := r.db.Query(ctx,
		`SELECT gym_id, member_count, active_subscriptions, refreshed_at
		 FROM gym_stats ORDER BY gym_id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query gym stats", err)
	}
	defer rows.Close()

	var stats []types.GymStats
	for rows.Next() {
		var s types.GymStats
		if err := rows.Scan(&s.GymID, &s.MemberCount, &s.ActiveSubscriptions, &s.RefreshedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan gym stats row", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read gym stats rows", err)
	}
	return stats, nil
}
