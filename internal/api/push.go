package api

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fittrack/internal/external"
	"fittrack/internal/types"
)

// pushFanOutLimit bounds concurrent FCM sends per dispatch. A user rarely has
// more than a handful of devices, so this mostly guards against pathological
// registries.
const pushFanOutLimit = 4

type dispatchPushRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Title  string `json:"title" validate:"required,max=200"`
	Body   string `json:"body" validate:"required,max=2000"`
}

type dispatchPushResponse struct {
	NotificationID string `json:"notification_id"`
	Devices        int    `json:"devices"`
	Sent           int    `json:"sent"`
	Pruned         int    `json:"pruned"`
	Failed         int    `json:"failed"`
}

// handleDispatchPush fans a notification out to every device the target user
// has registered. Stale tokens reported by FCM are pruned from the registry;
// other per-device failures are counted but do not fail the dispatch.
func (s *Server) handleDispatchPush(w http.ResponseWriter, r *http.Request) {
	var req dispatchPushRequest
	if err := DecodeBody(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "invalid push payload", err))
		return
	}

	ctx := r.Context()

	tokens, err := s.devices.ListByUser(ctx, req.UserID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if len(tokens) == 0 {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundDeviceToken, "user has no registered devices", nil))
		return
	}

	notification := &types.Notification{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Title:     req.Title,
		Body:      req.Body,
		Status:    types.NotifStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.notifications.Create(ctx, notification); err != nil {
		Error(w, r, err)
		return
	}

	var sent, pruned, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pushFanOutLimit)
	for _, device := range tokens {
		g.Go(func() error {
			err := s.pusher.Send(gctx, device.Token, req.Title, req.Body)
			switch {
			case err == nil:
				sent.Add(1)
			case errors.Is(err, external.ErrTokenUnregistered):
				pruned.Add(1)
				if delErr := s.devices.DeleteByToken(gctx, device.Token); delErr != nil {
					s.logger.WarnContext(gctx, "failed to prune stale device token",
						"user_id", device.UserID,
						"error", delErr,
					)
				}
			default:
				failed.Add(1)
				s.logger.ErrorContext(gctx, "push send failed",
					"user_id", device.UserID,
					"notification_id", notification.ID,
					"error", err,
				)
			}
			// Per-device failures never abort the fan-out.
			return nil
		})
	}
	_ = g.Wait()

	status := types.NotifStatusSent
	if sent.Load() == 0 {
		status = types.NotifStatusFailed
	}
	if err := s.notifications.UpdateStatus(ctx, notification.ID, status); err != nil {
		s.logger.ErrorContext(ctx, "failed to update notification status",
			"notification_id", notification.ID,
			"error", err,
		)
	}

	s.logger.InfoContext(ctx, "push dispatch complete",
		"notification_id", notification.ID,
		"user_id", req.UserID,
		"devices", len(tokens),
		"sent", sent.Load(),
		"pruned", pruned.Load(),
		"failed", failed.Load(),
	)

	JSON(w, r, http.StatusOK, dispatchPushResponse{
		NotificationID: notification.ID,
		Devices:        len(tokens),
		Sent:           int(sent.Load()),
		Pruned:         int(pruned.Load()),
		Failed:         int(failed.Load()),
	})
}
