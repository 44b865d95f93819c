package api

import (
	"net/http"

	"fittrack/internal/types"
)

type registerDeviceRequest struct {
	Token    string `json:"token" validate:"required,max=512"`
	Platform string `json:"platform" validate:"required,oneof=android ios"`
}

type unregisterDeviceRequest struct {
	Token string `json:"token" validate:"required,max=512"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	user, _ := types.GetUser(r.Context())

	var req registerDeviceRequest
	if err := DecodeBody(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "invalid device payload", err))
		return
	}

	platform := types.DevicePlatform(req.Platform)
	if err := s.devices.Register(r.Context(), user.ID, req.Token, platform); err != nil {
		Error(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "device token registered",
		"user_id", user.ID,
		"platform", req.Platform,
	)
	JSON(w, r, http.StatusCreated, map[string]string{"platform": req.Platform})
}

func (s *Server) handleUnregisterDevice(w http.ResponseWriter, r *http.Request) {
	user, _ := types.GetUser(r.Context())

	var req unregisterDeviceRequest
	if err := DecodeBody(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "invalid device payload", err))
		return
	}

	removed, err := s.devices.Unregister(r.Context(), user.ID, req.Token)
	if err != nil {
		Error(w, r, err)
		return
	}
	if !removed {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundDeviceToken, "device token not registered for user", nil))
		return
	}

	JSON(w, r, http.StatusOK, map[string]bool{"removed": true})
}
