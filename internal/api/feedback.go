package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fittrack/internal/types"
)

const (
	defaultFeedbackPageSize = 20
	maxFeedbackPageSize     = 100
)

type createFeedbackRequest struct {
	Subject string `json:"subject" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=5000"`
}

type feedbackResponse struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func toFeedbackResponse(fb *types.Feedback) feedbackResponse {
	return feedbackResponse{
		ID:        fb.ID,
		UserID:    fb.UserID,
		Subject:   fb.Subject,
		Message:   fb.Message,
		CreatedAt: fb.CreatedAt,
	}
}

func (s *Server) handleCreateFeedback(w http.ResponseWriter, r *http.Request) {
	user, _ := types.GetUser(r.Context())

	var req createFeedbackRequest
	if err := DecodeBody(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "invalid feedback payload", err))
		return
	}

	fb := &types.Feedback{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Subject:   req.Subject,
		Message:   req.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.feedback.Create(r.Context(), fb); err != nil {
		Error(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "feedback created",
		"feedback_id", fb.ID,
		"user_id", user.ID,
	)
	JSON(w, r, http.StatusCreated, toFeedbackResponse(fb))
}

// handleListFeedback lists the caller's feedback; admins see all users'.
func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	user, _ := types.GetUser(r.Context())

	limit := parseQueryInt(r, "limit", defaultFeedbackPageSize)
	if limit < 1 || limit > maxFeedbackPageSize {
		limit = defaultFeedbackPageSize
	}
	offset := parseQueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	scope := user.ID
	if user.Role == types.RoleAdmin {
		scope = 0
	}

	items, err := s.feedback.List(r.Context(), scope, limit, offset)
	if err != nil {
		Error(w, r, err)
		return
	}

	resp := make([]feedbackResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toFeedbackResponse(&items[i]))
	}
	JSON(w, r, http.StatusOK, resp)
}

// handleDeleteFeedback deletes a feedback row. Members may only delete their
// own entries; admins may delete any.
func (s *Server) handleDeleteFeedback(w http.ResponseWriter, r *http.Request) {
	user, _ := types.GetUser(r.Context())

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "feedback id must be a UUID", err))
		return
	}

	scope := user.ID
	if user.Role == types.RoleAdmin {
		scope = 0
	}

	deleted, err := s.feedback.Delete(r.Context(), id, scope)
	if err != nil {
		Error(w, r, err)
		return
	}
	if !deleted {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundFeedback, "feedback not found", nil))
		return
	}

	JSON(w, r, http.StatusOK, map[string]string{"deleted": id})
}

// parseQueryInt reads an integer query parameter, falling back to def on
// absence or garbage.
func parseQueryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
