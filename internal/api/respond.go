package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"fittrack/internal/types"
)

// maxRequestBodySize caps request bodies at 1MB; every payload the mobile app
// sends is far smaller.
const maxRequestBodySize = 1 << 20

// APIResponse is the standard success envelope.
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// APIErrorResponse is the standard error envelope.
type APIErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorDetail carries the machine-readable error code alongside the message.
type ErrorDetail struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	Details map[string]any  `json:"details,omitempty"`
}

// JSON writes a success envelope with the given status and payload.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Success:   true,
		Data:      data,
		RequestID: types.GetRequestID(r.Context()),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// Error writes an error envelope. AppErrors map to their HTTP status and
// expose their code; anything else becomes an opaque 500 so internals never
// leak to clients.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		appErr = types.NewAppError(types.ErrCodeInternalUnexpected, "an unexpected error occurred", err)
	}

	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"status", status,
			"code", string(appErr.Code),
			"error", err,
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		},
		RequestID: types.GetRequestID(r.Context()),
	}
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		slog.ErrorContext(r.Context(), "failed to encode error response", "error", encErr)
	}
}

// DecodeBody decodes a JSON request body into dst with a size cap and strict
// field checking.
func DecodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return types.NewAppError(types.ErrCodeValidationBody, "invalid request body", err)
	}
	return nil
}
