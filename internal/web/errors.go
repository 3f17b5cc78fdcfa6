package web

// errors.go turns errors into coded JSON responses.
//
// The technical error is logged with the request ID; the client gets the
// user-facing message from core.MapError. The HTTP status comes from the
// error's type, not its text.

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/gridfill/internal/assistant"
	"github.com/JonMunkholm/gridfill/internal/core"
	"github.com/JonMunkholm/gridfill/internal/grid"
	"github.com/JonMunkholm/gridfill/internal/logging"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// requestError is a malformed request.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var (
		reqErr   *requestError
		notFound *grid.NotFoundError
		rejected *grid.RejectedError
		failure  *grid.ItemFailure
		fault    *grid.SessionFault
	)
	switch {
	case errors.As(err, &reqErr), errors.Is(err, grid.ErrNoControl):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRecordNotFound), errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrValidationFailed), errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, grid.ErrDeleteDeclined):
		return http.StatusPreconditionRequired
	case errors.Is(err, grid.ErrCursorBusy), errors.Is(err, grid.ErrBatchRunning):
		return http.StatusConflict
	case errors.Is(err, grid.ErrBatchTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &fault), errors.Is(err, grid.ErrSessionNotReady),
		errors.Is(err, grid.ErrSessionClosed), errors.Is(err, grid.ErrNoPage),
		errors.Is(err, assistant.ErrAssistantDisabled):
		return http.StatusServiceUnavailable
	case errors.As(err, &failure), grid.IsTransient(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped message. A zero status is
// derived from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
