package handler

// RESPONSE ENVELOPE:
// Every response has the same outer shape:
//
//	{"status": "success" | "exists" | "error", "message": "...", "data": ...}
//
// Key endpoints that combine the local mirror with the remote server's view
// use "local" and "server" instead of "data", plus "serverError" when the
// remote part failed but the local part succeeded.
//
// ERROR MAPPING (writeError is the only place domain errors become HTTP):
//
//	ErrValidation              → 400
//	ErrUnauthenticated         → 401 (also a remote 401/403)
//	ErrNotFound, ErrEmptyResult → 404 (also a remote 404)
//	ErrDuplicateKey, ErrConflict → 409
//	other remote errors, ErrTransport → 502
//	anything else              → 500, details only in the log

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/validation"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	maxBodyBytes = 1 << 20
)

// Envelope is the JSON body of every API response.
type Envelope struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	Data        any    `json:"data,omitempty"`
	Local       any    `json:"local,omitempty"`
	Server      any    `json:"server,omitempty"`
	ServerError any    `json:"serverError,omitempty"`

	// error responses only
	Error   string `json:"error,omitempty"` // machine-readable, e.g. "not_found"
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"` // remote response body, when there is one
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Status: statusSuccess, Message: message, Data: data})
}

// writeError maps a domain error to an HTTP status and an error envelope.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, env := errorEnvelope(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, env)
}

func errorEnvelope(err error) (int, Envelope) {
	env := Envelope{Status: statusError}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		env.Message = appErr.Message
		env.Field = appErr.Field
	}

	var remoteErr *apperror.RemoteError
	hasRemote := errors.As(err, &remoteErr)
	if hasRemote {
		env.Details = remoteErr.Body
		if env.Message == "" {
			env.Message = remoteErr.Error()
		}
	}

	switch {
	case errors.Is(err, apperror.ErrValidation):
		env.Error = "validation_error"
		return http.StatusBadRequest, env
	case errors.Is(err, apperror.ErrUnauthenticated):
		env.Error = "unauthenticated"
		return http.StatusUnauthorized, env
	case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrEmptyResult):
		env.Error = "not_found"
		return http.StatusNotFound, env
	case errors.Is(err, apperror.ErrDuplicateKey), errors.Is(err, apperror.ErrConflict):
		env.Error = "conflict"
		return http.StatusConflict, env
	case hasRemote:
		switch remoteErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			env.Error = "unauthenticated"
			return http.StatusUnauthorized, env
		case http.StatusNotFound:
			env.Error = "not_found"
			return http.StatusNotFound, env
		}
		env.Error = "remote_error"
		return http.StatusBadGateway, env
	case errors.Is(err, apperror.ErrTransport):
		env.Error = "transport_error"
		if env.Message == "" {
			env.Message = "remote service unreachable"
		}
		return http.StatusBadGateway, env
	}

	// Never expose internal details (SQL, paths) to the client.
	return http.StatusInternalServerError, Envelope{
		Status:  statusError,
		Error:   "internal_error",
		Message: "An internal error occurred",
	}
}

// decodeBody reads a JSON request body into dst and validates it.
// An empty body decodes as {} so validation reports the missing fields.
func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperror.ValidationFailed("", "could not read request body")
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, dst); err != nil {
			return apperror.ValidationFailed("", "invalid JSON body")
		}
	}
	return validation.Struct(dst)
}
