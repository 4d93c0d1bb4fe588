package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/subtask-dev/subtask/account"
	"github.com/subtask-dev/subtask/connection"
)

const (
	maxAuthBodySize = 16 << 10
	maxBodySize     = 64 << 10
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError logs err and sends a generic 500. Internal details
// never reach the client.
func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	a.logger.ErrorContext(r.Context(), msg, "error", err, "method", r.Method, "path", r.URL.Path)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// decodeJSON reads a JSON body of at most limit bytes into a T. On failure
// it writes a 400 and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return v, false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

// mapError translates domain errors into HTTP responses. Client-facing
// messages come from the sentinel, never from wrapped upstream detail,
// except for validation errors whose detail is the point.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, account.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, account.ErrUnauthorized.Error())
	case errors.Is(err, account.ErrIncorrectPassword):
		writeError(w, http.StatusForbidden, account.ErrIncorrectPassword.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, http.StatusNotFound, account.ErrInvalidCredentials.Error())
	case errors.Is(err, account.ErrNotFound):
		writeError(w, http.StatusNotFound, account.ErrNotFound.Error())
	case errors.Is(err, account.ErrUsernameTaken):
		writeError(w, http.StatusConflict, account.ErrUsernameTaken.Error())
	case errors.Is(err, account.ErrConflict):
		writeError(w, http.StatusConflict, account.ErrConflict.Error())
	case errors.Is(err, connection.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, connection.ErrUnknownProvider.Error())
	case errors.Is(err, connection.ErrNotFound):
		writeError(w, http.StatusNotFound, connection.ErrNotFound.Error())
	// Refresh failures wrap the upstream error; re-authorization wins.
	case errors.Is(err, connection.ErrReauthorizationRequired):
		writeError(w, http.StatusConflict, connection.ErrReauthorizationRequired.Error())
	case errors.Is(err, connection.ErrLocationsUnsupported):
		writeError(w, http.StatusNotImplemented, connection.ErrLocationsUnsupported.Error())
	case errors.Is(err, connection.ErrConflict):
		writeError(w, http.StatusConflict, connection.ErrConflict.Error())
	case errors.Is(err, connection.ErrUpstream):
		a.logger.WarnContext(r.Context(), "connection provider request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusBadGateway, connection.ErrUpstream.Error())
	default:
		a.writeInternalError(w, r, "request failed", err)
	}
}
