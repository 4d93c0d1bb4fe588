package api

import (
	"time"

	"github.com/subtask-dev/subtask/account"
	"github.com/subtask-dev/subtask/connection"
)

// SessionResponse is returned from GET /session.
type SessionResponse struct {
	ID           string            `json:"id"`
	CreationTime time.Time         `json:"creation_time"`
	AccessTime   time.Time         `json:"access_time"`
	User         *account.Redacted `json:"user"`
}

// CreateAccountRequest is the JSON body for POST /user/auth/create.
type CreateAccountRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

// LoginRequest is the JSON body for POST /user/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SelfResponse is returned from GET /user/self.
type SelfResponse struct {
	account.Redacted
	Connections []connection.Redacted `json:"connections"`
}

// ChangeUsernameRequest is the JSON body for POST /user/self/settings/username.
type ChangeUsernameRequest struct {
	Username string `json:"username"`
}

// ChangeDisplayNameRequest is the JSON body for
// POST /user/self/settings/display_name.
type ChangeDisplayNameRequest struct {
	DisplayName string `json:"display_name"`
}

// ChangePasswordRequest is the JSON body for POST /user/self/settings/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ListConnectionsResponse is returned from GET /connections.
type ListConnectionsResponse struct {
	Connections []connection.Redacted `json:"connections"`
}

// ListProvidersResponse is returned from GET /connections/providers.
type ListProvidersResponse struct {
	Providers []string `json:"providers"`
}

// RedirectResponse is returned from
// GET /connections/providers/{provider}/redirect.
type RedirectResponse struct {
	URL string `json:"url"`
}

// AuthenticateRequest is the JSON body for
// POST /connections/providers/{provider}/authenticate.
type AuthenticateRequest struct {
	Code  string `json:"code"`
	State string `json:"state,omitempty"`
}

// ListLocationsResponse is returned from
// GET /connections/{connectionID}/locations.
type ListLocationsResponse struct {
	Locations []connection.Location `json:"locations"`
}

// StatusResponse acknowledges requests without a resource body.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
