package api

import (
	"net/http"

	"github.com/subtask-dev/subtask/connection"
)

// GetSelf handles GET /user/self.
func (a *API) GetSelf(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r.Context())
	conns, err := a.connections.List(r.Context(), acct.ID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SelfResponse{
		Redacted:    acct.Redact(),
		Connections: redactAll(conns),
	})
}

// ChangeUsername handles POST /user/self/settings/username.
func (a *API) ChangeUsername(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ChangeUsernameRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	acct := accountFromContext(r.Context())
	updated, err := a.accounts.ChangeUsername(r.Context(), acct.ID, req.Username)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditUsernameChanged, r, acct.ID)
	writeJSON(w, http.StatusOK, updated.Redact())
}

// ChangeDisplayName handles POST /user/self/settings/display_name.
func (a *API) ChangeDisplayName(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ChangeDisplayNameRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	acct := accountFromContext(r.Context())
	updated, err := a.accounts.ChangeDisplayName(r.Context(), acct.ID, req.DisplayName)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated.Redact())
}

// ChangePassword handles POST /user/self/settings/password.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ChangePasswordRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	acct := accountFromContext(r.Context())
	if err := a.accounts.ChangePassword(r.Context(), acct.ID, req.CurrentPassword, req.NewPassword); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditPasswordChanged, r, acct.ID)
	writeJSON(w, http.StatusOK, StatusResponse{Status: "password_changed"})
}

func redactAll(conns []*connection.Connection) []connection.Redacted {
	out := make([]connection.Redacted, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Redact())
	}
	return out
}
