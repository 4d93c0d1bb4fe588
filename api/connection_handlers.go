package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/subtask-dev/subtask/connection"
	"github.com/subtask-dev/subtask/session"
)

// oauthState binds an authorization round trip to the session that started
// it without storing anything.
func oauthState(sess *session.Session) string {
	sum := sha256.Sum256([]byte("oauth-state:" + sess.ID))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ListConnections handles GET /connections.
func (a *API) ListConnections(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r.Context())
	conns, err := a.connections.List(r.Context(), acct.ID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListConnectionsResponse{Connections: redactAll(conns)})
}

// ListProviders handles GET /connections/providers.
func (a *API) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListProvidersResponse{Providers: a.connections.Registry().Keys()})
}

// AuthorizationRedirect handles GET /connections/providers/{provider}/redirect.
func (a *API) AuthorizationRedirect(w http.ResponseWriter, r *http.Request) {
	state := oauthState(session.FromContext(r.Context()))
	u, err := a.connections.AuthorizationURL(chi.URLParam(r, "provider"), state)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RedirectResponse{URL: u})
}

// Authenticate handles POST /connections/providers/{provider}/authenticate.
// It completes the authorization started by AuthorizationRedirect.
func (a *API) Authenticate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[AuthenticateRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if req.State != "" {
		want := oauthState(session.FromContext(r.Context()))
		if subtle.ConstantTimeCompare([]byte(req.State), []byte(want)) != 1 {
			writeError(w, http.StatusBadRequest, "authorization state does not match this session")
			return
		}
	}

	provider := chi.URLParam(r, "provider")
	acct := accountFromContext(r.Context())
	c, err := a.connections.Exchange(r.Context(), acct.ID, provider, req.Code)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditConnectionCreated, r, acct.ID,
		slog.String("connection_id", c.ID),
		slog.String("provider", provider))
	writeJSON(w, http.StatusCreated, c.Redact())
}

// GetConnection handles GET /connections/{connectionID}.
func (a *API) GetConnection(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r.Context())
	c, err := a.connections.Get(r.Context(), acct.ID, chi.URLParam(r, "connectionID"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Redact())
}

// DeleteConnection handles DELETE /connections/{connectionID}.
func (a *API) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r.Context())
	id := chi.URLParam(r, "connectionID")
	if err := a.connections.Delete(r.Context(), acct.ID, id); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditConnectionDeleted, r, acct.ID, slog.String("connection_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// SyncConnectionProfile handles POST /connections/{connectionID}/profile.
func (a *API) SyncConnectionProfile(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r.Context())
	c, err := a.connections.SyncProfile(r.Context(), acct.ID, chi.URLParam(r, "connectionID"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Redact())
}

// ListLocations handles GET /connections/{connectionID}/locations.
func (a *API) ListLocations(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r.Context())
	locs, err := a.connections.Locations(r.Context(), acct.ID, chi.URLParam(r, "connectionID"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if locs == nil {
		locs = []connection.Location{}
	}
	writeJSON(w, http.StatusOK, ListLocationsResponse{Locations: locs})
}
