package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/subtask-dev/subtask/account"
	"github.com/subtask-dev/subtask/session"
)

// GetSession handles GET /session.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	acct, err := a.accounts.CurrentAccount(r.Context(), sess)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	resp := SessionResponse{
		ID:           sess.ID,
		CreationTime: sess.CreationTime,
		AccessTime:   sess.AccessTime,
	}
	if acct != nil {
		redacted := acct.Redact()
		resp.User = &redacted
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateAccount handles POST /user/auth/create. The new account is logged
// in on the calling session.
func (a *API) CreateAccount(w http.ResponseWriter, r *http.Request) {
	// Rate-limit registration before any hashing work.
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.regGlobalLimiter.check(); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "global rate limited")
		writeRateLimited(w, retryAfter, registrationRateLimitedMessage)
		return
	}
	if blocked, retryAfter := a.regIPLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter, registrationRateLimitedMessage)
		return
	}

	req, ok := decodeJSON[CreateAccountRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	// Every attempt counts: hashing is expensive regardless of outcome.
	a.regIPLimiter.recordFailure(clientIP)
	a.regGlobalLimiter.recordFailure()

	acct, err := a.accounts.Create(r.Context(), req.Username, req.DisplayName, req.Password)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.sessions.Login(session.FromContext(r.Context()), acct.ID)

	a.audit.logEvent(AuditAccountCreated, r, acct.ID)
	writeJSON(w, http.StatusCreated, acct.Redact())
}

// Login handles POST /user/auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	usernameKey := account.UsernameKey(req.Username)
	clientIP := a.extractClientIP(r)

	// Check rate limits before any hashing: global, then IP, then username.
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "global rate limited")
		writeRateLimited(w, retryAfter, loginRateLimitedMessage)
		return
	}
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter, loginRateLimitedMessage)
		return
	}
	if blocked, retryAfter := a.loginLimiter.check(usernameKey); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "username rate limited")
		writeRateLimited(w, retryAfter, loginRateLimitedMessage)
		return
	}

	acct, err := a.accounts.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, account.ErrInvalidCredentials) {
		a.globalLimiter.recordFailure()
		a.ipLimiter.recordFailure(clientIP)
		a.loginLimiter.recordFailure(usernameKey)
		a.audit.logFailure(AuditLoginFailure, r, "invalid credentials")
		a.mapError(w, r, err)
		return
	}
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	a.loginLimiter.recordSuccess(usernameKey)
	a.ipLimiter.recordSuccess(clientIP)
	a.sessions.Login(session.FromContext(r.Context()), acct.ID)

	a.audit.logEvent(AuditLoginSuccess, r, acct.ID)
	writeJSON(w, http.StatusOK, acct.Redact())
}

// Logout handles POST /user/auth/logout. The session itself survives as an
// anonymous session; logging out twice is not an error.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess.Authenticated() {
		a.audit.logEvent(AuditLogout, r, sess.AccountID)
	}
	a.sessions.Logout(sess)
	writeJSON(w, http.StatusOK, StatusResponse{Status: "logged_out"})
}
