package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/subtask-dev/subtask/account"
	"github.com/subtask-dev/subtask/session"
)

type contextKey int

const accountKey contextKey = iota

const sessionCookieName = "subtask-token"

// SessionMiddleware resolves the request's session from its cookie and
// stores it on the request context. The session is persisted and the cookie
// reissued just before the response header is written, so handlers may
// change the session (log in, log out) right up to their first write.
func (a *API) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			token = cookie.Value
		}
		sess := a.sessions.Resolve(r.Context(), token)

		sw := &sessionWriter{ResponseWriter: w, api: a, req: r, sess: sess}
		next.ServeHTTP(sw, r.WithContext(session.WithSession(r.Context(), sess)))
		sw.finalize()
	})
}

// sessionWriter finalizes the session before the first byte of the response.
type sessionWriter struct {
	http.ResponseWriter
	api       *API
	req       *http.Request
	sess      *session.Session
	finalized bool
}

func (sw *sessionWriter) finalize() {
	if sw.finalized {
		return
	}
	sw.finalized = true
	token, err := sw.api.sessions.Finalize(sw.req.Context(), sw.sess)
	if err != nil {
		sw.api.logger.ErrorContext(sw.req.Context(), "finalizing session", "error", err)
	}
	writeSessionCookie(sw.ResponseWriter, sw.req, token)
}

func (sw *sessionWriter) WriteHeader(status int) {
	sw.finalize()
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *sessionWriter) Write(b []byte) (int, error) {
	sw.finalize()
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *sessionWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// RequireLoggedIn rejects requests whose session is not bound to an
// existing account, and stores the account on the request context.
func (a *API) RequireLoggedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := a.accounts.RequireLoggedIn(r.Context(), session.FromContext(r.Context()))
		if err != nil {
			a.mapError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), accountKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountFromContext(ctx context.Context) *account.Account {
	acct, _ := ctx.Value(accountKey).(*account.Account)
	return acct
}

// writeSessionCookie issues the session cookie. It carries no Max-Age or
// Expires: lifetime is enforced server side by the sliding TTL.
func writeSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
