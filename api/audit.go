package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditAccountCreated          AuditEvent = "account_created"
	AuditRegisterRateLimited     AuditEvent = "register_rate_limited"
	AuditLoginSuccess            AuditEvent = "login_success"
	AuditLoginFailure            AuditEvent = "login_failure"
	AuditLoginRateLimited        AuditEvent = "login_rate_limited"
	AuditLogout                  AuditEvent = "logout"
	AuditPasswordChanged         AuditEvent = "password_changed"
	AuditUsernameChanged         AuditEvent = "username_changed"
	AuditConnectionCreated       AuditEvent = "connection_created"
	AuditConnectionDeleted       AuditEvent = "connection_deleted"
	AuditConnectionRefreshed     AuditEvent = "connection_refreshed"
	AuditConnectionRefreshFailed AuditEvent = "connection_refresh_failed"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Usernames, passwords and tokens are never logged; accounts are identified
// by id.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	prom    *promMetrics
}

func newAuditLogger(logger *slog.Logger, metrics *metricsCollector, prom *promMetrics) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		metrics: metrics,
		prom:    prom,
	}
}

// log writes a structured audit log entry for a request.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{slog.String("remote_addr", r.RemoteAddr)}, attrs...)
	al.emit(r.Context(), event, attrs...)
}

func (al *auditLogger) emit(ctx context.Context, event AuditEvent, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", append(base, attrs...)...)
	al.metrics.recordEvent(event)
	al.prom.recordEvent(event)
}

// logEvent is a convenience for events with an account ID.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, accountID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("account_id", accountID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed or refused attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// ObserveRefresh records the outcome of a connection token refresh. It is
// meant to be passed to connection.WithRefreshObserver.
func (a *API) ObserveRefresh(provider string, err error) {
	if err != nil {
		a.audit.emit(context.Background(), AuditConnectionRefreshFailed,
			slog.String("provider", provider),
			slog.String("reason", err.Error()))
		return
	}
	a.audit.emit(context.Background(), AuditConnectionRefreshed, slog.String("provider", provider))
}
