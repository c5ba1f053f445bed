package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditSignInSuccess     AuditEvent = "sign_in_success"
	AuditSignInFailure     AuditEvent = "sign_in_failure"
	AuditSignInRateLimited AuditEvent = "sign_in_rate_limited"
	AuditSignOut           AuditEvent = "sign_out"
	AuditTokenRejected     AuditEvent = "token_rejected"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Entries name the user and the internal failure code; passwords and
// tokens are never passed in.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, level slog.Level, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		base = append(base, slog.String("request_id", id))
	}
	al.logger.LogAttrs(r.Context(), level, "audit", append(base, attrs...)...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logEvent records a successful action by username.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, username string, extra ...slog.Attr) {
	al.log(event, r, slog.LevelInfo, append([]slog.Attr{slog.String("username", username)}, extra...)...)
}

// logFailure records a rejected request. code is the internal failure
// classification, kept even when the client sees a uniform message.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, username, code string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("username", username),
		slog.String("code", code),
	}
	al.log(event, r, slog.LevelWarn, append(attrs, extra...)...)
}
