// Package api exposes sign-in over HTTP.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/petabi/deview/auth"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	svc            *auth.Service
	userLimiter    *backoffLimiter
	ipLimiter      *backoffLimiter
	globalLimiter  *globalRateLimiter
	audit          *auditLogger
	metrics        *metricsCollector
	trustedProxies []netip.Prefix
	uniformFailure bool
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithAlertFunc registers a callback for sign-in failure and token
// rejection spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.metrics = newMetricsCollector(fn)
	}
}

// WithUniformFailureMessage makes every failed sign-in report the same
// reason, hiding whether the username exists. The audit log still records
// the specific cause.
func WithUniformFailureMessage(enabled bool) Option {
	return func(a *API) {
		a.uniformFailure = enabled
	}
}

// New creates a new API instance.
func New(svc *auth.Service, opts ...Option) *API {
	a := &API{
		svc:           svc,
		userLimiter:   newUserRateLimiter(),
		ipLimiter:     newIPRateLimiter(),
		globalLimiter: newGlobalRateLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	a.audit.metrics = a.metrics
	return a
}

// Sweep drops expired rate-limit records. The server calls it periodically.
func (a *API) Sweep() {
	a.userLimiter.sweep()
	a.ipLimiter.sweep()
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.With(docsHeaders).Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.With(docsHeaders).Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/sign-in", a.SignIn)
	r.With(a.BearerAuth).Post("/sign-out", a.SignOut)
	r.With(a.BearerAuth).Get("/session", a.Session)

	return r
}
