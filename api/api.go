package api

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/subtask-dev/subtask/account"
	"github.com/subtask-dev/subtask/connection"
	"github.com/subtask-dev/subtask/session"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	sessions    *session.Manager
	accounts    *account.Service
	connections *connection.Service

	logger  *slog.Logger
	audit   *auditLogger
	metrics *metricsCollector
	prom    *promMetrics

	loginLimiter     *backoffLimiter
	ipLimiter        *backoffLimiter
	globalLimiter    *windowLimiter
	regIPLimiter     *backoffLimiter
	regGlobalLimiter *windowLimiter
	trustedProxies   []netip.Prefix
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request errors and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAlertFunc registers a callback for anomaly alerts such as login
// failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.metrics = newMetricsCollector(fn)
	}
}

// WithRegisterer exports request and audit counters to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *API) {
		a.prom = newPromMetrics(reg)
	}
}

// WithTrustedProxies sets the proxy ranges whose forwarding headers are
// honored when determining the client IP for rate limiting. Bare addresses
// are treated as single-host prefixes.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if prefix, err := netip.ParsePrefix(raw); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// New creates a new API instance.
func New(sessions *session.Manager, accounts *account.Service, connections *connection.Service, opts ...Option) *API {
	a := &API{
		sessions:         sessions,
		accounts:         accounts,
		connections:      connections,
		loginLimiter:     newBackoffLimiter(loginPolicy),
		ipLimiter:        newBackoffLimiter(ipPolicy),
		globalLimiter:    newWindowLimiter(globalLoginPolicy),
		regIPLimiter:     newBackoffLimiter(registrationIPPolicy),
		regGlobalLimiter: newWindowLimiter(globalRegistrationPolicy),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger, a.metrics, a.prom)
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(a.instrument)
		r.Use(a.SessionMiddleware)

		r.Get("/session", a.GetSession)

		r.Route("/user", func(r chi.Router) {
			r.Post("/auth/create", a.CreateAccount)
			r.Post("/auth/login", a.Login)
			r.Post("/auth/logout", a.Logout)

			r.Group(func(r chi.Router) {
				r.Use(a.RequireLoggedIn)
				r.Get("/self", a.GetSelf)
				r.Post("/self/settings/username", a.ChangeUsername)
				r.Post("/self/settings/display_name", a.ChangeDisplayName)
				r.Post("/self/settings/password", a.ChangePassword)
			})
		})

		r.Route("/connections", func(r chi.Router) {
			r.Use(a.RequireLoggedIn)
			r.Get("/", a.ListConnections)
			r.Get("/providers", a.ListProviders)
			r.Get("/providers/{provider}/redirect", a.AuthorizationRedirect)
			r.Post("/providers/{provider}/authenticate", a.Authenticate)

			r.Route("/{connectionID}", func(r chi.Router) {
				r.Get("/", a.GetConnection)
				r.Delete("/", a.DeleteConnection)
				r.Post("/profile", a.SyncConnectionProfile)
				r.Get("/locations", a.ListLocations)
			})
		})
	})

	return r
}
