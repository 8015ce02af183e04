// Package httpapi exposes the authentication, authorization, administration
// and audit operations over JSON/HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
	"github.com/abhayyyy25/breast-cancer-detection/internal/obs"
)

const (
	serviceName         = "breast-cancer-detection"
	defaultMaxBodyBytes = 1 << 20
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks readiness, for example by pinging the database.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// Deps are the collaborators served over HTTP.
type Deps struct {
	Sessions  *auth.SessionManager
	Guard     *auth.Guard
	Directory *auth.Directory
	Audit     *audit.Recorder
	Ready     ReadyProbe
	Version   string
}

// Option customises the API.
type Option func(*API)

// WithRateLimit limits credential endpoints per client IP. A non-positive
// rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond <= 0 || burst <= 0 {
			a.limiter = nil
			return
		}
		a.limiter = NewRateLimiter(perSecond, burst)
	}
}

// WithMaxBodyBytes bounds request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithAllowedOrigins sets the CORS allow list.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) {
		a.origins = append([]string(nil), origins...)
	}
}

// WithTrustProxy makes the caller address come from True-Client-IP,
// X-Real-IP or X-Forwarded-For. Enable it only behind a proxy that
// overwrites those headers.
func WithTrustProxy(trust bool) Option {
	return func(a *API) {
		a.trustProxy = trust
	}
}

// API is the HTTP layer.
type API struct {
	deps       Deps
	router     chi.Router
	limiter    *RateLimiter
	maxBody    int64
	origins    []string
	trustProxy bool
}

// New builds the router. Sessions, Guard, Directory and Audit are required.
func New(deps Deps, opts ...Option) (*API, error) {
	if deps.Sessions == nil || deps.Guard == nil || deps.Directory == nil || deps.Audit == nil {
		return nil, errors.New("httpapi: sessions, guard, directory and audit recorder are required")
	}
	a := &API{
		deps:    deps,
		limiter: NewRateLimiter(5, 10),
		maxBody: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	if a.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestID)
	r.Use(AuditOrigin)
	r.Use(LoggingJSON)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.origins))
	r.Use(MaxBodyBytes(a.maxBody))

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)

		r.Group(func(r chi.Router) {
			if a.limiter != nil {
				r.Use(a.limiter.Middleware)
			}
			r.Post("/auth/login", a.handleLogin)
			r.Post("/auth/refresh", a.handleRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireSession)

			r.Post("/auth/logout", a.handleLogout)
			r.Get("/auth/me", a.handleMe)
			r.Post("/auth/change-password", a.handleChangePassword)

			r.Post("/authz/check", a.handleAuthzCheck)
			r.Post("/authz/patients/{patientID}", a.handlePatientAccess)

			r.Route("/tenants", func(r chi.Router) {
				r.Get("/", a.handleListTenants)
				r.Post("/", a.handleCreateTenant)
				r.Route("/{tenantID}", func(r chi.Router) {
					r.Get("/", a.handleGetTenant)
					r.Put("/status", a.handleSetTenantStatus)
					r.Get("/principals", a.handleListPrincipals)
					r.Post("/principals", a.handleCreatePrincipal)
				})
			})

			r.Route("/principals/{principalID}", func(r chi.Router) {
				r.Get("/", a.handleGetPrincipal)
				r.Patch("/", a.handleUpdatePrincipal)
				r.Delete("/", a.handleDeletePrincipal)
				r.Post("/deactivate", a.handleDeactivatePrincipal)
				r.Post("/unlock", a.handleUnlockPrincipal)
			})

			r.Get("/audit", a.handleListAudit)
		})
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

// Run performs background maintenance until ctx is done.
func (a *API) Run(ctx context.Context) {
	if a.limiter == nil {
		<-ctx.Done()
		return
	}
	a.limiter.Run(ctx)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.deps.Version,
		"roles":   auth.Roles(),
	})
}
