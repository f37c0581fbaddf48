package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/waypoint-immigration/portal/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Middleware is the standard net/http middleware shape.
type Middleware = func(http.Handler) http.Handler

const (
	apiPrefix         = "/api/v1"
	requestTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

type groupID int

const (
	groupCheckout groupID = iota
	groupMe
	groupAdmin
	groupWebhooks
	groupInternal
	groupCount
)

// routeGroups lists the mounted prefixes under /api/v1 in mount order.
var routeGroups = [groupCount]string{
	groupCheckout: "checkout",
	groupMe:       "me",
	groupAdmin:    "admin",
	groupWebhooks: "webhooks",
	groupInternal: "internal",
}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []Middleware
}

type routerConfig struct {
	middlewares []Middleware
	health      *HealthHandlers
	groups      [groupCount]routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the API router. Groups without a registrar answer 501 so clients can tell a
// disabled feature apart from a mistyped path.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []Middleware{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("%s is not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for id, name := range routeGroups {
			group := cfg.groups[id]
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range group.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if group.registrar == nil {
					notImplemented(sub, name)
					return
				}
				group.registrar(sub)
			})
		}
	})

	return r
}

func withGroup(id groupID, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[id].registrar = reg
	}
}

func withGroupMiddlewares(id groupID, mw []Middleware) Option {
	return func(cfg *routerConfig) {
		cfg.groups[id].middlewares = append(cfg.groups[id].middlewares, mw...)
	}
}

// WithMiddlewares appends global middleware, applied after request id, real ip and timeout.
func WithMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCheckoutRoutes mounts hosted checkout endpoints under /checkout.
func WithCheckoutRoutes(reg RouteRegistrar) Option { return withGroup(groupCheckout, reg) }

// WithMeRoutes mounts caller-scoped endpoints under /me.
func WithMeRoutes(reg RouteRegistrar) Option { return withGroup(groupMe, reg) }

// WithAdminRoutes mounts staff endpoints under /admin.
func WithAdminRoutes(reg RouteRegistrar) Option { return withGroup(groupAdmin, reg) }

// WithWebhookRoutes mounts gateway callbacks under /webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroup(groupWebhooks, reg) }

// WithWebhookMiddlewares scopes middleware to the /webhooks group.
func WithWebhookMiddlewares(mw ...Middleware) Option {
	return withGroupMiddlewares(groupWebhooks, mw)
}

// WithInternalRoutes mounts scheduler endpoints under /internal.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroup(groupInternal, reg) }

// WithInternalMiddlewares scopes middleware to the /internal group, typically OIDC verification.
func WithInternalMiddlewares(mw ...Middleware) Option {
	return withGroupMiddlewares(groupInternal, mw)
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes are disabled", http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
