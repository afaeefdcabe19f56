/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address from X-Forwarded-For / X-Real-IP
  3. RequestLogger: One structured log line per request (logging package)
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. CORS:          Cross-origin requests for frontends; no credentials
                    when origins contain "*"
  6. Roles:         X-User-Roles header -> access.RoleSet in the context

AUTHORIZATION:
  Authentication happens upstream; the gateway forwards the caller's roles
  as a comma-separated X-User-Roles header. Each route group requires one
  access.Capability:
    - no roles at all        -> 401
    - roles without the cap  -> 403
  With EnforceRoles off every request passes.

ROUTE GROUPS:
  /api/communities/*    Communities, units, categories, previews
  /api/common-expenses  Common expenses and summaries
  /api/units/*          Unit statements
  /api/unit-expenses/*  Payments and cancellations
  /api/admin/*          Overdue sweep
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - access/roles.go: Role and capability table
  - cmd/server/serve.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/community-engine/access"
	"github.com/warp/community-engine/logging"
)

// RolesHeader carries the caller's roles, set by the auth gateway.
const RolesHeader = "X-User-Roles"

type RouterOptions struct {
	AllowedOrigins []string
	EnforceRoles   bool
	Logger         *logging.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RolesHeader},
		AllowCredentials: !slices.Contains(origins, "*"),
	}))
	r.Use(Roles)

	require := func(c access.Capability) func(http.Handler) http.Handler {
		if !opts.EnforceRoles {
			return func(next http.Handler) http.Handler { return next }
		}
		return RequireCapability(c)
	}

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Community routes
		r.Route("/communities", func(r chi.Router) {
			r.With(require(access.ViewExpenses)).Get("/", h.ListCommunities)
			r.With(require(access.ManageCommunity)).Post("/", h.CreateCommunity)

			r.Route("/{id}", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(require(access.ViewExpenses))
					r.Get("/", h.GetCommunity)
					r.Get("/units", h.ListUnits)
					r.Get("/categories", h.ListCategories)
					r.Get("/common-expenses", h.ListCommonExpenses)
				})
				r.With(require(access.ManageCommunity)).Post("/units", h.AddUnit)
				r.Group(func(r chi.Router) {
					r.Use(require(access.ManageExpenses))
					r.Post("/categories", h.AddCategory)
					r.Post("/prorate-preview", h.PreviewProration)
				})
			})
		})

		r.With(require(access.ManageExpenses)).Delete("/categories/{id}", h.DeleteCategory)

		// Common expense routes
		r.Route("/common-expenses", func(r chi.Router) {
			r.With(require(access.ManageExpenses)).Post("/", h.CreateCommonExpense)
			r.Group(func(r chi.Router) {
				r.Use(require(access.ViewExpenses))
				r.Get("/{id}", h.GetCommonExpense)
				r.Get("/{id}/summary", h.GetSummary)
			})
		})

		r.With(require(access.ViewExpenses)).Get("/units/{id}/expenses", h.GetUnitStatement)

		// Unit expense routes
		r.Route("/unit-expenses", func(r chi.Router) {
			r.With(require(access.RecordPayments)).Post("/{id}/pay", h.PayUnitExpense)
			r.With(require(access.ManageExpenses)).Post("/{id}/cancel", h.CancelUnitExpense)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(require(access.RunSweep))
			r.Post("/sweep-overdue", h.SweepOverdue)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(require(access.ManageCommunity)).Post("/load", h.LoadScenario)
		})
	})

	return r
}

// =============================================================================
// ROLES
// =============================================================================

type rolesKey struct{}

// WithRoles returns ctx carrying the caller's roles.
func WithRoles(ctx context.Context, roles access.RoleSet) context.Context {
	return context.WithValue(ctx, rolesKey{}, roles)
}

// RolesFrom returns the caller's roles; empty when none were sent.
func RolesFrom(ctx context.Context) access.RoleSet {
	if rs, ok := ctx.Value(rolesKey{}).(access.RoleSet); ok {
		return rs
	}
	return access.RoleSet{}
}

// Roles parses the roles header into the request context. Unknown role names
// are ignored.
func Roles(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs := access.ParseRoles(strings.TrimSpace(r.Header.Get(RolesHeader)))
		next.ServeHTTP(w, r.WithContext(WithRoles(r.Context(), rs)))
	})
}

// RequireCapability rejects callers whose roles do not grant c.
func RequireCapability(c access.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rs := RolesFrom(r.Context())
			if rs.IsEmpty() {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Missing or unknown roles", nil)
				return
			}
			if !rs.Allows(c) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", map[string]string{
					"required": string(c),
					"roles":    rs.String(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
