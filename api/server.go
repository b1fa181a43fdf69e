/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request for tracing
  2. Logger:       Request logging
  3. Recoverer:    Panic recovery (500 instead of crash)
  4. CORS:         Cross-origin requests for an admin dashboard
  5. GatewayAuth:  Bearer token check when a gateway token is configured
  6. RequireGM:    On mutating and administrative routes only

ROUTE GROUPS:
  /api/guilds/{guildID}/*  Ledger operations
  /api/backup, /restore    Document export and import
  /api/gm/*                GM configuration
  /api/version             Build and data info

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// GatewayToken, when set, must be presented as a bearer token on
	// every /api request.
	GatewayToken string

	// AllowedOrigins for CORS. Empty means localhost only.
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Caller-ID", "X-Caller-Roles", "X-Caller-Admin"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(GatewayAuth(opts.GatewayToken))

		r.Get("/version", h.GetVersion)

		// Ledger routes
		r.Route("/guilds/{guildID}", func(r chi.Router) {
			r.Get("/tally", h.GetTally)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireGM)
				r.Get("/summary", h.GetSummary)
				r.Post("/coins", h.AwardCoin)
				r.Post("/spend", h.SpendCoins)
				r.Post("/party/award", h.AwardPartyCoin)
				r.Post("/party/spend", h.SpendPartyCoin)
			})
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(h.RequireGM)
			r.Get("/backup", h.DownloadBackup)
			r.Post("/backup/run", h.RunBackup)
			r.Post("/restore", h.RestoreBackup)
			r.Get("/gm", h.GetGMStatus)
			r.Put("/gm/role", h.SetGMRole)
		})
	})

	return r
}

// GatewayAuth requires "Authorization: Bearer <token>"; a bare token
// without the scheme is rejected. An empty token disables the check.
func GatewayAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "gateway authentication token missing", nil)
				return
			}
			got, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid gateway authentication token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
