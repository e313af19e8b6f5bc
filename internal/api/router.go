package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fuomag9/schedsync/internal/config"
	"github.com/fuomag9/schedsync/internal/connection"
	"github.com/fuomag9/schedsync/internal/store"
	"github.com/fuomag9/schedsync/internal/webhook"
)

// Dependencies wires the router to the application services
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Store        store.Store
	Connections  *connection.Manager
	Events       EventApplier
	Verifier     *webhook.Verifier
	WebSocket    http.HandlerFunc
	OAuthLimiter *RateLimiter
}

// NewRouter creates a new HTTP router
func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logger := deps.Logger

	oauthLimiter := deps.OAuthLimiter
	if oauthLimiter == nil {
		// 10 OAuth requests per minute per client
		oauthLimiter = NewRateLimiter(rate.Limit(10.0/60.0), 10)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware(cfg))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		// Authenticated by signature, not session
		r.Post("/webhooks/calendly", HandleCalendlyWebhook(deps.Verifier, deps.Events, logger))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret, logger))

			r.Route("/calendly", func(r chi.Router) {
				r.With(RateLimitMiddleware(oauthLimiter)).Get("/authorize", HandleCalendlyAuthorize(deps.Connections, cfg, logger))
				r.With(RateLimitMiddleware(oauthLimiter)).Get("/callback", HandleCalendlyCallback(deps.Connections, cfg, logger))
				r.Post("/disconnect", HandleCalendlyDisconnect(deps.Connections, cfg, logger))
				r.Get("/account", HandleCalendlyAccount(deps.Store, logger))
			})

			r.Get("/bookings", HandleListBookings(deps.Store, logger))
		})
	})

	if deps.WebSocket != nil {
		r.Get("/ws", deps.WebSocket)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
