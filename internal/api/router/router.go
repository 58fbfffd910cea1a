package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pahuang-96485/clinic-scheduler/internal/http/handlers"
	httpmiddleware "github.com/pahuang-96485/clinic-scheduler/internal/http/middleware"
	"github.com/pahuang-96485/clinic-scheduler/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	ChatHandler        *handlers.ChatHandler
	HealthHandler      *handlers.HealthHandler
	MetricsHandler     http.Handler
	AuthSecret         string
	CORSAllowedOrigins []string

	// Requests/sec and burst for the chat endpoints. Zero disables limiting.
	ChatRateLimit float64
	ChatRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		if cfg.HealthHandler != nil {
			public.Get("/health", cfg.HealthHandler.Check)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Conversation endpoints (authenticated)
	if cfg.ChatHandler != nil {
		r.Group(func(private chi.Router) {
			private.Use(httpmiddleware.UserJWT(cfg.AuthSecret))
			if cfg.ChatRateLimit > 0 {
				private.Use(httpmiddleware.RateLimit(cfg.ChatRateLimit, cfg.ChatRateBurst))
			}
			private.Post("/chat/text", cfg.ChatHandler.HandleText)
			private.Post("/chat/voice", cfg.ChatHandler.HandleVoice)
			private.Post("/logout", cfg.ChatHandler.Logout)
		})
	}

	return r
}
