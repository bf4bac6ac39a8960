package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/practicekit/booking-engine/internal/appointments"
	httpmiddleware "github.com/practicekit/booking-engine/internal/http/middleware"
	"github.com/practicekit/booking-engine/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	AppointmentsHandler *appointments.Handler
	StaffAuthSecret     string
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string

	// RateLimitRPS enables per-IP rate limiting on the API when positive.
	RateLimitRPS   float64
	RateLimitBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
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

	// Public endpoints (health, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Tenant-scoped API routes
	r.Route("/api/v1/practices/{practiceID}", func(api chi.Router) {
		if cfg.RateLimitRPS > 0 {
			burst := cfg.RateLimitBurst
			if burst <= 0 {
				burst = int(cfg.RateLimitRPS) * 2
			}
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, burst))
		}
		if cfg.StaffAuthSecret != "" {
			api.Use(httpmiddleware.StaffJWT(cfg.StaffAuthSecret))
		}
		api.Use(requirePracticeID)

		if cfg.AppointmentsHandler != nil {
			api.Route("/appointments", cfg.AppointmentsHandler.RegisterRoutes)
		}
	})

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
