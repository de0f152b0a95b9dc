package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/booking-wizard/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/booking-wizard/internal/http/middleware"
	"github.com/wolfman30/booking-wizard/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Wizard             *handlers.WizardHandler
	Health             http.Handler
	MetricsHandler     http.Handler
	StaffJWTSecret     string
	CORSAllowedOrigins []string

	// SubmitLimiter throttles POST .../submit per client. Nil disables it.
	SubmitLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Handle("/health", cfg.Health)
		} else {
			public.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			})
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Staff endpoints
	if cfg.Wizard != nil {
		r.Group(func(staff chi.Router) {
			staff.Use(httpmiddleware.StaffJWT(cfg.StaffJWTSecret))
			var submit func(http.Handler) http.Handler
			if cfg.SubmitLimiter != nil {
				submit = cfg.SubmitLimiter.Limit
			}
			staff.Mount("/wizard/sessions", cfg.Wizard.Routes(submit))
		})
	}

	return r
}
