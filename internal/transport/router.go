package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/furniture-store/internal/auth"
	"github.com/vasiliy-maslov/furniture-store/internal/handler"
	"github.com/vasiliy-maslov/furniture-store/internal/metrics"
	"github.com/vasiliy-maslov/furniture-store/internal/order"
)

type Options struct {
	JWTSecret string
	// SweepTimeout is used when the admin sweep request names no timeout.
	SweepTimeout time.Duration
	// HealthCheck, when set, must succeed for /health to report OK.
	HealthCheck func(ctx context.Context) error
}

func NewRouter(svc order.Service, m *metrics.Metrics, opts Options) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if opts.HealthCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.HealthCheck(ctx); err != nil {
				log.Error().Err(err).Msg("Health check failed")
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	orders := handler.NewOrderHandler(svc)
	payments := handler.NewPaymentHandler(svc)
	vouchers := handler.NewVoucherHandler(svc)
	admin := handler.NewAdminHandler(svc, opts.SweepTimeout)

	r.Route("/api", func(api chi.Router) {
		// MoMo authenticates itself with the payload signature.
		payments.RegisterWebhookRoutes(api)

		api.Group(func(private chi.Router) {
			private.Use(auth.Middleware(opts.JWTSecret))
			orders.RegisterRoutes(private)
			payments.RegisterRoutes(private)
			vouchers.RegisterRoutes(private)

			private.Group(func(adminOnly chi.Router) {
				adminOnly.Use(auth.RequireRole(auth.RoleAdmin))
				admin.RegisterRoutes(adminOnly)
			})
		})
	})

	return r
}
