package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterOptions struct {
	Timeout time.Duration
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// NewRouter mounts the cart API under /api/v1 together with health and
// metrics endpoints.
func NewRouter(h *CartHandler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(opts.Logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	if opts.Timeout > 0 {
		r.Use(middleware.Timeout(opts.Timeout))
	}
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", opts.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(MockAuthMiddleware)

		r.Route("/carts", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleCustomer))
				r.Get("/", h.GetCart)
				r.Post("/", h.AddLine)
				r.Patch("/", h.Checkout)
				r.Get("/history", h.History)
				r.Delete("/products/{model}", h.RemoveLine)
				r.Delete("/current", h.Clear)
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleAdmin, RoleManager))
				r.Get("/all", h.GetAll)
				r.Delete("/", h.DeleteAll)
			})
		})
	})

	return otelhttp.NewHandler(r, "order-intake")
}
