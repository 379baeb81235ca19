// Package http exposes the storefront engine over a JSON API.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/techTenzen/Cricket/internal/metrics"
)

// Deps are the services behind the routes.
type Deps struct {
	Products ProductReader
	Carts    CartService
	Checkout Checkouter
	Orders   OrderService
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	RequestTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}

	productHandler := NewProductHandler(d.Products, d.RequestTimeout)
	cartHandler := NewCartHandler(d.Carts, d.RequestTimeout)
	checkoutHandler := NewCheckoutHandler(d.Checkout, d.RequestTimeout)
	ordersHandler := NewOrdersHandler(d.Orders, d.RequestTimeout)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware(d.Metrics))
	r.Use(middleware.Timeout(d.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", productHandler.List)
		r.Get("/products/{product_id}", productHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(IdentityMiddleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			})

			r.Post("/checkout", checkoutHandler.Checkout)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordersHandler.ListOrders)
				r.Get("/{order_id}", ordersHandler.GetOrder)
				r.Post("/{order_id}/cancel", ordersHandler.CancelOrder)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(AdminOnly)
				r.Get("/orders", ordersHandler.AdminListOrders)
				r.Get("/orders/stats", ordersHandler.AdminStats)
				r.Put("/orders/{order_id}/status", ordersHandler.AdminUpdateStatus)
			})
		})
	})

	return otelhttp.NewHandler(r, "storefront",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}
