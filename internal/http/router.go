package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	JWTSecret      []byte
	AllowedOrigins []string
	RequestTimeout time.Duration
	// StatusRate limits GET /api/payments/status per user, in requests per second.
	StatusRate  float64
	StatusBurst int
}

type Handlers struct {
	Cart     *CartHandler
	Orders   *OrdersHandler
	Payments *PaymentsHandler
	Stream   OrderStream
}

func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	auth := AuthMiddleware(cfg.JWTSecret)
	statusLimiter := NewRateLimiter(cfg.StatusRate, cfg.StatusBurst)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(middleware.Compress(5))

		r.Post("/api/webhook/stripe", h.Payments.StripeWebhook)

		r.Route("/api", func(r chi.Router) {
			r.Use(auth)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.Cart.GetCart)
				r.Put("/", h.Cart.SetCart)
				r.Delete("/", h.Cart.ClearCart)
				r.Post("/items", h.Cart.AddItem)
				r.Delete("/items/{product_id}", h.Cart.RemoveItem)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.Orders.CreateOrder)
				r.Get("/", h.Orders.ListOrders)
				r.Get("/{order_id}", h.Orders.GetOrder)
				r.With(RequireStaff).Put("/{order_id}/status", h.Orders.UpdateStatus)
			})

			r.Route("/payments", func(r chi.Router) {
				r.Post("/sessions", h.Payments.CreateSession)
				r.With(statusLimiter.Limit).Get("/status/{session_id}", h.Payments.Status)
			})
		})
	})

	// websocket upgrades need the raw connection, so no timeout or compression here
	r.With(auth).Get("/ws/orders", OrdersSocket(h.Stream))

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	return otelhttp.NewHandler(c.Handler(r), "http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}
