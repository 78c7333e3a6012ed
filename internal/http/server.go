// Package http exposes the fulfillment operations as a JSON API.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type CartService interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error)
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	AddLine(ctx context.Context, userID, productID string, qty int) (*domain.Cart, error)
	UpdateLine(ctx context.Context, userID, lineID string, qty int) (*domain.Cart, error)
	RemoveLine(ctx context.Context, userID, lineID string) error
	Clear(ctx context.Context, userID string) error
}

type CheckoutService interface {
	Checkout(ctx context.Context, userID, idempotencyKey string) (*domain.Order, error)
}

type OrderService interface {
	Get(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter, offset, limit int) (*domain.OrderPage, error)
	UpdateStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error)
	Cancel(ctx context.Context, id, requestingUserID string) (*domain.Order, error)
}

type PaymentService interface {
	Pay(ctx context.Context, orderID, method string) (*domain.Payment, error)
	Get(ctx context.Context, id string) (*domain.Payment, error)
	GetByOrder(ctx context.Context, orderID string) (*domain.Payment, error)
}

// Pinger reports backend health for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Carts    CartService
	Checkout CheckoutService
	Orders   OrderService
	Payments PaymentService
	Health   Pinger
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Timeout  time.Duration
}

type Server struct {
	carts    CartService
	checkout CheckoutService
	orders   OrderService
	payments PaymentService
	health   Pinger
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	timeout  time.Duration
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		carts:    d.Carts,
		checkout: d.Checkout,
		orders:   d.Orders,
		payments: d.Payments,
		health:   d.Health,
		logger:   d.Logger,
		metrics:  d.Metrics,
		gatherer: d.Gatherer,
		timeout:  d.Timeout,
	}
}

// Router builds the chi route tree wrapped in otelhttp.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware(s.metrics))
	r.Use(middleware.Timeout(s.timeout))
	r.Use(MockAuthMiddleware)

	r.Get("/health", s.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", s.GetCart)
			r.Post("/", s.CreateCart)
			r.Delete("/", s.ClearCart)
			r.Post("/items", s.AddItem)
			r.Patch("/items/{line_id}", s.UpdateItem)
			r.Delete("/items/{line_id}", s.RemoveItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.CreateOrder)
			r.Get("/", s.ListOrders)
			r.Get("/{order_id}", s.GetOrder)
			r.Patch("/{order_id}/status", s.UpdateOrderStatus)
			r.Post("/{order_id}/cancel", s.CancelOrder)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", s.CreatePayment)
			r.Get("/{payment_id}", s.GetPayment)
			r.Get("/order/{order_id}", s.GetPaymentByOrder)
		})
	})

	return otelhttp.NewHandler(r, "fulfillment")
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if getUserIDFromContext(r.Context()) == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
