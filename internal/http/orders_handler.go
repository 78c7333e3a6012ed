package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/go-chi/chi/v5"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type UpdateStatusRequestDTO struct {
	Status string `json:"status"`
}

// POST /api/v1/orders
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	order, err := s.checkout.Checkout(ctx, getUserIDFromContext(ctx), r.Header.Get(HeaderIdempotencyKey))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondOrder(ctx, w, r, http.StatusCreated, order)
}

// GET /api/v1/orders
func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	q := r.URL.Query()
	filter := domain.OrderFilter{UserID: getUserIDFromContext(ctx)}
	if isAdmin(ctx) {
		filter.UserID = q.Get("user_id")
	}
	if st := q.Get("status"); st != "" {
		status, err := domain.ParseOrderStatus(st)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		filter.Status = status
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	page, err := s.orders.List(ctx, filter, offset, limit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	dto := OrderPageDTO{
		Items:  make([]OrderResponseDTO, 0, len(page.Items)),
		Total:  page.Total,
		Offset: page.Offset,
		Limit:  page.Limit,
	}
	for _, o := range page.Items {
		view, err := s.orderView(ctx, o)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		dto.Items = append(dto.Items, view)
	}
	respondJSON(w, http.StatusOK, dto)
}

// GET /api/v1/orders/{order_id}
func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	order, err := s.ownedOrder(ctx, chi.URLParam(r, "order_id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondOrder(ctx, w, r, http.StatusOK, order)
}

// PATCH /api/v1/orders/{order_id}/status
func (s *Server) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	if !isAdmin(ctx) {
		s.handleError(w, r, domain.Forbidden("order", orderID))
		return
	}

	var req UpdateStatusRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	to, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	order, err := s.orders.UpdateStatus(ctx, orderID, to)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondOrder(ctx, w, r, http.StatusOK, order)
}

// POST /api/v1/orders/{order_id}/cancel
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	var (
		order *domain.Order
		err   error
	)
	if isAdmin(ctx) {
		order, err = s.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled)
	} else {
		order, err = s.orders.Cancel(ctx, orderID, getUserIDFromContext(ctx))
	}
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.respondOrder(ctx, w, r, http.StatusOK, order)
}

func (s *Server) respondOrder(ctx context.Context, w http.ResponseWriter, r *http.Request, status int, o *domain.Order) {
	view, err := s.orderView(ctx, o)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, status, view)
}

// orderView attaches the order's payment when one exists. A pending order has
// none: Pay creates the payment in the same step that moves it to paid.
func (s *Server) orderView(ctx context.Context, o *domain.Order) (OrderResponseDTO, error) {
	view := convertOrder(o)
	if o.Status == domain.OrderStatusPending || o.Status == domain.OrderStatusCancelled {
		return view, nil
	}
	p, err := s.payments.GetByOrder(ctx, o.ID)
	switch {
	case err == nil:
		dto := convertPayment(p)
		view.Payment = &dto
	case !errors.Is(err, domain.ErrNotFound):
		return OrderResponseDTO{}, err
	}
	return view, nil
}

// ownedOrder loads an order the caller may see: their own, or any for an admin.
func (s *Server) ownedOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin(ctx) && order.UserID != getUserIDFromContext(ctx) {
		return nil, domain.Forbidden("order", orderID)
	}
	return order, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Invalid(name, "must be an integer")
	}
	return n, nil
}
