package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type CreatePaymentRequestDTO struct {
	OrderID string `json:"order_id"`
	Method  string `json:"method"`
}

// POST /api/v1/payments
func (s *Server) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var req CreatePaymentRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.OrderID != "" {
		if _, err := s.ownedOrder(ctx, req.OrderID); err != nil {
			s.handleError(w, r, err)
			return
		}
	}

	payment, err := s.payments.Pay(ctx, req.OrderID, req.Method)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, convertPayment(payment))
}

// GET /api/v1/payments/{payment_id}
func (s *Server) GetPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	payment, err := s.payments.Get(ctx, chi.URLParam(r, "payment_id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if _, err := s.ownedOrder(ctx, payment.OrderID); err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, convertPayment(payment))
}

// GET /api/v1/payments/order/{order_id}
func (s *Server) GetPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	if _, err := s.ownedOrder(ctx, orderID); err != nil {
		s.handleError(w, r, err)
		return
	}
	payment, err := s.payments.GetByOrder(ctx, orderID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, convertPayment(payment))
}
