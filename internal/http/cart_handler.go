package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

// GET /api/v1/cart
func (s *Server) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	cart, err := s.carts.Get(ctx, getUserIDFromContext(ctx))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCart(cart))
}

// POST /api/v1/cart
func (s *Server) CreateCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	cart, err := s.carts.GetOrCreate(ctx, getUserIDFromContext(ctx))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCart(cart))
}

// POST /api/v1/cart/items
func (s *Server) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	cart, err := s.carts.AddLine(ctx, getUserIDFromContext(ctx), req.ProductID, req.Quantity)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, convertCart(cart))
}

// PATCH /api/v1/cart/items/{line_id}
func (s *Server) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	cart, err := s.carts.UpdateLine(ctx, getUserIDFromContext(ctx), chi.URLParam(r, "line_id"), req.Quantity)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCart(cart))
}

// DELETE /api/v1/cart/items/{line_id}
func (s *Server) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := s.carts.RemoveLine(ctx, getUserIDFromContext(ctx), chi.URLParam(r, "line_id")); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/v1/cart
func (s *Server) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := s.carts.Clear(ctx, getUserIDFromContext(ctx)); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
