package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/fulfillment/internal/domain"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps a domain error kind to its HTTP status. Anything
// unrecognised is an internal error and its text is not leaked.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var httpStatus int
	var code string

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   verr.Error(),
			Code:    "invalid_argument",
			Details: verr.Field,
		})
		return
	case errors.Is(err, domain.ErrNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		httpStatus, code = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrEmptyCart):
		httpStatus, code = http.StatusUnprocessableEntity, "empty_cart"
	case errors.Is(err, domain.ErrInvalidOrderState):
		httpStatus, code = http.StatusConflict, "invalid_order_state"
	case errors.Is(err, domain.ErrInvalidTransition):
		httpStatus, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrPaymentAlreadyExists):
		httpStatus, code = http.StatusConflict, "payment_already_exists"
	case errors.Is(err, domain.ErrPaymentDeclined):
		httpStatus, code = http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, domain.ErrConflict):
		httpStatus, code = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrForbidden):
		httpStatus, code = http.StatusForbidden, "permission_denied"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
