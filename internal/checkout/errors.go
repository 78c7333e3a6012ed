package checkout

import (
	"errors"

	"github.com/fjod/fulfillment/internal/domain"
)

func isBusinessRejection(err error) bool {
	return resultOf(err) != "error"
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
