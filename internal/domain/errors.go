package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the core. Callers match them with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrInvalidOrderState    = errors.New("invalid order state")
	ErrInvalidTransition    = errors.New("illegal transition of order status")
	ErrForbidden            = errors.New("forbidden")
	ErrPaymentAlreadyExists = errors.New("payment already exists for this order")
	ErrPaymentDeclined      = errors.New("payment declined")
	ErrConflict             = errors.New("conflict")
	ErrValidation           = errors.New("validation failed")
)

// Error names the entity a failure is about, e.g. the product that lacked stock.
type Error struct {
	Kind   error
	Entity string
	ID     string
	Detail string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Entity != "" {
		msg = fmt.Sprintf("%s: %s %s", msg, e.Entity, e.ID)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

func NotFound(entity, id string) error {
	return &Error{Kind: ErrNotFound, Entity: entity, ID: id}
}

func InsufficientStock(productID string, requested, available int) error {
	return &Error{
		Kind:   ErrInsufficientStock,
		Entity: "product",
		ID:     productID,
		Detail: fmt.Sprintf("requested %d, available %d", requested, available),
	}
}

func EmptyCart(userID string) error {
	return &Error{Kind: ErrEmptyCart, Entity: "cart of user", ID: userID}
}

func InvalidTransition(orderID string, from, to OrderStatus) error {
	return &Error{
		Kind:   ErrInvalidTransition,
		Entity: "order",
		ID:     orderID,
		Detail: fmt.Sprintf("%s -> %s", from, to),
	}
}

func InvalidOrderState(orderID string, status OrderStatus) error {
	return &Error{
		Kind:   ErrInvalidOrderState,
		Entity: "order",
		ID:     orderID,
		Detail: "status is " + status.String(),
	}
}

func Forbidden(entity, id string) error {
	return &Error{Kind: ErrForbidden, Entity: entity, ID: id}
}

func PaymentAlreadyExists(orderID string) error {
	return &Error{Kind: ErrPaymentAlreadyExists, Entity: "order", ID: orderID}
}

func PaymentDeclined(orderID, reason string) error {
	return &Error{Kind: ErrPaymentDeclined, Entity: "order", ID: orderID, Detail: reason}
}

func Conflict(entity, id string) error {
	return &Error{Kind: ErrConflict, Entity: entity, ID: id}
}

// ValidationError is the structured rejection of an input before any mutation starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
