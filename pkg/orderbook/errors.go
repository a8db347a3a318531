package orderbook

import "errors"

var (
	// ErrOrderNotFound is returned for unknown or already inactive order ids
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicateOrder is returned when inserting an id that is already resting
	ErrDuplicateOrder = errors.New("order already resting")

	// ErrInvariantViolation marks a broken book precondition. It is fatal for the book.
	ErrInvariantViolation = errors.New("order book invariant violated")
)
