package engine

import (
	"errors"

	"github.com/uhyunpark/clobdex/pkg/orderbook"
)

var (
	// ErrInvalidOrderParameters covers non-positive or misaligned price/quantity,
	// unknown or non-active market, bad side, zero owner and quantity overflow.
	// Nothing is mutated when it is returned.
	ErrInvalidOrderParameters = errors.New("invalid order parameters")

	// ErrDuplicateOrderIdentity is returned when (market, owner, clientOrderId)
	// derives the id of an order that is still resting.
	ErrDuplicateOrderIdentity = errors.New("duplicate order identity")

	// ErrUnauthorized is returned when a non-owner tries to cancel an order
	ErrUnauthorized = errors.New("unauthorized")

	ErrOrderNotFound      = orderbook.ErrOrderNotFound
	ErrInvariantViolation = orderbook.ErrInvariantViolation
)
