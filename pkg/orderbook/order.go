package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the side a taker on s matches against
func (s Side) Opposite() Side { return -s }

// ParseSide accepts "buy"/"sell" in any case
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(v) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", v)
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// OrderStatus represents the lifecycle state of an order
type OrderStatus int8

const (
	Open OrderStatus = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s OrderStatus) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrderStatus) UnmarshalText(b []byte) error {
	for _, c := range []OrderStatus{Open, PartiallyFilled, Filled, Cancelled} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown order status %q", b)
}

// Order is one limit order. Prices are integer ticks, quantities integer lots.
type Order struct {
	ID            common.Hash    `json:"id"`
	Market        string         `json:"market"`
	Owner         common.Address `json:"owner"`
	Side          Side           `json:"side"`
	Price         int64          `json:"price"`
	Quantity      int64          `json:"quantity"`
	Remaining     int64          `json:"remaining"`
	ClientOrderID uint64         `json:"clientOrderId"`
	Active        bool           `json:"active"`
	Status        OrderStatus    `json:"status"`
	CreatedAt     int64          `json:"createdAt"` // unix nanos
	Seq           uint64         `json:"seq"`       // arrival order within the market
}

// Filled returns the executed quantity
func (o *Order) Filled() int64 {
	return o.Quantity - o.Remaining
}

// IsClosed returns true once the order reached a terminal state
func (o *Order) IsClosed() bool {
	return o.Status == Filled || o.Status == Cancelled
}

// Fill executes qty against the order and advances its status.
// Remaining never goes negative; a qty outside (0, Remaining] is an invariant violation.
func (o *Order) Fill(qty int64) error {
	if !o.Active {
		return fmt.Errorf("%w: fill on inactive order %s", ErrInvariantViolation, o.ID.Hex())
	}
	if qty <= 0 || qty > o.Remaining {
		return fmt.Errorf("%w: fill %d exceeds remaining %d on %s", ErrInvariantViolation, qty, o.Remaining, o.ID.Hex())
	}

	o.Remaining -= qty
	if o.Remaining == 0 {
		o.Active = false
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
	return nil
}

// Cancel deactivates the order and returns the remaining quantity it held.
// Remaining is left as it was at cancellation time.
func (o *Order) Cancel() int64 {
	o.Active = false
	o.Status = Cancelled
	return o.Remaining
}

// Snapshot returns a value copy for handing outside the book
func (o *Order) Snapshot() Order {
	return *o
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %d@%d rem=%d %s", o.ID.TerminalString(), o.Side, o.Quantity, o.Price, o.Remaining, o.Status)
}
