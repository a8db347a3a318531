package market

import (
	"fmt"
	"strings"
)

// MaxSymbolLen bounds the market symbol; it is length-prefixed into order ids
const MaxSymbolLen = 64

// Status defines the trading status of a market
type Status int8

const (
	Active Status = iota // Trading enabled
	Paused               // New orders rejected, cancels allowed
	Closed               // Terminal
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ParseStatus accepts the Status.String form or its lowercase
func ParseStatus(s string) (Status, error) {
	switch s {
	case "Active", "active":
		return Active, nil
	case "Paused", "paused":
		return Paused, nil
	case "Closed", "closed":
		return Closed, nil
	}
	return 0, fmt.Errorf("unknown market status %q", s)
}

// Market defines one trading pair (e.g., SOL-USDC spot)
type Market struct {
	// Identity
	Symbol     string // "SOL-USDC"
	BaseAsset  string // "SOL"
	QuoteAsset string // "USDC"
	Status     Status

	// TickSize: minimum price increment in quote minor units.
	// Every order price must be a multiple of it.
	TickSize int64

	// LotSize: minimum quantity increment in base minor units.
	// Every order quantity must be a multiple of it.
	LotSize int64
}

// Params separates config from the runtime Market
type Params struct {
	TickSize int64
	LotSize  int64
}

// DefaultParams is one minor unit per tick and per lot
var DefaultParams = Params{TickSize: 1, LotSize: 1}

// NewMarket creates a new Active market with validation
func NewMarket(symbol, baseAsset, quoteAsset string, params Params) (*Market, error) {
	m := &Market{
		Symbol:     symbol,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
		Status:     Active,
		TickSize:   params.TickSize,
		LotSize:    params.LotSize,
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}

	return m, nil
}

// Validate checks market parameter sanity
func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(m.Symbol) > MaxSymbolLen {
		return fmt.Errorf("symbol longer than %d bytes", MaxSymbolLen)
	}
	// symbols appear in storage keys and URL paths
	if strings.ContainsAny(m.Symbol, ":/?# \t\n") {
		return fmt.Errorf("symbol %q contains a reserved character", m.Symbol)
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if m.TickSize <= 0 {
		return fmt.Errorf("tick size must be positive")
	}
	if m.LotSize <= 0 {
		return fmt.Errorf("lot size must be positive")
	}
	return nil
}

// ValidateOrder checks price and quantity against the market's increments.
// It does not look at Status; callers decide which operations a status allows.
func (m *Market) ValidateOrder(price, qty int64) error {
	if price <= 0 {
		return fmt.Errorf("price must be positive, got %d", price)
	}
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", qty)
	}
	if price%m.TickSize != 0 {
		return fmt.Errorf("price %d is not a multiple of tick size %d", price, m.TickSize)
	}
	if qty%m.LotSize != 0 {
		return fmt.Errorf("quantity %d is not a multiple of lot size %d", qty, m.LotSize)
	}
	return nil
}

// Clone returns a copy safe to hand out of a registry
func (m *Market) Clone() *Market {
	cp := *m
	return &cp
}
