package market

import (
	"errors"
	"strings"
	"testing"
)

// TestMarketCreation tests basic market creation
func TestMarketCreation(t *testing.T) {
	m, err := NewMarket("SOL-USDC", "SOL", "USDC", DefaultParams)
	if err != nil {
		t.Fatalf("failed to create market: %v", err)
	}

	if m.Symbol != "SOL-USDC" {
		t.Errorf("expected symbol SOL-USDC, got %s", m.Symbol)
	}
	if m.Status != Active {
		t.Errorf("expected Active status, got %v", m.Status)
	}
}

// TestMarketValidation tests parameter validation
func TestMarketValidation(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		base    string
		quote   string
		params  Params
		wantErr bool
	}{
		{"valid default params", "SOL-USDC", "SOL", "USDC", DefaultParams, false},
		{"empty symbol", "", "SOL", "USDC", DefaultParams, true},
		{"symbol too long", strings.Repeat("X", MaxSymbolLen+1), "SOL", "USDC", DefaultParams, true},
		{"reserved character", "SOL:USDC", "SOL", "USDC", DefaultParams, true},
		{"missing quote", "SOL-USDC", "SOL", "", DefaultParams, true},
		{"zero tick size", "SOL-USDC", "SOL", "USDC", Params{TickSize: 0, LotSize: 1}, true},
		{"negative lot size", "SOL-USDC", "SOL", "USDC", Params{TickSize: 1, LotSize: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMarket(tt.symbol, tt.base, tt.quote, tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMarket() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestOrderValidation checks positivity and increment alignment
func TestOrderValidation(t *testing.T) {
	m, _ := NewMarket("SOL-USDC", "SOL", "USDC", Params{TickSize: 5, LotSize: 10})

	tests := []struct {
		name    string
		price   int64
		qty     int64
		wantErr bool
	}{
		{"valid order", 100, 20, false},
		{"zero price", 0, 10, true},
		{"negative price", -5, 10, true},
		{"zero quantity", 100, 0, true},
		{"price off tick", 101, 10, true},
		{"quantity off lot", 100, 15, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateOrder(tt.price, tt.qty)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOrder(%d, %d) error = %v, wantErr %v", tt.price, tt.qty, err, tt.wantErr)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{Active, Paused, Closed} {
		got, err := ParseStatus(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStatus("Settled"); err == nil {
		t.Error("expected error for unknown status")
	}
}

// TestMarketRegistry tests registration and lookup
func TestMarketRegistry(t *testing.T) {
	r := NewRegistry()

	sol, _ := NewMarket("SOL-USDC", "SOL", "USDC", DefaultParams)
	eth, _ := NewMarket("ETH-USDC", "ETH", "USDC", Params{TickSize: 10, LotSize: 1})

	if err := r.Register(sol); err != nil {
		t.Fatalf("failed to register SOL-USDC: %v", err)
	}
	if err := r.Register(eth); err != nil {
		t.Fatalf("failed to register ETH-USDC: %v", err)
	}
	if err := r.Register(sol); !errors.Is(err, ErrMarketExists) {
		t.Errorf("duplicate register error = %v, want ErrMarketExists", err)
	}

	if r.Count() != 2 {
		t.Errorf("expected 2 markets, got %d", r.Count())
	}

	got, err := r.Get("ETH-USDC")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TickSize != 10 {
		t.Errorf("expected tick size 10, got %d", got.TickSize)
	}

	// returned markets are copies
	got.TickSize = 999
	again, _ := r.Get("ETH-USDC")
	if again.TickSize != 10 {
		t.Error("registry market was mutated through a returned copy")
	}

	if _, err := r.Get("BTC-USDC"); !errors.Is(err, ErrMarketNotFound) {
		t.Errorf("Get unknown error = %v, want ErrMarketNotFound", err)
	}

	list := r.List()
	if len(list) != 2 || list[0].Symbol != "ETH-USDC" || list[1].Symbol != "SOL-USDC" {
		t.Errorf("List() not sorted by symbol: %v", list)
	}
}

// TestStatusTransitions tests pause/resume and the terminal Closed state
func TestStatusTransitions(t *testing.T) {
	r := NewRegistry()
	m, _ := NewMarket("SOL-USDC", "SOL", "USDC", DefaultParams)
	_ = r.Register(m)

	steps := []struct {
		to      Status
		wantErr bool
	}{
		{Paused, false},
		{Active, false},
		{Closed, false},
		{Active, true},
		{Paused, true},
	}

	for _, s := range steps {
		err := r.SetStatus("SOL-USDC", s.to)
		if (err != nil) != s.wantErr {
			t.Fatalf("SetStatus(%s) error = %v, wantErr %v", s.to, err, s.wantErr)
		}
	}

	got, _ := r.Get("SOL-USDC")
	if got.Status != Closed {
		t.Errorf("expected Closed, got %s", got.Status)
	}

	if err := r.SetStatus("NOPE", Paused); !errors.Is(err, ErrMarketNotFound) {
		t.Errorf("SetStatus unknown error = %v", err)
	}
}
