package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrMarketExists   = errors.New("market already registered")
)

// Registry manages multiple markets in a thread-safe manner
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market // symbol -> market
}

// NewRegistry creates an empty market registry
func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*Market),
	}
}

// Register adds a new market to the registry
// Returns error if market with same symbol already exists
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.Symbol]; exists {
		return fmt.Errorf("%w: %s", ErrMarketExists, m.Symbol)
	}

	r.markets[m.Symbol] = m.Clone()
	return nil
}

// Get returns a copy of the market with the given symbol
func (r *Registry) Get(symbol string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[symbol]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}

	return m.Clone(), nil
}

// List returns copies of all registered markets sorted by symbol
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	markets := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		markets = append(markets, m.Clone())
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].Symbol < markets[j].Symbol
	})

	return markets
}

// SetStatus changes the trading status of a market
func (r *Registry) SetStatus(symbol string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.markets[symbol]
	if !exists {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}

	if err := validateStatusTransition(m.Status, status); err != nil {
		return err
	}

	m.Status = status
	return nil
}

// Active → Paused and back are allowed; anything → Closed is allowed;
// Closed → * is not.
func validateStatusTransition(from, to Status) error {
	if from == Closed && to != Closed {
		return fmt.Errorf("cannot change status from Closed (terminal state)")
	}
	if to != Active && to != Paused && to != Closed {
		return fmt.Errorf("unknown status %d", to)
	}
	return nil
}

// Count returns the total number of registered markets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// Exists checks if a market is registered
func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.markets[symbol]
	return exists
}
