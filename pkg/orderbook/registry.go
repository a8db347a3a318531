package orderbook

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gammazero/deque"
)

// Registry maps order ids to orders. Active orders are the ones resting in
// the book; closed orders (filled or cancelled) are kept in a bounded
// history so they can still be looked up, oldest evicted first.
type Registry struct {
	active  map[common.Hash]*Order
	byOwner map[common.Address]map[common.Hash]*Order

	closed      map[common.Hash]*Order
	closedQueue deque.Deque[*Order]
	closedLimit int
}

// NewRegistry creates a registry keeping up to closedLimit terminal orders.
// closedLimit <= 0 keeps none.
func NewRegistry(closedLimit int) *Registry {
	return &Registry{
		active:      make(map[common.Hash]*Order),
		byOwner:     make(map[common.Address]map[common.Hash]*Order),
		closed:      make(map[common.Hash]*Order),
		closedLimit: closedLimit,
	}
}

// Active returns the resting order with the given id
func (r *Registry) Active(id common.Hash) (*Order, bool) {
	o, ok := r.active[id]
	return o, ok
}

// Lookup returns the order with the given id, resting or historical
func (r *Registry) Lookup(id common.Hash) (*Order, bool) {
	if o, ok := r.active[id]; ok {
		return o, true
	}
	o, ok := r.closed[id]
	return o, ok
}

// ActiveCount returns the number of resting orders
func (r *Registry) ActiveCount() int { return len(r.active) }

// ClosedCount returns the number of orders in history
func (r *Registry) ClosedCount() int { return len(r.closed) }

func (r *Registry) addActive(o *Order) {
	// a re-used client order id supersedes the terminal order it replaced
	delete(r.closed, o.ID)

	r.active[o.ID] = o
	owned, ok := r.byOwner[o.Owner]
	if !ok {
		owned = make(map[common.Hash]*Order)
		r.byOwner[o.Owner] = owned
	}
	owned[o.ID] = o
}

func (r *Registry) dropActive(o *Order) {
	delete(r.active, o.ID)
	if owned, ok := r.byOwner[o.Owner]; ok {
		delete(owned, o.ID)
		if len(owned) == 0 {
			delete(r.byOwner, o.Owner)
		}
	}
}

// retire records a terminal order in history
func (r *Registry) retire(o *Order) {
	if r.closedLimit <= 0 {
		return
	}
	r.closed[o.ID] = o
	r.closedQueue.PushBack(o)

	for r.closedQueue.Len() > r.closedLimit {
		old := r.closedQueue.PopFront()
		// the id may have been re-used since; only evict the entry we queued
		if cur, ok := r.closed[old.ID]; ok && cur == old {
			delete(r.closed, old.ID)
		}
	}
}

// OwnerOrders returns the owner's resting orders in arrival order
func (r *Registry) OwnerOrders(owner common.Address) []*Order {
	owned := r.byOwner[owner]
	out := make([]*Order, 0, len(owned))
	for _, o := range owned {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
