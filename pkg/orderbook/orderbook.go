package orderbook

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// LevelView is one aggregated price level of a book snapshot
type LevelView struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"` // total remaining at this price
	Orders   int   `json:"orders"`
}

type bookSide struct {
	side   Side
	levels map[int64]*PriceLevel // price -> FIFO level
	prices *priceHeap            // best price on top
}

func newBookSide(side Side) *bookSide {
	return &bookSide{
		side:   side,
		levels: make(map[int64]*PriceLevel),
		prices: newPriceHeap(side == Buy),
	}
}

func (s *bookSide) best() *PriceLevel {
	p, ok := s.prices.Peek()
	if !ok {
		return nil
	}
	return s.levels[p]
}

func (s *bookSide) levelFor(price int64) *PriceLevel {
	lv, ok := s.levels[price]
	if !ok {
		lv = newPriceLevel(s.side, price)
		s.levels[price] = lv
		s.prices.add(price)
	}
	return lv
}

// prune drops a level once its queue is empty
func (s *bookSide) prune(lv *PriceLevel) {
	if lv.Len() > 0 {
		return
	}
	delete(s.levels, lv.Price)
	s.prices.remove(lv.Price)
}

// sortedPrices returns prices best first
func (s *bookSide) sortedPrices() []int64 {
	prices := make([]int64, 0, len(s.levels))
	for p := range s.levels {
		prices = append(prices, p)
	}
	if s.side == Buy {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}
	return prices
}

// Book is the two-sided order book of one market: bids by descending price,
// asks by ascending price, FIFO within each level. It holds the order
// registry so level and registry mutations always happen together.
//
// Book is not safe for concurrent use; the engine serializes access per market.
type Book struct {
	Market string

	bids *bookSide
	asks *bookSide
	reg  *Registry
}

// New creates an empty book keeping closedLimit terminal orders in history
func New(market string, closedLimit int) *Book {
	return &Book{
		Market: market,
		bids:   newBookSide(Buy),
		asks:   newBookSide(Sell),
		reg:    NewRegistry(closedLimit),
	}
}

func (b *Book) sideOf(s Side) *bookSide {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// Insert appends a resting order to the back of its price level,
// creating the level if absent, and registers it.
func (b *Book) Insert(o *Order) error {
	if !o.Active || o.Remaining <= 0 || o.Remaining > o.Quantity {
		return fmt.Errorf("%w: cannot rest %s", ErrInvariantViolation, o)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: invalid side on %s", ErrInvariantViolation, o.ID.Hex())
	}
	if _, exists := b.reg.Active(o.ID); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID.Hex())
	}

	b.sideOf(o.Side).levelFor(o.Price).push(o)
	b.reg.addActive(o)
	return nil
}

// RemoveOrder takes a resting order out of its level and the active registry,
// pruning the level if it empties. The order's own state is left to the caller.
func (b *Book) RemoveOrder(id common.Hash) (*Order, error) {
	o, ok := b.reg.Active(id)
	if !ok || !o.Active {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id.Hex())
	}

	side := b.sideOf(o.Side)
	lv, ok := side.levels[o.Price]
	if !ok {
		return nil, fmt.Errorf("%w: order %s registered without level %d", ErrInvariantViolation, id.Hex(), o.Price)
	}
	if !lv.remove(o) {
		return nil, fmt.Errorf("%w: order %s missing from level %d", ErrInvariantViolation, id.Hex(), o.Price)
	}
	side.prune(lv)
	b.reg.dropActive(o)
	return o, nil
}

// Cancel removes a resting order, marks it cancelled and moves it to history.
// It returns the remaining quantity that was cancelled.
func (b *Book) Cancel(id common.Hash) (*Order, int64, error) {
	o, err := b.RemoveOrder(id)
	if err != nil {
		return nil, 0, err
	}
	qty := o.Cancel()
	b.reg.retire(o)
	return o, qty, nil
}

// BestOpposing returns the best level a taker on side can match against:
// the lowest ask for a buy, the highest bid for a sell. Nil when empty.
func (b *Book) BestOpposing(side Side) *PriceLevel {
	return b.sideOf(side.Opposite()).best()
}

// FillHead fills qty against the oldest order of lv. A maker that reaches zero
// is popped, retired to history and its level pruned if empty.
func (b *Book) FillHead(lv *PriceLevel, qty int64) (*Order, error) {
	maker := lv.Head()
	if maker == nil {
		return nil, fmt.Errorf("%w: fill on empty level %d", ErrInvariantViolation, lv.Price)
	}
	if err := maker.Fill(qty); err != nil {
		return nil, err
	}
	lv.total -= qty

	if maker.Remaining == 0 {
		lv.popHead()
		b.sideOf(lv.Side).prune(lv)
		b.reg.dropActive(maker)
		b.reg.retire(maker)
	}
	return maker, nil
}

// Retire records an order that never rested (a fully filled taker) in history
func (b *Book) Retire(o *Order) {
	if !o.IsClosed() {
		return
	}
	b.reg.retire(o)
}

// BestBid returns the highest bid price
func (b *Book) BestBid() (int64, bool) { return b.bids.prices.Peek() }

// BestAsk returns the lowest ask price
func (b *Book) BestAsk() (int64, bool) { return b.asks.prices.Peek() }

// Crossed reports whether best bid >= best ask with both sides non-empty
func (b *Book) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	return okB && okA && bid >= ask
}

// Level returns the level at price on side
func (b *Book) Level(side Side, price int64) (*PriceLevel, bool) {
	lv, ok := b.sideOf(side).levels[price]
	return lv, ok
}

// Depth returns up to n aggregated levels of side, best first. n <= 0 means all.
func (b *Book) Depth(side Side, n int) []LevelView {
	s := b.sideOf(side)
	prices := s.sortedPrices()
	if n > 0 && len(prices) > n {
		prices = prices[:n]
	}

	views := make([]LevelView, 0, len(prices))
	for _, p := range prices {
		lv := s.levels[p]
		views = append(views, LevelView{Price: p, Quantity: lv.Total(), Orders: lv.Len()})
	}
	return views
}

// LevelCount returns the number of price levels on side
func (b *Book) LevelCount(side Side) int { return len(b.sideOf(side).levels) }

// Active returns a resting order by id
func (b *Book) Active(id common.Hash) (*Order, bool) { return b.reg.Active(id) }

// Lookup returns a resting or historical order by id
func (b *Book) Lookup(id common.Hash) (*Order, bool) { return b.reg.Lookup(id) }

// OwnerOrders returns owner's resting orders in arrival order
func (b *Book) OwnerOrders(owner common.Address) []*Order { return b.reg.OwnerOrders(owner) }

// Len returns the number of resting orders
func (b *Book) Len() int { return b.reg.ActiveCount() }

// ActiveOrders returns every resting order in arrival order
func (b *Book) ActiveOrders() []*Order {
	out := make([]*Order, 0, b.reg.ActiveCount())
	for _, o := range b.reg.active {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// CheckInvariants walks the whole book and verifies its structural invariants:
// no empty levels, only active orders with remaining > 0 at their own price,
// level totals match, registry and levels agree, and the book is not crossed.
func (b *Book) CheckInvariants() error {
	queued := 0
	for _, s := range []*bookSide{b.bids, b.asks} {
		if len(s.levels) != s.prices.Len() {
			return fmt.Errorf("%w: %s side has %d levels but %d heap prices", ErrInvariantViolation, s.side, len(s.levels), s.prices.Len())
		}
		for p, lv := range s.levels {
			if lv.Len() == 0 {
				return fmt.Errorf("%w: empty %s level at %d", ErrInvariantViolation, s.side, p)
			}
			var sum int64
			var lastSeq uint64
			for i, o := range lv.Orders() {
				if !o.Active || o.Remaining <= 0 {
					return fmt.Errorf("%w: inactive order %s resting at %d", ErrInvariantViolation, o.ID.Hex(), p)
				}
				if o.Price != p || o.Side != s.side {
					return fmt.Errorf("%w: order %s on wrong level", ErrInvariantViolation, o.ID.Hex())
				}
				if i > 0 && o.Seq <= lastSeq {
					return fmt.Errorf("%w: level %d out of time priority", ErrInvariantViolation, p)
				}
				if reg, ok := b.reg.active[o.ID]; !ok || reg != o {
					return fmt.Errorf("%w: order %s resting but not registered", ErrInvariantViolation, o.ID.Hex())
				}
				lastSeq = o.Seq
				sum += o.Remaining
				queued++
			}
			if sum != lv.Total() {
				return fmt.Errorf("%w: level %d total %d, orders sum %d", ErrInvariantViolation, p, lv.Total(), sum)
			}
		}
	}
	if queued != b.reg.ActiveCount() {
		return fmt.Errorf("%w: %d orders queued, %d registered", ErrInvariantViolation, queued, b.reg.ActiveCount())
	}
	if b.Crossed() {
		bid, _ := b.BestBid()
		ask, _ := b.BestAsk()
		return fmt.Errorf("%w: crossed book bid %d >= ask %d", ErrInvariantViolation, bid, ask)
	}
	return nil
}
