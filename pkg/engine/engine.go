package engine

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/clobdex/pkg/crypto"
	"github.com/uhyunpark/clobdex/pkg/market"
	"github.com/uhyunpark/clobdex/pkg/orderbook"
	"github.com/uhyunpark/clobdex/pkg/util"
)

type Config struct {
	TradeHistoryLimit int // trades retained per market for GetTradeHistory
	ClosedOrderLimit  int // filled/cancelled orders retained per market for GetOrder

	// CheckInvariants runs a full book scan after every mutation instead of
	// the constant-time crossed-book check.
	CheckInvariants bool
}

func DefaultConfig() Config {
	return Config{
		TradeHistoryLimit: 1000,
		ClosedOrderLimit:  10000,
	}
}

type Option func(*Engine)

// WithJournal hands every mutation batch to j
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

func WithClock(c util.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// marketBook is the per-market unit of serialization. Every read and write
// of book, trades and the sequence counters happens under mu.
type marketBook struct {
	mu     sync.RWMutex
	symbol string
	book   *orderbook.Book
	trades *tradeRing

	orderSeq uint64 // arrival sequence of accepted orders
	tradeSeq uint64
	batchSeq uint64

	// fault is set when an invariant violation is detected. The market
	// refuses further mutations once it is set.
	fault error
}

// Engine matches limit orders by price-time priority, one book per market.
// Independent markets proceed in parallel; operations on one market are linearized.
type Engine struct {
	cfg     Config
	logger  *zap.SugaredLogger
	clock   util.Clock
	journal Journal
	markets *market.Registry

	mu    sync.RWMutex
	books map[string]*marketBook // symbol -> book
}

func New(cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.TradeHistoryLimit <= 0 {
		cfg.TradeHistoryLimit = def.TradeHistoryLimit
	}
	if cfg.ClosedOrderLimit < 0 {
		cfg.ClosedOrderLimit = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger.Sugar(),
		clock:   util.RealClock{},
		journal: nopJournal{},
		markets: market.NewRegistry(),
		books:   make(map[string]*marketBook),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration after defaults were applied
func (e *Engine) Config() Config { return e.cfg }

// AddMarket registers a market and creates its empty book
func (e *Engine) AddMarket(m *market.Market) error {
	if err := e.markets.Register(m); err != nil {
		return err
	}

	e.mu.Lock()
	e.books[m.Symbol] = &marketBook{
		symbol: m.Symbol,
		book:   orderbook.New(m.Symbol, e.cfg.ClosedOrderLimit),
		trades: newTradeRing(e.cfg.TradeHistoryLimit),
	}
	e.mu.Unlock()

	e.logger.Infow("market_added",
		"market", m.Symbol,
		"tick_size", m.TickSize,
		"lot_size", m.LotSize,
	)
	return nil
}

// SetMarketStatus pauses, resumes or closes a market
func (e *Engine) SetMarketStatus(symbol string, status market.Status) error {
	if err := e.markets.SetStatus(symbol, status); err != nil {
		return err
	}
	e.logger.Infow("market_status_changed", "market", symbol, "status", status.String())
	return nil
}

// Market returns a copy of the market definition
func (e *Engine) Market(symbol string) (*market.Market, error) {
	return e.markets.Get(symbol)
}

// Markets returns all market definitions sorted by symbol
func (e *Engine) Markets() []*market.Market {
	return e.markets.List()
}

func (e *Engine) book(symbol string) (*marketBook, error) {
	e.mu.RLock()
	mb, ok := e.books[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown market %q", ErrInvalidOrderParameters, symbol)
	}
	return mb, nil
}

func (e *Engine) allBooks() []*marketBook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*marketBook, 0, len(e.books))
	for _, mb := range e.books {
		out = append(out, mb)
	}
	return out
}

// halt records a fatal invariant violation. Caller holds mb.mu.
func (e *Engine) halt(mb *marketBook, err error) error {
	if mb.fault == nil {
		mb.fault = fmt.Errorf("market %s halted: %w", mb.symbol, err)
		e.logger.Errorw("market_halted", "market", mb.symbol, "error", err)
	}
	return mb.fault
}

// verify checks the book after a mutation. Caller holds mb.mu.
func (e *Engine) verify(mb *marketBook) error {
	if e.cfg.CheckInvariants {
		return mb.book.CheckInvariants()
	}
	if mb.book.Crossed() {
		bid, _ := mb.book.BestBid()
		ask, _ := mb.book.BestAsk()
		return fmt.Errorf("%w: crossed book bid %d >= ask %d", ErrInvariantViolation, bid, ask)
	}
	return nil
}

// commit hands a batch to the journal. Journal failures are logged; the
// in-memory operation has already happened and stays applied.
func (e *Engine) commit(b *Batch) {
	if err := e.journal.Append(b); err != nil {
		e.logger.Errorw("journal_append_failed",
			"market", b.Market,
			"seq", b.Seq,
			"kind", b.Kind,
			"error", err,
		)
	}
}

// Fault returns the error that halted the market, if any
func (e *Engine) Fault(symbol string) error {
	mb, err := e.book(symbol)
	if err != nil {
		return err
	}
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.fault
}

// GetOrder returns a resting or recently closed order
func (e *Engine) GetOrder(id common.Hash) (orderbook.Order, error) {
	for _, mb := range e.allBooks() {
		mb.mu.RLock()
		o, ok := mb.book.Lookup(id)
		var snap orderbook.Order
		if ok {
			snap = o.Snapshot()
		}
		mb.mu.RUnlock()
		if ok {
			return snap, nil
		}
	}
	return orderbook.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id.Hex())
}

// OpenOrders returns the owner's resting orders in market, in time priority
func (e *Engine) OpenOrders(symbol string, owner common.Address) ([]orderbook.Order, error) {
	mb, err := e.book(symbol)
	if err != nil {
		return nil, err
	}
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	orders := mb.book.OwnerOrders(owner)
	out := make([]orderbook.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.Snapshot())
	}
	return out, nil
}

// BookSnapshot is the aggregated view of one market at a single point in time
type BookSnapshot struct {
	Market string                `json:"market"`
	Seq    uint64                `json:"seq"` // last batch applied
	Bids   []orderbook.LevelView `json:"bids"`
	Asks   []orderbook.LevelView `json:"asks"`
}

// GetBookSnapshot returns up to depth levels per side, best first. depth <= 0 means all.
func (e *Engine) GetBookSnapshot(symbol string, depth int) (*BookSnapshot, error) {
	mb, err := e.book(symbol)
	if err != nil {
		return nil, err
	}
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	return &BookSnapshot{
		Market: symbol,
		Seq:    mb.batchSeq,
		Bids:   mb.book.Depth(orderbook.Buy, depth),
		Asks:   mb.book.Depth(orderbook.Sell, depth),
	}, nil
}

// GetTradeHistory returns up to limit recent trades, newest first. limit <= 0 returns all retained.
func (e *Engine) GetTradeHistory(symbol string, limit int) ([]Trade, error) {
	mb, err := e.book(symbol)
	if err != nil {
		return nil, err
	}
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.trades.newest(limit), nil
}

// PlaceOrderRequest is a limit order submission. Owner is the already
// authenticated identity of the caller.
type PlaceOrderRequest struct {
	Market        string
	Owner         common.Address
	Side          orderbook.Side
	Price         int64 // ticks
	Quantity      int64 // lots
	ClientOrderID uint64
}

type PlaceResult struct {
	OrderID   common.Hash
	Order     orderbook.Order // final state of the submitted order
	Trades    []Trade
	Remaining int64 // resting remainder, 0 when fully filled
	Batch     *Batch
}

// validate rejects a request before anything is mutated. Caller holds mb.mu.
func (e *Engine) validate(mb *marketBook, req PlaceOrderRequest) error {
	m, err := e.markets.Get(req.Market)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrderParameters, err)
	}
	if m.Status != market.Active {
		return fmt.Errorf("%w: market %s is not active (status: %s)", ErrInvalidOrderParameters, m.Symbol, m.Status)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("%w: invalid side %d", ErrInvalidOrderParameters, req.Side)
	}
	if req.Owner == (common.Address{}) {
		return fmt.Errorf("%w: owner is the zero address", ErrInvalidOrderParameters)
	}
	if err := m.ValidateOrder(req.Price, req.Quantity); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrderParameters, err)
	}
	// a resting remainder is at most Quantity; the level it joins must not overflow
	if lv, ok := mb.book.Level(req.Side, req.Price); ok && lv.Total() > math.MaxInt64-req.Quantity {
		return fmt.Errorf("%w: quantity overflows level %d", ErrInvalidOrderParameters, req.Price)
	}
	return nil
}

func crosses(side orderbook.Side, limit, opposing int64) bool {
	if side == orderbook.Buy {
		return opposing <= limit
	}
	return opposing >= limit
}

// PlaceLimitOrder matches the order against the opposing side by price-time
// priority and rests any unfilled remainder at its limit price.
func (e *Engine) PlaceLimitOrder(req PlaceOrderRequest) (*PlaceResult, error) {
	mb, err := e.book(req.Market)
	if err != nil {
		return nil, err
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.fault != nil {
		return nil, mb.fault
	}
	if err := e.validate(mb, req); err != nil {
		return nil, err
	}

	id := crypto.DeriveOrderID(req.Market, req.Owner, req.ClientOrderID)
	if _, exists := mb.book.Active(id); exists {
		return nil, fmt.Errorf("%w: client order id %d already open for %s in %s",
			ErrDuplicateOrderIdentity, req.ClientOrderID, req.Owner.Hex(), req.Market)
	}

	now := e.clock.Now().UnixNano()
	mb.orderSeq++
	taker := &orderbook.Order{
		ID:            id,
		Market:        req.Market,
		Owner:         req.Owner,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Remaining:     req.Quantity,
		ClientOrderID: req.ClientOrderID,
		Active:        true,
		Status:        orderbook.Open,
		CreatedAt:     now,
		Seq:           mb.orderSeq,
	}

	var (
		trades  []Trade
		touched []orderbook.Order
	)
	for taker.Remaining > 0 {
		lv := mb.book.BestOpposing(req.Side)
		if lv == nil || !crosses(req.Side, req.Price, lv.Price) {
			break
		}

		head := lv.Head()
		if head == nil {
			return nil, e.halt(mb, fmt.Errorf("%w: empty level %d left in book", ErrInvariantViolation, lv.Price))
		}
		qty := min(taker.Remaining, head.Remaining)
		price := lv.Price

		maker, err := mb.book.FillHead(lv, qty)
		if err != nil {
			return nil, e.halt(mb, err)
		}
		if err := taker.Fill(qty); err != nil {
			return nil, e.halt(mb, err)
		}

		mb.tradeSeq++
		trades = append(trades, Trade{
			Seq:        mb.tradeSeq,
			Market:     req.Market,
			MakerID:    maker.ID,
			TakerID:    taker.ID,
			MakerOwner: maker.Owner,
			TakerOwner: taker.Owner,
			TakerSide:  req.Side,
			Price:      price,
			Quantity:   qty,
			Timestamp:  now,
		})
		touched = append(touched, maker.Snapshot())
	}

	if taker.Remaining > 0 {
		if err := mb.book.Insert(taker); err != nil {
			return nil, e.halt(mb, err)
		}
	} else {
		// fully filled on arrival: never rests, still answerable by GetOrder
		mb.book.Retire(taker)
	}

	for _, t := range trades {
		mb.trades.push(t)
	}
	if err := e.verify(mb); err != nil {
		return nil, e.halt(mb, err)
	}

	mb.batchSeq++
	batch := &Batch{
		Market: req.Market,
		Seq:    mb.batchSeq,
		Kind:   BatchPlace,
		Orders: append(touched, taker.Snapshot()),
		Trades: trades,
		Time:   now,

		OrderSeq: mb.orderSeq,
		TradeSeq: mb.tradeSeq,
	}
	e.commit(batch)

	e.logger.Debugw("order_placed",
		"market", req.Market,
		"order_id", id.Hex(),
		"owner", req.Owner.Hex(),
		"side", req.Side.String(),
		"price", req.Price,
		"qty", req.Quantity,
		"trades", len(trades),
		"remaining", taker.Remaining,
	)

	return &PlaceResult{
		OrderID:   id,
		Order:     taker.Snapshot(),
		Trades:    trades,
		Remaining: taker.Remaining,
		Batch:     batch,
	}, nil
}

type CancelResult struct {
	Order     orderbook.Order // post-cancel state
	Cancelled int64           // remaining quantity at cancellation
	Batch     *Batch
}

// CancelOrder removes a resting order on behalf of its owner. Orders that are
// unknown, filled or already cancelled fail with ErrOrderNotFound every time.
// Cancels are accepted on paused markets.
func (e *Engine) CancelOrder(id common.Hash, owner common.Address) (*CancelResult, error) {
	for _, mb := range e.allBooks() {
		res, found, err := e.cancelIn(mb, id, owner)
		if found || err != nil {
			return res, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id.Hex())
}

// CancelOrderIn is CancelOrder restricted to one market. An id resting in
// another market is reported as not found.
func (e *Engine) CancelOrderIn(symbol string, id common.Hash, owner common.Address) (*CancelResult, error) {
	mb, err := e.book(symbol)
	if err != nil {
		return nil, err
	}
	res, found, err := e.cancelIn(mb, id, owner)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s in %s", ErrOrderNotFound, id.Hex(), symbol)
	}
	return res, nil
}

func (e *Engine) cancelIn(mb *marketBook, id common.Hash, owner common.Address) (*CancelResult, bool, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	o, ok := mb.book.Active(id)
	if !ok {
		return nil, false, nil
	}
	if mb.fault != nil {
		return nil, true, mb.fault
	}
	if o.Owner != owner {
		return nil, true, fmt.Errorf("%w: %s does not own order %s", ErrUnauthorized, owner.Hex(), id.Hex())
	}

	cancelled, qty, err := mb.book.Cancel(id)
	if err != nil {
		return nil, true, e.halt(mb, err)
	}
	if err := e.verify(mb); err != nil {
		return nil, true, e.halt(mb, err)
	}

	now := e.clock.Now().UnixNano()
	mb.batchSeq++
	batch := &Batch{
		Market: mb.symbol,
		Seq:    mb.batchSeq,
		Kind:   BatchCancel,
		Orders: []orderbook.Order{cancelled.Snapshot()},
		Time:   now,

		OrderSeq: mb.orderSeq,
		TradeSeq: mb.tradeSeq,
	}
	e.commit(batch)

	e.logger.Debugw("order_cancelled",
		"market", mb.symbol,
		"order_id", id.Hex(),
		"owner", owner.Hex(),
		"cancelled", qty,
	)

	return &CancelResult{Order: cancelled.Snapshot(), Cancelled: qty, Batch: batch}, true, nil
}

// RestoreState is what a durability layer hands back on startup
type RestoreState struct {
	Orders   []orderbook.Order // resting orders, any order
	Trades   []Trade           // recent trades, any order
	BatchSeq uint64            // last batch sequence applied

	// last issued order and trade sequences. Restore never seeds the counters
	// below these, even when Orders and Trades are a truncated window.
	OrderSeq uint64
	TradeSeq uint64
}

// Restore rebuilds an empty market's book from persisted resting orders and
// seeds trade history and sequence counters. Every order is validated first;
// on error the market is left untouched.
func (e *Engine) Restore(symbol string, st RestoreState) error {
	mb, err := e.book(symbol)
	if err != nil {
		return err
	}
	m, err := e.markets.Get(symbol)
	if err != nil {
		return err
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.book.Len() > 0 || mb.batchSeq > 0 {
		return fmt.Errorf("market %s already has state, restore must run first", symbol)
	}

	orders := make([]orderbook.Order, len(st.Orders))
	copy(orders, st.Orders)
	sort.Slice(orders, func(i, j int) bool { return orders[i].Seq < orders[j].Seq })

	book := orderbook.New(symbol, e.cfg.ClosedOrderLimit)
	var maxOrderSeq uint64
	for i := range orders {
		o := orders[i]
		if o.Market != symbol {
			return fmt.Errorf("restore %s: order %s belongs to %s", symbol, o.ID.Hex(), o.Market)
		}
		if o.ID != crypto.DeriveOrderID(o.Market, o.Owner, o.ClientOrderID) {
			return fmt.Errorf("restore %s: order id %s does not match its derivation", symbol, o.ID.Hex())
		}
		if err := m.ValidateOrder(o.Price, o.Quantity); err != nil {
			return fmt.Errorf("restore %s: order %s: %w", symbol, o.ID.Hex(), err)
		}
		if err := book.Insert(&o); err != nil {
			return fmt.Errorf("restore %s: %w", symbol, err)
		}
		maxOrderSeq = max(maxOrderSeq, o.Seq)
	}
	if err := book.CheckInvariants(); err != nil {
		return fmt.Errorf("restore %s: %w", symbol, err)
	}

	trades := make([]Trade, len(st.Trades))
	copy(trades, st.Trades)
	sort.Slice(trades, func(i, j int) bool { return trades[i].Seq < trades[j].Seq })

	ring := newTradeRing(e.cfg.TradeHistoryLimit)
	var maxTradeSeq uint64
	for _, t := range trades {
		ring.push(t)
		maxTradeSeq = max(maxTradeSeq, t.Seq)
	}

	mb.book = book
	mb.trades = ring
	mb.orderSeq = max(maxOrderSeq, st.OrderSeq)
	mb.tradeSeq = max(maxTradeSeq, st.TradeSeq)
	mb.batchSeq = st.BatchSeq

	e.logger.Infow("market_restored",
		"market", symbol,
		"orders", book.Len(),
		"trades", ring.len(),
		"batch_seq", st.BatchSeq,
		"trade_seq", mb.tradeSeq,
	)
	return nil
}
