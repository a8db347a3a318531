package api

import (
	"github.com/uhyunpark/clobdex/pkg/engine"
	"github.com/uhyunpark/clobdex/pkg/market"
	"github.com/uhyunpark/clobdex/pkg/orderbook"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// MarketInfo represents a market's static configuration
type MarketInfo struct {
	Symbol     string `json:"symbol"`     // e.g., "SOL-USDC"
	BaseAsset  string `json:"baseAsset"`  // e.g., "SOL"
	QuoteAsset string `json:"quoteAsset"` // e.g., "USDC"
	Status     string `json:"status"`     // "Active", "Paused", "Closed"
	TickSize   int64  `json:"tickSize"`   // Minimum price increment
	LotSize    int64  `json:"lotSize"`    // Minimum size increment
}

// OrderbookSnapshot represents current orderbook state
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Seq       uint64       `json:"seq"`       // last mutation batch applied
	Bids      []PriceLevel `json:"bids"`      // Sorted high to low
	Asks      []PriceLevel `json:"asks"`      // Sorted low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel is one aggregated price of the book
type PriceLevel struct {
	Price  int64 `json:"price"`  // ticks
	Size   int64 `json:"size"`   // lots resting at this price
	Orders int   `json:"orders"` // number of resting orders
}

// TradeInfo represents a recent trade
type TradeInfo struct {
	Seq          uint64 `json:"seq"`
	Symbol       string `json:"symbol"`
	Price        int64  `json:"price"`
	Size         int64  `json:"size"`
	Side         string `json:"side"` // taker side, "buy" or "sell"
	MakerOrderID string `json:"makerOrderId"`
	TakerOrderID string `json:"takerOrderId"`
	Maker        string `json:"maker"`
	Taker        string `json:"taker"`
	Timestamp    int64  `json:"timestamp"` // Unix milliseconds
}

// OrderInfo represents an order (open or historical)
type OrderInfo struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Owner         string `json:"owner"`
	Side          string `json:"side"` // "buy" or "sell"
	Price         int64  `json:"price"`
	Size          int64  `json:"size"`
	Filled        int64  `json:"filled"`
	Remaining     int64  `json:"remaining"`
	ClientOrderID uint64 `json:"clientOrderId"`
	Status        string `json:"status"` // "open", "partially_filled", "filled", "cancelled"
	Timestamp     int64  `json:"timestamp"` // Unix milliseconds
}

// HealthStatus reports liveness and any halted markets
type HealthStatus struct {
	Status  string            `json:"status"` // "ok" or "degraded"
	Markets int               `json:"markets"`
	Halted  map[string]string `json:"halted,omitempty"` // symbol -> fault
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orderbook:SOL-USDC", "trades:SOL-USDC"]
}

// OrderbookUpdate is broadcast after every mutation of a market
type OrderbookUpdate struct {
	Type string `json:"type"` // "orderbook"
	OrderbookSnapshot
}

// TradeUpdate is broadcast when a trade executes
type TradeUpdate struct {
	Type string `json:"type"` // "trade"
	TradeInfo
}

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest is the payload for POST /api/v1/orders.
// Signature is an EIP-712 signature over every other field.
type SubmitOrderRequest struct {
	Market        string `json:"market"`
	Side          string `json:"side"` // "buy" or "sell"
	Price         int64  `json:"price"`
	Quantity      int64  `json:"quantity"`
	ClientOrderID uint64 `json:"clientOrderId"`
	Deadline      int64  `json:"deadline"` // unix seconds
	Owner         string `json:"owner"`
	Signature     string `json:"signature"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel
type CancelOrderRequest struct {
	OrderID   string `json:"orderId"`
	Market    string `json:"market"`
	Deadline  int64  `json:"deadline"`
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

// SubmitOrderResponse is the response from order submission
type SubmitOrderResponse struct {
	OrderID   string      `json:"orderId"`
	Status    string      `json:"status"`
	Filled    int64       `json:"filled"`
	Remaining int64       `json:"remaining"` // resting remainder
	Trades    []TradeInfo `json:"trades"`
}

// CancelOrderResponse is the response from order cancellation
type CancelOrderResponse struct {
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	Cancelled int64  `json:"cancelled"` // quantity removed from the book
}

// DeriveOrderIDResponse is the response from GET /api/v1/orders/derive
type DeriveOrderIDResponse struct {
	OrderID string `json:"orderId"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// ==============================
// Conversions
// ==============================

func marketInfo(m *market.Market) MarketInfo {
	return MarketInfo{
		Symbol:     m.Symbol,
		BaseAsset:  m.BaseAsset,
		QuoteAsset: m.QuoteAsset,
		Status:     m.Status.String(),
		TickSize:   m.TickSize,
		LotSize:    m.LotSize,
	}
}

func priceLevels(levels []orderbook.LevelView) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, lv := range levels {
		out[i] = PriceLevel{Price: lv.Price, Size: lv.Quantity, Orders: lv.Orders}
	}
	return out
}

func orderbookSnapshot(snap *engine.BookSnapshot, nowMillis int64) OrderbookSnapshot {
	return OrderbookSnapshot{
		Symbol:    snap.Market,
		Seq:       snap.Seq,
		Bids:      priceLevels(snap.Bids),
		Asks:      priceLevels(snap.Asks),
		Timestamp: nowMillis,
	}
}

func tradeInfo(t engine.Trade) TradeInfo {
	return TradeInfo{
		Seq:          t.Seq,
		Symbol:       t.Market,
		Price:        t.Price,
		Size:         t.Quantity,
		Side:         t.TakerSide.String(),
		MakerOrderID: t.MakerID.Hex(),
		TakerOrderID: t.TakerID.Hex(),
		Maker:        t.MakerOwner.Hex(),
		Taker:        t.TakerOwner.Hex(),
		Timestamp:    t.Timestamp / 1e6,
	}
}

func tradeInfos(trades []engine.Trade) []TradeInfo {
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(t)
	}
	return out
}

func orderInfo(o orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:            o.ID.Hex(),
		Symbol:        o.Market,
		Owner:         o.Owner.Hex(),
		Side:          o.Side.String(),
		Price:         o.Price,
		Size:          o.Quantity,
		Filled:        o.Filled(),
		Remaining:     o.Remaining,
		ClientOrderID: o.ClientOrderID,
		Status:        o.Status.String(),
		Timestamp:     o.CreatedAt / 1e6,
	}
}
