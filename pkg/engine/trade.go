package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gammazero/deque"

	"github.com/uhyunpark/clobdex/pkg/orderbook"
)

// Trade is one match between a resting maker and an incoming taker.
// Price is always the maker's resting price.
type Trade struct {
	Seq        uint64         `json:"seq"` // per-market, starts at 1
	Market     string         `json:"market"`
	MakerID    common.Hash    `json:"makerOrderId"`
	TakerID    common.Hash    `json:"takerOrderId"`
	MakerOwner common.Address `json:"makerOwner"`
	TakerOwner common.Address `json:"takerOwner"`
	TakerSide  orderbook.Side `json:"takerSide"`
	Price      int64          `json:"price"`
	Quantity   int64          `json:"quantity"`
	Timestamp  int64          `json:"timestamp"` // unix nanos
}

// tradeRing keeps the most recent trades of a market, oldest at the front
type tradeRing struct {
	trades deque.Deque[Trade]
	limit  int
}

func newTradeRing(limit int) *tradeRing {
	return &tradeRing{limit: limit}
}

func (r *tradeRing) push(t Trade) {
	r.trades.PushBack(t)
	for r.trades.Len() > r.limit {
		r.trades.PopFront()
	}
}

// newest returns up to n trades, newest first. n <= 0 returns all retained.
func (r *tradeRing) newest(n int) []Trade {
	total := r.trades.Len()
	if n <= 0 || n > total {
		n = total
	}
	out := make([]Trade, 0, n)
	for i := total - 1; i >= total-n; i-- {
		out = append(out, r.trades.At(i))
	}
	return out
}

func (r *tradeRing) len() int { return r.trades.Len() }
