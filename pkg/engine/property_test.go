package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"pgregory.net/rapid"

	"github.com/uhyunpark/clobdex/pkg/market"
	"github.com/uhyunpark/clobdex/pkg/orderbook"
)

var propOwners = []common.Address{alice, bob, carol}

func newPropEngine(t *rapid.T) *Engine {
	cfg := DefaultConfig()
	cfg.CheckInvariants = true
	cfg.TradeHistoryLimit = 1 << 20
	cfg.ClosedOrderLimit = 1 << 20
	e := New(cfg, nil)
	m, _ := market.NewMarket(sym, "SOL", "USDC", market.DefaultParams)
	if err := e.AddMarket(m); err != nil {
		t.Fatalf("add market: %v", err)
	}
	return e
}

// Random place/cancel sequences never leave a crossed or malformed book,
// trades execute at the maker price within the taker's limit, and the sum of
// fills against any order equals the quantity it lost.
func TestProperty_BookStaysConsistent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newPropEngine(t)

		filledByOrder := make(map[common.Hash]int64)
		var placed []common.Hash
		coid := uint64(0)

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			owner := propOwners[rapid.IntRange(0, len(propOwners)-1).Draw(t, fmt.Sprintf("owner-%d", i))]

			if len(placed) > 0 && rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("op-%d", i)) == 0 {
				id := placed[rapid.IntRange(0, len(placed)-1).Draw(t, fmt.Sprintf("cancel-%d", i))]
				_, err := e.CancelOrder(id, owner)
				if err != nil && !errors.Is(err, ErrOrderNotFound) && !errors.Is(err, ErrUnauthorized) {
					t.Fatalf("cancel: %v", err)
				}
			} else {
				coid++
				side := orderbook.Buy
				if rapid.Bool().Draw(t, fmt.Sprintf("sell-%d", i)) {
					side = orderbook.Sell
				}
				price := rapid.Int64Range(90, 110).Draw(t, fmt.Sprintf("price-%d", i))
				qty := rapid.Int64Range(1, 20).Draw(t, fmt.Sprintf("qty-%d", i))

				res, err := e.PlaceLimitOrder(PlaceOrderRequest{
					Market: sym, Owner: owner, Side: side, Price: price, Quantity: qty, ClientOrderID: coid,
				})
				if err != nil {
					t.Fatalf("place: %v", err)
				}
				placed = append(placed, res.OrderID)

				var takerFilled int64
				for _, tr := range res.Trades {
					if tr.Price != priceOf(t, e, tr.MakerID) {
						t.Fatalf("trade price %d differs from maker price", tr.Price)
					}
					if !crosses(side, price, tr.Price) {
						t.Fatalf("trade at %d outside taker limit %d (%s)", tr.Price, price, side)
					}
					filledByOrder[tr.MakerID] += tr.Quantity
					filledByOrder[tr.TakerID] += tr.Quantity
					takerFilled += tr.Quantity
				}
				if takerFilled+res.Remaining != qty {
					t.Fatalf("taker filled %d + remaining %d != quantity %d", takerFilled, res.Remaining, qty)
				}
			}

			mb, _ := e.book(sym)
			if err := mb.book.CheckInvariants(); err != nil {
				t.Fatalf("after step %d: %v", i, err)
			}
		}

		for _, id := range placed {
			o, err := e.GetOrder(id)
			if err != nil {
				t.Fatalf("order %s lost: %v", id.Hex(), err)
			}
			if o.Filled() != filledByOrder[id] {
				t.Fatalf("order %s filled %d but trades sum %d", id.Hex(), o.Filled(), filledByOrder[id])
			}
			if o.Remaining < 0 || o.Remaining > o.Quantity {
				t.Fatalf("order %s remaining %d outside [0,%d]", id.Hex(), o.Remaining, o.Quantity)
			}
			if o.Remaining == 0 && o.Active {
				t.Fatalf("order %s has no remaining but is active", id.Hex())
			}
		}
	})
}

func priceOf(t *rapid.T, e *Engine, id common.Hash) int64 {
	o, err := e.GetOrder(id)
	if err != nil {
		t.Fatalf("maker %s missing: %v", id.Hex(), err)
	}
	return o.Price
}

// Any two resting orders at one price fill in arrival order.
func TestProperty_TimePriority(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newPropEngine(t)
		price := rapid.Int64Range(1, 1000).Draw(t, "price")
		n := rapid.IntRange(2, 8).Draw(t, "makers")

		var makers []common.Hash
		var total int64
		for i := 0; i < n; i++ {
			qty := rapid.Int64Range(1, 10).Draw(t, fmt.Sprintf("qty-%d", i))
			total += qty
			res, err := e.PlaceLimitOrder(PlaceOrderRequest{
				Market: sym, Owner: propOwners[i%len(propOwners)], Side: orderbook.Sell,
				Price: price, Quantity: qty, ClientOrderID: uint64(i + 1),
			})
			if err != nil {
				t.Fatal(err)
			}
			makers = append(makers, res.OrderID)
		}

		takeQty := rapid.Int64Range(1, total).Draw(t, "take")
		res, err := e.PlaceLimitOrder(PlaceOrderRequest{
			Market: sym, Owner: carol, Side: orderbook.Buy, Price: price, Quantity: takeQty, ClientOrderID: 1000,
		})
		if err != nil {
			t.Fatal(err)
		}
		for i, tr := range res.Trades {
			if tr.MakerID != makers[i] {
				t.Fatalf("trade %d hit maker %s, want %s", i, tr.MakerID.Hex(), makers[i].Hex())
			}
		}
	})
}

// Cancelling a terminal order fails the same way every time.
func TestProperty_CancelIsIdempotentInEffect(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newPropEngine(t)
		qty := rapid.Int64Range(1, 50).Draw(t, "qty")
		res, err := e.PlaceLimitOrder(PlaceOrderRequest{
			Market: sym, Owner: alice, Side: orderbook.Buy, Price: 10, Quantity: qty, ClientOrderID: 1,
		})
		if err != nil {
			t.Fatal(err)
		}

		if rapid.Bool().Draw(t, "fill") {
			if _, err := e.PlaceLimitOrder(PlaceOrderRequest{
				Market: sym, Owner: bob, Side: orderbook.Sell, Price: 10, Quantity: qty, ClientOrderID: 1,
			}); err != nil {
				t.Fatal(err)
			}
		} else if _, err := e.CancelOrder(res.OrderID, alice); err != nil {
			t.Fatal(err)
		}

		retries := rapid.IntRange(1, 5).Draw(t, "retries")
		for i := 0; i < retries; i++ {
			if _, err := e.CancelOrder(res.OrderID, alice); !errors.Is(err, ErrOrderNotFound) {
				t.Fatalf("retry %d: err = %v, want ErrOrderNotFound", i, err)
			}
		}
	})
}
