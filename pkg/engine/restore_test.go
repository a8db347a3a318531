package engine

import (
	"testing"

	"github.com/uhyunpark/clobdex/pkg/crypto"
	"github.com/uhyunpark/clobdex/pkg/market"
	"github.com/uhyunpark/clobdex/pkg/orderbook"
)

func TestRestoreRebuildsBook(t *testing.T) {
	j := &recordingJournal{}
	src := newTestEngine(t, WithJournal(j))

	place(t, src, alice, orderbook.Buy, 100, 5, 1)
	place(t, src, bob, orderbook.Buy, 100, 3, 1)
	place(t, src, alice, orderbook.Sell, 105, 2, 2)
	place(t, src, carol, orderbook.Sell, 100, 6, 1) // fills alice 5, bob 1

	// fold journal post-images into the latest state per order
	latest := make(map[string]orderbook.Order)
	var trades []Trade
	for _, b := range j.batches {
		for _, o := range b.Orders {
			latest[o.ID.Hex()] = o
		}
		trades = append(trades, b.Trades...)
	}
	var resting []orderbook.Order
	for _, o := range latest {
		if o.Active {
			resting = append(resting, o)
		}
	}

	dst := newTestEngine(t)
	err := dst.Restore(sym, RestoreState{Orders: resting, Trades: trades, BatchSeq: uint64(len(j.batches))})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	want, _ := src.GetBookSnapshot(sym, 0)
	got, _ := dst.GetBookSnapshot(sym, 0)
	if len(got.Bids) != len(want.Bids) || len(got.Asks) != len(want.Asks) {
		t.Fatalf("restored book %+v, want %+v", got, want)
	}
	for i := range want.Bids {
		if got.Bids[i] != want.Bids[i] {
			t.Errorf("bid %d = %+v, want %+v", i, got.Bids[i], want.Bids[i])
		}
	}
	for i := range want.Asks {
		if got.Asks[i] != want.Asks[i] {
			t.Errorf("ask %d = %+v, want %+v", i, got.Asks[i], want.Asks[i])
		}
	}
	if got.Seq != want.Seq {
		t.Errorf("restored seq %d, want %d", got.Seq, want.Seq)
	}

	th, _ := dst.GetTradeHistory(sym, 0)
	if len(th) != 2 || th[0].Seq != 2 {
		t.Errorf("restored trades = %+v", th)
	}

	// sequences continue after the restored state
	res := place(t, dst, carol, orderbook.Sell, 100, 2, 2)
	if len(res.Trades) != 1 || res.Trades[0].Seq != 3 || res.Trades[0].Quantity != 2 {
		t.Errorf("post-restore trade = %+v", res.Trades)
	}
	if res.Batch.Seq != uint64(len(j.batches))+1 {
		t.Errorf("post-restore batch seq = %d", res.Batch.Seq)
	}
}

func TestRestoreCountersOutliveTradeWindow(t *testing.T) {
	e := newTestEngine(t)
	// only the newest trade survived the history window, but seven were issued
	st := RestoreState{
		Trades:   []Trade{{Seq: 7, Market: sym, Price: 100, Quantity: 1}},
		BatchSeq: 9,
		OrderSeq: 12,
		TradeSeq: 7,
	}
	if err := e.Restore(sym, st); err != nil {
		t.Fatal(err)
	}

	maker := place(t, e, alice, orderbook.Buy, 100, 2, 1)
	if maker.Order.Seq != 13 {
		t.Errorf("order seq = %d, want 13", maker.Order.Seq)
	}
	res := place(t, e, bob, orderbook.Sell, 100, 1, 1)
	if len(res.Trades) != 1 || res.Trades[0].Seq != 8 {
		t.Fatalf("trade after restore = %+v", res.Trades)
	}
	if res.Batch.TradeSeq != 8 || res.Batch.OrderSeq != 14 {
		t.Errorf("batch counters order=%d trade=%d", res.Batch.OrderSeq, res.Batch.TradeSeq)
	}

	// an empty trade window still cannot rewind the counter
	e = newTestEngine(t)
	if err := e.Restore(sym, RestoreState{BatchSeq: 3, TradeSeq: 4}); err != nil {
		t.Fatal(err)
	}
	place(t, e, alice, orderbook.Buy, 100, 1, 1)
	res = place(t, e, bob, orderbook.Sell, 100, 1, 1)
	if res.Trades[0].Seq != 5 {
		t.Errorf("trade seq = %d, want 5", res.Trades[0].Seq)
	}
}

func TestRestoreRejectsBadState(t *testing.T) {
	good := orderbook.Order{
		Market: sym, Owner: alice, Side: orderbook.Buy, Price: 100,
		Quantity: 5, Remaining: 5, ClientOrderID: 1, Active: true, Seq: 1,
	}
	e := newTestEngine(t)
	res := place(t, e, alice, orderbook.Buy, 100, 5, 1)
	good.ID = res.OrderID

	forged := good
	forged.ClientOrderID = 2 // id no longer matches derivation

	inactive := good
	inactive.Active = false

	tests := []struct {
		name   string
		orders []orderbook.Order
	}{
		{"forged id", []orderbook.Order{forged}},
		{"inactive order", []orderbook.Order{inactive}},
		{"wrong market", func() []orderbook.Order { o := good; o.Market = "ETH-USDC"; return []orderbook.Order{o} }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := newTestEngine(t)
			if err := dst.Restore(sym, RestoreState{Orders: tt.orders}); err == nil {
				t.Fatal("expected restore error")
			}
			snap, _ := dst.GetBookSnapshot(sym, 0)
			if len(snap.Bids)+len(snap.Asks) != 0 {
				t.Error("failed restore left orders behind")
			}
		})
	}

	// a book that is already live cannot be restored over
	if err := e.Restore(sym, RestoreState{}); err == nil {
		t.Error("restore over live state should fail")
	}
	if err := e.Restore("NOPE", RestoreState{}); err == nil {
		t.Error("restore of unknown market should fail")
	}
}

func TestRestoreRejectsCrossedBook(t *testing.T) {
	src := newTestEngine(t)
	m, _ := market.NewMarket("ETH-USDC", "ETH", "USDC", market.DefaultParams)
	_ = src.AddMarket(m)

	// build two orders that would cross if they rested together
	bid := place(t, src, alice, orderbook.Buy, 100, 1, 1)
	srcAsk, err := src.PlaceLimitOrder(PlaceOrderRequest{
		Market: "ETH-USDC", Owner: bob, Side: orderbook.Sell, Price: 99, Quantity: 1, ClientOrderID: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	ask := srcAsk.Order
	ask.Market = sym
	ask.ID = crypto.DeriveOrderID(ask.Market, ask.Owner, ask.ClientOrderID)
	ask.Seq = 2

	dst := newTestEngine(t)
	if err := dst.Restore(sym, RestoreState{Orders: []orderbook.Order{bid.Order, ask}}); err == nil {
		t.Fatal("expected crossed book to be rejected")
	}
}
