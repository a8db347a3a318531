package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/clobdex/pkg/engine"
	"github.com/uhyunpark/clobdex/pkg/market"
	"github.com/uhyunpark/clobdex/pkg/orderbook"
)

const sym = "SOL-USDC"

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
)

func newEngine(t *testing.T, j engine.Journal) *engine.Engine {
	t.Helper()
	e := engine.New(engine.DefaultConfig(), nil, engine.WithJournal(j))
	m, err := market.NewMarket(sym, "SOL", "USDC", market.DefaultParams)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.AddMarket(m); err != nil {
		t.Fatal(err)
	}
	return e
}

func mustPlace(t *testing.T, e *engine.Engine, owner common.Address, side orderbook.Side, price, qty int64, coid uint64) *engine.PlaceResult {
	t.Helper()
	res, err := e.PlaceLimitOrder(engine.PlaceOrderRequest{
		Market: sym, Owner: owner, Side: side, Price: price, Quantity: qty, ClientOrderID: coid,
	})
	if err != nil {
		t.Fatal(err)
	}
	return res
}

// drive runs the same scenario against a journal and returns the engine
func drive(t *testing.T, j engine.Journal) *engine.Engine {
	e := newEngine(t, j)
	mustPlace(t, e, alice, orderbook.Buy, 100, 10, 1)
	mustPlace(t, e, bob, orderbook.Sell, 100, 4, 1)
	ask := mustPlace(t, e, bob, orderbook.Sell, 99, 10, 2)
	mustPlace(t, e, alice, orderbook.Buy, 90, 3, 2)
	mustPlace(t, e, alice, orderbook.Sell, 120, 1, 3)
	if _, err := e.CancelOrder(ask.OrderID, bob); err != nil {
		t.Fatal(err)
	}
	return e
}

func assertSameBook(t *testing.T, want, got *engine.Engine) {
	t.Helper()
	ws, _ := want.GetBookSnapshot(sym, 0)
	gs, _ := got.GetBookSnapshot(sym, 0)
	if len(ws.Bids) != len(gs.Bids) || len(ws.Asks) != len(gs.Asks) || ws.Seq != gs.Seq {
		t.Fatalf("restored snapshot %+v, want %+v", gs, ws)
	}
	for i := range ws.Bids {
		if ws.Bids[i] != gs.Bids[i] {
			t.Errorf("bid %d = %+v, want %+v", i, gs.Bids[i], ws.Bids[i])
		}
	}
	for i := range ws.Asks {
		if ws.Asks[i] != gs.Asks[i] {
			t.Errorf("ask %d = %+v, want %+v", i, gs.Asks[i], ws.Asks[i])
		}
	}
	wt, _ := want.GetTradeHistory(sym, 0)
	gt, _ := got.GetTradeHistory(sym, 0)
	if len(wt) != len(gt) {
		t.Fatalf("restored %d trades, want %d", len(gt), len(wt))
	}
	for i := range wt {
		if wt[i] != gt[i] {
			t.Errorf("trade %d = %+v, want %+v", i, gt[i], wt[i])
		}
	}
}

func TestPebbleStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPebbleStore(dir, PebbleOptions{NoSync: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	src := drive(t, store)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// reopen as a fresh process would
	store, err = NewPebbleStore(dir, PebbleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	st, err := store.LoadState(sym, 1000)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.BatchSeq != 6 {
		t.Errorf("batch seq = %d, want 6", st.BatchSeq)
	}
	if len(st.Orders) != 2 {
		t.Errorf("active orders = %d, want 2", len(st.Orders))
	}
	if len(st.Trades) != 2 || st.Trades[0].Seq != 2 {
		t.Errorf("trades newest first = %+v", st.Trades)
	}

	dst := newEngine(t, store)
	if err := dst.Restore(sym, st); err != nil {
		t.Fatalf("restore: %v", err)
	}
	assertSameBook(t, src, dst)
}

func TestPebbleStoreTradeLogSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPebbleStore(dir, PebbleOptions{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	e := newEngine(t, store)
	mustPlace(t, e, alice, orderbook.Buy, 100, 10, 1)
	mustPlace(t, e, bob, orderbook.Sell, 100, 4, 1)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = NewPebbleStore(dir, PebbleOptions{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	// load no trade history at all; the counters alone must carry the sequence
	st, err := store.LoadState(sym, 0)
	if err != nil {
		t.Fatal(err)
	}
	if st.TradeSeq != 1 || st.OrderSeq != 2 || len(st.Trades) != 0 {
		t.Fatalf("state = %+v", st)
	}
	e = newEngine(t, store)
	if err := e.Restore(sym, st); err != nil {
		t.Fatal(err)
	}
	res := mustPlace(t, e, bob, orderbook.Sell, 100, 1, 2)
	if len(res.Trades) != 1 || res.Trades[0].Seq != 2 {
		t.Fatalf("trade after restart = %+v", res.Trades)
	}

	trades, err := store.LoadRecentTrades(sym, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 {
		t.Fatalf("trade log has %d records, want 2", len(trades))
	}
	if trades[0].Quantity != 1 || trades[1].Seq != 1 || trades[1].Quantity != 4 {
		t.Errorf("trade log = %+v", trades)
	}
}

func TestPebbleStoreCorruptOrderFailsLoad(t *testing.T) {
	store, err := NewPebbleStore(t.TempDir(), PebbleOptions{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	e := newEngine(t, store)
	res := mustPlace(t, e, alice, orderbook.Buy, 100, 5, 1)
	if err := store.db.Set(orderKey(sym, res.OrderID), []byte("{not json"), pebble.Sync); err != nil {
		t.Fatal(err)
	}

	if _, err := store.LoadActiveOrders(sym); err == nil {
		t.Error("expected error for undecodable order record")
	}
	if _, err := store.LoadState(sym, 10); err == nil {
		t.Error("expected LoadState to fail")
	}
}

func TestPebbleStoreKeepsTerminalOrders(t *testing.T) {
	store, err := NewPebbleStore(t.TempDir(), PebbleOptions{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	e := newEngine(t, store)
	res := mustPlace(t, e, alice, orderbook.Buy, 100, 5, 1)
	if _, err := e.CancelOrder(res.OrderID, alice); err != nil {
		t.Fatal(err)
	}

	o, err := store.LoadOrder(sym, res.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != orderbook.Cancelled || o.Remaining != 5 || o.Active {
		t.Errorf("stored order = %+v", o)
	}
	active, _ := store.LoadActiveOrders(sym)
	if len(active) != 0 {
		t.Errorf("cancelled order loaded as active")
	}

	if _, err := store.LoadOrder(sym, common.HexToHash("0x01")); !errors.Is(err, orderbook.ErrOrderNotFound) {
		t.Errorf("missing order err = %v", err)
	}
}

func TestPebbleStoreMarketsDoNotOverlap(t *testing.T) {
	store, err := NewPebbleStore(t.TempDir(), PebbleOptions{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	mk := func(market string, seq uint64) *engine.Batch {
		return &engine.Batch{
			Market: market,
			Seq:    seq,
			Trades: []engine.Trade{{Seq: seq, Market: market, Price: 1, Quantity: 1}},
		}
	}
	for _, b := range []*engine.Batch{mk("SOL-USDC", 1), mk("SOL-USDC-PERP", 1), mk("SOL-USDC-PERP", 2)} {
		if err := store.Append(b); err != nil {
			t.Fatal(err)
		}
	}

	trades, _ := store.LoadRecentTrades("SOL-USDC", 10)
	if len(trades) != 1 {
		t.Errorf("SOL-USDC trades = %d, want 1", len(trades))
	}
	seq, _ := store.LastSeq("SOL-USDC-PERP")
	if seq != 2 {
		t.Errorf("seq = %d, want 2", seq)
	}
	if seq, _ := store.LastSeq("NOPE"); seq != 0 {
		t.Errorf("unknown market seq = %d", seq)
	}
}

func TestTradeKeysSortBySeq(t *testing.T) {
	a := string(tradeKey(sym, 9))
	b := string(tradeKey(sym, 10))
	if a >= b {
		t.Errorf("trade key for 9 (%s) should sort before 10 (%s)", a, b)
	}
	prefix := tradePrefix(sym)
	if ub := keyUpperBound(prefix); string(ub) <= b {
		t.Errorf("upper bound %s does not cover %s", ub, b)
	}
}

func TestFileWALReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.wal")
	wal, err := NewFileWAL(path, false)
	if err != nil {
		t.Fatal(err)
	}
	src := drive(t, wal)
	if err := wal.Close(); err != nil {
		t.Fatal(err)
	}

	states, err := ReplayWAL(path, 1000)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	st, ok := states[sym]
	if !ok {
		t.Fatal("no state for market")
	}

	dst := newEngine(t, NewNopWAL())
	if err := dst.Restore(sym, st); err != nil {
		t.Fatalf("restore: %v", err)
	}
	assertSameBook(t, src, dst)

	// a one-trade window still reports the last issued sequence
	states, err = ReplayWAL(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st := states[sym]; len(st.Trades) != 1 || st.TradeSeq != 2 || st.OrderSeq != 5 {
		t.Errorf("windowed state = %+v", st)
	}
}

func TestReplayWALTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.wal")
	wal, _ := NewFileWAL(path, true)
	e := newEngine(t, wal)
	mustPlace(t, e, alice, orderbook.Buy, 100, 1, 1)
	_ = wal.Close()

	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	_, _ = f.WriteString(`{"market":"SOL-USDC","seq":2,"ki`)
	_ = f.Close()

	states, err := ReplayWAL(path, 10)
	if err != nil {
		t.Fatalf("torn tail should be tolerated: %v", err)
	}
	if st := states[sym]; st.BatchSeq != 1 || len(st.Orders) != 1 {
		t.Errorf("state = %+v", st)
	}

	// corruption in the middle is an error
	f, _ = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	_, _ = f.WriteString("\n{}\n")
	_ = f.Close()
	if _, err := ReplayWAL(path, 10); err == nil {
		t.Error("expected error for corrupt line followed by data")
	}
}

func TestReplayWALMissingFile(t *testing.T) {
	states, err := ReplayWAL(filepath.Join(t.TempDir(), "none.wal"), 10)
	if err != nil || len(states) != 0 {
		t.Errorf("missing wal = %v, %v", states, err)
	}
}

func TestMultiJournalWritesBoth(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPebbleStore(filepath.Join(dir, "db"), PebbleOptions{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	walPath := filepath.Join(dir, "engine.wal")
	wal, err := NewFileWAL(walPath, false)
	if err != nil {
		t.Fatal(err)
	}
	defer wal.Close()

	e := newEngine(t, engine.MultiJournal{store, wal})
	mustPlace(t, e, alice, orderbook.Buy, 100, 1, 1)

	if seq, _ := store.LastSeq(sym); seq != 1 {
		t.Errorf("pebble seq = %d", seq)
	}
	states, _ := ReplayWAL(walPath, 10)
	if states[sym].BatchSeq != 1 {
		t.Errorf("wal seq = %d", states[sym].BatchSeq)
	}
}
