package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/uhyunpark/clobdex/pkg/engine"
	"github.com/uhyunpark/clobdex/pkg/orderbook"
)

type NopWAL struct{}

func NewNopWAL() *NopWAL                     { return &NopWAL{} }
func (w *NopWAL) Append(*engine.Batch) error { return nil }

// FileWAL appends every batch as one JSON line
type FileWAL struct {
	mu    sync.Mutex
	f     *os.File
	fsync bool
}

func NewFileWAL(path string, fsync bool) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWAL{f: f, fsync: fsync}, nil
}

func (w *FileWAL) Append(b *engine.Batch) error {
	line, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("wal write: %w", err)
	}
	if w.fsync {
		return w.f.Sync()
	}
	return nil
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// ReplayWAL folds a WAL file into per-market restore state: the latest image
// of each order (keeping only active ones), the last tradeLimit trades, the
// highest batch sequence and the market counters. A torn final line is ignored.
func ReplayWAL(path string, tradeLimit int) (map[string]engine.RestoreState, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]engine.RestoreState{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type folded struct {
		orders map[string]orderbook.Order
		trades []engine.Trade
		seq    uint64

		orderSeq uint64
		tradeSeq uint64
	}
	markets := make(map[string]*folded)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var pending error
	for line := 1; sc.Scan(); line++ {
		if pending != nil {
			// a bad line followed by more data is corruption, not a torn tail
			return nil, pending
		}
		var b engine.Batch
		if err := json.Unmarshal(sc.Bytes(), &b); err != nil {
			pending = fmt.Errorf("wal line %d: %w", line, err)
			continue
		}

		m, ok := markets[b.Market]
		if !ok {
			m = &folded{orders: make(map[string]orderbook.Order)}
			markets[b.Market] = m
		}
		if b.Seq <= m.seq {
			continue // already applied
		}
		m.seq = b.Seq
		m.orderSeq = max(m.orderSeq, b.OrderSeq)
		m.tradeSeq = max(m.tradeSeq, b.TradeSeq)
		for _, o := range b.Orders {
			m.orders[o.ID.Hex()] = o
		}
		m.trades = append(m.trades, b.Trades...)
		if tradeLimit > 0 && len(m.trades) > tradeLimit {
			m.trades = m.trades[len(m.trades)-tradeLimit:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]engine.RestoreState, len(markets))
	for sym, m := range markets {
		st := engine.RestoreState{Trades: m.trades, BatchSeq: m.seq, OrderSeq: m.orderSeq, TradeSeq: m.tradeSeq}
		for _, o := range m.orders {
			if o.Active {
				st.Orders = append(st.Orders, o)
			}
		}
		out[sym] = st
	}
	return out, nil
}

var _ engine.Journal = (*NopWAL)(nil)
var _ engine.Journal = (*FileWAL)(nil)
