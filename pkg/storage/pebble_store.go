package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/clobdex/pkg/engine"
	"github.com/uhyunpark/clobdex/pkg/orderbook"
)

// PebbleStore persists engine batches: the latest image of every order and an
// append-only trade log per market. The book itself is rebuilt from the
// active orders on startup.
type PebbleStore struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	logger    *zap.SugaredLogger
}

type PebbleOptions struct {
	// NoSync skips fsync on commit. Faster, loses the tail on power failure.
	NoSync bool
	Logger *zap.Logger
}

func NewPebbleStore(path string, opts PebbleOptions) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}

	writeOpts := pebble.Sync
	if opts.NoSync {
		writeOpts = pebble.NoSync
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PebbleStore{db: db, writeOpts: writeOpts, logger: logger.Sugar()}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Append writes one batch atomically: every order post-image, every trade,
// the market's batch sequence and its counters land together or not at all.
func (s *PebbleStore) Append(b *engine.Batch) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for i := range b.Orders {
		o := &b.Orders[i]
		data, err := encodeOrder(o)
		if err != nil {
			return err
		}
		if err := batch.Set(orderKey(o.Market, o.ID), data, nil); err != nil {
			return fmt.Errorf("failed to stage order: %w", err)
		}
	}
	for i := range b.Trades {
		t := &b.Trades[i]
		data, err := encodeTrade(t)
		if err != nil {
			return err
		}
		if err := batch.Set(tradeKey(t.Market, t.Seq), data, nil); err != nil {
			return fmt.Errorf("failed to stage trade: %w", err)
		}
	}
	if err := batch.Set(seqKey(b.Market), encodeU64(b.Seq), nil); err != nil {
		return fmt.Errorf("failed to stage seq: %w", err)
	}
	if err := batch.Set(counterKey(b.Market), encodeCounters(b.OrderSeq, b.TradeSeq), nil); err != nil {
		return fmt.Errorf("failed to stage counters: %w", err)
	}

	if err := batch.Commit(s.writeOpts); err != nil {
		return fmt.Errorf("failed to commit batch %s/%d: %w", b.Market, b.Seq, err)
	}
	return nil
}

// LoadOrder loads one order by id
// Returns ErrOrderNotFound if it was never stored
func (s *PebbleStore) LoadOrder(market string, id common.Hash) (orderbook.Order, error) {
	data, closer, err := s.db.Get(orderKey(market, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return orderbook.Order{}, fmt.Errorf("%w: %s", orderbook.ErrOrderNotFound, id.Hex())
	}
	if err != nil {
		return orderbook.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()

	return decodeOrder(data)
}

// LoadActiveOrders loads all orders of a market that were still resting at their last write
func (s *PebbleStore) LoadActiveOrders(market string) ([]orderbook.Order, error) {
	prefix := orderPrefix(market)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open order iterator: %w", err)
	}
	defer iter.Close()

	var orders []orderbook.Order
	for iter.First(); iter.Valid(); iter.Next() {
		o, err := decodeOrder(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", iter.Key(), err)
		}
		if o.Active {
			orders = append(orders, o)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("order scan failed: %w", err)
	}

	return orders, nil
}

// LoadRecentTrades loads the most recent N trades for a market, newest first
func (s *PebbleStore) LoadRecentTrades(market string, limit int) ([]engine.Trade, error) {
	prefix := tradePrefix(market)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []engine.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		t, err := decodeTrade(iter.Value())
		if err != nil {
			s.logger.Warnw("skip_corrupt_trade", "key", string(iter.Key()), "error", err)
			continue
		}
		trades = append(trades, t)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("trade scan failed: %w", err)
	}

	return trades, nil
}

// LastSeq returns the last batch sequence stored for market, 0 if none
func (s *PebbleStore) LastSeq(market string) (uint64, error) {
	data, closer, err := s.db.Get(seqKey(market))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seq: %w", err)
	}
	defer closer.Close()

	return decodeU64(data)
}

// LoadCounters returns the last order and trade sequences issued in market,
// zeros if none were stored
func (s *PebbleStore) LoadCounters(market string) (orderSeq, tradeSeq uint64, err error) {
	data, closer, err := s.db.Get(counterKey(market))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get counters: %w", err)
	}
	defer closer.Close()

	return decodeCounters(data)
}

// LoadState gathers what engine.Restore needs for one market
func (s *PebbleStore) LoadState(market string, tradeLimit int) (engine.RestoreState, error) {
	orders, err := s.LoadActiveOrders(market)
	if err != nil {
		return engine.RestoreState{}, err
	}
	trades, err := s.LoadRecentTrades(market, tradeLimit)
	if err != nil {
		return engine.RestoreState{}, err
	}
	seq, err := s.LastSeq(market)
	if err != nil {
		return engine.RestoreState{}, err
	}
	orderSeq, tradeSeq, err := s.LoadCounters(market)
	if err != nil {
		return engine.RestoreState{}, err
	}
	return engine.RestoreState{
		Orders:   orders,
		Trades:   trades,
		BatchSeq: seq,
		OrderSeq: orderSeq,
		TradeSeq: tradeSeq,
	}, nil
}

var _ engine.Journal = (*PebbleStore)(nil)
