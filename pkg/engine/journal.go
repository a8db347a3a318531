package engine

import (
	"errors"

	"github.com/uhyunpark/clobdex/pkg/orderbook"
)

type BatchKind string

const (
	BatchPlace  BatchKind = "place"
	BatchCancel BatchKind = "cancel"
)

// Batch is the full set of mutations one place or cancel performed on a market:
// the post-image of every order it touched and every trade it produced.
// Replaying batches in Seq order rebuilds the market.
type Batch struct {
	Market string            `json:"market"`
	Seq    uint64            `json:"seq"` // per-market mutation sequence, starts at 1
	Kind   BatchKind         `json:"kind"`
	Orders []orderbook.Order `json:"orders"`
	Trades []Trade           `json:"trades,omitempty"`
	Time   int64             `json:"time"` // unix nanos

	// market counters after this batch; trade keys are never reissued below TradeSeq
	OrderSeq uint64 `json:"order_seq"`
	TradeSeq uint64 `json:"trade_seq"`
}

// Journal receives every batch synchronously while the market is still locked,
// so batches reach it in Seq order per market.
type Journal interface {
	Append(b *Batch) error
}

// MultiJournal fans a batch out to several journals; all are attempted.
type MultiJournal []Journal

func (m MultiJournal) Append(b *Batch) error {
	var errs []error
	for _, j := range m {
		if err := j.Append(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopJournal struct{}

func (nopJournal) Append(*Batch) error { return nil }
