package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/clobdex/pkg/engine"
	"github.com/uhyunpark/clobdex/pkg/orderbook"
)

func encodeOrder(o *orderbook.Order) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}
	return b, nil
}

func decodeOrder(b []byte) (orderbook.Order, error) {
	var o orderbook.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return o, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return o, nil
}

func encodeTrade(t *engine.Trade) ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trade: %w", err)
	}
	return b, nil
}

func decodeTrade(b []byte) (engine.Trade, error) {
	var t engine.Trade
	if err := json.Unmarshal(b, &t); err != nil {
		return t, fmt.Errorf("failed to unmarshal trade: %w", err)
	}
	return t, nil
}

func encodeU64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

func decodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// encodeCounters packs the order and trade sequences, in that order
func encodeCounters(orderSeq, tradeSeq uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], orderSeq)
	binary.BigEndian.PutUint64(b[8:], tradeSeq)
	return b
}

func decodeCounters(b []byte) (orderSeq, tradeSeq uint64, err error) {
	if len(b) != 16 {
		return 0, 0, fmt.Errorf("expected 16 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b[:8]), binary.BigEndian.Uint64(b[8:]), nil
}
