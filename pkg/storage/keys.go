package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema for Pebble storage:
//
//   ord:<market>:<orderID>      → Order (JSON, latest post-image)
//   trade:<market>:<seq>        → Trade (JSON, append-only)
//   seq:<market>                → last applied batch sequence (8-byte BE)
//   ctr:<market>                → last order seq, last trade seq (2 x 8-byte BE)
//
// Market symbols never contain ':' so prefixes of different markets cannot overlap.

const (
	prefixOrder = "ord:"
	prefixTrade = "trade:"
	prefixSeq   = "seq:"
	prefixCtr   = "ctr:"
)

// orderKey returns the key for an order
// Format: "ord:{market}:{orderID}"
func orderKey(market string, id common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, market, id.Hex()))
}

// orderPrefix returns the prefix for all orders of a market
// Format: "ord:{market}:"
func orderPrefix(market string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, market))
}

// tradeKey returns the key for a trade
// Format: "trade:{market}:{seq}"
// Seq is zero-padded (20 digits) for lexicographic sorting
func tradeKey(market string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, market, seq))
}

// tradePrefix returns the prefix for all trades of a market
// Format: "trade:{market}:"
func tradePrefix(market string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, market))
}

// seqKey returns the key holding a market's last batch sequence
func seqKey(market string) []byte {
	return []byte(prefixSeq + market)
}

// counterKey returns the key holding a market's order and trade counters
func counterKey(market string) []byte {
	return []byte(prefixCtr + market)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
