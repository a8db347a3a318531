package crypto

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// orderSeed domain-separates order ids from any other keccak use in the node.
var orderSeed = []byte("order")

// DeriveOrderID returns the deterministic identity of an order placed by owner
// in market with the owner-chosen clientOrderID.
//
// Layout hashed with keccak256:
//
//	"order" || uint16(len(market)) BE || market || owner (20 bytes) || clientOrderID (8 bytes LE)
//
// The same triple always maps to the same id, so a client can recompute the id
// of an order it placed without keeping any index.
func DeriveOrderID(market string, owner common.Address, clientOrderID uint64) common.Hash {
	var marketLen [2]byte
	binary.BigEndian.PutUint16(marketLen[:], uint16(len(market)))

	var coid [8]byte
	binary.LittleEndian.PutUint64(coid[:], clientOrderID)

	h := sha3.NewLegacyKeccak256()
	h.Write(orderSeed)
	h.Write(marketLen[:])
	h.Write([]byte(market))
	h.Write(owner.Bytes())
	h.Write(coid[:])

	var id common.Hash
	h.Sum(id[:0])
	return id
}
