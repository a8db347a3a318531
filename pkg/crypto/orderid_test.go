package crypto

import (
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestDeriveOrderID_Deterministic(t *testing.T) {
	owner := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1")

	a := DeriveOrderID("SOL-USDC", owner, 42)
	b := DeriveOrderID("SOL-USDC", owner, 42)
	if a != b {
		t.Fatalf("same inputs gave different ids: %s vs %s", a.Hex(), b.Hex())
	}
	if a == (common.Hash{}) {
		t.Fatal("derived zero id")
	}
}

func TestDeriveOrderID_MatchesKeccakLayout(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	market := "BTC-USDC"
	coid := uint64(0x0102030405060708)

	buf := []byte("order")
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(market)))
	buf = append(buf, market...)
	buf = append(buf, owner.Bytes()...)
	buf = binary.LittleEndian.AppendUint64(buf, coid)

	want := eth_crypto.Keccak256Hash(buf)
	if got := DeriveOrderID(market, owner, coid); got != want {
		t.Errorf("DeriveOrderID = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestDeriveOrderID_EachInputMatters(t *testing.T) {
	ownerA := common.HexToAddress("0x1000000000000000000000000000000000000001")
	ownerB := common.HexToAddress("0x2000000000000000000000000000000000000002")
	base := DeriveOrderID("SOL-USDC", ownerA, 1)

	tests := []struct {
		name string
		id   common.Hash
	}{
		{"different market", DeriveOrderID("ETH-USDC", ownerA, 1)},
		{"different owner", DeriveOrderID("SOL-USDC", ownerB, 1)},
		{"different client order id", DeriveOrderID("SOL-USDC", ownerA, 2)},
		{"market boundary shift", DeriveOrderID("SOL-USD", ownerA, 1)},
	}

	seen := map[common.Hash]string{base: "base"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.id == base {
				t.Fatalf("id collided with base: %s", tt.id.Hex())
			}
			if prev, ok := seen[tt.id]; ok {
				t.Fatalf("id collided with %q", prev)
			}
			seen[tt.id] = tt.name
		})
	}
}
