package crypto

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator for request signatures
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the domain used by a local node
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "ClobDex",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// Side encoding inside typed data
const (
	SideBuy  uint8 = 0
	SideSell uint8 = 1
)

// PlaceOrderEIP712 is the typed payload an owner signs to place a limit order
type PlaceOrderEIP712 struct {
	Market        string
	Side          uint8 // 0 = Buy, 1 = Sell
	Price         int64 // ticks
	Quantity      int64 // lots
	ClientOrderID uint64
	Deadline      int64 // unix seconds
	Owner         common.Address
}

// CancelOrderEIP712 is the typed payload an owner signs to cancel an order
type CancelOrderEIP712 struct {
	OrderID  common.Hash
	Market   string
	Deadline int64
	Owner    common.Address
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// RequestSigner hashes, signs and recovers place/cancel requests under one domain
type RequestSigner struct {
	domain EIP712Domain
}

func NewRequestSigner(domain EIP712Domain) *RequestSigner {
	return &RequestSigner{domain: domain}
}

func (e *RequestSigner) typedDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              e.domain.Name,
		Version:           e.domain.Version,
		ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
		VerifyingContract: e.domain.VerifyingContract.Hex(),
	}
}

// digest computes keccak256("\x19\x01" || domainSeparator || hashStruct(message))
func (e *RequestSigner) digest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

// HashPlaceOrder returns the digest an owner signs for a place request
func (e *RequestSigner) HashPlaceOrder(p *PlaceOrderEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"PlaceOrder": []apitypes.Type{
				{Name: "market", Type: "string"},
				{Name: "side", Type: "uint8"},
				{Name: "price", Type: "uint256"},
				{Name: "quantity", Type: "uint256"},
				{Name: "clientOrderId", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "owner", Type: "address"},
			},
		},
		PrimaryType: "PlaceOrder",
		Domain:      e.typedDomain(),
		Message: apitypes.TypedDataMessage{
			"market":        p.Market,
			"side":          strconv.FormatUint(uint64(p.Side), 10),
			"price":         strconv.FormatInt(p.Price, 10),
			"quantity":      strconv.FormatInt(p.Quantity, 10),
			"clientOrderId": strconv.FormatUint(p.ClientOrderID, 10),
			"deadline":      strconv.FormatInt(p.Deadline, 10),
			"owner":         p.Owner.Hex(),
		},
	}
	return e.digest(typedData)
}

// HashCancelOrder returns the digest an owner signs for a cancel request
func (e *RequestSigner) HashCancelOrder(c *CancelOrderEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"CancelOrder": []apitypes.Type{
				{Name: "orderId", Type: "string"},
				{Name: "market", Type: "string"},
				{Name: "deadline", Type: "uint256"},
				{Name: "owner", Type: "address"},
			},
		},
		PrimaryType: "CancelOrder",
		Domain:      e.typedDomain(),
		Message: apitypes.TypedDataMessage{
			"orderId":  c.OrderID.Hex(),
			"market":   c.Market,
			"deadline": strconv.FormatInt(c.Deadline, 10),
			"owner":    c.Owner.Hex(),
		},
	}
	return e.digest(typedData)
}

// SignPlaceOrder signs a place request with signer
func (e *RequestSigner) SignPlaceOrder(signer *Signer, p *PlaceOrderEIP712) ([]byte, error) {
	hash, err := e.HashPlaceOrder(p)
	if err != nil {
		return nil, fmt.Errorf("failed to hash place order: %w", err)
	}
	return signer.Sign(hash)
}

// SignCancelOrder signs a cancel request with signer
func (e *RequestSigner) SignCancelOrder(signer *Signer, c *CancelOrderEIP712) ([]byte, error) {
	hash, err := e.HashCancelOrder(c)
	if err != nil {
		return nil, fmt.Errorf("failed to hash cancel order: %w", err)
	}
	return signer.Sign(hash)
}

// RecoverPlaceOrderSigner returns the address that signed p
func (e *RequestSigner) RecoverPlaceOrderSigner(p *PlaceOrderEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashPlaceOrder(p)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash place order: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// RecoverCancelOrderSigner returns the address that signed c
func (e *RequestSigner) RecoverCancelOrderSigner(c *CancelOrderEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashCancelOrder(c)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash cancel order: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// SideToUint8 maps the API side string to its typed-data encoding
func SideToUint8(side string) (uint8, error) {
	switch side {
	case "buy", "BUY":
		return SideBuy, nil
	case "sell", "SELL":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", side)
	}
}
