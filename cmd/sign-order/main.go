package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/clobdex/pkg/api"
	"github.com/uhyunpark/clobdex/pkg/crypto"
)

func main() {
	var (
		keyHex   = flag.String("key", os.Getenv("PRIVATE_KEY"), "hex private key (default: generate a new one)")
		market   = flag.String("market", "SOL-USDC", "market symbol")
		side     = flag.String("side", "buy", "buy or sell")
		price    = flag.Int64("price", 100, "limit price in ticks")
		qty      = flag.Int64("qty", 10, "quantity in lots")
		coid     = flag.Uint64("coid", 1, "client order id")
		chainID  = flag.Int64("chain-id", 1337, "EIP-712 domain chain id")
		validFor = flag.Duration("valid-for", 2*time.Minute, "signature lifetime")
	)
	flag.Parse()

	// Step 1: Generate or load key
	var (
		signer *crypto.Signer
		err    error
	)
	if *keyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	} else {
		fmt.Fprintln(os.Stderr, "Generating new keypair...")
		signer, err = crypto.GenerateKey()
		if err == nil {
			fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Address: %s\n\n", signer.Address().Hex())

	sideCode, err := crypto.SideToUint8(*side)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(*chainID)
	rs := crypto.NewRequestSigner(domain)
	deadline := time.Now().Add(*validFor).Unix()

	// Step 2: Sign the place request
	place := &crypto.PlaceOrderEIP712{
		Market:        *market,
		Side:          sideCode,
		Price:         *price,
		Quantity:      *qty,
		ClientOrderID: *coid,
		Deadline:      deadline,
		Owner:         signer.Address(),
	}
	placeSig, err := rs.SignPlaceOrder(signer, place)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing: %v\n", err)
		os.Exit(1)
	}

	// Step 3: Sign a cancel for the same order
	orderID := crypto.DeriveOrderID(*market, signer.Address(), *coid)
	cancel := &crypto.CancelOrderEIP712{
		OrderID:  orderID,
		Market:   *market,
		Deadline: deadline,
		Owner:    signer.Address(),
	}
	cancelSig, err := rs.SignCancelOrder(signer, cancel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing: %v\n", err)
		os.Exit(1)
	}

	// Step 4: Verify before printing
	if got, err := rs.RecoverPlaceOrderSigner(place, placeSig); err != nil || got != signer.Address() {
		fmt.Fprintf(os.Stderr, "Signature INVALID: %v\n", err)
		os.Exit(1)
	}

	out := struct {
		OrderID string                 `json:"orderId"`
		Place   api.SubmitOrderRequest `json:"place"`
		Cancel  api.CancelOrderRequest `json:"cancel"`
	}{
		OrderID: orderID.Hex(),
		Place: api.SubmitOrderRequest{
			Market:        *market,
			Side:          *side,
			Price:         *price,
			Quantity:      *qty,
			ClientOrderID: *coid,
			Deadline:      deadline,
			Owner:         signer.Address().Hex(),
			Signature:     hexutil.Encode(placeSig),
		},
		Cancel: api.CancelOrderRequest{
			OrderID:   orderID.Hex(),
			Market:    *market,
			Deadline:  deadline,
			Owner:     signer.Address().Hex(),
			Signature: hexutil.Encode(cancelSig),
		},
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, "\nSubmit with:")
	fmt.Fprintln(os.Stderr, "  POST http://localhost:8080/api/v1/orders        body: .place")
	fmt.Fprintln(os.Stderr, "  POST http://localhost:8080/api/v1/orders/cancel body: .cancel")
}
