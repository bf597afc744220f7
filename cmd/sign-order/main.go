// Command sign-order prints an EIP-712 signed order ready to POST to
// /api/v1/orders.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/uhyunpark/hybridx/pkg/app/core"
	"github.com/uhyunpark/hybridx/pkg/app/core/transaction"
	"github.com/uhyunpark/hybridx/pkg/crypto"
)

func main() {
	var (
		key       = flag.String("key", "", "hex private key (random if empty)")
		pair      = flag.String("pair", "HYB-USDC", "pair symbol")
		side      = flag.String("side", "buy", "buy or sell")
		amount    = flag.String("amount", "1000000000000000000", "offered amount in base units")
		price     = flag.String("price", "2000000000000000000", "limit price, fixed point")
		recipient = flag.String("recipient", "", "address receiving the proceeds (default owner)")
		nonce     = flag.Int64("nonce", time.Now().UnixNano(), "replay protection nonce")
		ttl       = flag.Duration("ttl", 0, "validity window, 0 = no expiry")
		chainID   = flag.Int64("chain-id", 1337, "EIP-712 domain chain id")
		typed     = flag.Bool("typed-data", false, "print the eth_signTypedData_v4 payload instead")
	)
	flag.Parse()

	if err := run(*key, *pair, *side, *amount, *price, *recipient, *nonce, *ttl, *chainID, *typed); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(key, pair, sideArg, amount, price, recipient string, nonce int64, ttl time.Duration, chainID int64, typed bool) error {
	signer, err := loadSigner(key)
	if err != nil {
		return err
	}
	side, err := core.ParseSide(sideArg)
	if err != nil {
		return err
	}

	payload := transaction.OrderPayload{
		Pair:      pair,
		Side:      uint8(side),
		Amount:    amount,
		Price:     price,
		Recipient: recipient,
		Nonce:     fmt.Sprint(nonce),
		Deadline:  "0",
		Owner:     signer.Address().Hex(),
	}
	if ttl > 0 {
		payload.Deadline = fmt.Sprint(time.Now().Add(ttl).Unix())
	}
	intent, err := payload.ToIntent()
	if err != nil {
		return err
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(chainID)
	ts := crypto.NewTypedSigner(domain)

	if typed {
		return printJSON(ts.TypedData(intent))
	}

	sig, err := ts.SignOrder(signer, intent)
	if err != nil {
		return err
	}
	so := transaction.SignedOrder{Order: payload, Signature: crypto.EncodeSignature(sig)}

	// self-check against the verifier the node runs
	v := transaction.NewVerifier(pair, domain, nil, true)
	req, err := v.Verify(&so)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if req.Owner != signer.Address() {
		return fmt.Errorf("verify: owner %s, want %s", req.Owner.Hex(), signer.Address().Hex())
	}

	fmt.Fprintf(os.Stderr, "Signer: %s\n", signer.Address().Hex())
	return printJSON(so)
}

func loadSigner(key string) (*crypto.Signer, error) {
	if key != "" {
		return crypto.FromPrivateKeyHex(key)
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Generated key for %s: %s (KEEP SECRET!)\n", s.Address().Hex(), s.PrivateKeyHex())
	return s, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

