// Package transaction decodes and authenticates signed order submissions.
package transaction

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hybridx/pkg/crypto"
)

// ErrMalformed marks a payload that does not parse.
var ErrMalformed = errors.New("malformed order")

// SignedOrder is the wire form of a submission.
type SignedOrder struct {
	Order     OrderPayload `json:"order"`
	Signature string       `json:"signature,omitempty"` // 0x-prefixed [R || S || V]
}

// OrderPayload carries big numbers as decimal strings.
type OrderPayload struct {
	Pair      string `json:"pair"`
	Side      uint8  `json:"side"`   // 1=buy, 2=sell
	Amount    string `json:"amount"` // offered token base units
	Price     string `json:"price"`  // fixed point
	Recipient string `json:"recipient,omitempty"`
	Nonce     string `json:"nonce"`
	Deadline  string `json:"deadline,omitempty"` // unix seconds, "" or "0" = none
	Owner     string `json:"owner"`
}

func parseBig(field, v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformed, field, v)
	}
	return n, nil
}

// ToIntent converts p to the typed message that was signed.
func (p *OrderPayload) ToIntent() (*crypto.OrderIntent, error) {
	if !common.IsHexAddress(p.Owner) {
		return nil, fmt.Errorf("%w: invalid owner %q", ErrMalformed, p.Owner)
	}
	var recipient common.Address
	if p.Recipient != "" {
		if !common.IsHexAddress(p.Recipient) {
			return nil, fmt.Errorf("%w: invalid recipient %q", ErrMalformed, p.Recipient)
		}
		recipient = common.HexToAddress(p.Recipient)
	}
	amount, err := parseBig("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	price, err := parseBig("price", p.Price)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}
	deadline := new(big.Int)
	if p.Deadline != "" {
		if deadline, err = parseBig("deadline", p.Deadline); err != nil {
			return nil, err
		}
	}
	return &crypto.OrderIntent{
		Pair:      p.Pair,
		Side:      p.Side,
		Amount:    amount,
		Price:     price,
		Recipient: recipient,
		Nonce:     nonce,
		Deadline:  deadline,
		Owner:     common.HexToAddress(p.Owner),
	}, nil
}

// FromIntent is the inverse of ToIntent.
func FromIntent(o *crypto.OrderIntent) OrderPayload {
	p := OrderPayload{
		Pair:     o.Pair,
		Side:     o.Side,
		Amount:   o.Amount.String(),
		Price:    o.Price.String(),
		Nonce:    o.Nonce.String(),
		Deadline: o.Deadline.String(),
		Owner:    o.Owner.Hex(),
	}
	if o.Recipient != (common.Address{}) {
		p.Recipient = o.Recipient.Hex()
	}
	return p
}
