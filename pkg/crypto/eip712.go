package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator input. It binds a signature to one
// venue deployment so it cannot be replayed against another.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // zero for off-chain venues
}

func DefaultDomain() Domain {
	return Domain{
		Name:    "HybridX",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// OrderIntent is the message a wallet signs to submit a request.
type OrderIntent struct {
	Pair      string         // e.g. "HYB-USDC"
	Side      uint8          // 1 = buy, 2 = sell
	Amount    *big.Int       // offered amount, in the offered token's base units
	Price     *big.Int       // limit price, fixed point
	Recipient common.Address // zero means the owner
	Nonce     *big.Int
	Deadline  *big.Int // unix seconds, 0 = no expiry
	Owner     common.Address
}

var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "pair", Type: "string"},
		{Name: "side", Type: "uint8"},
		{Name: "amount", Type: "uint256"},
		{Name: "price", Type: "uint256"},
		{Name: "recipient", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
}

// TypedSigner hashes, signs and verifies order intents under one domain.
type TypedSigner struct {
	domain Domain
}

func NewTypedSigner(domain Domain) *TypedSigner {
	return &TypedSigner{domain: domain}
}

func (e *TypedSigner) Domain() Domain { return e.domain }

// TypedData renders o in the eth_signTypedData_v4 layout wallets expect.
func (e *TypedSigner) TypedData(o *OrderIntent) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"pair":      o.Pair,
			"side":      fmt.Sprintf("%d", o.Side),
			"amount":    o.Amount.String(),
			"price":     o.Price.String(),
			"recipient": o.Recipient.Hex(),
			"nonce":     o.Nonce.String(),
			"deadline":  o.Deadline.String(),
			"owner":     o.Owner.Hex(),
		},
	}
}

// HashOrder returns keccak256("\x19\x01" || domainSeparator || hashStruct(order)).
func (e *TypedSigner) HashOrder(o *OrderIntent) ([]byte, error) {
	if o.Amount == nil || o.Price == nil || o.Nonce == nil || o.Deadline == nil {
		return nil, fmt.Errorf("order intent has unset numeric fields")
	}
	td := e.TypedData(o)
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}
	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func (e *TypedSigner) SignOrder(s *Signer, o *OrderIntent) ([]byte, error) {
	hash, err := e.HashOrder(o)
	if err != nil {
		return nil, err
	}
	return s.Sign(hash)
}

// RecoverOrderSigner returns the address that signed o.
func (e *TypedSigner) RecoverOrderSigner(o *OrderIntent, signature []byte) (common.Address, error) {
	hash, err := e.HashOrder(o)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}
