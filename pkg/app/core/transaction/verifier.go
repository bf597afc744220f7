package transaction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hybridx/pkg/app/core"
	"github.com/uhyunpark/hybridx/pkg/app/core/matching"
	"github.com/uhyunpark/hybridx/pkg/crypto"
	"github.com/uhyunpark/hybridx/pkg/util"
)

var (
	ErrBadSignature = errors.New("signature does not match owner")
	ErrNonceUsed    = errors.New("nonce already used")
	ErrExpired      = errors.New("order deadline passed")
	ErrWrongPair    = errors.New("order is for another pair")
)

// Verifier turns signed submissions into matching requests. It remembers
// every accepted (owner, nonce) so a signature is honoured once.
type Verifier struct {
	pair     string
	signer   *crypto.TypedSigner
	clock    util.Clock
	required bool

	mu     sync.Mutex
	nonces map[common.Address]map[string]struct{}
}

// NewVerifier checks submissions for pair. With required false, unsigned
// submissions are trusted as coming from their stated owner.
func NewVerifier(pair string, domain crypto.Domain, clock util.Clock, required bool) *Verifier {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Verifier{
		pair:     pair,
		signer:   crypto.NewTypedSigner(domain),
		clock:    clock,
		required: required,
		nonces:   make(map[common.Address]map[string]struct{}),
	}
}

// Verify authenticates so and consumes its nonce.
func (v *Verifier) Verify(so *SignedOrder) (matching.Request, error) {
	intent, err := so.Order.ToIntent()
	if err != nil {
		return matching.Request{}, err
	}
	if intent.Pair != v.pair {
		return matching.Request{}, fmt.Errorf("%w: %q", ErrWrongPair, intent.Pair)
	}
	if d := intent.Deadline; d.Sign() > 0 && d.IsInt64() && v.clock.Now().Unix() > d.Int64() {
		return matching.Request{}, ErrExpired
	}

	if so.Signature != "" || v.required {
		sig, err := crypto.DecodeSignature(so.Signature)
		if err != nil {
			return matching.Request{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		signer, err := v.signer.RecoverOrderSigner(intent, sig)
		if err != nil {
			return matching.Request{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		if signer != intent.Owner {
			return matching.Request{}, fmt.Errorf("%w: recovered %s", ErrBadSignature, signer.Hex())
		}
	}

	req, err := toRequest(intent)
	if err != nil {
		return matching.Request{}, err
	}
	if err := v.useNonce(intent.Owner, intent.Nonce.String()); err != nil {
		return matching.Request{}, err
	}
	return req, nil
}

func (v *Verifier) useNonce(owner common.Address, nonce string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	used, ok := v.nonces[owner]
	if !ok {
		used = make(map[string]struct{})
		v.nonces[owner] = used
	}
	if _, dup := used[nonce]; dup {
		return fmt.Errorf("%w: %s", ErrNonceUsed, nonce)
	}
	used[nonce] = struct{}{}
	return nil
}

func toRequest(o *crypto.OrderIntent) (matching.Request, error) {
	side := core.Side(o.Side)
	if !side.Valid() {
		return matching.Request{}, fmt.Errorf("%w: %d", core.ErrInvalidSide, o.Side)
	}
	amount, overflow := uint256.FromBig(o.Amount)
	if overflow {
		return matching.Request{}, fmt.Errorf("amount: %w", core.ErrOverflow)
	}
	price, overflow := uint256.FromBig(o.Price)
	if overflow {
		return matching.Request{}, fmt.Errorf("price: %w", core.ErrOverflow)
	}
	return matching.Request{
		Side:      side,
		Amount:    amount,
		Price:     price,
		Owner:     o.Owner,
		Recipient: o.Recipient,
	}, nil
}
