// Package events carries what a pair did to downstream consumers.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hybridx/pkg/app/core"
)

type Kind string

const (
	KindOrderCreated Kind = "order_created"
	KindMatched      Kind = "matched"
)

// Channel is the websocket channel an event kind is broadcast on.
func (k Kind) Channel() string {
	switch k {
	case KindOrderCreated:
		return "orders"
	case KindMatched:
		return "trades"
	default:
		return string(k)
	}
}

// Envelope wraps every event with its identity and origin.
type Envelope struct {
	ID      uuid.UUID `json:"id"`
	Kind    Kind      `json:"kind"`
	Pair    string    `json:"pair"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

func NewEnvelope(kind Kind, pair string, at time.Time, payload any) Envelope {
	return Envelope{ID: uuid.New(), Kind: kind, Pair: pair, Time: at, Payload: payload}
}

// OrderCreated is raised for every order that starts resting.
type OrderCreated struct {
	OrderID         uint64         `json:"orderId"`
	Owner           common.Address `json:"owner"`
	Beneficiary     common.Address `json:"beneficiary"`
	Side            core.Side      `json:"side"`
	Price           *uint256.Int   `json:"price"`
	AmountOffered   *uint256.Int   `json:"amountOffered"`
	AmountRemaining *uint256.Int   `json:"amountRemaining"`
}

// Fill is one maker's part of a match.
type Fill struct {
	OrderID     uint64         `json:"orderId"`
	Beneficiary common.Address `json:"beneficiary"`
	Price       *uint256.Int   `json:"price"`
	Paid        *uint256.Int   `json:"paid"`     // taker asset to the maker
	Received    *uint256.Int   `json:"received"` // maker asset to the taker, after fee
	Fee         *uint256.Int   `json:"fee"`
	Filled      bool           `json:"filled"`
}

// Matched summarizes one accepted request.
type Matched struct {
	BatchID    uuid.UUID      `json:"batchId"`
	Taker      common.Address `json:"taker"`
	Recipient  common.Address `json:"recipient"`
	Side       core.Side      `json:"side"`
	Offered    *uint256.Int   `json:"offered"`
	PoolIn     *uint256.Int   `json:"poolIn"`
	PoolOut    *uint256.Int   `json:"poolOut"`
	OrderIn    *uint256.Int   `json:"orderIn"`
	OrderOut   *uint256.Int   `json:"orderOut"`
	Fee        *uint256.Int   `json:"fee"`
	Leftover   *uint256.Int   `json:"leftover"`
	StartPrice *uint256.Int   `json:"startPrice"`
	EndPrice   *uint256.Int   `json:"endPrice"`
	Fills      []Fill         `json:"fills"`
}

// Sink receives published events. Publish must not block for long; the pair
// publishes after releasing its lock but still on the request path.
type Sink interface {
	Publish(ctx context.Context, ev Envelope) error
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Envelope) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, Envelope) error { return nil }

// MemorySink keeps published events in order.
type MemorySink struct {
	mu     sync.Mutex
	events []Envelope
}

func (m *MemorySink) Publish(_ context.Context, ev Envelope) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *MemorySink) Events() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.events))
	copy(out, m.events)
	return out
}

var (
	_ Sink = Fanout(nil)
	_ Sink = Discard{}
	_ Sink = (*MemorySink)(nil)
)
