// Package settlement turns match results into token transfers and applies them.
package settlement

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hybridx/pkg/app/core/market"
	"github.com/uhyunpark/hybridx/pkg/app/core/matching"
)

// Transfer moves Amount of Token between two accounts.
type Transfer struct {
	Token  common.Address `json:"token"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

// Batch is the set of transfers of one unit of work. It applies whole or not
// at all.
type Batch struct {
	ID        uuid.UUID  `json:"id"`
	Transfers []Transfer `json:"transfers"`
}

// Settler executes batches against whatever holds the tokens. Implementations
// must not call back into the pair that produced the batch.
type Settler interface {
	Settle(ctx context.Context, b Batch) error
}

// Accounts are the venue-side parties of every batch.
type Accounts struct {
	Pool         common.Address // holds the reserves
	Venue        common.Address // escrows resting orders
	FeeRecipient common.Address // collects fees withheld from fills
}

// Build lists the transfers that realize res. The taker escrows the whole
// offered amount with the venue, which then pays the pool and the makers and
// keeps the leftover for the resting order.
func Build(m *market.Market, acc Accounts, taker, recipient common.Address, res matching.Result) Batch {
	offered, received := m.Tokens(res.Side)
	b := Batch{ID: uuid.New()}
	add := func(token, from, to common.Address, amount *uint256.Int) {
		if amount == nil || amount.IsZero() {
			return
		}
		b.Transfers = append(b.Transfers, Transfer{Token: token, From: from, To: to, Amount: amount.Clone()})
	}

	add(offered, taker, acc.Venue, res.Offered)
	add(offered, acc.Venue, acc.Pool, res.PoolIn)
	add(received, acc.Pool, recipient, res.PoolOut)
	for _, f := range res.Fills {
		add(offered, acc.Venue, f.Beneficiary, f.Consumed)
		add(received, acc.Venue, recipient, f.Net())
		add(received, acc.Venue, acc.FeeRecipient, f.Fee)
	}
	return b
}
