package orderbook

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hybridx/pkg/app/core"
)

// Order is a resting limit order. Price never changes after creation and
// AmountRemaining only decreases, through fills.
type Order struct {
	ID              uint64         `json:"id"`
	Owner           common.Address `json:"owner"`
	Beneficiary     common.Address `json:"beneficiary"` // receives the proceeds of fills
	Side            core.Side      `json:"side"`
	Price           *uint256.Int   `json:"price"`
	AmountOffered   *uint256.Int   `json:"amountOffered"`   // offered amount of the request that created it
	AmountRemaining *uint256.Int   `json:"amountRemaining"` // escrowed amount still on the book
}

// Live reports whether the order still rests on the book.
func (o *Order) Live() bool {
	return o.AmountRemaining != nil && !o.AmountRemaining.IsZero()
}

func (o *Order) Clone() *Order {
	cp := *o
	cp.Price = o.Price.Clone()
	cp.AmountOffered = o.AmountOffered.Clone()
	cp.AmountRemaining = o.AmountRemaining.Clone()
	return &cp
}

// Fill is one resting order's share of a take.
type Fill struct {
	OrderID     uint64
	Owner       common.Address
	Beneficiary common.Address
	Price       *uint256.Int
	Consumed    *uint256.Int // taker asset paid to the maker
	Gross       *uint256.Int // maker asset debited from the order
	Fee         *uint256.Int // part of Gross withheld as fee
	Filled      bool         // order left the book
}

// Net is what the taker receives from this fill.
func (f Fill) Net() *uint256.Int {
	return new(uint256.Int).Sub(f.Gross, f.Fee)
}

// Take aggregates the fills at one price.
type Take struct {
	Consumed *uint256.Int // taker asset consumed
	Received *uint256.Int // maker asset debited from orders, fee included
	Fee      *uint256.Int
	Fills    []Fill
}

// PriceLevel is the aggregate remaining amount at one price.
type PriceLevel struct {
	Price  *uint256.Int `json:"price"`
	Amount *uint256.Int `json:"amount"`
}
