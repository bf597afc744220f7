package amm

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/hybridx/pkg/app/core"
)

// Proportional trading fee, taken on the input leg of every pool swap and on the
// output of every resting-order fill: 3/1000 = 0.3%.
const (
	FeeNumerator   = 3
	FeeDenominator = 1000
)

var (
	feeNum  = uint256.NewInt(FeeNumerator)
	feeDen  = uint256.NewInt(FeeDenominator)
	feeKeep = uint256.NewInt(FeeDenominator - FeeNumerator)
)

// Reserves is the pool's (base, quote) balance pair.
type Reserves struct {
	Base  *uint256.Int `json:"base"`
	Quote *uint256.Int `json:"quote"`
}

// NewReserves copies base and quote into a new pair.
func NewReserves(base, quote *uint256.Int) Reserves {
	return Reserves{Base: base.Clone(), Quote: quote.Clone()}
}

func (r Reserves) Clone() Reserves {
	return NewReserves(r.Base, r.Quote)
}

// Valid reports whether both sides are set and strictly positive.
func (r Reserves) Valid() bool {
	return r.Base != nil && r.Quote != nil && !r.Base.IsZero() && !r.Quote.IsZero()
}

// Product returns base*quote. It may exceed 256 bits.
func (r Reserves) Product() *big.Int {
	return new(big.Int).Mul(r.Base.ToBig(), r.Quote.ToBig())
}

// split returns (reserveIn, reserveOut) for a taker on side.
func (r Reserves) split(side core.Side) (*uint256.Int, *uint256.Int) {
	if side == core.Buy {
		return r.Quote, r.Base
	}
	return r.Base, r.Quote
}

// join builds reserves back from (reserveIn, reserveOut) for a taker on side.
func join(side core.Side, in, out *uint256.Int) Reserves {
	if side == core.Buy {
		return Reserves{Base: out, Quote: in}
	}
	return Reserves{Base: in, Quote: out}
}

// Scale returns 10^decimals.
func Scale(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}

// AmountOut returns floor(in' * reserveOut / (reserveIn + in')) where in' is
// amountIn with the fee removed.
func AmountOut(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, core.ErrInsufficientAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, core.ErrInsufficientReserves
	}
	withFee, overflow := new(uint256.Int).MulOverflow(amountIn, feeKeep)
	if overflow {
		return nil, fmt.Errorf("amount out: %w", core.ErrOverflow)
	}
	denominator, overflow := new(uint256.Int).MulOverflow(reserveIn, feeDen)
	if overflow {
		return nil, fmt.Errorf("amount out: %w", core.ErrOverflow)
	}
	if _, overflow = denominator.AddOverflow(denominator, withFee); overflow {
		return nil, fmt.Errorf("amount out: %w", core.ErrOverflow)
	}
	out, _ := new(uint256.Int).MulDivOverflow(withFee, reserveOut, denominator)
	return out, nil
}

// AmountIn is the inverse of AmountOut: the smallest input (fee included) that
// yields at least amountOut.
func AmountIn(amountOut, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountOut == nil || amountOut.IsZero() {
		return nil, core.ErrInsufficientAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, core.ErrInsufficientReserves
	}
	if !amountOut.Lt(reserveOut) {
		return nil, fmt.Errorf("amount in for %s of %s: %w", amountOut.Dec(), reserveOut.Dec(), core.ErrInsufficientReserves)
	}
	scaled, overflow := new(uint256.Int).MulOverflow(amountOut, feeDen)
	if overflow {
		return nil, fmt.Errorf("amount in: %w", core.ErrOverflow)
	}
	denominator := new(uint256.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, feeKeep)
	in, overflow := new(uint256.Int).MulDivOverflow(reserveIn, scaled, denominator)
	if overflow {
		return nil, fmt.Errorf("amount in: %w", core.ErrOverflow)
	}
	if _, overflow = in.AddOverflow(in, uint256.NewInt(1)); overflow {
		return nil, fmt.Errorf("amount in: %w", core.ErrOverflow)
	}
	return in, nil
}

// Price returns quote*10^decimals/base, truncated.
func Price(r Reserves, decimals uint8) (*uint256.Int, error) {
	if !r.Valid() {
		return nil, core.ErrInsufficientReserves
	}
	p, overflow := new(uint256.Int).MulDivOverflow(r.Quote, Scale(decimals), r.Base)
	if overflow {
		return nil, fmt.Errorf("price: %w", core.ErrOverflow)
	}
	return p, nil
}

// Fee returns amount*3/1000, truncated.
func Fee(amount *uint256.Int) *uint256.Int {
	fee, _ := new(uint256.Int).MulDivOverflow(amount, feeNum, feeDen)
	return fee
}
