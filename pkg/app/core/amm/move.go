package amm

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/hybridx/pkg/app/core"
)

// Move is the pool-only leg that walks the price toward a target.
type Move struct {
	AmountIn  *uint256.Int // offered asset consumed by the pool
	AmountOut *uint256.Int // contra asset paid out by the pool
	Leftover  *uint256.Int // offered asset not needed to reach the target
	Reserves  Reserves     // reserves after the move
}

// MovePrice computes the pool-only trade that brings the pool price to target
// without crossing it. For a Buy the realized price ends <= target and for a Sell
// it ends >= target. If offered cannot reach the target, all of it is swapped and
// Leftover is zero. If the price already sits at or beyond the target nothing is
// swapped.
func MovePrice(side core.Side, offered *uint256.Int, reserves Reserves, target *uint256.Int, decimals uint8) (Move, error) {
	if !side.Valid() {
		return Move{}, core.ErrInvalidSide
	}
	if target == nil || target.IsZero() {
		return Move{}, core.ErrInvalidPrice
	}
	current, err := Price(reserves, decimals)
	if err != nil {
		return Move{}, err
	}

	idle := Move{
		AmountIn:  new(uint256.Int),
		AmountOut: new(uint256.Int),
		Leftover:  offered.Clone(),
		Reserves:  reserves.Clone(),
	}
	if offered.IsZero() {
		return idle, nil
	}
	if (side == core.Buy && !current.Lt(target)) || (side == core.Sell && !current.Gt(target)) {
		return idle, nil
	}

	reserveIn, reserveOut := reserves.split(side)
	scale := Scale(decimals)
	reached := func(x *uint256.Int) bool {
		return priceReached(side, x, reserveIn, reserveOut, target, scale)
	}
	amount := fixAmountForMovePrice(estimateMoveAmount(side, reserves, target, scale), reached)

	leftover := new(uint256.Int)
	if offered.Gt(amount) {
		leftover.Sub(offered, amount)
	} else {
		amount = offered.Clone()
	}
	if amount.IsZero() {
		return idle, nil
	}

	out, err := AmountOut(amount, reserveIn, reserveOut)
	if err != nil {
		return Move{}, fmt.Errorf("move price to %s: %w", target.Dec(), err)
	}
	in, overflow := new(uint256.Int).AddOverflow(reserveIn, amount)
	if overflow {
		return Move{}, fmt.Errorf("move price to %s: %w", target.Dec(), core.ErrOverflow)
	}
	after := join(side, in, new(uint256.Int).Sub(reserveOut, out))
	if !after.Valid() {
		return Move{}, fmt.Errorf("move price to %s: %w", target.Dec(), core.ErrInsufficientReserves)
	}

	return Move{
		AmountIn:  amount,
		AmountOut: out,
		Leftover:  leftover,
		Reserves:  after,
	}, nil
}

// estimateMoveAmount solves the fee-inclusive invariant for the input x.
// With γ = 997/1000 a buy (quote in) needs (q+x)(q+γx) = b·q·target/scale and a
// sell (base in) needs (b+x)(b+γx) = b·q·scale/target. Multiplying by 1000:
//
//	keep·x² + r·(keep+den)·x + den·(r² − c) = 0
//
// and the positive root is floored. Intermediates exceed 256 bits, hence big.Int.
func estimateMoveAmount(side core.Side, reserves Reserves, target, scale *uint256.Int) *uint256.Int {
	k := reserves.Product()
	var c, r *big.Int
	if side == core.Buy {
		c = k.Mul(k, target.ToBig())
		c.Quo(c, scale.ToBig())
		r = reserves.Quote.ToBig()
	} else {
		c = k.Mul(k, scale.ToBig())
		c.Quo(c, target.ToBig())
		r = reserves.Base.ToBig()
	}

	keep := big.NewInt(FeeDenominator - FeeNumerator)
	den := big.NewInt(FeeDenominator)

	// r²·(den−keep)² + 4·keep·den·c
	disc := new(big.Int).Mul(r, r)
	disc.Mul(disc, big.NewInt(FeeNumerator * FeeNumerator))
	four := new(big.Int).Mul(big.NewInt(4), keep)
	four.Mul(four, den)
	four.Mul(four, c)
	disc.Add(disc, four)

	root := new(big.Int).Sqrt(disc)
	root.Sub(root, new(big.Int).Mul(r, new(big.Int).Add(keep, den)))
	if root.Sign() <= 0 {
		return new(uint256.Int)
	}
	root.Quo(root, new(big.Int).Mul(big.NewInt(2), keep))

	x, overflow := uint256.FromBig(root)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return x
}

// priceReached reports whether swapping x of the offered asset leaves the
// realized price on the allowed side of target.
func priceReached(side core.Side, x, reserveIn, reserveOut, target, scale *uint256.Int) bool {
	if x.IsZero() {
		return true
	}
	out, err := AmountOut(x, reserveIn, reserveOut)
	if err != nil || !out.Lt(reserveOut) {
		return false
	}
	in, overflow := new(uint256.Int).AddOverflow(reserveIn, x)
	if overflow {
		return false
	}
	rest := new(uint256.Int).Sub(reserveOut, out)
	if side == core.Buy {
		p, overflow := new(uint256.Int).MulDivOverflow(in, scale, rest)
		return !overflow && !p.Gt(target)
	}
	p, overflow := new(uint256.Int).MulDivOverflow(rest, scale, in)
	return !overflow && !p.Lt(target)
}

// fixAmountForMovePrice corrects the truncated estimate. The realized price is
// monotone in the swapped amount, so when the estimate lands past the target we
// step down (doubling the stride) until it does not, then bisect to the largest
// amount that still respects the target. An estimate that already respects the
// target is kept as is.
func fixAmountForMovePrice(x *uint256.Int, reached func(*uint256.Int) bool) *uint256.Int {
	if reached(x) {
		return x
	}
	hi := x.Clone()
	lo := new(uint256.Int)
	step := uint256.NewInt(1)
	for {
		if hi.Lt(step) {
			lo.Clear()
			break
		}
		lo.Sub(hi, step)
		if reached(lo) {
			break
		}
		hi.Set(lo)
		step.Lsh(step, 1)
	}

	one := uint256.NewInt(1)
	gap := new(uint256.Int).Sub(hi, lo)
	for gap.Gt(one) {
		mid := new(uint256.Int).Rsh(gap, 1)
		mid.Add(mid, lo)
		if reached(mid) {
			lo = mid
		} else {
			hi = mid
		}
		gap.Sub(hi, lo)
	}
	return lo
}
