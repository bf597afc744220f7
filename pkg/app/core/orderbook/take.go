package orderbook

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/hybridx/pkg/app/core"
	"github.com/uhyunpark/hybridx/pkg/app/core/amm"
)

// PlanTakeAtPrice computes a single fill of a taker on side, offering offered,
// against one resting order holding resting at price. It does not touch the book.
//
// The taker's offer converts to net maker asset at price; the fee (3/1000 of net)
// is added on top and the order is debited net+fee. When that exceeds what the
// order holds, the order is taken whole instead: the fee is 3/1000 of the
// order, the taker gets the rest, and pays for it at price.
func PlanTakeAtPrice(side core.Side, offered, price *uint256.Int, decimals uint8, resting *uint256.Int) (Fill, error) {
	if !side.Valid() {
		return Fill{}, core.ErrInvalidSide
	}
	if price == nil || price.IsZero() {
		return Fill{}, core.ErrInvalidPrice
	}
	scale := amm.Scale(decimals)

	// buy: quote -> base is x*scale/price; sell: base -> quote is x*price/scale
	toMaker := func(x *uint256.Int) (*uint256.Int, error) {
		if side == core.Buy {
			return mulDiv(x, scale, price)
		}
		return mulDiv(x, price, scale)
	}
	toTaker := func(x *uint256.Int) (*uint256.Int, error) {
		if side == core.Buy {
			return mulDiv(x, price, scale)
		}
		return mulDiv(x, scale, price)
	}

	f := Fill{
		Price:    price.Clone(),
		Consumed: new(uint256.Int),
		Gross:    new(uint256.Int),
		Fee:      new(uint256.Int),
	}

	net, err := toMaker(offered)
	if err != nil {
		return Fill{}, err
	}
	if net.IsZero() {
		return f, nil
	}
	fee := amm.Fee(net)
	gross, overflow := new(uint256.Int).AddOverflow(net, fee)
	if overflow {
		return Fill{}, fmt.Errorf("take at %s: %w", price.Dec(), core.ErrOverflow)
	}

	if !gross.Gt(resting) {
		f.Consumed = offered.Clone()
		f.Gross = gross
		f.Fee = fee
		f.Filled = gross.Eq(resting)
		return f, nil
	}

	f.Fee = amm.Fee(resting)
	consumed, err := toTaker(new(uint256.Int).Sub(resting, f.Fee))
	if err != nil {
		return Fill{}, err
	}
	f.Consumed = consumed
	f.Gross = resting.Clone()
	f.Filled = true
	return f, nil
}

func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	v, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, core.ErrOverflow
	}
	return v, nil
}

// TakeAtPrice consumes resting orders on the contra side exactly at price,
// oldest first, until offered is used up or the level is empty. Filled orders
// leave the book; a partially filled order keeps its place.
func (ob *OrderBook) TakeAtPrice(side core.Side, offered, price *uint256.Int, decimals uint8) (Take, error) {
	take := Take{
		Consumed: new(uint256.Int),
		Received: new(uint256.Int),
		Fee:      new(uint256.Int),
	}
	contra := side.Opposite()
	remaining := offered.Clone()

	for !remaining.IsZero() {
		lv, ok := ob.level(contra, price)
		if !ok {
			break
		}
		id := lv.ids[0]
		o := ob.orders[id]

		f, err := PlanTakeAtPrice(side, remaining, price, decimals, o.AmountRemaining)
		if err != nil {
			return Take{}, fmt.Errorf("take order %d: %w", id, err)
		}
		// the rest of the offer is worth less than one unit at this price
		if f.Gross.IsZero() && !f.Filled {
			break
		}

		ob.record(remainingChanged{id: id, prev: o.AmountRemaining})
		o.AmountRemaining = new(uint256.Int).Sub(o.AmountRemaining, f.Gross)
		if !o.Live() {
			ob.popFront(contra, lv)
			ob.record(orderPopped{id: id})
			f.Filled = true
		}

		f.OrderID = id
		f.Owner = o.Owner
		f.Beneficiary = o.Beneficiary
		take.Fills = append(take.Fills, f)

		remaining.Sub(remaining, f.Consumed)
		take.Consumed.Add(take.Consumed, f.Consumed)
		take.Received.Add(take.Received, f.Gross)
		take.Fee.Add(take.Fee, f.Fee)
	}
	return take, nil
}
