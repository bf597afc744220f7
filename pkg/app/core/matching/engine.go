// Package matching runs an incoming limit order against a constant-product pool
// and a resting order book sharing one pair.
package matching

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hybridx/pkg/app/core"
	"github.com/uhyunpark/hybridx/pkg/app/core/amm"
	"github.com/uhyunpark/hybridx/pkg/app/core/market"
	"github.com/uhyunpark/hybridx/pkg/app/core/orderbook"
)

// Request is an incoming limit order.
type Request struct {
	Side      core.Side
	Amount    *uint256.Int   // offered: quote for a buy, base for a sell
	Price     *uint256.Int   // limit price
	Owner     common.Address // pays the offered amount and owns any resting leftover
	Recipient common.Address // receives proceeds; zero means Owner
}

func (r Request) recipient() common.Address {
	if r.Recipient == (common.Address{}) {
		return r.Owner
	}
	return r.Recipient
}

// Result describes one match. Offered = PoolIn + OrderIn + Leftover.
type Result struct {
	Side    core.Side
	Offered *uint256.Int

	PoolIn  *uint256.Int // offered asset swapped into the pool
	PoolOut *uint256.Int // contra asset paid by the pool

	OrderIn  *uint256.Int // offered asset paid to resting orders
	OrderOut *uint256.Int // contra asset debited from resting orders, fee included
	OrderFee *uint256.Int // part of OrderOut withheld as fee

	Leftover *uint256.Int // offered asset left resting at the limit

	StartPrice *uint256.Int
	EndPrice   *uint256.Int
	Reserves   amm.Reserves

	Fills   []orderbook.Fill
	Created *orderbook.Order // nil when nothing rests
}

// Received is what the taker's recipient gets.
func (r Result) Received() *uint256.Int {
	out := new(uint256.Int).Add(r.PoolOut, r.OrderOut)
	return out.Sub(out, r.OrderFee)
}

func newResult(req Request) Result {
	return Result{
		Side:     req.Side,
		Offered:  req.Amount.Clone(),
		PoolIn:   new(uint256.Int),
		PoolOut:  new(uint256.Int),
		OrderIn:  new(uint256.Int),
		OrderOut: new(uint256.Int),
		OrderFee: new(uint256.Int),
		Leftover: new(uint256.Int),
	}
}

// Engine holds the state of one pair: the pool reserves and the book.
//
// Engine is not safe for concurrent use.
type Engine struct {
	market   *market.Market
	reserves amm.Reserves
	book     *orderbook.OrderBook
}

// New creates an engine over an empty book.
func New(m *market.Market, reserves amm.Reserves) (*Engine, error) {
	if !reserves.Valid() {
		return nil, fmt.Errorf("new engine for %s: %w", m.Symbol, core.ErrInsufficientReserves)
	}
	return &Engine{
		market:   m,
		reserves: reserves.Clone(),
		book:     orderbook.NewOrderBook(),
	}, nil
}

// State is everything needed to rebuild an engine.
type State struct {
	Reserves amm.Reserves
	Orders   []*orderbook.Order
	Owners   map[common.Address][]uint64
	NextID   uint64
}

// Restore rebuilds an engine from persisted state.
func Restore(m *market.Market, st State) (*Engine, error) {
	e, err := New(m, st.Reserves)
	if err != nil {
		return nil, err
	}
	if err := e.book.Load(st.Orders, st.Owners, st.NextID); err != nil {
		return nil, fmt.Errorf("restore %s: %w", m.Symbol, err)
	}
	return e, nil
}

func (e *Engine) Market() *market.Market { return e.market }

// Checkpoint identifies a state the engine can roll back to.
type Checkpoint struct {
	book     int
	reserves amm.Reserves
}

func (e *Engine) Checkpoint() Checkpoint {
	return Checkpoint{book: e.book.Checkpoint(), reserves: e.reserves.Clone()}
}

// Revert undoes every change made after cp.
func (e *Engine) Revert(cp Checkpoint) {
	e.book.RevertToCheckpoint(cp.book)
	e.reserves = cp.reserves.Clone()
}

// Commit makes every change so far permanent; older checkpoints become invalid.
func (e *Engine) Commit() { e.book.Commit() }

// Match fills req against the pool and the book, walking the price toward the
// limit one level at a time. At each crossing level the pool is first moved to
// that price and then the resting orders there are taken, so the book wins ties
// with the pool. Whatever is left once the limit is reached rests at the limit.
//
// On error the engine is left exactly as before the call. On success the changes
// are journaled and stay revertible until Commit.
func (e *Engine) Match(req Request) (Result, error) {
	if err := e.market.ValidateOrder(req.Side, req.Price, req.Amount); err != nil {
		return Result{}, err
	}
	if !e.reserves.Valid() {
		return Result{}, core.ErrInsufficientReserves
	}
	cp := e.Checkpoint()
	res, err := e.match(req)
	if err != nil {
		e.Revert(cp)
		return Result{}, err
	}
	return res, nil
}

// Quote runs Match and rolls it back.
func (e *Engine) Quote(req Request) (Result, error) {
	cp := e.Checkpoint()
	defer e.Revert(cp)
	return e.Match(req)
}

func crosses(side core.Side, best, limit *uint256.Int) bool {
	if side == core.Buy {
		return !best.Gt(limit)
	}
	return !best.Lt(limit)
}

func (e *Engine) match(req Request) (Result, error) {
	res := newResult(req)
	dec := e.market.Decimals

	start, err := amm.Price(e.reserves, dec)
	if err != nil {
		return Result{}, err
	}
	res.StartPrice = start

	remaining := req.Amount.Clone()
	contra := req.Side.Opposite()
	for !remaining.IsZero() {
		best, ok := e.book.BestPrice(contra)
		if !ok || !crosses(req.Side, best, req.Price) {
			if remaining, err = e.movePool(&res, remaining, req.Price); err != nil {
				return Result{}, err
			}
			break
		}

		if remaining, err = e.movePool(&res, remaining, best); err != nil {
			return Result{}, err
		}
		if remaining.IsZero() {
			break
		}

		take, err := e.book.TakeAtPrice(req.Side, remaining, best, dec)
		if err != nil {
			return Result{}, fmt.Errorf("take at %s: %w", best.Dec(), err)
		}
		// the rest is worth less than one unit at best and would rest crossed
		if len(take.Fills) == 0 {
			return Result{}, fmt.Errorf("%w: %s is dust at %s", core.ErrBelowMinimumAmount, remaining.Dec(), best.Dec())
		}
		remaining.Sub(remaining, take.Consumed)
		res.OrderIn.Add(res.OrderIn, take.Consumed)
		res.OrderOut.Add(res.OrderOut, take.Received)
		res.OrderFee.Add(res.OrderFee, take.Fee)
		res.Fills = append(res.Fills, take.Fills...)
	}

	if !remaining.IsZero() {
		if remaining.Lt(e.market.MinAmount) {
			return Result{}, fmt.Errorf("%w: leftover %s < %s", core.ErrBelowMinimumAmount, remaining.Dec(), e.market.MinAmount.Dec())
		}
		res.Leftover = remaining
		res.Created = e.book.Insert(req.Side, req.Price, req.Amount, remaining, req.Owner, req.recipient())
	}

	end, err := amm.Price(e.reserves, dec)
	if err != nil {
		return Result{}, err
	}
	res.EndPrice = end
	res.Reserves = e.reserves.Clone()
	return res, nil
}

// movePool swaps as much of offered into the pool as it takes to bring the pool
// price to target and returns what is left.
func (e *Engine) movePool(res *Result, offered, target *uint256.Int) (*uint256.Int, error) {
	mv, err := amm.MovePrice(res.Side, offered, e.reserves, target, e.market.Decimals)
	if err != nil {
		return nil, fmt.Errorf("move pool to %s: %w", target.Dec(), err)
	}
	if mv.AmountIn.IsZero() {
		return offered, nil
	}
	e.reserves = mv.Reserves
	res.PoolIn.Add(res.PoolIn, mv.AmountIn)
	res.PoolOut.Add(res.PoolOut, mv.AmountOut)
	return mv.Leftover, nil
}

// CurrentPrice is the pool price.
func (e *Engine) CurrentPrice() (*uint256.Int, error) {
	return amm.Price(e.reserves, e.market.Decimals)
}

func (e *Engine) Reserves() amm.Reserves { return e.reserves.Clone() }

// SyncReserves replaces the reserves with balances observed outside the
// engine, e.g. after liquidity changes or direct swaps against the pool.
func (e *Engine) SyncReserves(r amm.Reserves) error {
	if !r.Valid() {
		return core.ErrInsufficientReserves
	}
	e.reserves = r.Clone()
	return nil
}

// Snapshot is a read-only view of the pair.
type Snapshot struct {
	Price *uint256.Int           `json:"price"`
	Bids  []orderbook.PriceLevel `json:"bids"`
	Asks  []orderbook.PriceLevel `json:"asks"`
}

// Snapshot returns the pool price and up to maxLevels aggregated levels per
// side, best first. maxLevels <= 0 returns every level.
func (e *Engine) Snapshot(maxLevels int) (Snapshot, error) {
	price, err := e.CurrentPrice()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Price: price,
		Bids:  e.book.Levels(core.Buy, maxLevels),
		Asks:  e.book.Levels(core.Sell, maxLevels),
	}, nil
}

func (e *Engine) Order(id uint64) (*orderbook.Order, bool) { return e.book.Order(id) }

func (e *Engine) OrdersOf(owner common.Address) []uint64 { return e.book.OrdersOf(owner) }

// Escrow is what resting orders hold: quote for bids, base for asks.
func (e *Engine) Escrow(side core.Side) *uint256.Int { return e.book.Liquidity(side) }

func (e *Engine) NextOrderID() uint64 { return e.book.NextID() }

// Hash digests the book.
func (e *Engine) Hash() common.Hash { return e.book.Hash() }
