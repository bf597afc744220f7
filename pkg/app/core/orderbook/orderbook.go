package orderbook

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tidwall/btree"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hybridx/pkg/app/core"
)

// level is one price bucket. It holds order ids only; the orders themselves
// live in the book's arena.
type level struct {
	price *uint256.Int
	ids   []uint64 // FIFO, oldest first
}

func byPrice(a, b *level) bool { return a.price.Lt(b.price) }

// OrderBook is the resting side of a hybrid pair.
//
// Bids rest at or below the pool price and asks at or above it, because an
// incoming order always matches eagerly before its leftover rests. Levels are
// kept in price-ordered btrees so the best price is the tree's max (bids) or
// min (asks).
//
// OrderBook is not safe for concurrent use; the owning pair serializes access.
type OrderBook struct {
	bids *btree.BTreeG[*level]
	asks *btree.BTreeG[*level]

	// Arena of every order ever created, addressed by id. Filled orders stay
	// here (with zero remaining) so they can still be looked up.
	orders map[uint64]*Order

	// Append-only per-account index; membership does not imply liveness.
	owners map[common.Address][]uint64

	nextID uint64

	journal []journalEntry
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids:   btree.NewBTreeGOptions(byPrice, btree.Options{NoLocks: true}),
		asks:   btree.NewBTreeGOptions(byPrice, btree.Options{NoLocks: true}),
		orders: make(map[uint64]*Order),
		owners: make(map[common.Address][]uint64),
		nextID: 1,
	}
}

func (ob *OrderBook) tree(side core.Side) *btree.BTreeG[*level] {
	if side == core.Buy {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) level(side core.Side, price *uint256.Int) (*level, bool) {
	return ob.tree(side).Get(&level{price: price})
}

// addToLevel appends id to the level at price, creating the level if needed.
func (ob *OrderBook) addToLevel(side core.Side, price *uint256.Int, id uint64) {
	lv, ok := ob.level(side, price)
	if !ok {
		lv = &level{price: price.Clone()}
		ob.tree(side).Set(lv)
	}
	lv.ids = append(lv.ids, id)
}

// popFront removes the oldest id of lv, dropping the level once empty.
func (ob *OrderBook) popFront(side core.Side, lv *level) uint64 {
	id := lv.ids[0]
	lv.ids = lv.ids[1:]
	if len(lv.ids) == 0 {
		ob.tree(side).Delete(lv)
	}
	return id
}

// Insert creates a resting order and appends it to its price level and to the
// owner's index. remaining is what actually rests; offered is the amount of the
// request that created the order.
func (ob *OrderBook) Insert(side core.Side, price, offered, remaining *uint256.Int, owner, beneficiary common.Address) *Order {
	o := &Order{
		ID:              ob.nextID,
		Owner:           owner,
		Beneficiary:     beneficiary,
		Side:            side,
		Price:           price.Clone(),
		AmountOffered:   offered.Clone(),
		AmountRemaining: remaining.Clone(),
	}
	ob.nextID++
	ob.orders[o.ID] = o
	ob.owners[owner] = append(ob.owners[owner], o.ID)
	if o.Live() {
		ob.addToLevel(side, o.Price, o.ID)
	}
	ob.record(orderInserted{id: o.ID})
	return o.Clone()
}

// BestPrice returns the highest bid or the lowest ask. ok is false when the
// side has no resting orders.
func (ob *OrderBook) BestPrice(side core.Side) (*uint256.Int, bool) {
	var (
		lv *level
		ok bool
	)
	if side == core.Buy {
		lv, ok = ob.bids.Max()
	} else {
		lv, ok = ob.asks.Min()
	}
	if !ok {
		return nil, false
	}
	return lv.price.Clone(), true
}

// Levels aggregates remaining amounts per price, best price first: bids
// descending, asks ascending. max <= 0 returns every level.
func (ob *OrderBook) Levels(side core.Side, max int) []PriceLevel {
	levels := make([]PriceLevel, 0)
	visit := func(lv *level) bool {
		if max > 0 && len(levels) >= max {
			return false
		}
		total := new(uint256.Int)
		for _, id := range lv.ids {
			total.Add(total, ob.orders[id].AmountRemaining)
		}
		levels = append(levels, PriceLevel{Price: lv.price.Clone(), Amount: total})
		return true
	}
	if side == core.Buy {
		ob.bids.Reverse(visit)
	} else {
		ob.asks.Scan(visit)
	}
	return levels
}

// Order returns a copy of the order with the given id.
func (ob *OrderBook) Order(id uint64) (*Order, bool) {
	o, ok := ob.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// OrdersOf returns the ids created for owner, oldest first.
func (ob *OrderBook) OrdersOf(owner common.Address) []uint64 {
	ids := ob.owners[owner]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// Liquidity is the total amount escrowed by resting orders on side: quote for
// bids, base for asks.
func (ob *OrderBook) Liquidity(side core.Side) *uint256.Int {
	total := new(uint256.Int)
	ob.tree(side).Scan(func(lv *level) bool {
		for _, id := range lv.ids {
			total.Add(total, ob.orders[id].AmountRemaining)
		}
		return true
	})
	return total
}

// NextID is the id the next inserted order will get.
func (ob *OrderBook) NextID() uint64 { return ob.nextID }

// Load rebuilds the book from persisted orders. Live orders re-enter their
// levels in id order, which is their original time priority.
func (ob *OrderBook) Load(orders []*Order, owners map[common.Address][]uint64, nextID uint64) error {
	if len(ob.orders) > 0 {
		return fmt.Errorf("load into non-empty book")
	}
	sorted := make([]*Order, len(orders))
	copy(sorted, orders)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, o := range sorted {
		if o.ID == 0 || o.ID >= nextID {
			return fmt.Errorf("order id %d outside [1, %d)", o.ID, nextID)
		}
		if !o.Side.Valid() {
			return fmt.Errorf("order %d: %w", o.ID, core.ErrInvalidSide)
		}
		cp := o.Clone()
		ob.orders[cp.ID] = cp
		if cp.Live() {
			ob.addToLevel(cp.Side, cp.Price, cp.ID)
		}
	}
	for owner, ids := range owners {
		ob.owners[owner] = append([]uint64(nil), ids...)
	}
	ob.nextID = nextID
	return nil
}

// Hash returns a keccak digest of the resting state (every live order in
// priority order plus the id counter).
func (ob *OrderBook) Hash() common.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	write := func(side core.Side) func(*level) bool {
		return func(lv *level) bool {
			for _, id := range lv.ids {
				o := ob.orders[id]
				h.Write([]byte{byte(side)})
				binary.BigEndian.PutUint64(buf[:], id)
				h.Write(buf[:])
				price := o.Price.Bytes32()
				h.Write(price[:])
				remaining := o.AmountRemaining.Bytes32()
				h.Write(remaining[:])
			}
			return true
		}
	}
	ob.bids.Reverse(write(core.Buy))
	ob.asks.Scan(write(core.Sell))
	binary.BigEndian.PutUint64(buf[:], ob.nextID)
	h.Write(buf[:])

	var out common.Hash
	h.Sum(out[:0])
	return out
}
