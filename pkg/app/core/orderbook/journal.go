package orderbook

import "github.com/holiman/uint256"

// journalEntry undoes one mutation of the book.
type journalEntry interface {
	revert(ob *OrderBook)
}

type orderInserted struct{ id uint64 }

func (e orderInserted) revert(ob *OrderBook) {
	o := ob.orders[e.id]
	delete(ob.orders, e.id)
	if ids := ob.owners[o.Owner]; len(ids) > 0 {
		if len(ids) == 1 {
			delete(ob.owners, o.Owner)
		} else {
			ob.owners[o.Owner] = ids[:len(ids)-1]
		}
	}
	if lv, ok := ob.level(o.Side, o.Price); ok && len(lv.ids) > 0 && lv.ids[len(lv.ids)-1] == e.id {
		lv.ids = lv.ids[:len(lv.ids)-1]
		if len(lv.ids) == 0 {
			ob.tree(o.Side).Delete(lv)
		}
	}
	ob.nextID = e.id
}

type remainingChanged struct {
	id   uint64
	prev *uint256.Int
}

func (e remainingChanged) revert(ob *OrderBook) {
	ob.orders[e.id].AmountRemaining = e.prev
}

// orderPopped records a filled order leaving the front of its level.
type orderPopped struct{ id uint64 }

func (e orderPopped) revert(ob *OrderBook) {
	o := ob.orders[e.id]
	lv, ok := ob.level(o.Side, o.Price)
	if !ok {
		lv = &level{price: o.Price.Clone()}
		ob.tree(o.Side).Set(lv)
	}
	lv.ids = append([]uint64{e.id}, lv.ids...)
}

func (ob *OrderBook) record(e journalEntry) {
	ob.journal = append(ob.journal, e)
}

// Checkpoint marks the current state; RevertToCheckpoint undoes every mutation
// made after it.
func (ob *OrderBook) Checkpoint() int {
	return len(ob.journal)
}

func (ob *OrderBook) RevertToCheckpoint(id int) {
	if id < 0 || id > len(ob.journal) {
		return
	}
	for i := len(ob.journal) - 1; i >= id; i-- {
		ob.journal[i].revert(ob)
	}
	ob.journal = ob.journal[:id]
}

// Commit discards the journal, making every mutation so far permanent.
func (ob *OrderBook) Commit() {
	ob.journal = ob.journal[:0]
}
