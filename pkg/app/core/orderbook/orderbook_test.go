package orderbook

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hybridx/pkg/app/core"
	"github.com/uhyunpark/hybridx/pkg/app/core/amm"
)

var (
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func dec(s string) *uint256.Int { return uint256.MustFromDecimal(s) }

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), amm.Scale(18))
}

func tenths(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), amm.Scale(17))
}

func TestInsertAndBestPrice(t *testing.T) {
	ob := NewOrderBook()

	if _, ok := ob.BestPrice(core.Buy); ok {
		t.Fatalf("empty book should have no best bid")
	}

	ob.Insert(core.Buy, tenths(19), ether(1), ether(1), alice, alice)
	ob.Insert(core.Buy, tenths(18), ether(1), ether(1), alice, alice)
	ob.Insert(core.Sell, tenths(22), ether(1), ether(1), bob, bob)
	ob.Insert(core.Sell, tenths(21), ether(1), ether(1), bob, bob)

	tests := []struct {
		side core.Side
		want *uint256.Int
	}{
		{core.Buy, tenths(19)},
		{core.Sell, tenths(21)},
	}
	for _, tt := range tests {
		t.Run(tt.side.String(), func(t *testing.T) {
			got, ok := ob.BestPrice(tt.side)
			if !ok {
				t.Fatalf("BestPrice(%s) missing", tt.side)
			}
			if !got.Eq(tt.want) {
				t.Errorf("BestPrice(%s) = %s, want %s", tt.side, got.Dec(), tt.want.Dec())
			}
		})
	}

	if ob.NextID() != 5 {
		t.Errorf("NextID() = %d, want 5", ob.NextID())
	}
}

func TestLevelsOrderingAndAggregation(t *testing.T) {
	ob := NewOrderBook()
	for i := uint64(0); i < 3; i++ {
		ob.Insert(core.Sell, tenths(20+i), ether(2), ether(2), bob, bob)
		ob.Insert(core.Buy, tenths(19-i), ether(1), ether(1), alice, alice)
	}
	ob.Insert(core.Sell, tenths(20), ether(1), ether(1), carol, carol)

	asks := ob.Levels(core.Sell, 0)
	if len(asks) != 3 {
		t.Fatalf("expected 3 ask levels, got %d", len(asks))
	}
	for i, lv := range asks {
		if !lv.Price.Eq(tenths(20 + uint64(i))) {
			t.Errorf("ask[%d] price = %s, want ascending", i, lv.Price.Dec())
		}
	}
	if !asks[0].Amount.Eq(ether(3)) {
		t.Errorf("ask[0] amount = %s, want 3e18 aggregated", asks[0].Amount.Dec())
	}

	bids := ob.Levels(core.Buy, 2)
	if len(bids) != 2 {
		t.Fatalf("expected 2 bid levels (capped), got %d", len(bids))
	}
	if !bids[0].Price.Eq(tenths(19)) || !bids[1].Price.Eq(tenths(18)) {
		t.Errorf("bids not descending: %s, %s", bids[0].Price.Dec(), bids[1].Price.Dec())
	}

	if got := ob.Liquidity(core.Sell); !got.Eq(ether(7)) {
		t.Errorf("Liquidity(Sell) = %s, want 7e18", got.Dec())
	}
	if got := ob.Liquidity(core.Buy); !got.Eq(ether(3)) {
		t.Errorf("Liquidity(Buy) = %s, want 3e18", got.Dec())
	}
}

func TestOrdersOfIsAppendOnly(t *testing.T) {
	ob := NewOrderBook()
	a := ob.Insert(core.Sell, ether(2), ether(1), ether(1), alice, alice)
	ob.Insert(core.Sell, ether(2), ether(1), ether(1), bob, bob)
	c := ob.Insert(core.Buy, ether(1), ether(1), ether(1), alice, bob)

	if _, err := ob.TakeAtPrice(core.Buy, ether(10), ether(2), 18); err != nil {
		t.Fatalf("TakeAtPrice() unexpected error: %v", err)
	}

	got := ob.OrdersOf(alice)
	if len(got) != 2 || got[0] != a.ID || got[1] != c.ID {
		t.Errorf("OrdersOf(alice) = %v, want [%d %d]", got, a.ID, c.ID)
	}
	o, ok := ob.Order(a.ID)
	if !ok || o.Live() {
		t.Errorf("filled order should remain addressable and not live")
	}
	if len(ob.OrdersOf(carol)) != 0 {
		t.Errorf("OrdersOf(carol) should be empty")
	}
}

func TestJournalRevert(t *testing.T) {
	ob := NewOrderBook()
	ob.Insert(core.Sell, ether(2), ether(1), ether(1), alice, alice)
	ob.Insert(core.Sell, ether(2), ether(2), ether(2), bob, bob)
	ob.Commit()
	before := ob.Hash()

	cp := ob.Checkpoint()
	if _, err := ob.TakeAtPrice(core.Buy, ether(3), ether(2), 18); err != nil {
		t.Fatalf("TakeAtPrice() unexpected error: %v", err)
	}
	ob.Insert(core.Buy, ether(2), ether(3), ether(1), carol, carol)
	if ob.Hash() == before {
		t.Fatalf("hash should change after mutations")
	}

	ob.RevertToCheckpoint(cp)

	if ob.Hash() != before {
		t.Errorf("hash after revert = %s, want %s", ob.Hash().Hex(), before.Hex())
	}
	if ob.NextID() != 3 {
		t.Errorf("NextID() after revert = %d, want 3", ob.NextID())
	}
	if len(ob.OrdersOf(carol)) != 0 {
		t.Errorf("owner index not reverted")
	}
	if _, ok := ob.BestPrice(core.Buy); ok {
		t.Errorf("reverted bid still on the book")
	}
	asks := ob.Levels(core.Sell, 0)
	if len(asks) != 1 || !asks[0].Amount.Eq(ether(3)) {
		t.Errorf("asks after revert = %+v, want one level of 3e18", asks)
	}
	ids := ob.OrdersOf(alice)
	if len(ids) != 1 {
		t.Fatalf("OrdersOf(alice) = %v", ids)
	}
	o, _ := ob.Order(ids[0])
	if !o.AmountRemaining.Eq(ether(1)) {
		t.Errorf("alice remaining after revert = %s, want 1e18", o.AmountRemaining.Dec())
	}
}

func TestLoadRestoresPriority(t *testing.T) {
	src := NewOrderBook()
	src.Insert(core.Sell, ether(2), ether(1), ether(1), alice, alice)
	src.Insert(core.Sell, ether(2), ether(1), ether(1), bob, bob)
	src.Insert(core.Buy, ether(1), ether(1), ether(1), carol, carol)
	if _, err := src.TakeAtPrice(core.Buy, ether(1), ether(2), 18); err != nil {
		t.Fatalf("TakeAtPrice() unexpected error: %v", err)
	}

	var orders []*Order
	owners := map[common.Address][]uint64{}
	for _, owner := range []common.Address{alice, bob, carol} {
		owners[owner] = src.OrdersOf(owner)
		for _, id := range owners[owner] {
			o, _ := src.Order(id)
			orders = append(orders, o)
		}
	}

	dst := NewOrderBook()
	if err := dst.Load(orders, owners, src.NextID()); err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if dst.Hash() != src.Hash() {
		t.Errorf("loaded hash = %s, want %s", dst.Hash().Hex(), src.Hash().Hex())
	}
	if err := dst.Load(orders, owners, src.NextID()); err == nil {
		t.Errorf("Load() into non-empty book expected error")
	}
	if err := NewOrderBook().Load(orders, owners, 2); err == nil {
		t.Errorf("Load() with ids beyond nextID expected error")
	}
}
