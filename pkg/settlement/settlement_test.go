package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hybridx/pkg/app/core"
	"github.com/uhyunpark/hybridx/pkg/app/core/amm"
	"github.com/uhyunpark/hybridx/pkg/app/core/market"
	"github.com/uhyunpark/hybridx/pkg/app/core/matching"
)

var (
	baseToken  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	quoteToken = common.HexToAddress("0x00000000000000000000000000000000000000a1")

	accounts = Accounts{
		Pool:         common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Venue:        common.HexToAddress("0x0000000000000000000000000000000000000002"),
		FeeRecipient: common.HexToAddress("0x0000000000000000000000000000000000000003"),
	}

	maker  = common.HexToAddress("0x0000000000000000000000000000000000001001")
	payout = common.HexToAddress("0x0000000000000000000000000000000000001002")
	taker  = common.HexToAddress("0x0000000000000000000000000000000000001003")
)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), amm.Scale(18))
}

func dec(s string) *uint256.Int { return uint256.MustFromDecimal(s) }

type fixture struct {
	market *market.Market
	engine *matching.Engine
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := market.NewMarket("HYB-USDC", baseToken, quoteToken, market.DefaultParams())
	require.NoError(t, err)
	e, err := matching.New(m, amm.NewReserves(ether(5), ether(10)))
	require.NoError(t, err)

	l := NewLedger()
	require.NoError(t, l.Credit(baseToken, accounts.Pool, ether(5)))
	require.NoError(t, l.Credit(quoteToken, accounts.Pool, ether(10)))
	return &fixture{market: m, engine: e, ledger: l}
}

func (f *fixture) submit(t *testing.T, req matching.Request) matching.Result {
	t.Helper()
	res, err := f.engine.Match(req)
	require.NoError(t, err)
	recipient := req.Recipient
	if recipient == (common.Address{}) {
		recipient = req.Owner
	}
	require.NoError(t, f.ledger.Settle(context.Background(), Build(f.market, accounts, req.Owner, recipient, res)))
	f.engine.Commit()
	return res
}

func TestBuildAndSettleAgainstBook(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Credit(baseToken, maker, ether(2)))
	require.NoError(t, f.ledger.Credit(quoteToken, taker, ether(4)))

	f.submit(t, matching.Request{Side: core.Sell, Amount: ether(2), Price: ether(2), Owner: maker, Recipient: payout})
	require.Zero(t, f.ledger.BalanceOf(baseToken, maker).Sign())
	require.Equal(t, ether(2), f.ledger.BalanceOf(baseToken, accounts.Venue))

	f.submit(t, matching.Request{Side: core.Buy, Amount: ether(1), Price: ether(2), Owner: taker})
	res := f.submit(t, matching.Request{Side: core.Buy, Amount: ether(3), Price: ether(2), Owner: taker})
	require.Equal(t, dec("11991000000000000"), res.Leftover)

	// taker: paid everything, received base net of fee
	require.Zero(t, f.ledger.BalanceOf(quoteToken, taker).Sign())
	require.Equal(t, dec("1994004500000000000"), f.ledger.BalanceOf(baseToken, taker))
	// maker's proceeds go to the order's beneficiary
	require.Equal(t, dec("3988009000000000000"), f.ledger.BalanceOf(quoteToken, payout))
	require.Equal(t, dec("5995500000000000"), f.ledger.BalanceOf(baseToken, accounts.FeeRecipient))
	// venue keeps exactly the escrow of the resting bid
	require.Zero(t, f.ledger.BalanceOf(baseToken, accounts.Venue).Sign())
	require.Equal(t, f.engine.Escrow(core.Buy), f.ledger.BalanceOf(quoteToken, accounts.Venue))
	// pool untouched
	require.Equal(t, ether(5), f.ledger.BalanceOf(baseToken, accounts.Pool))
	require.Equal(t, ether(10), f.ledger.BalanceOf(quoteToken, accounts.Pool))
}

func TestBuildPoolLeg(t *testing.T) {
	f := newFixture(t)
	res, err := f.engine.Match(matching.Request{Side: core.Buy, Amount: ether(1), Price: ether(3), Owner: taker})
	require.NoError(t, err)

	b := Build(f.market, accounts, taker, payout, res)
	require.NotEqual(t, uuid.Nil, b.ID)
	require.Equal(t, []Transfer{
		{Token: quoteToken, From: taker, To: accounts.Venue, Amount: ether(1)},
		{Token: quoteToken, From: accounts.Venue, To: accounts.Pool, Amount: ether(1)},
		{Token: baseToken, From: accounts.Pool, To: payout, Amount: dec("453305446940074565")},
	}, b.Transfers)

	// the ledger's pool balance mirrors the engine's reserves after settling
	require.NoError(t, f.ledger.Credit(quoteToken, taker, ether(1)))
	require.NoError(t, f.ledger.Settle(context.Background(), b))
	r := f.engine.Reserves()
	require.Equal(t, r.Base, f.ledger.BalanceOf(baseToken, accounts.Pool))
	require.Equal(t, r.Quote, f.ledger.BalanceOf(quoteToken, accounts.Pool))
}

func TestSettleIsAllOrNothing(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Credit(quoteToken, taker, ether(1)))

	b := Batch{ID: uuid.New(), Transfers: []Transfer{
		{Token: quoteToken, From: taker, To: accounts.Venue, Amount: ether(1)},
		{Token: baseToken, From: accounts.Venue, To: taker, Amount: ether(1)},
	}}
	err := l.Settle(context.Background(), b)
	require.True(t, errors.Is(err, ErrInsufficientBalance), "got %v", err)
	require.Equal(t, ether(1), l.BalanceOf(quoteToken, taker))
	require.Zero(t, l.BalanceOf(quoteToken, accounts.Venue).Sign())

	// the same id may be retried after a failure, but not replayed after success
	require.NoError(t, l.Credit(baseToken, accounts.Venue, ether(1)))
	require.NoError(t, l.Settle(context.Background(), b))
	require.ErrorIs(t, l.Settle(context.Background(), b), ErrDuplicateBatch)
	require.Equal(t, ether(1), l.BalanceOf(baseToken, taker))
}

type recordingStore struct {
	saved []map[Key]*uint256.Int
	fail  error
}

func (s *recordingStore) SaveBalances(balances map[Key]*uint256.Int) error {
	if s.fail != nil {
		return s.fail
	}
	s.saved = append(s.saved, balances)
	return nil
}

func TestPersistentLedger(t *testing.T) {
	store := &recordingStore{}
	l := NewPersistentLedger(store, map[Key]*uint256.Int{
		{Token: quoteToken, Account: taker}: ether(2),
	})
	b := Batch{ID: uuid.New(), Transfers: []Transfer{
		{Token: quoteToken, From: taker, To: accounts.Venue, Amount: ether(1)},
	}}
	require.NoError(t, l.Settle(context.Background(), b))
	require.Len(t, store.saved, 1)
	require.Equal(t, ether(1), store.saved[0][Key{Token: quoteToken, Account: accounts.Venue}])

	store.fail = errors.New("disk full")
	err := l.Settle(context.Background(), Batch{ID: uuid.New(), Transfers: b.Transfers})
	require.Error(t, err)
	require.Equal(t, ether(1), l.BalanceOf(quoteToken, taker))
}
