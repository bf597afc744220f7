package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateBatch      = errors.New("batch already settled")
)

// Key addresses one balance.
type Key struct {
	Token   common.Address
	Account common.Address
}

// BalanceStore persists balances touched by a settled batch.
type BalanceStore interface {
	SaveBalances(balances map[Key]*uint256.Int) error
}

// Ledger is an in-memory token ledger that settles batches all-or-nothing.
// With a BalanceStore attached every settled batch is persisted before it
// becomes visible.
type Ledger struct {
	mu       sync.RWMutex
	balances map[Key]*uint256.Int
	applied  map[uuid.UUID]struct{}
	store    BalanceStore
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[Key]*uint256.Int),
		applied:  make(map[uuid.UUID]struct{}),
	}
}

// NewPersistentLedger starts from balances loaded from store.
func NewPersistentLedger(store BalanceStore, balances map[Key]*uint256.Int) *Ledger {
	l := NewLedger()
	l.store = store
	for k, v := range balances {
		l.balances[k] = v.Clone()
	}
	return l
}

// Settle applies every transfer of b or none of them.
func (l *Ledger) Settle(_ context.Context, b Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.applied[b.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBatch, b.ID)
	}

	staged := make(map[Key]*uint256.Int)
	balance := func(k Key) *uint256.Int {
		if v, ok := staged[k]; ok {
			return v
		}
		v := new(uint256.Int)
		if cur, ok := l.balances[k]; ok {
			v.Set(cur)
		}
		staged[k] = v
		return v
	}

	for i, t := range b.Transfers {
		from := balance(Key{Token: t.Token, Account: t.From})
		if from.Lt(t.Amount) {
			return fmt.Errorf("transfer %d of batch %s: %w: %s holds %s of %s, needs %s",
				i, b.ID, ErrInsufficientBalance, t.From.Hex(), from.Dec(), t.Token.Hex(), t.Amount.Dec())
		}
		to := balance(Key{Token: t.Token, Account: t.To})
		from.Sub(from, t.Amount)
		if _, overflow := to.AddOverflow(to, t.Amount); overflow {
			return fmt.Errorf("transfer %d of batch %s: balance overflow", i, b.ID)
		}
	}

	if l.store != nil {
		if err := l.store.SaveBalances(staged); err != nil {
			return fmt.Errorf("persist batch %s: %w", b.ID, err)
		}
	}
	for k, v := range staged {
		l.balances[k] = v
	}
	l.applied[b.ID] = struct{}{}
	return nil
}

// Credit mints amount of token to account, e.g. a deposit or the initial pool
// funding.
func (l *Ledger) Credit(token, account common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := Key{Token: token, Account: account}
	v := new(uint256.Int)
	if cur, ok := l.balances[k]; ok {
		v.Set(cur)
	}
	if _, overflow := v.AddOverflow(v, amount); overflow {
		return fmt.Errorf("credit %s to %s: balance overflow", amount.Dec(), account.Hex())
	}
	if l.store != nil {
		if err := l.store.SaveBalances(map[Key]*uint256.Int{k: v}); err != nil {
			return fmt.Errorf("persist credit: %w", err)
		}
	}
	l.balances[k] = v
	return nil
}

// BalanceOf returns a copy of the balance; unknown accounts hold zero.
func (l *Ledger) BalanceOf(token, account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.balances[Key{Token: token, Account: account}]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

var _ Settler = (*Ledger)(nil)
