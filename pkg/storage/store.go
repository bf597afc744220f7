// Package storage persists a pair's book, reserves and ledger balances in Pebble.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hybridx/pkg/app/core/amm"
	"github.com/uhyunpark/hybridx/pkg/app/core/matching"
	"github.com/uhyunpark/hybridx/pkg/app/core/orderbook"
	"github.com/uhyunpark/hybridx/pkg/settlement"
)

// Store is safe for concurrent use; Pebble serializes batch commits.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(128 << 20), // 128MB cache
		MemTableSize:                64 << 20,                   // 64MB memtable
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20, // 64MB
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10, // 512KB
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Changes is one unit of work's effect on the pair.
type Changes struct {
	Orders   []*orderbook.Order // created or updated; written with their owner index entry
	Deleted  []*orderbook.Order // removed together with their owner index entry
	Reserves amm.Reserves
	NextID   uint64
}

// Apply writes c atomically and durably.
func (s *Store) Apply(c Changes) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, o := range c.Orders {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order %d: %w", o.ID, err)
		}
		if err := b.Set(orderKey(o.ID), data, nil); err != nil {
			return err
		}
		if err := b.Set(ownerKey(o.Owner, o.ID), nil, nil); err != nil {
			return err
		}
	}
	for _, o := range c.Deleted {
		if err := b.Delete(orderKey(o.ID), nil); err != nil {
			return err
		}
		if err := b.Delete(ownerKey(o.Owner, o.ID), nil); err != nil {
			return err
		}
	}
	if c.Reserves.Valid() {
		data, err := json.Marshal(c.Reserves)
		if err != nil {
			return fmt.Errorf("failed to marshal reserves: %w", err)
		}
		if err := b.Set(keyReserves, data, nil); err != nil {
			return err
		}
	}
	if c.NextID > 0 {
		if err := b.Set(keySeq, encodeSeq(c.NextID), nil); err != nil {
			return err
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Load reads the persisted pair. found is false for a fresh database.
func (s *Store) Load() (st matching.State, found bool, err error) {
	data, closer, err := s.db.Get(keyReserves)
	if errors.Is(err, pebble.ErrNotFound) {
		return matching.State{}, false, nil
	}
	if err != nil {
		return matching.State{}, false, fmt.Errorf("failed to get reserves: %w", err)
	}
	err = json.Unmarshal(data, &st.Reserves)
	closer.Close()
	if err != nil {
		return matching.State{}, false, fmt.Errorf("failed to unmarshal reserves: %w", err)
	}

	st.NextID = 1
	seq, closer, err := s.db.Get(keySeq)
	switch {
	case err == nil:
		st.NextID, err = decodeSeq(seq)
		closer.Close()
		if err != nil {
			return matching.State{}, false, err
		}
	case !errors.Is(err, pebble.ErrNotFound):
		return matching.State{}, false, fmt.Errorf("failed to get sequence: %w", err)
	}

	if st.Orders, err = s.scanOrders(); err != nil {
		return matching.State{}, false, err
	}
	if st.Owners, err = s.scanOwners(); err != nil {
		return matching.State{}, false, err
	}
	return st, true, nil
}

func (s *Store) scanOrders() ([]*orderbook.Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []*orderbook.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o orderbook.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order at %q: %w", iter.Key(), err)
		}
		orders = append(orders, &o)
	}
	return orders, iter.Error()
}

func (s *Store) scanOwners() (map[common.Address][]uint64, error) {
	prefix := []byte(prefixOwner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	owners := make(map[common.Address][]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		owner, id, err := parseOwnerKey(iter.Key())
		if err != nil {
			return nil, err
		}
		owners[owner] = append(owners[owner], id)
	}
	return owners, iter.Error()
}

// OrdersOf lists the order ids of owner from the index, oldest first.
func (s *Store) OrdersOf(owner common.Address) ([]uint64, error) {
	prefix := ownerPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []uint64
	for iter.First(); iter.Valid(); iter.Next() {
		_, id, err := parseOwnerKey(iter.Key())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, iter.Error()
}

// SaveBalances persists ledger balances in one batch.
func (s *Store) SaveBalances(balances map[settlement.Key]*uint256.Int) error {
	b := s.db.NewBatch()
	defer b.Close()
	for k, v := range balances {
		if err := b.Set(balanceKey(k.Token, k.Account), []byte(v.Dec()), nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit balances: %w", err)
	}
	return nil
}

// LoadBalances reads every persisted ledger balance.
func (s *Store) LoadBalances() (map[settlement.Key]*uint256.Int, error) {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	balances := make(map[settlement.Key]*uint256.Int)
	for iter.First(); iter.Valid(); iter.Next() {
		token, account, err := parseBalanceKey(iter.Key())
		if err != nil {
			return nil, err
		}
		v, err := uint256.FromDecimal(string(iter.Value()))
		if err != nil {
			return nil, fmt.Errorf("balance at %q: %w", iter.Key(), err)
		}
		balances[settlement.Key{Token: token, Account: account}] = v
	}
	return balances, iter.Error()
}

var _ settlement.BalanceStore = (*Store)(nil)
