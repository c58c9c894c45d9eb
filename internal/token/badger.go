package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore is a durable single-node ConsumptionStore. Consumption records
// survive restarts, so a single-use token cannot be replayed across a gateway
// restart. Entries carry a native badger TTL and self-expire.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a badger database at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("token: open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Consume marks id as consumed inside a read-modify-write transaction.
func (s *BadgerStore) Consume(_ context.Context, id string, ttl time.Duration) (bool, error) {
	key := []byte(consumedKeyPrefix + id)
	first := false

	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil // already consumed
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		first = true
		entry := badger.NewEntry(key, []byte{1}).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		// A conflicting concurrent consume means someone else got there first.
		if errors.Is(err, badger.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("token: badger consume: %w", err)
	}
	return first, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
