package merge

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// KeyIndex remembers which batch first claimed each record key.
type KeyIndex interface {
	// Claim records key for batch. If the key was already claimed it returns
	// the earlier batch and dup=true, leaving the first claim in place.
	Claim(key, batch string) (prev string, dup bool, err error)
	Close() error
}

type memIndex struct {
	owners map[string]string
}

// NewMemoryIndex keeps every key in a map.
func NewMemoryIndex() KeyIndex { return &memIndex{owners: make(map[string]string)} }

func (m *memIndex) Claim(key, batch string) (string, bool, error) {
	if prev, ok := m.owners[key]; ok {
		return prev, true, nil
	}
	m.owners[key] = batch
	return "", false, nil
}

func (m *memIndex) Close() error { return nil }

type badgerIndex struct {
	db *badger.DB
}

// NewBadgerIndex keeps keys in an on-disk badger store under dir, for key
// sets that do not fit in memory. An empty dir opens an in-memory store.
func NewBadgerIndex(dir string) (KeyIndex, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerIndex{db: db}, nil
}

func (b *badgerIndex) Claim(key, batch string) (string, bool, error) {
	var prev string
	var dup bool
	err := b.db.Update(func(txn *badger.Txn) error {
		k := []byte(key)
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(k, []byte(batch))
		}
		if err != nil {
			return err
		}
		dup = true
		return item.Value(func(v []byte) error {
			prev = string(v)
			return nil
		})
	})
	return prev, dup, err
}

func (b *badgerIndex) Close() error { return b.db.Close() }
