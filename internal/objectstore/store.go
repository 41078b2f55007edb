// Package objectstore provides the blob store the core writes opaque
// artifacts to: stored query parameters, STAC catalog fragments, and
// output-item files, keyed by (jobID, itemID, filename) as described in
// §5. The core treats every value as an opaque byte slice — it never
// parses a result payload, only the catalog fragments it builds itself.
//
// Backed directly by github.com/dgraph-io/badger/v4 (the teacher's
// connection-setup idiom, adapted away from timshannon/badgerhold since
// badgerhold has no home in this spec's key layout).
package objectstore

import (
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
)

// Store wraps a Badger database used as the core's blob object store.
type Store struct {
	db     *badger.DB
	logger arbor.ILogger
}

// Open opens (creating if absent) the Badger database at path.
func Open(path string, logger arbor.ILogger) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object store directory: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Opening object store")

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Key builds the (jobID, itemID, filename) key the core writes artifacts
// under, per §5.
func Key(jobID string, itemID int64, filename string) string {
	return fmt.Sprintf("%s/%d/%s", jobID, itemID, filename)
}

// Put writes value under key, overwriting any existing value.
func (s *Store) Put(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Get reads the value stored under key. If absent, returns an error that
// wraps badger.ErrKeyNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("object store get %q: %w", key, err)
	}
	return value, nil
}

// Delete removes the value stored under key, if any.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// DeletePrefix removes every key beginning with prefix — used to
// cascade-delete a job's artifacts (keyed by jobID/...) alongside its
// relational rows.
func (s *Store) DeletePrefix(prefix string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var keys [][]byte
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			k := it.Item().KeyCopy(nil)
			keys = append(keys, k)
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
