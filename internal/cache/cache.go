// Package cache implements the process-wide catalog-metadata cache of
// §5/§9: an on-disk Badger store keyed by a deterministic hash of
// (queryType, canonicalised query, token), whose entries expire by TTL,
// that coalesces concurrent misses on the same key into a single upstream
// call. No byte-size cap is enforced on the stored entries.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"
)

// Fetcher resolves a cache miss by calling the out-of-scope catalog
// metadata client. Returning an error aborts the Get without populating
// the cache.
type Fetcher func() ([]byte, error)

// Cache coalesces concurrent fetches of the same key (via singleflight)
// and stores the result in Badger with a per-entry TTL (grounded on the
// same dgraph-io/badger/v4 dependency the object store uses — its
// per-entry WithTTL maps directly onto cmrCacheTtl). Open takes no size
// bound and the cache runs no value-log GC, so the database's size is
// not capped.
type Cache struct {
	db    *badger.DB
	group singleflight.Group
	ttl   time.Duration
}

// Open opens a Badger database at path dedicated to cache entries,
// distinct from the object store's database.
func Open(path string, ttl time.Duration) (*Cache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Key returns the deterministic MD5(queryType || canonicalQuery || token)
// cache key named in §9.
func Key(queryType, canonicalQuery, token string) string {
	h := md5.Sum([]byte(queryType + "|" + canonicalQuery + "|" + token))
	return hex.EncodeToString(h[:])
}

// Get returns the cached value for key, calling fetch on a miss. Concurrent
// Get calls for the same key share one fetch call via singleflight — a
// second caller arriving mid-fetch blocks on the first's result rather than
// issuing its own upstream call.
func (c *Cache) Get(key string, fetch Fetcher) ([]byte, error) {
	if value, ok := c.lookup(key); ok {
		return value, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		if value, ok := c.lookup(key); ok {
			return value, nil
		}
		fetched, err := fetch()
		if err != nil {
			return nil, err
		}
		if err := c.store(key, fetched); err != nil {
			return nil, err
		}
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

func (c *Cache) lookup(key string) ([]byte, bool) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false
	}
	return value, true
}

func (c *Cache) store(key string, value []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}

// Invalidate removes key from the cache immediately, regardless of TTL.
func (c *Cache) Invalidate(key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}
