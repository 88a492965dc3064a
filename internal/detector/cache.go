package detector

// ResultCache memoizes analyzer replies across process restarts. Keys are
// resultKey(language, text); values are the analyzer's JSON reply, so the
// literal text itself is never stored, only its digest.
//
// Implementations:
//   - memoryCache: in-memory only, used in tests and when no path is configured.
//   - bboltCache: embedded key-value store, used in production.
//
// Both are wrapped in an S3-FIFO layer (s3fifo_cache.go) that bounds the
// in-memory footprint and the on-disk size.

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"pii-redactor/internal/logger"
)

// ResultCache is safe for concurrent use.
type ResultCache interface {
	Get(key string) (value string, ok bool)
	Set(key, value string)
	Delete(key string)
	Close() error
}

// OpenCache returns an S3-FIFO cache of the given capacity over a bbolt file
// at path, or over memory when path is empty.
func OpenCache(path string, capacity int, log *logger.Logger) (ResultCache, error) {
	if path == "" {
		return newS3FIFOCache(newMemoryCache(), capacity, log), nil
	}
	backing, err := newBboltCache(path, log)
	if err != nil {
		return nil, err
	}
	return newS3FIFOCache(backing, capacity, log), nil
}

// resultKey digests the analyzer inputs.
func resultKey(language, text string) string {
	h := sha256.New()
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// --- memoryCache ---------------------------------------------------------

type memoryCache struct {
	mu    sync.RWMutex
	store map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{store: make(map[string]string)}
}

func (c *memoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	v, ok := c.store[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(key, value string) {
	c.mu.Lock()
	c.store[key] = value
	c.mu.Unlock()
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- bboltCache ----------------------------------------------------------

const bboltBucket = "analyzer_results"

type bboltCache struct {
	db  *bolt.DB
	log *logger.Logger
}

// newBboltCache opens (or creates) the database at path and ensures the
// bucket exists.
func newBboltCache(path string, log *logger.Logger) (*bboltCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open result cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create result cache bucket: %w", err)
	}
	log.Infof("cache_open", "persistent result cache opened at %s", path)
	return &bboltCache{db: db, log: log}, nil
}

func (c *bboltCache) Get(key string) (string, bool) {
	var value string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value = string(v)
		}
		return nil
	})
	if err != nil {
		c.log.Warnf("cache_get", "bbolt get: %v", err)
		return "", false
	}
	return value, value != ""
}

func (c *bboltCache) Set(key, value string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(key), []byte(value))
	}); err != nil {
		c.log.Warnf("cache_set", "bbolt set: %v", err)
	}
}

func (c *bboltCache) Delete(key string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	}); err != nil {
		c.log.Warnf("cache_delete", "bbolt delete: %v", err)
	}
}

func (c *bboltCache) Close() error {
	return c.db.Close()
}
