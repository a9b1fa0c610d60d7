// Package cachekey stores the content cache key: an opaque value that
// changes whenever channel content changes, so consumers holding cached
// responses can tell they are stale.
package cachekey

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"kc-go/internal/catalog"
	"kc-go/internal/config"
)

var (
	bucketCache = []byte("cache")
	keyContent  = []byte("content_cache_key")
)

// Store persists the content cache key in a bbolt database.
type Store struct {
	db    *bolt.DB
	clock catalog.Clock
}

// Open opens (creating if needed) the bolt database at path.
func Open(path string, clock catalog.Clock) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCache)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}
	return &Store{db: db, clock: clock}, nil
}

// Get returns the current key, or "" if it was never set.
func (s *Store) Get() (string, error) {
	var key string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketCache).Get(keyContent); v != nil {
			key = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading cache key: %w", err)
	}
	return key, nil
}

// Update replaces the key with the current time in nanoseconds. A key that
// would not change (clock granularity) is bumped by one.
func (s *Store) Update() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		return b.Put(keyContent, []byte(nextKey(string(b.Get(keyContent)), s.clock.Now())))
	})
	if err != nil {
		return fmt.Errorf("updating cache key: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// nextKey returns a key strictly greater than prev.
func nextKey(prev string, now time.Time) string {
	next := now.UnixNano()
	if p, err := strconv.ParseInt(prev, 10, 64); err == nil && next <= p {
		next = p + 1
	}
	return strconv.FormatInt(next, 10)
}

// MemoryStore keeps the key in memory. Use in tests.
type MemoryStore struct {
	mu    sync.Mutex
	key   string
	clock catalog.Clock

	// Updates counts calls to Update.
	Updates int
}

func NewMemoryStore(clock catalog.Clock) *MemoryStore {
	return &MemoryStore{clock: clock}
}

func (m *MemoryStore) Get() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key, nil
}

func (m *MemoryStore) Update() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = nextKey(m.key, m.clock.Now())
	m.Updates++
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// KeyStore is implemented by Store and MemoryStore.
type KeyStore interface {
	catalog.CacheInvalidator
	Get() (string, error)
	Close() error
}

// NewFromConfig creates a KeyStore based on the cache config type.
func NewFromConfig(cfg config.CacheConfig, clock catalog.Clock) (KeyStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(clock), nil
	case "bolt":
		if cfg.Path == "" {
			return nil, fmt.Errorf("bolt cache requires path to be set")
		}
		return Open(cfg.Path, clock)
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}

var (
	_ KeyStore = (*Store)(nil)
	_ KeyStore = (*MemoryStore)(nil)
)
