package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// Cache stores raw upstream response bodies by request key.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Close() error
}

// BadgerCache is a TTL cache on BadgerDB. Entries expire on their own; a
// read or write failure is logged and treated as a miss.
type BadgerCache struct {
	db     *badger.DB
	ttl    time.Duration
	logger zerolog.Logger
}

// OpenBadgerCache opens a cache in dir, or in memory when dir is empty.
func OpenBadgerCache(dir string, ttl time.Duration, logger zerolog.Logger) (*BadgerCache, error) {
	if ttl <= 0 {
		return nil, errors.New("cache ttl must be positive")
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open catalog cache: %w", err)
	}
	return &BadgerCache{
		db:     db,
		ttl:    ttl,
		logger: logger.With().Str("component", "catalog_cache").Logger(),
	}, nil
}

func (c *BadgerCache) Get(key string) ([]byte, bool) {
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil, false
	}
	return out, true
}

func (c *BadgerCache) Set(key string, value []byte) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(c.ttl))
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}
