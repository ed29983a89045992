package oracle

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// cachedPrice is the value persisted per symbol.
type cachedPrice struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceCache keeps the last observed price per symbol, in memory with a
// badger-backed copy so last-known prices survive a restart. Whether a cached
// price is still usable is the caller's decision.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]cachedPrice
	db     *badger.DB
}

// NewPriceCache opens (or creates) the badger database at path. An empty path
// yields a memory-only cache.
func NewPriceCache(path string) (*PriceCache, error) {
	c := &PriceCache{prices: make(map[string]cachedPrice)}
	if path == "" {
		return c, nil
	}

	opts := badger.DefaultOptions(path)
	// Badger's own logging would drown ours; errors still surface from the
	// DB operations themselves.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	c.db = db
	return c, nil
}

// Set records the latest price for a symbol, writing through to badger.
func (c *PriceCache) Set(symbol string, price float64, ts time.Time) error {
	entry := cachedPrice{Price: price, Timestamp: ts}

	c.mu.Lock()
	c.prices[symbol] = entry
	c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(priceKey(symbol), data)
	})
}

// Get returns the last known price and its observation time.
// The boolean is false when the symbol has never been seen.
func (c *PriceCache) Get(symbol string) (float64, time.Time, bool) {
	c.mu.RLock()
	entry, ok := c.prices[symbol]
	c.mu.RUnlock()
	if ok {
		return entry.Price, entry.Timestamp, true
	}

	if c.db == nil {
		return 0, time.Time{}, false
	}

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(priceKey(symbol))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		// ErrKeyNotFound and real failures alike: no usable cached price.
		return 0, time.Time{}, false
	}

	// Promote the disk entry so subsequent lookups stay in memory.
	c.mu.Lock()
	c.prices[symbol] = entry
	c.mu.Unlock()
	return entry.Price, entry.Timestamp, true
}

// Close closes the badger database.
func (c *PriceCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func priceKey(symbol string) []byte {
	return []byte("price:" + symbol)
}
