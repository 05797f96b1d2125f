// Package cache keeps final transaction receipts in memory so repeated lookups of the same
// transaction do not query the network again.
package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache"

	"github.com/bartossh/Ledgerlink/codec"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/logger"
	"github.com/bartossh/Ledgerlink/receipt"
)

const (
	shards          = 64
	prefixReceipt   = "receipt"
	defaultLife     = time.Minute * 30
	defaultClean    = time.Minute * 10
	defaultMaxEntry = 256
)

var (
	ErrNotFinal        = errors.New("only final receipts are cached")
	ErrReceiptNotFound = errors.New("receipt not found")
)

// Config configures the receipt cache.
type Config struct {
	LifeWindow     time.Duration `yaml:"life_window"`
	CleanWindow    time.Duration `yaml:"clean_window"`
	MaxCacheSizeMB int           `yaml:"max_cache_size_mb"`
}

// Receipts is a short lived memory of final receipts keyed by transaction id.
type Receipts struct {
	mem *bigcache.BigCache
	log logger.Logger
}

// New creates the receipt cache on success or returns an error otherwise.
func New(cfg Config, log logger.Logger) (*Receipts, error) {
	if cfg.LifeWindow <= 0 {
		cfg.LifeWindow = defaultLife
	}
	if cfg.CleanWindow <= 0 {
		cfg.CleanWindow = defaultClean
	}
	c, err := bigcache.NewBigCache(bigcache.Config{
		Shards:           shards,
		LifeWindow:       cfg.LifeWindow,
		CleanWindow:      cfg.CleanWindow,
		HardMaxCacheSize: cfg.MaxCacheSizeMB,
		MaxEntrySize:     defaultMaxEntry,
	})
	if err != nil {
		return nil, err
	}
	return &Receipts{mem: c, log: log}, nil
}

// Save memorizes a final receipt of the transaction.
func (r *Receipts) Save(id ids.TransactionID, rc receipt.Receipt) error {
	if !rc.Status.IsTerminal() {
		return errors.Join(ErrNotFinal, fmt.Errorf("transaction [ %s ] is [ %s ]", id, rc.Status))
	}
	return r.mem.Set(key(id), codec.EncodeReceipt(rc))
}

// Get returns the memorized receipt or ErrReceiptNotFound.
func (r *Receipts) Get(id ids.TransactionID) (receipt.Receipt, error) {
	raw, err := r.mem.Get(key(id))
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return receipt.Receipt{}, ErrReceiptNotFound
		}
		return receipt.Receipt{}, err
	}
	rc, err := codec.DecodeReceipt(raw)
	if err != nil {
		r.log.Warn(fmt.Sprintf("cached receipt of [ %s ] is corrupted, %s", id, err))
		_ = r.mem.Delete(key(id))
		return receipt.Receipt{}, ErrReceiptNotFound
	}
	return rc, nil
}

// Len returns the number of memorized receipts.
func (r *Receipts) Len() int {
	return r.mem.Len()
}

// Close closes the cache in a safe way allowing all the goroutines to finish their jobs and cleaning the heap.
func (r *Receipts) Close() error {
	return r.mem.Close()
}

func key(id ids.TransactionID) string {
	return prefixReceipt + ":" + id.Key()
}
