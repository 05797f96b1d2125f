// Package txstore keeps frozen transactions on disk while their signatures are collected.
//
// Entries are stored under a handle derived from the transaction id and expire together with
// the transaction validity window.
package txstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mr-tron/base58"

	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/logger"
	"github.com/bartossh/Ledgerlink/transaction"
)

const (
	gcRuntimeTick = time.Minute * 5
	prefix        = "tx:"
)

var (
	ErrNotFound  = errors.New("transaction not found")
	ErrExpired   = errors.New("transaction validity window has passed")
	ErrBadHandle = errors.New("malformed transaction handle")
)

// Config configures the store. An empty Path keeps the store in memory.
type Config struct {
	Path string `yaml:"path"`
}

// Store is a badger backed store of serialized transactions.
type Store struct {
	db  *badger.DB
	log logger.Logger
	now func() time.Time
}

// Open opens the store and runs the value log garbage collection until ctx is done.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	var opt badger.Options
	switch cfg.Path {
	case "":
		opt = badger.DefaultOptions("").WithInMemory(true)
	default:
		if _, err := os.Stat(cfg.Path); err != nil {
			return nil, err
		}
		opt = badger.DefaultOptions(cfg.Path)
	}
	opt = opt.WithLogger(nil)

	db, err := badger.Open(opt)
	if err != nil {
		return nil, err
	}

	go func(ctx context.Context) {
		ticker := time.NewTicker(gcRuntimeTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				log.Debug(fmt.Sprintf("badger DB garbage collection loop failure: %s", err))
			}
		}
	}(ctx)

	return &Store{db: db, log: log, now: time.Now}, nil
}

// Handle returns the printable handle the transaction is stored under.
func Handle(id ids.TransactionID) string {
	return base58.Encode([]byte(id.Key()))
}

// ParseHandle returns the transaction id encoded in the handle.
func ParseHandle(h string) (ids.TransactionID, error) {
	raw, err := base58.Decode(h)
	if err != nil {
		return ids.TransactionID{}, errors.Join(ErrBadHandle, err)
	}
	id, err := ids.ParseTransactionID(string(raw))
	if err != nil {
		return ids.TransactionID{}, errors.Join(ErrBadHandle, err)
	}
	return id, nil
}

// Put stores the transaction, replacing a stored copy, and returns its handle.
func (s *Store) Put(tx *transaction.Transaction) (string, error) {
	raw, err := tx.ToBytes()
	if err != nil {
		return "", err
	}
	e, err := s.entry(tx, raw)
	if err != nil {
		return "", err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(e)
	}); err != nil {
		return "", err
	}
	h := Handle(tx.TransactionID())
	s.log.Debug(fmt.Sprintf("transaction [ %s ] stored as [ %s ]", tx.TransactionID(), h))
	return h, nil
}

// Get restores the stored transaction.
func (s *Store) Get(handle string) (*transaction.Transaction, error) {
	k, err := key(handle)
	if err != nil {
		return nil, err
	}
	var tx *transaction.Transaction
	err = s.db.View(func(txn *badger.Txn) error {
		tx, err = read(txn, k)
		return err
	})
	return tx, err
}

// AddSignature verifies and attaches the signatures of pub to the stored transaction in one
// store transaction, concurrent signers do not overwrite each other.
func (s *Store) AddSignature(handle string, pub keys.PublicKey, sigs [][]byte) (*transaction.Transaction, error) {
	k, err := key(handle)
	if err != nil {
		return nil, err
	}
	var tx *transaction.Transaction
	err = s.db.Update(func(txn *badger.Txn) error {
		tx, err = read(txn, k)
		if err != nil {
			return err
		}
		if err := tx.AddSignature(pub, sigs); err != nil {
			return err
		}
		raw, err := tx.ToBytes()
		if err != nil {
			return err
		}
		e, err := s.entry(tx, raw)
		if err != nil {
			return err
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			s.log.Warn(fmt.Sprintf("concurrent signature on [ %s ], retry", handle))
		}
		return nil, err
	}
	return tx, nil
}

// Delete removes the stored transaction.
func (s *Store) Delete(handle string) error {
	k, err := key(handle)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
}

// Handles lists the handles of the stored, not yet expired transactions.
func (s *Store) Handles() ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			id := strings.TrimPrefix(string(it.Item().Key()), prefix)
			out = append(out, base58.Encode([]byte(id)))
		}
		return nil
	})
	return out, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) entry(tx *transaction.Transaction, raw []byte) (*badger.Entry, error) {
	id := tx.TransactionID()
	ttl := id.ValidStart.Add(tx.ValidDuration()).Sub(s.now())
	if ttl <= 0 {
		return nil, errors.Join(ErrExpired, fmt.Errorf("transaction [ %s ]", id))
	}
	return badger.NewEntry([]byte(prefix+id.Key()), raw).WithTTL(ttl), nil
}

func key(handle string) ([]byte, error) {
	id, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	return []byte(prefix + id.Key()), nil
}

func read(txn *badger.Txn, k []byte) (*transaction.Transaction, error) {
	item, err := txn.Get(k)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return transaction.FromBytes(raw)
}
