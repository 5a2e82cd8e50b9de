// Package badger implements store.Store on BadgerDB.
//
// Columns map to one-byte key prefixes in a single BadgerDB keyspace, so
// an Update spanning several columns is one BadgerDB transaction.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/stategc/internal/logger"
	"github.com/marmos91/stategc/pkg/store"
)

// DefaultValueLogGCRatio is the discard ratio used by Compact.
const DefaultValueLogGCRatio = 0.5

// Config configures a badger store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// ValueLogGCRatio is the discard ratio passed to RunValueLogGC.
	// Zero means DefaultValueLogGCRatio.
	ValueLogGCRatio float64
}

// Store is a BadgerDB-backed store.Store.
type Store struct {
	db     *badgerdb.DB
	cfg    Config
	closed atomic.Bool
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger store: path is required")
	}
	if cfg.ValueLogGCRatio <= 0 || cfg.ValueLogGCRatio >= 1 {
		cfg.ValueLogGCRatio = DefaultValueLogGCRatio
	}

	opts := badgerdb.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(logger.NewBadgerLogger())
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug("Badger store opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Store{db: db, cfg: cfg}, nil
}

// OpenWithDefaults opens a persistent store at path.
func OpenWithDefaults(ctx context.Context, path string) (*Store, error) {
	return Open(ctx, Config{Path: path})
}

// View runs fn in a read-only BadgerDB transaction.
func (s *Store) View(ctx context.Context, fn func(r store.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrClosed
	}

	return mapError(s.db.View(func(txn *badgerdb.Txn) error {
		return fn(&badgerTxn{txn: txn})
	}))
}

// Update runs fn in a read-write BadgerDB transaction.
//
// BadgerDB conflicts (badgerdb.ErrConflict) are returned as is; the
// caller decides whether to retry.
func (s *Store) Update(ctx context.Context, fn func(t store.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrClosed
	}

	return mapError(s.db.Update(func(txn *badgerdb.Txn) error {
		return fn(&badgerTxn{txn: txn})
	}))
}

// Compact flattens the LSM tree and garbage-collects the value log until
// no file is rewritten.
func (s *Store) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrClosed
	}

	if err := s.db.Flatten(1); err != nil {
		return fmt.Errorf("flatten: %w", err)
	}

	// Value log GC is not supported in memory mode.
	if s.cfg.InMemory {
		return nil
	}

	rewritten := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.RunValueLogGC(s.cfg.ValueLogGCRatio)
		if errors.Is(err, badgerdb.ErrNoRewrite) {
			break
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
		rewritten++
	}

	logger.Debug("Badger compaction finished", "vlog_files_rewritten", rewritten)
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying database for maintenance tooling.
func (s *Store) DB() *badgerdb.DB {
	return s.db
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badgerdb.ErrTxnTooBig):
		return fmt.Errorf("%w: %v", store.ErrBatchTooLarge, err)
	case errors.Is(err, badgerdb.ErrDBClosed):
		return store.ErrClosed
	default:
		return err
	}
}

// ============================================================================
// Transaction
// ============================================================================

type badgerTxn struct {
	txn *badgerdb.Txn
}

func (t *badgerTxn) Get(col store.Column, key []byte) ([]byte, error) {
	item, err := t.txn.Get(col.Key(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Has(col store.Column, key []byte) (bool, error) {
	_, err := t.txn.Get(col.Key(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *badgerTxn) Set(col store.Column, key, value []byte) error {
	return mapError(t.txn.Set(col.Key(key), bytes.Clone(value)))
}

func (t *badgerTxn) Delete(col store.Column, key []byte) error {
	return mapError(t.txn.Delete(col.Key(key)))
}

func (t *badgerTxn) Iterate(col store.Column, opts store.IterOptions, fn store.IterFunc) error {
	prefix := col.Prefix()

	iopts := badgerdb.DefaultIteratorOptions
	iopts.Prefix = prefix
	iopts.Reverse = opts.Reverse
	iopts.PrefetchValues = !opts.KeysOnly

	it := t.txn.NewIterator(iopts)
	defer it.Close()

	var seek []byte
	switch {
	case opts.Start != nil:
		seek = col.Key(opts.Start)
	case opts.Reverse:
		// Reverse seek lands on the largest key <= seek.
		seek = append(bytes.Clone(prefix), bytes.Repeat([]byte{0xFF}, 65)...)
	default:
		seek = prefix
	}

	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := col.Strip(item.Key())

		var cont bool
		var err error
		if opts.KeysOnly {
			cont, err = fn(key, nil)
		} else {
			err = item.Value(func(val []byte) error {
				var ferr error
				cont, ferr = fn(key, val)
				return ferr
			})
		}
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
