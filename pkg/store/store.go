package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store: closed")

	// ErrBatchTooLarge is returned by Update when the transaction exceeds
	// the engine's size limit. Callers should split the batch.
	ErrBatchTooLarge = errors.New("store: batch too large")
)

// IterOptions controls a column iteration.
type IterOptions struct {
	// Start is the first key (without column prefix) to visit. With Reverse
	// it is the last key, visited first. Nil starts at the column boundary.
	Start []byte

	// Reverse iterates in descending key order.
	Reverse bool

	// KeysOnly skips value loading; fn receives a nil value.
	KeysOnly bool
}

// IterFunc is called for each key in iteration order. Returning false stops
// the iteration without error. Key and value are only valid for the
// duration of the call.
type IterFunc func(key, value []byte) (bool, error)

// Reader is the read half of a transaction.
type Reader interface {
	// Get returns a copy of the value stored under key, or ErrNotFound.
	Get(col Column, key []byte) ([]byte, error)

	// Has reports whether key exists.
	Has(col Column, key []byte) (bool, error)

	// Iterate visits the keys of col in byte order.
	Iterate(col Column, opts IterOptions, fn IterFunc) error
}

// Txn is a read-write transaction. Reads observe the transaction's own
// writes.
type Txn interface {
	Reader

	Set(col Column, key, value []byte) error
	Delete(col Column, key []byte) error
}

// Store is a transactional, column-namespaced key-value engine.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// View runs fn in a read-only snapshot.
	View(ctx context.Context, fn func(r Reader) error) error

	// Update runs fn in a read-write transaction. If fn returns nil the
	// writes commit atomically; otherwise they are discarded.
	Update(ctx context.Context, fn func(txn Txn) error) error

	// Compact asks the engine to reclaim space held by deleted keys.
	Compact(ctx context.Context) error

	Close() error
}

// Count returns the number of keys in col.
func Count(ctx context.Context, s Store, col Column) (int, error) {
	n := 0
	err := s.View(ctx, func(r Reader) error {
		return r.Iterate(col, IterOptions{KeysOnly: true}, func(_, _ []byte) (bool, error) {
			n++
			if n%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return false, err
				}
			}
			return true, nil
		})
	})
	return n, err
}
