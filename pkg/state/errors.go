package state

import "errors"

var (
	// ErrNodeNotFound is returned when a node's bytes are not in the store.
	ErrNodeNotFound = errors.New("state: node not found")

	// ErrRootNotFound is returned when a root is not registered.
	ErrRootNotFound = errors.New("state: root not registered")

	// ErrRecordNotFound is returned when the recycle bin has no record for
	// a hash.
	ErrRecordNotFound = errors.New("state: recycle record not found")

	// ErrCorruptValue is returned when a stored value cannot be decoded.
	ErrCorruptValue = errors.New("state: corrupt value")

	// ErrBloomSnapshotMissing is returned when GC meta points at a Bloom
	// snapshot that is absent or incomplete.
	ErrBloomSnapshotMissing = errors.New("state: bloom snapshot missing or incomplete")
)
