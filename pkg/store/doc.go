// Package store defines the key-value abstraction the state GC runs on.
//
// A Store is a flat ordered keyspace split into columns by a one-byte key
// prefix. Reads go through View, writes through Update: every Update is
// atomic, so a refcount change and the stale entry it produces are never
// observed half-applied. Engines live in subpackages:
//
//   - badger: persistent engine on github.com/dgraph-io/badger/v4
//   - memory: map-backed engine for tests and dry experiments
//
// storetest holds the conformance suite every engine must pass.
package store
