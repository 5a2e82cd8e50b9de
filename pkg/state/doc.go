// Package state stores the trie nodes and the bookkeeping the garbage
// collector runs on: per-node refcounts, stale candidates, birth records,
// the root registry, GC meta and the recycle bin.
//
// Every store here is a thin typed view over one store.Store, so
// mutations that must be atomic together (a refcount decrement and the
// stale entry it produces, a node delete and its recycle record) can share
// one store.Txn. Reader and Tx expose the same typed accessors for use
// inside a caller-owned transaction.
package state
