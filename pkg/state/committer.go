package state

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// Commit is one state transition as seen by the storage layer.
type Commit struct {
	// Root is the new state root.
	Root Root

	// Nodes are the nodes the new version references that the previous
	// version did not: freshly written nodes and re-referenced content.
	Nodes [][]byte

	// Superseded are the nodes the previous version referenced that the
	// new version does not.
	Superseded []trie.Hash
}

// CommitResult reports what a Commit changed.
type CommitResult struct {
	Created int // nodes written for the first time
	Stale   int // stale entries recorded
}

// Committer applies commits: it registers the root, stores new nodes with
// their birth records, increments refcounts and writes stale indices, all
// in one transaction.
type Committer struct {
	kv  store.Store
	now func() time.Time
}

// NewCommitter returns a Committer over kv.
func NewCommitter(kv store.Store) *Committer {
	return &Committer{kv: kv, now: time.Now}
}

// WithClock replaces the clock used for birth records and stale entries.
func (c *Committer) WithClock(now func() time.Time) *Committer {
	c.now = now
	return c
}

// Apply commits cm atomically.
func (c *Committer) Apply(ctx context.Context, cm Commit) (CommitResult, error) {
	var res CommitResult
	now := c.now()
	if cm.Root.CommittedAt.IsZero() {
		cm.Root.CommittedAt = now
	}

	err := c.kv.Update(ctx, func(txn store.Txn) error {
		res = CommitResult{}
		tx := NewTx(txn)

		if err := registerRoot(tx, cm.Root); err != nil {
			return fmt.Errorf("register root: %w", err)
		}

		for _, data := range cm.Nodes {
			h := trie.HashBytes(data)
			created, err := tx.PutNode(h, data, now)
			if err != nil {
				return fmt.Errorf("put node %s: %w", h.Short(), err)
			}
			if created {
				res.Created++
			}
			if _, err := tx.IncRefcount(h); err != nil {
				return fmt.Errorf("increment refcount of %s: %w", h.Short(), err)
			}
		}

		stale := make([]StaleIndex, len(cm.Superseded))
		for i, h := range cm.Superseded {
			stale[i] = StaleIndex{Root: cm.Root.Hash, Node: h}
		}
		n, err := tx.WriteStaleIndices(stale, now)
		res.Stale = n
		return err
	})
	return res, err
}
