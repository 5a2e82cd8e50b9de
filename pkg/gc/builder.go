package gc

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/stategc/internal/logger"
	"github.com/marmos91/stategc/pkg/bloom"
	"github.com/marmos91/stategc/pkg/state"
	"github.com/marmos91/stategc/pkg/trie"
)

// NodeReader fetches node bytes in bulk. Missing nodes are returned as nil.
type NodeReader interface {
	GetMany(ctx context.Context, hashes []trie.Hash) ([][]byte, error)
}

// BuildProgress is reported after every traversal chunk.
type BuildProgress struct {
	Root    trie.Hash
	Roots   int // roots finished so far
	Scanned int
	Missing int
	Queued  int
}

// ReachableBuilder marks every node reachable from a set of roots in a
// Bloom filter.
//
// The traversal is breadth-first in chunks of scanBatch hashes. Each chunk
// is first marked sequentially, skipping hashes already present, and only
// the newly marked nodes are fetched and expanded. A false positive hides
// the subtree below it from the marker; SweepExpired still keeps any node
// with a non-zero refcount. With a reach-seen set configured the skip
// check is exact and the filter is still filled.
type ReachableBuilder struct {
	nodes    NodeReader
	filter   *bloom.Filter
	workers  int
	resolver trie.ChildResolver
	seen     *state.ReachSeenSet
	progress func(BuildProgress)
	metrics  *Metrics

	missing int
}

// BuilderOption configures a ReachableBuilder.
type BuilderOption func(*ReachableBuilder)

// WithWorkers bounds the fetch goroutines. Values below 1 are ignored.
func WithWorkers(n int) BuilderOption {
	return func(b *ReachableBuilder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithResolver sets the child resolver. Defaults to trie.DefaultResolver.
func WithResolver(r trie.ChildResolver) BuilderOption {
	return func(b *ReachableBuilder) {
		if r != nil {
			b.resolver = r
		}
	}
}

// WithReachSeen uses s as the exact visited set.
func WithReachSeen(s *state.ReachSeenSet) BuilderOption {
	return func(b *ReachableBuilder) { b.seen = s }
}

// WithProgress sets a callback invoked after every chunk.
func WithProgress(fn func(BuildProgress)) BuilderOption {
	return func(b *ReachableBuilder) { b.progress = fn }
}

// WithBuilderMetrics records scan counters in m.
func WithBuilderMetrics(m *Metrics) BuilderOption {
	return func(b *ReachableBuilder) { b.metrics = m }
}

// NewReachableBuilder returns a builder that reads nodes from nodes and
// marks them in filter.
func NewReachableBuilder(nodes NodeReader, filter *bloom.Filter, opts ...BuilderOption) *ReachableBuilder {
	b := &ReachableBuilder{
		nodes:    nodes,
		filter:   filter,
		workers:  runtime.NumCPU(),
		resolver: trie.DefaultResolver,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Missing returns the number of referenced nodes that were not found
// across all Build calls.
func (b *ReachableBuilder) Missing() int {
	return b.missing
}

// Build traverses from each root and returns the number of distinct nodes
// scanned. Missing nodes are logged and counted, not fatal. A node whose
// children cannot be decoded aborts the build: its subtree would go
// unmarked.
//
// Cancellation is checked between chunks; the count so far is returned
// with ctx.Err().
func (b *ReachableBuilder) Build(ctx context.Context, roots []trie.Hash, scanBatch int) (int, error) {
	if scanBatch <= 0 {
		return 0, fmt.Errorf("%w: scan batch must be positive", ErrInvalidConfig)
	}

	scanned := 0
	for i, root := range roots {
		queue := []trie.Hash{root}
		for len(queue) > 0 {
			if err := ctx.Err(); err != nil {
				return scanned, err
			}

			n := min(scanBatch, len(queue))
			chunk := queue[:n]

			fresh, err := b.mark(ctx, chunk)
			if err != nil {
				return scanned, err
			}

			children, found, err := b.expand(ctx, fresh)
			if err != nil {
				return scanned, err
			}
			scanned += found
			b.metrics.AddScanned(found)

			// Copy the remainder so the consumed prefix can be collected.
			next := make([]trie.Hash, 0, len(queue)-n+len(children))
			next = append(next, queue[n:]...)
			queue = append(next, children...)

			if b.progress != nil {
				b.progress(BuildProgress{
					Root:    root,
					Roots:   i,
					Scanned: scanned,
					Missing: b.missing,
					Queued:  len(queue),
				})
			}
		}

		logger.DebugCtx(ctx, "GC: root marked", logger.Root(root), logger.Scanned(scanned))
	}

	return scanned, nil
}

// mark inserts chunk into the visited set and returns the hashes that were
// not already present, in order.
func (b *ReachableBuilder) mark(ctx context.Context, chunk []trie.Hash) ([]trie.Hash, error) {
	if b.seen != nil {
		fresh, err := b.seen.MarkNew(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("mark reach-seen: %w", err)
		}
		for _, h := range fresh {
			b.filter.Insert(h)
		}
		return fresh, nil
	}

	fresh := make([]trie.Hash, 0, len(chunk))
	for _, h := range chunk {
		if !b.filter.TestAndInsert(h) {
			fresh = append(fresh, h)
		}
	}
	return fresh, nil
}

// expand fetches hashes with up to b.workers goroutines and returns their
// children in input order along with the number of nodes found.
func (b *ReachableBuilder) expand(ctx context.Context, hashes []trie.Hash) ([]trie.Hash, int, error) {
	if len(hashes) == 0 {
		return nil, 0, nil
	}

	parts := min(b.workers, len(hashes))
	per := (len(hashes) + parts - 1) / parts

	type result struct {
		children []trie.Hash
		found    int
		missing  []trie.Hash
	}
	results := make([]result, parts)

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < parts; p++ {
		lo := p * per
		hi := min(lo+per, len(hashes))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			batch := hashes[lo:hi]
			datas, err := b.nodes.GetMany(gctx, batch)
			if err != nil {
				return fmt.Errorf("fetch nodes: %w", err)
			}
			res := &results[p]
			for j, data := range datas {
				if data == nil {
					res.missing = append(res.missing, batch[j])
					continue
				}
				res.found++
				kids, err := b.resolver.Children(data)
				if err != nil {
					return fmt.Errorf("decode node %s: %w", batch[j], err)
				}
				res.children = append(res.children, kids...)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var (
		children []trie.Hash
		found    int
	)
	for _, res := range results {
		children = append(children, res.children...)
		found += res.found
		for _, h := range res.missing {
			logger.WarnCtx(ctx, "GC: referenced node missing", logger.Node(h))
		}
		b.missing += len(res.missing)
		b.metrics.AddMissing(len(res.missing))
	}
	return children, found, nil
}
