package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/stategc/pkg/bloom"
	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

// DefaultBloomChunkSize bounds each Bloom snapshot write so a single
// transaction stays well under engine limits.
const DefaultBloomChunkSize = 4 << 20

// Phase is the persisted position of the GC cycle.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseBuildReach   Phase = "build_reach"
	PhaseSweepExpired Phase = "sweep_expired"
)

// RunStats accumulates counters across the phases of one GC run.
type RunStats struct {
	Roots         int `json:"roots"`
	Scanned       int `json:"scanned"`
	Missing       int `json:"missing"`
	Candidates    int `json:"candidates"`
	Deleted       int `json:"deleted"`
	Recycled      int `json:"recycled"`
	BloomSkipped  int `json:"bloom_skipped"`
	WindowSkipped int `json:"window_skipped"`
	RefSkipped    int `json:"ref_skipped"`
}

// GCState is the persisted GC meta record.
type GCState struct {
	RunID     string      `json:"run_id,omitempty"`
	Phase     Phase       `json:"phase"`
	Roots     []trie.Hash `json:"roots,omitempty"`
	StartedAt time.Time   `json:"started_at,omitempty"`

	// Bloom snapshot written at the end of BuildReach.
	BloomBits   uint64 `json:"bloom_bits,omitempty"`
	BloomK      uint8  `json:"bloom_k,omitempty"`
	BloomChunks int    `json:"bloom_chunks,omitempty"`

	// Cursor is the last node hash SweepExpired finished with.
	Cursor *trie.Hash `json:"cursor,omitempty"`
	Stats  RunStats   `json:"stats"`

	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	CompletedRuns   uint64     `json:"completed_runs"`
	BootCleanupDone bool       `json:"boot_cleanup_done"`
}

// MetaStore persists GC meta and the Bloom snapshot.
type MetaStore struct {
	kv        store.Store
	chunkSize int
}

// NewMetaStore returns a MetaStore over kv.
func NewMetaStore(kv store.Store) *MetaStore {
	return &MetaStore{kv: kv, chunkSize: DefaultBloomChunkSize}
}

// WithChunkSize overrides the Bloom snapshot chunk size.
func (m *MetaStore) WithChunkSize(n int) *MetaStore {
	if n > 0 {
		m.chunkSize = n
	}
	return m
}

// Load returns the persisted state, or an idle state if none exists.
func (m *MetaStore) Load(ctx context.Context) (*GCState, error) {
	st := &GCState{Phase: PhaseIdle}
	err := m.kv.View(ctx, func(r store.Reader) error {
		v, err := r.Get(store.ColMeta, []byte(metaKeyPhase))
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(v, st); err != nil {
			return fmt.Errorf("%w: gc meta: %v", ErrCorruptValue, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if st.Phase == "" {
		st.Phase = PhaseIdle
	}
	return st, nil
}

// Save writes st.
func (m *MetaStore) Save(ctx context.Context, st *GCState) error {
	value, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return m.kv.Update(ctx, func(txn store.Txn) error {
		return txn.Set(store.ColMeta, []byte(metaKeyPhase), value)
	})
}

// SaveBloom persists f and then st, with st's Bloom fields filled in.
//
// Chunks are written in their own transactions and the phase record last:
// a crash part-way leaves the previous phase record, which never points at
// the half-written chunks.
func (m *MetaStore) SaveBloom(ctx context.Context, st *GCState, f *bloom.Filter) error {
	prev, err := m.Load(ctx)
	if err != nil {
		return err
	}

	data := f.Bytes()
	chunks := 0
	for off := 0; off < len(data); off += m.chunkSize {
		end := min(off+m.chunkSize, len(data))
		chunk := data[off:end]
		n := chunks
		if err := m.kv.Update(ctx, func(txn store.Txn) error {
			return txn.Set(store.ColMeta, bloomChunkKey(n), chunk)
		}); err != nil {
			return fmt.Errorf("write bloom chunk %d: %w", n, err)
		}
		chunks++
	}

	st.BloomBits = f.Bits()
	st.BloomK = f.K()
	st.BloomChunks = chunks

	value, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return m.kv.Update(ctx, func(txn store.Txn) error {
		for n := chunks; n < prev.BloomChunks; n++ {
			if err := txn.Delete(store.ColMeta, bloomChunkKey(n)); err != nil {
				return err
			}
		}
		return txn.Set(store.ColMeta, []byte(metaKeyPhase), value)
	})
}

// LoadBloom rebuilds the snapshot referenced by st.
func (m *MetaStore) LoadBloom(ctx context.Context, st *GCState) (*bloom.Filter, error) {
	if st.BloomChunks == 0 || st.BloomBits == 0 || st.BloomK == 0 {
		return nil, ErrBloomSnapshotMissing
	}

	var buf bytes.Buffer
	buf.Grow(int(st.BloomBits / 8))
	err := m.kv.View(ctx, func(r store.Reader) error {
		for n := 0; n < st.BloomChunks; n++ {
			chunk, err := r.Get(store.ColMeta, bloomChunkKey(n))
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: chunk %d", ErrBloomSnapshotMissing, n)
			}
			if err != nil {
				return err
			}
			buf.Write(chunk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if uint64(buf.Len())*8 != st.BloomBits {
		return nil, fmt.Errorf("%w: have %d bytes, want %d", ErrBloomSnapshotMissing, buf.Len(), st.BloomBits/8)
	}
	return bloom.FromBytes(buf.Bytes(), st.BloomK)
}

// DeleteBloomChunks removes the first n snapshot chunks. Callers save a
// state that no longer references them first.
func (m *MetaStore) DeleteBloomChunks(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	return m.kv.Update(ctx, func(txn store.Txn) error {
		for i := 0; i < n; i++ {
			if err := txn.Delete(store.ColMeta, bloomChunkKey(i)); err != nil {
				return err
			}
		}
		return nil
	})
}
