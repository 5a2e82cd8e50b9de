package logger

import (
	"log/slog"
)

// Standard field keys. Use them consistently so GC logs can be queried by
// run, phase and outcome.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Run
	KeyRunID      = "run_id"
	KeyPhase      = "phase"
	KeyDryRun     = "dry_run"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"

	// Trie
	KeyRoot   = "root"
	KeyNode   = "node"
	KeyCutoff = "cutoff"
	KeyCursor = "cursor"
	KeyRoots  = "roots"

	// Progress
	KeyBatch    = "batch"
	KeyScanned  = "scanned"
	KeyDeleted  = "deleted"
	KeyMissing  = "missing"
	KeySkipped  = "skipped"
	KeyRecycled = "recycled"

	// Bloom filter
	KeyBloomBits = "bloom_bits"
	KeyBloomK    = "bloom_k"
	KeyFillRatio = "fill_ratio"

	// Storage
	KeyColumn = "column"
	KeyPath   = "path"
	KeyBytes  = "bytes"
)

func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// RunID tags a record with the GC run identifier.
func RunID(id string) slog.Attr { return slog.String(KeyRunID, id) }

// Phase tags a record with the GC phase name.
func Phase(name string) slog.Attr { return slog.String(KeyPhase, name) }

func DryRun(v bool) slog.Attr { return slog.Bool(KeyDryRun, v) }

func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns an error attribute. A nil error yields an empty attribute,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Root and Node take anything with a String method so callers can pass
// trie hashes without this package importing them.
func Root(h interface{ String() string }) slog.Attr { return slog.String(KeyRoot, h.String()) }

func Node(h interface{ String() string }) slog.Attr { return slog.String(KeyNode, h.String()) }

func Cutoff(h interface{ String() string }) slog.Attr { return slog.String(KeyCutoff, h.String()) }

func Cursor(h interface{ String() string }) slog.Attr { return slog.String(KeyCursor, h.String()) }

func Roots(n int) slog.Attr { return slog.Int(KeyRoots, n) }

func Batch(n int) slog.Attr { return slog.Int(KeyBatch, n) }

func Scanned(n int) slog.Attr { return slog.Int(KeyScanned, n) }

func Deleted(n int) slog.Attr { return slog.Int(KeyDeleted, n) }

func Missing(n int) slog.Attr { return slog.Int(KeyMissing, n) }

func Skipped(n int) slog.Attr { return slog.Int(KeySkipped, n) }

func Recycled(n int) slog.Attr { return slog.Int(KeyRecycled, n) }

func BloomBits(n uint64) slog.Attr { return slog.Uint64(KeyBloomBits, n) }

func BloomK(k uint8) slog.Attr { return slog.Int(KeyBloomK, int(k)) }

func FillRatio(r float64) slog.Attr { return slog.Float64(KeyFillRatio, r) }

func Column(name string) slog.Attr { return slog.String(KeyColumn, name) }

func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

func Bytes(n int64) slog.Attr { return slog.Int64(KeyBytes, n) }
