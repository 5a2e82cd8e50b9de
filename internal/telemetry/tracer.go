package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for garbage collection spans.
const (
	// ========================================================================
	// Run attributes
	// ========================================================================
	AttrRunID   = "gc.run_id"
	AttrPhase   = "gc.phase"
	AttrDryRun  = "gc.dry_run"
	AttrResumed = "gc.resumed"

	// ========================================================================
	// Reachability attributes
	// ========================================================================
	AttrRoots     = "gc.roots"
	AttrScanned   = "gc.scanned"
	AttrMissing   = "gc.missing"
	AttrBloomBits = "gc.bloom.bits"
	AttrBloomK    = "gc.bloom.k"
	AttrFillRatio = "gc.bloom.fill_ratio"

	// ========================================================================
	// Sweep attributes
	// ========================================================================
	AttrCutoff     = "gc.cutoff"
	AttrCandidates = "gc.candidates"
	AttrDeleted    = "gc.deleted"
	AttrRecycled   = "gc.recycled"
	AttrSkipped    = "gc.skipped"
	AttrBatch      = "gc.batch"

	// ========================================================================
	// Storage attributes
	// ========================================================================
	AttrStorePath = "store.path"
	AttrColumn    = "store.column"
)

// Span names.
const (
	SpanRun          = "gc.run"
	SpanBuildReach   = "gc.build_reach"
	SpanSweepExpired = "gc.sweep_expired"
	SpanIncremental  = "gc.incremental"
	SpanCompact      = "gc.compact"
	SpanBootCleanup  = "gc.boot_cleanup"
)

// RunID returns an attribute for the collection run identifier
func RunID(id string) attribute.KeyValue {
	return attribute.String(AttrRunID, id)
}

// Phase returns an attribute for the current collection phase
func Phase(name string) attribute.KeyValue {
	return attribute.String(AttrPhase, name)
}

// DryRun returns an attribute marking a run that makes no changes
func DryRun(v bool) attribute.KeyValue {
	return attribute.Bool(AttrDryRun, v)
}

// Resumed returns an attribute marking a run continued from a persisted phase
func Resumed(v bool) attribute.KeyValue {
	return attribute.Bool(AttrResumed, v)
}

// Roots returns an attribute for the number of protected roots
func Roots(n int) attribute.KeyValue {
	return attribute.Int(AttrRoots, n)
}

// Scanned returns an attribute for the number of nodes visited
func Scanned(n int) attribute.KeyValue {
	return attribute.Int(AttrScanned, n)
}

// Missing returns an attribute for the number of referenced nodes not found
func Missing(n int) attribute.KeyValue {
	return attribute.Int(AttrMissing, n)
}

// BloomBits returns an attribute for the marker filter size
func BloomBits(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrBloomBits, int64(n))
}

// BloomK returns an attribute for the marker filter hash count
func BloomK(k int) attribute.KeyValue {
	return attribute.Int(AttrBloomK, k)
}

// FillRatio returns an attribute for the fraction of set marker bits
func FillRatio(r float64) attribute.KeyValue {
	return attribute.Float64(AttrFillRatio, r)
}

// Cutoff returns an attribute for a sweep cutoff root
func Cutoff(hex string) attribute.KeyValue {
	return attribute.String(AttrCutoff, hex)
}

// Candidates returns an attribute for the number of expiry candidates
func Candidates(n int) attribute.KeyValue {
	return attribute.Int(AttrCandidates, n)
}

// Deleted returns an attribute for the number of nodes deleted
func Deleted(n int) attribute.KeyValue {
	return attribute.Int(AttrDeleted, n)
}

// Recycled returns an attribute for the number of nodes staged to the recycle bin
func Recycled(n int) attribute.KeyValue {
	return attribute.Int(AttrRecycled, n)
}

// Skipped returns an attribute for the number of entries left in place
func Skipped(n int) attribute.KeyValue {
	return attribute.Int(AttrSkipped, n)
}

// Batch returns an attribute for a batch size
func Batch(n int) attribute.KeyValue {
	return attribute.Int(AttrBatch, n)
}

// StorePath returns an attribute for the database path
func StorePath(path string) attribute.KeyValue {
	return attribute.String(AttrStorePath, path)
}

// Column returns an attribute for a storage column
func Column(name string) attribute.KeyValue {
	return attribute.String(AttrColumn, name)
}

// StartGCSpan starts a span for a collection phase.
// This is a convenience function that sets the run and phase attributes.
func StartGCSpan(ctx context.Context, name, runID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	if runID != "" {
		allAttrs = append(allAttrs, RunID(runID))
	}
	allAttrs = append(allAttrs, Phase(phaseName(name)))
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// phaseName strips the "gc." span prefix.
func phaseName(span string) string {
	return strings.TrimPrefix(span, "gc.")
}
