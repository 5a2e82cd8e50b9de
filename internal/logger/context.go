package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext carries the fields of one GC run through context.Context.
// The *Ctx logging functions prepend them to every record.
type LogContext struct {
	TraceID   string
	SpanID    string
	RunID     string // GC run identifier (uuid)
	Phase     string // build_reach, sweep_expired, incremental
	DryRun    bool
	StartTime time.Time
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext returns the LogContext in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext starts a LogContext for the given run.
func NewLogContext(runID string) *LogContext {
	return &LogContext{
		RunID:     runID,
		StartTime: time.Now(),
	}
}

// Clone returns a copy of lc. Clone of nil is nil.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithPhase returns a copy with the phase set.
func (lc *LogContext) WithPhase(phase string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Phase = phase
	}
	return clone
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the milliseconds elapsed since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
