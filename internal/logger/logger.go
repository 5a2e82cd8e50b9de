// Package logger is the process-wide structured logger, a thin layer over
// log/slog with a colored text handler for terminals.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level mirrors the level names accepted in configuration.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses a case-insensitive level name.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

// sink is where records go and how they are rendered.
type sink struct {
	w      io.Writer
	closer io.Closer // set when the sink owns a log file
	color  bool
	json   bool
}

var (
	// levelVar is shared by every handler, so level changes never rebuild
	// the handler chain.
	levelVar slog.LevelVar

	mu      sync.Mutex // guards current
	current sink
	active  atomic.Pointer[slog.Logger]
)

func init() {
	levelVar.Set(slog.LevelInfo)
	current = sink{w: os.Stdout, color: isTerminal(os.Stdout.Fd())}
	install(current)
}

// install publishes a logger writing to s. Callers hold mu.
func install(s sink) {
	opts := &slog.HandlerOptions{Level: &levelVar}

	var h slog.Handler
	if s.json {
		h = slog.NewJSONHandler(s.w, opts)
	} else {
		h = NewColorTextHandler(s.w, opts, s.color)
	}
	active.Store(slog.New(h))
}

func openOutput(output string) (sink, error) {
	switch strings.ToLower(output) {
	case "stdout", "":
		return sink{w: os.Stdout, color: isTerminal(os.Stdout.Fd())}, nil
	case "stderr":
		return sink{w: os.Stderr, color: isTerminal(os.Stderr.Fd())}, nil
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return sink{}, fmt.Errorf("failed to open log file %q: %w", output, err)
	}
	return sink{w: f, closer: f}, nil
}

// Init configures the logger. Output can be "stdout", "stderr", or a file
// path; a file opened by a previous Init is closed once replaced. Empty
// fields keep their current setting and unknown level or format names are
// ignored.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	next := current
	if cfg.Output != "" {
		s, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		next.w, next.closer, next.color = s.w, s.closer, s.color
	}
	switch strings.ToLower(cfg.Format) {
	case "json":
		next.json = true
	case "text":
		next.json = false
	}

	prev := current
	current = next
	install(current)
	if prev.closer != nil && prev.closer != next.closer {
		_ = prev.closer.Close()
	}

	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	return nil
}

// InitWithWriter sends logs to w. Meant for tests.
func InitWithWriter(w io.Writer, level, format string, enableColor bool) {
	mu.Lock()
	current = sink{w: w, color: enableColor, json: strings.EqualFold(format, "json")}
	install(current)
	mu.Unlock()

	if level != "" {
		SetLevel(level)
	}
}

// Close releases a log file opened by Init and falls back to stderr.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if current.closer == nil {
		return nil
	}
	err := current.closer.Close()
	current = sink{w: os.Stderr, color: isTerminal(os.Stderr.Fd()), json: current.json}
	install(current)
	return err
}

// SetLevel sets the minimum log level. Unknown names are ignored.
func SetLevel(level string) {
	if l, ok := ParseLevel(level); ok {
		levelVar.Set(l.slog())
	}
}

// SetFormat switches between "text" and "json". Unknown names are ignored.
func SetFormat(format string) {
	var asJSON bool
	switch strings.ToLower(format) {
	case "json":
		asJSON = true
	case "text":
	default:
		return
	}

	mu.Lock()
	defer mu.Unlock()
	current.json = asJSON
	install(current)
}

// Enabled reports whether records at l are emitted.
func Enabled(l Level) bool {
	return l.slog() >= levelVar.Level()
}

// ============================================================================
// Structured Logging API
// ============================================================================

// Debug logs at debug level with structured fields
// Usage: Debug("message", "key1", value1, "key2", value2)
func Debug(msg string, args ...any) {
	if !Enabled(LevelDebug) {
		return
	}
	active.Load().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	if !Enabled(LevelInfo) {
		return
	}
	active.Load().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	if !Enabled(LevelWarn) {
		return
	}
	active.Load().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	active.Load().Error(msg, args...)
}

// ============================================================================
// Context-aware Logging API
// ============================================================================

// DebugCtx logs at debug level, prefixed with the run fields carried by ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(LevelDebug) {
		return
	}
	active.Load().Debug(msg, appendContextFields(ctx, args)...)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(LevelInfo) {
		return
	}
	active.Load().Info(msg, appendContextFields(ctx, args)...)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(LevelWarn) {
		return
	}
	active.Load().Warn(msg, appendContextFields(ctx, args)...)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	active.Load().Error(msg, appendContextFields(ctx, args)...)
}

// appendContextFields prepends the LogContext fields of ctx to args.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	ctxArgs := make([]any, 0, 10+len(args))
	if lc.TraceID != "" {
		ctxArgs = append(ctxArgs, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		ctxArgs = append(ctxArgs, KeySpanID, lc.SpanID)
	}
	if lc.RunID != "" {
		ctxArgs = append(ctxArgs, KeyRunID, lc.RunID)
	}
	if lc.Phase != "" {
		ctxArgs = append(ctxArgs, KeyPhase, lc.Phase)
	}
	if lc.DryRun {
		ctxArgs = append(ctxArgs, KeyDryRun, true)
	}

	return append(ctxArgs, args...)
}

// With returns a logger with args bound to every record.
func With(args ...any) *slog.Logger {
	return active.Load().With(args...)
}

// Duration returns the milliseconds elapsed since start.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
