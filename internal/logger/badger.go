package logger

import (
	"fmt"
	"strings"
)

// BadgerLogger routes BadgerDB's printf-style logs through this package.
// It satisfies badger.Logger without importing badger.
//
// Badger is chatty at INFO (compaction, value log replay), so its Info
// messages are demoted to DEBUG.
type BadgerLogger struct{}

// NewBadgerLogger returns the adapter.
func NewBadgerLogger() *BadgerLogger {
	return &BadgerLogger{}
}

func badgerMsg(format string, args ...any) string {
	return "badger: " + strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

func (BadgerLogger) Errorf(format string, args ...any) {
	Error(badgerMsg(format, args...))
}

func (BadgerLogger) Warningf(format string, args ...any) {
	Warn(badgerMsg(format, args...))
}

func (BadgerLogger) Infof(format string, args ...any) {
	if !Enabled(LevelDebug) {
		return
	}
	Debug(badgerMsg(format, args...))
}

func (BadgerLogger) Debugf(format string, args ...any) {
	if !Enabled(LevelDebug) {
		return
	}
	Debug(badgerMsg(format, args...))
}
