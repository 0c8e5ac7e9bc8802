// Package logging implements support for structured, leveled logging.
//
// The design follows the teacher corpus's common/logging package: a
// process-wide backend wrapping github.com/go-kit/log, with named
// sub-loggers obtained via GetLogger and per-module level overrides.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Level is a logging level.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

type backendState struct {
	sync.RWMutex

	base         log.Logger
	defaultLevel Level
	moduleLevels map[string]Level
}

var backend = backendState{
	base:         log.NewNopLogger(),
	defaultLevel: LevelWarn,
	moduleLevels: make(map[string]Level),
}

// Initialize sets up the logging backend to write logfmt-encoded records
// to w at the given default level. It is intended to be called once
// during process startup; until it is called, GetLogger returns no-op
// loggers so libraries remain silent by default.
func Initialize(w io.Writer, defaultLevel Level) {
	backend.Lock()
	defer backend.Unlock()

	backend.base = log.NewLogfmtLogger(log.NewSyncWriter(w))
	backend.base = log.With(backend.base, "ts", log.DefaultTimestampUTC)
	backend.defaultLevel = defaultLevel
}

// SetModuleLevel overrides the level for a specific module name.
func SetModuleLevel(module string, lvl Level) {
	backend.Lock()
	defer backend.Unlock()
	backend.moduleLevels[module] = lvl
}

func (b *backendState) levelFor(module string) Level {
	b.RLock()
	defer b.RUnlock()
	if lvl, ok := b.moduleLevels[module]; ok {
		return lvl
	}
	return b.defaultLevel
}

// Logger is a named, leveled logger.
type Logger struct {
	module string
	kit    log.Logger
}

// GetLogger returns the named logger, creating it against the current
// backend. Loggers are cheap; callers are expected to call this once per
// component and hold on to the result (e.g. cert.logger, gcache.logger).
func GetLogger(module string) *Logger {
	backend.RLock()
	kit := log.With(backend.base, "module", module)
	backend.RUnlock()
	return &Logger{module: module, kit: kit}
}

func (l *Logger) log(lvl Level, msg string, keyvals ...interface{}) {
	if lvl < backend.levelFor(l.module) {
		return
	}
	var lg log.Logger
	switch lvl {
	case LevelDebug:
		lg = level.Debug(l.kit)
	case LevelInfo:
		lg = level.Info(l.kit)
	case LevelWarn:
		lg = level.Warn(l.kit)
	default:
		lg = level.Error(l.kit)
	}
	kv := append([]interface{}{"msg", msg}, keyvals...)
	_ = lg.Log(kv...)
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.log(LevelDebug, msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.log(LevelInfo, msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.log(LevelWarn, msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.log(LevelError, msg, keyvals...) }

// Fatal logs at error level and then terminates the process. It is reserved
// for the "Fatal" error class in the certification/GCache error taxonomy:
// violated invariants that must abort rather than propagate.
func (l *Logger) Fatal(msg string, keyvals ...interface{}) {
	l.log(LevelError, msg, keyvals...)
	fmt.Fprintf(os.Stderr, "fatal: %s: %s %v\n", l.module, msg, keyvals)
	os.Exit(1)
}
