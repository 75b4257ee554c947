// Package log provides the structured logger used throughout the peer
// control plane. It wraps github.com/go-kit/kit/log the same way the
// wider consensus-engine codebase wraps it in its own libs/log: a small
// Logger interface with leveled helpers and a With() that appends
// key/value context.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	kitlog "github.com/go-kit/kit/log"
)

// Logger is the interface every package in this module takes instead of
// depending on a concrete logging backend.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
}

const (
	levelKey   = "_level"
	levelDebug = "debug"
	levelInfo  = "info"
	levelError = "error"
)

type tmLogger struct {
	srcLogger kitlog.Logger
}

// NewTMLogger returns a Logger that writes level-tagged logfmt lines to w.
func NewTMLogger(w io.Writer) Logger {
	return &tmLogger{srcLogger: kitlog.NewLogfmtLogger(w)}
}

// NewSyncWriter wraps w so that concurrent writers serialize, mirroring
// go-kit's own NewSyncWriter.
func NewSyncWriter(w io.Writer) io.Writer {
	return kitlog.NewSyncWriter(w)
}

// NewNopLogger returns a Logger that discards everything, for tests and for
// callers that never configured a real sink.
func NewNopLogger() Logger {
	return &tmLogger{srcLogger: kitlog.NewNopLogger()}
}

func (l *tmLogger) Debug(msg string, keyvals ...interface{}) {
	l.log(levelDebug, msg, keyvals...)
}

func (l *tmLogger) Info(msg string, keyvals ...interface{}) {
	l.log(levelInfo, msg, keyvals...)
}

func (l *tmLogger) Error(msg string, keyvals ...interface{}) {
	l.log(levelError, msg, keyvals...)
}

func (l *tmLogger) log(level, msg string, keyvals ...interface{}) {
	kvs := append([]interface{}{"msg", msg, levelKey, level}, keyvals...)
	if err := l.srcLogger.Log(kvs...); err != nil {
		fmt.Fprintf(os.Stderr, "bus1: logging error: %v\n", err)
	}
}

func (l *tmLogger) With(keyvals ...interface{}) Logger {
	return &tmLogger{srcLogger: kitlog.With(l.srcLogger, keyvals...)}
}

var (
	defaultOnce   sync.Once
	defaultLogger Logger
)

// Default returns a process-wide logger writing to a synchronized stdout,
// lazily constructed on first use.
func Default() Logger {
	defaultOnce.Do(func() {
		defaultLogger = NewTMLogger(NewSyncWriter(os.Stdout))
	})
	return defaultLogger
}
