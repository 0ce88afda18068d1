// Package log is a minimal leveled logger over the standard library's log
// package, gated by the same 0/1/2 debug verbosity the CLI's -x flag takes.
// None of the example repos in the retrieval pack pull in a structured
// logging library for this — they all wrap stdlib log — so this does too.
package log

import (
	"log"
	"os"
)

// Level is a verbosity threshold: messages of a higher Level than the
// Logger's are dropped.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelDebug
)

// Logger is a leveled wrapper around *log.Logger.
type Logger struct {
	level Level
	std   *log.Logger
}

// New builds a Logger that writes to stderr at the given level.
func New(level Level) *Logger {
	return &Logger{level: level, std: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *Logger) log(level Level, prefix, format string, args ...interface{}) {
	if l == nil || level > l.level {
		return
	}
	l.std.Printf(prefix+format, args...)
}

// Errorf always logs; errors are never suppressed regardless of -x.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, "[ERROR] ", format, args...)
}

// Warnf logs at -x >= 1.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, "[WARN] ", format, args...)
}

// Debugf logs at -x >= 2.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, "[DEBUG] ", format, args...)
}
