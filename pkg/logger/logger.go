// Package logger provides the logging handle passed through psfcontour.
// There is no package-level logger: main constructs one and hands it down.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel - log level type
type LogLevel int

const (
	// LogDebug - DEBUG log level
	LogDebug LogLevel = iota

	// LogInfo - INFO log level
	LogInfo

	// LogWarn - WARN log level, used for best-effort results
	LogWarn

	// LogError - ERROR log level (does not call os.Exit!)
	LogError
)

var logLevelPrefix = map[LogLevel]string{
	LogDebug: "DEBUG",
	LogInfo:  "INFO",
	LogWarn:  "WARN",
	LogError: "ERROR",
}

func (l LogLevel) String() string {
	if s, ok := logLevelPrefix[l]; ok {
		return s
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// ParseLevel converts a level name (debug, info, warn, error) to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LogDebug, nil
	case "info", "":
		return LogInfo, nil
	case "warn", "warning":
		return LogWarn, nil
	case "error":
		return LogError, nil
	}
	return LogInfo, fmt.Errorf("unknown log level %q", name)
}

// ILogger - Generic logger interface
type ILogger interface {
	Printf(level LogLevel, format string, a ...interface{})
	Debugf(format string, a ...interface{})
	Infof(format string, a ...interface{})
	Warnf(format string, a ...interface{})
	Errorf(format string, a ...interface{})
}

// WriterLogger writes levelled lines to an io.Writer through a log.Logger.
type WriterLogger struct {
	out      *log.Logger
	logLevel LogLevel
}

// NewWriterLogger logs to w, dropping anything below level.
func NewWriterLogger(w io.Writer, level LogLevel) *WriterLogger {
	return &WriterLogger{
		out:      log.New(w, "", log.LstdFlags),
		logLevel: level,
	}
}

// NewStdOutLogger logs to stdout.
func NewStdOutLogger(level LogLevel) *WriterLogger {
	return NewWriterLogger(os.Stdout, level)
}

// NewStdErrLogger logs to stderr.
func NewStdErrLogger(level LogLevel) *WriterLogger {
	return NewWriterLogger(os.Stderr, level)
}

func (l *WriterLogger) Printf(level LogLevel, format string, a ...interface{}) {
	if level < l.logLevel {
		return
	}
	l.out.Println(logLevelPrefix[level] + ": " + fmt.Sprintf(format, a...))
}
func (l *WriterLogger) Debugf(format string, a ...interface{}) {
	l.Printf(LogDebug, format, a...)
}
func (l *WriterLogger) Infof(format string, a ...interface{}) {
	l.Printf(LogInfo, format, a...)
}
func (l *WriterLogger) Warnf(format string, a ...interface{}) {
	l.Printf(LogWarn, format, a...)
}
func (l *WriterLogger) Errorf(format string, a ...interface{}) {
	l.Printf(LogError, format, a...)
}

func (l *WriterLogger) SetLogLevel(level LogLevel) {
	l.logLevel = level
}
func (l *WriterLogger) GetLogLevel() LogLevel {
	return l.logLevel
}

// NullLogger - For mocking out in tests
type NullLogger struct {
}

func (l *NullLogger) Printf(level LogLevel, format string, a ...interface{}) {}
func (l *NullLogger) Debugf(format string, a ...interface{})                 {}
func (l *NullLogger) Infof(format string, a ...interface{})                  {}
func (l *NullLogger) Warnf(format string, a ...interface{})                  {}
func (l *NullLogger) Errorf(format string, a ...interface{})                 {}

// Entry is one line captured by a MemoryLogger.
type Entry struct {
	Level   LogLevel
	Message string
}

// MemoryLogger keeps every line in memory so tests can assert on warnings.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func (l *MemoryLogger) Printf(level LogLevel, format string, a ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Message: fmt.Sprintf(format, a...)})
}
func (l *MemoryLogger) Debugf(format string, a ...interface{}) {
	l.Printf(LogDebug, format, a...)
}
func (l *MemoryLogger) Infof(format string, a ...interface{}) {
	l.Printf(LogInfo, format, a...)
}
func (l *MemoryLogger) Warnf(format string, a ...interface{}) {
	l.Printf(LogWarn, format, a...)
}
func (l *MemoryLogger) Errorf(format string, a ...interface{}) {
	l.Printf(LogError, format, a...)
}

// Entries returns a copy of everything logged so far.
func (l *MemoryLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Count returns how many lines were logged at level.
func (l *MemoryLogger) Count(level LogLevel) int {
	n := 0
	for _, e := range l.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}
