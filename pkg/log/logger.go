// Structured logging for the G-code interpreter host
//
// Provides leveled logging with structured fields, per-component prefixes,
// ANSI colors for terminal output, an optional JSON format, and size-based
// log file rotation.
//
// Copyright (C) 2026  RepRap Host Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// DEBUG level for detailed debugging information
	DEBUG LogLevel = iota

	// INFO level for general informational messages
	INFO

	// WARN level for warning messages
	WARN

	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a LogLevel
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	// FormatText outputs human-readable text format
	FormatText OutputFormat = iota
	// FormatJSON outputs machine-readable JSON format
	FormatJSON
)

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// Logger is the main logging type
type Logger struct {
	mu         sync.Mutex
	prefix     string
	writer     io.Writer
	level      LogLevel
	timeFormat string
	colorize   bool
	outFormat  OutputFormat
	fields     Fields
}

var ansiColors = map[LogLevel]string{
	DEBUG: "\x1b[36m", // Cyan
	INFO:  "\x1b[32m", // Green
	WARN:  "\x1b[33m", // Yellow
	ERROR: "\x1b[31m", // Red
}

const ansiReset = "\x1b[0m"

// New creates a new logger with the given component prefix
func New(prefix string) *Logger {
	return &Logger{
		prefix:     prefix,
		writer:     os.Stderr,
		level:      INFO,
		timeFormat: "2006-01-02 15:04:05.000",
		colorize:   os.Getenv("NO_COLOR") == "",
		outFormat:  FormatText,
		fields:     make(Fields),
	}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput sets the destination writer. Colors are disabled for
// non-terminal destinations such as rotation files.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
	if _, isFile := w.(*os.File); !isFile {
		l.colorize = false
	}
}

// SetFormat sets the output format
func (l *Logger) SetFormat(f OutputFormat) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outFormat = f
}

// WithPrefix returns a child logger with an extended prefix and the same
// destination, level and persistent fields.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	child := &Logger{
		prefix:     l.prefix + "/" + prefix,
		writer:     l.writer,
		level:      l.level,
		timeFormat: l.timeFormat,
		colorize:   l.colorize,
		outFormat:  l.outFormat,
		fields:     make(Fields, len(l.fields)),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	return child
}

// WithFields returns a child logger carrying the given persistent fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	child := l.WithPrefix("")
	child.prefix = l.prefix
	for k, v := range fields {
		child.fields[k] = v
	}
	return child
}

// Debug logs at DEBUG level
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.log(DEBUG, msg, fields...)
}

// Info logs at INFO level
func (l *Logger) Info(msg string, fields ...Fields) {
	l.log(INFO, msg, fields...)
}

// Warn logs at WARN level
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.log(WARN, msg, fields...)
}

// Error logs at ERROR level
func (l *Logger) Error(msg string, fields ...Fields) {
	l.log(ERROR, msg, fields...)
}

// Debugf logs a formatted message at DEBUG level
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at INFO level
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at WARN level
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...))
}

func (l *Logger) log(level LogLevel, msg string, extra ...Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level || l.writer == nil {
		return
	}

	merged := make(Fields, len(l.fields)+4)
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range extra {
		for k, v := range f {
			merged[k] = v
		}
	}

	now := time.Now()
	if l.outFormat == FormatJSON {
		l.writeJSON(now, level, msg, merged)
		return
	}
	l.writeText(now, level, msg, merged)
}

func (l *Logger) writeText(now time.Time, level LogLevel, msg string, fields Fields) {
	var sb strings.Builder
	sb.WriteString(now.Format(l.timeFormat))
	sb.WriteByte(' ')

	if l.colorize {
		sb.WriteString(ansiColors[level])
	}
	fmt.Fprintf(&sb, "%-5s", level.String())
	if l.colorize {
		sb.WriteString(ansiReset)
	}

	if l.prefix != "" {
		fmt.Fprintf(&sb, " [%s]", l.prefix)
	}
	sb.WriteByte(' ')
	sb.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, fields[k])
		}
	}
	sb.WriteByte('\n')
	io.WriteString(l.writer, sb.String())
}

func (l *Logger) writeJSON(now time.Time, level LogLevel, msg string, fields Fields) {
	record := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		record[k] = v
	}
	record["time"] = now.Format(time.RFC3339Nano)
	record["level"] = level.String()
	record["msg"] = msg
	if l.prefix != "" {
		record["component"] = l.prefix
	}
	data, err := json.Marshal(record)
	if err != nil {
		fmt.Fprintf(l.writer, `{"level":"ERROR","msg":"log marshal failed: %v"}`+"\n", err)
		return
	}
	l.writer.Write(append(data, '\n'))
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the shared process-wide logger.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New("host")
	})
	return defaultLogger
}
