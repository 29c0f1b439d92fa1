// jsonlog.go - Structured JSON logging for service events.
package server

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

// Logger emits one JSON object per line. Safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel LogLevel
}

// LogEntry is the wire shape of one log line.
type LogEntry struct {
	Level   LogLevel       `json:"level"`
	Time    string         `json:"time"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// NewLogger creates a logger writing to out at the given minimum level.
func NewLogger(out io.Writer, minLevel LogLevel) *Logger {
	if out == nil {
		out = os.Stderr
	}
	if _, ok := levelRank[minLevel]; !ok {
		minLevel = LogLevelInfo
	}
	return &Logger{output: out, minLevel: minLevel}
}

func (l *Logger) log(level LogLevel, msg string, fields map[string]any, err error) {
	if levelRank[level] < levelRank[l.minLevel] {
		return
	}
	entry := LogEntry{
		Level:   level,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Message: msg,
		Fields:  fields,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	b, merr := json.Marshal(entry)
	if merr != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write(append(b, '\n'))
}

func (l *Logger) Debug(msg string, fields map[string]any)            { l.log(LogLevelDebug, msg, fields, nil) }
func (l *Logger) Info(msg string, fields map[string]any)             { l.log(LogLevelInfo, msg, fields, nil) }
func (l *Logger) Warn(msg string, fields map[string]any)             { l.log(LogLevelWarn, msg, fields, nil) }
func (l *Logger) Error(msg string, fields map[string]any, err error) { l.log(LogLevelError, msg, fields, err) }

var defaultLogger = NewLogger(os.Stderr, LogLevelInfo)

// Package-level helpers writing to the default logger.
func Debug(msg string, fields map[string]any)            { defaultLogger.Debug(msg, fields) }
func Info(msg string, fields map[string]any)             { defaultLogger.Info(msg, fields) }
func Warn(msg string, fields map[string]any)             { defaultLogger.Warn(msg, fields) }
func Error(msg string, fields map[string]any, err error) { defaultLogger.Error(msg, fields, err) }
