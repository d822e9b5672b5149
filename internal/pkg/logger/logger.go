package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string to a Level. Unknown strings yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l Level) String() string { return levelNames[l] }

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	level     Level
	mu        sync.Mutex
	redactPII bool
	out       io.Writer
	fields    []interface{}
}

var defaultLogger = &Logger{level: INFO, redactPII: true, out: os.Stderr}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { defaultLogger.redactPII = r }

// SetOutput redirects the default logger. Tests use it to capture entries.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

// Entry carries fields that are attached to every line it emits.
type Entry struct {
	fields []interface{}
}

// With returns an Entry bound to the given key/value pairs.
func With(fields ...interface{}) *Entry {
	return &Entry{fields: fields}
}

// With returns a copy of e extended with more key/value pairs.
func (e *Entry) With(fields ...interface{}) *Entry {
	merged := make([]interface{}, 0, len(e.fields)+len(fields))
	merged = append(merged, e.fields...)
	merged = append(merged, fields...)
	return &Entry{fields: merged}
}

func (e *Entry) Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, e.merge(fields)...) }
func (e *Entry) Info(msg string, fields ...interface{})  { defaultLogger.log(INFO, msg, e.merge(fields)...) }
func (e *Entry) Warn(msg string, fields ...interface{})  { defaultLogger.log(WARN, msg, e.merge(fields)...) }
func (e *Entry) Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, e.merge(fields)...) }

func (e *Entry) merge(fields []interface{}) []interface{} {
	if len(fields) == 0 {
		return e.fields
	}
	return e.With(fields...).fields
}

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	// Parse key-value pairs from fields
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}
