// Package logging writes levelled, field-tagged log lines for the inspector
// daemon and its camera group workers.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < DEBUG || l > FATAL {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a config value onto a Level, defaulting to INFO
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// BaseDir is the preferred log root
const BaseDir = "/var/log/sdd"

// sink is shared by a logger and every child derived with WithField
type sink struct {
	mu      sync.Mutex
	out     io.Writer
	file    *os.File
	console io.Writer
}

// Logger provides structured logging with optional file output
type Logger struct {
	level      Level
	jsonFormat bool
	fields     map[string]interface{}
	sink       *sink
}

// LogEntry is one JSON-formatted line
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewLogger creates a logger writing to stdout
func NewLogger(level Level, jsonFormat bool) *Logger {
	return &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		fields:     map[string]interface{}{},
		sink:       &sink{out: os.Stdout, console: os.Stdout},
	}
}

// NewDiscard returns a logger that drops everything
func NewDiscard() *Logger {
	l := NewLogger(FATAL+1, false)
	l.SetOutput(io.Discard)
	return l
}

// NewFileLogger appends to LogPath(component, name) and mirrors to stdout
func NewFileLogger(component, name string, level Level, jsonFormat bool) (*Logger, error) {
	return NewFileLoggerWithConsole(component, name, level, jsonFormat, os.Stdout)
}

// NewFileLoggerWithConsole is NewFileLogger with a custom mirror. Workers
// pass os.Stderr because their stdout carries result frames.
func NewFileLoggerWithConsole(component, name string, level Level, jsonFormat bool, console io.Writer) (*Logger, error) {
	path := LogPath(component, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	l := &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		fields:     map[string]interface{}{"component": component},
		sink:       &sink{out: io.MultiWriter(f, console), file: f, console: console},
	}
	l.Debug("Logging to file", map[string]interface{}{"path": path})
	return l, nil
}

// LogPath returns where a file logger for component/name writes. The root is
// $SDD_LOG_DIR when writable, then BaseDir, then ./logs.
func LogPath(component, name string) string {
	if name == "" {
		name = component
	}
	return filepath.Join(logRoot(), component, name+".log")
}

func logRoot() string {
	for _, dir := range []string{os.Getenv("SDD_LOG_DIR"), BaseDir} {
		if dir != "" && writable(dir) {
			return dir
		}
	}
	return "./logs"
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(f.Name())
	return true
}

// SetOutput replaces the writer, dropping any file mirror
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.out = w
	l.sink.mu.Unlock()
}

// SetLevel changes the minimum level
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// WithField returns a child logger that tags every line with key
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a child logger that tags every line with fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, jsonFormat: l.jsonFormat, fields: merged, sink: l.sink}
}

func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.write(DEBUG, message, fields)
}

func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.write(INFO, message, fields)
}

func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.write(WARN, message, fields)
}

func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.write(ERROR, message, fields)
}

// Fatal logs and exits with status 1
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.write(FATAL, message, fields)
	if l.sink.file != nil {
		l.sink.file.Sync()
	}
	os.Exit(1)
}

func (l *Logger) write(level Level, message string, extra []map[string]interface{}) {
	if level < l.level {
		return
	}
	fields := l.fields
	if len(extra) > 0 && len(extra[0]) > 0 {
		fields = l.WithFields(extra[0]).fields
	}

	var line []byte
	if l.jsonFormat {
		entry := LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     level.String(),
			Message:   message,
			Fields:    fields,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			data = []byte(fmt.Sprintf(`{"level":"ERROR","message":"unencodable log entry: %s"}`, err))
		}
		line = append(data, '\n')
	} else {
		line = []byte(formatText(level, message, fields))
	}

	l.sink.mu.Lock()
	l.sink.out.Write(line)
	l.sink.mu.Unlock()
}

// formatText renders "[ts] LEVEL: message key=value ..." with sorted keys
func formatText(level Level, message string, fields map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", time.Now().Format("2006-01-02 15:04:05"), level, message)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')
	return b.String()
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.sink.file == nil {
		return nil
	}
	return l.sink.file.Close()
}
