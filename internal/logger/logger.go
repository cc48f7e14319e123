// Package logger is the process-wide levelled logger. Lines are written as
// "timestamp [LEVEL] message" to stdout and, after Init, to a rotated file.
// Entries are also fanned out to subscribers for live streaming.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity level of a log message.
type LogLevel string

const (
	Debug LogLevel = "DEBUG"
	Info  LogLevel = "INFO"
	Warn  LogLevel = "WARN"
	Error LogLevel = "ERROR"
)

// LogFileName is the name of the rotated log file inside the log directory.
const LogFileName = "timekeeper.log"

func levelPriority(level LogLevel) int32 {
	switch level {
	case Debug:
		return 0
	case Info:
		return 1
	case Warn:
		return 2
	case Error:
		return 3
	default:
		return 1
	}
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" (any case) to
// a level.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	}
	return Info, fmt.Errorf("unknown log level %q", s)
}

// LogEntry is one log line as delivered to subscribers.
type LogEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
}

var (
	minPriority atomic.Int32 // defaults to 0 until init sets Info

	outMu      sync.Mutex
	out        io.Writer = os.Stdout
	fileLogger *lumberjack.Logger

	listenersMu sync.Mutex
	listeners   []chan LogEntry
)

func init() {
	minPriority.Store(levelPriority(Info))
}

// SetLevel sets the minimum level written. Unknown values fall back to info.
func SetLevel(level string) {
	lvl, err := ParseLevel(level)
	minPriority.Store(levelPriority(lvl))
	if err != nil {
		Warnf("%v, using %s", err, lvl)
		return
	}
	Infof("Log level set to: %s", lvl)
}

// Enabled reports whether messages at level are currently written.
func Enabled(level LogLevel) bool {
	return levelPriority(level) >= minPriority.Load()
}

// Init adds a rotated log file in logDir next to stdout.
func Init(logDir string) error {
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	outMu.Lock()
	defer outMu.Unlock()
	if fileLogger != nil {
		_ = fileLogger.Close()
	}
	fileLogger = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, LogFileName),
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	out = io.MultiWriter(os.Stdout, fileLogger)
	return nil
}

// Close flushes and closes the log file, reverting to stdout only.
func Close() error {
	outMu.Lock()
	defer outMu.Unlock()
	out = os.Stdout
	if fileLogger == nil {
		return nil
	}
	err := fileLogger.Close()
	fileLogger = nil
	return err
}

// SetOutput replaces the line writer and returns the previous one. Tests use
// it to capture output.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := out
	out = w
	return prev
}

// GetLogDir returns the directory of the log file, or "" before Init.
func GetLogDir() string {
	outMu.Lock()
	defer outMu.Unlock()
	if fileLogger != nil {
		return filepath.Dir(fileLogger.Filename)
	}
	return ""
}

// Subscribe returns a channel receiving every written entry. Slow readers
// miss entries rather than blocking the logger.
func Subscribe() chan LogEntry {
	listenersMu.Lock()
	defer listenersMu.Unlock()
	ch := make(chan LogEntry, 100)
	listeners = append(listeners, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func Unsubscribe(ch chan LogEntry) {
	listenersMu.Lock()
	defer listenersMu.Unlock()
	for i, l := range listeners {
		if l == ch {
			listeners = append(listeners[:i], listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func broadcast(entry LogEntry) {
	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range listeners {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Log writes a formatted message at level.
func Log(level LogLevel, format string, v ...interface{}) {
	if !Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   fmt.Sprintf(format, v...),
	}

	outMu.Lock()
	fmt.Fprintf(out, "%s [%s] %s\n", entry.Timestamp, entry.Level, entry.Message)
	outMu.Unlock()

	broadcast(entry)
}

func Infof(format string, v ...interface{})  { Log(Info, format, v...) }
func Errorf(format string, v ...interface{}) { Log(Error, format, v...) }
func Debugf(format string, v ...interface{}) { Log(Debug, format, v...) }
func Warnf(format string, v ...interface{})  { Log(Warn, format, v...) }
