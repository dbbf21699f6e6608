// Package log is the process-wide leveled logger. It keeps the printf-style
// helpers used throughout the locker and routes every record through log/slog
// so that sensitive attributes are redacted before they reach any sink.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelDebug for detailed debug information
	LevelDebug LogLevel = iota
	// LevelInfo for general operational information
	LevelInfo
	// LevelWarning for potentially problematic situations
	LevelWarning
	// LevelError for error conditions
	LevelError
	// LevelNone disables all logging
	LevelNone
)

// levelOff is above every level slog emits.
const levelOff = slog.LevelError + 8

var (
	mu sync.RWMutex

	// currentLevel is the current logging level
	currentLevel = LevelInfo

	// debugMode controls whether debug logging and source locations are enabled
	debugMode = false

	sink   io.Writer = os.Stderr
	level            = new(slog.LevelVar)
	logger           = build(os.Stderr, false)
)

func build(w io.Writer, withSource bool) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: withSource,
	})
	return slog.New(NewRedactingHandler(h))
}

func toSlog(l LogLevel) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return levelOff
	}
}

// InitLogger initializes the logger with specified options
func InitLogger(lvl LogLevel, debugEnabled bool) {
	mu.Lock()
	defer mu.Unlock()

	currentLevel = lvl
	debugMode = debugEnabled

	// In release mode, only show errors by default
	if !debugEnabled && lvl == LevelInfo {
		currentLevel = LevelError
	}

	level.Set(toSlog(currentLevel))
	logger = build(sink, debugMode)
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	sink = w
	logger = build(sink, debugMode)
}

// AddFile tees log output into a size-rotated file.
func AddFile(cfg RotationConfig) (io.Closer, error) {
	writer, err := NewRotatingWriter(cfg)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	sink = io.MultiWriter(sink, writer)
	logger = build(sink, debugMode)
	return writer, nil
}

// SetLogLevel changes the current logging level
func SetLogLevel(lvl LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = lvl
	level.Set(toSlog(lvl))
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func isDebug() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugMode
}

// output formats the message and hands it to slog with the caller's PC so
// that source locations point at the call site, not at this package.
func output(lvl slog.Level, format string, args []any) {
	l := current()
	ctx := context.Background()
	if !l.Enabled(ctx, lvl) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}

	r := slog.NewRecord(time.Now(), lvl, message, pcs[0])
	_ = l.Handler().Handle(ctx, r)
}

// Debug logs debug level messages
func Debug(format string, args ...any) {
	if !isDebug() {
		return
	}
	output(slog.LevelDebug, format, args)
}

// Info logs info level messages
func Info(format string, args ...any) {
	output(slog.LevelInfo, format, args)
}

// Warn logs warning level messages
func Warn(format string, args ...any) {
	output(slog.LevelWarn, format, args)
}

// Error logs error level messages
func Error(format string, args ...any) {
	output(slog.LevelError, format, args)
}

// Fatal logs a fatal error message and exits the program
func Fatal(format string, args ...any) {
	l := current()
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])

	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}
	r := slog.NewRecord(time.Now(), slog.LevelError, "FATAL: "+message, pcs[0])
	_ = l.Handler().Handle(context.Background(), r)
	os.Exit(1)
}
