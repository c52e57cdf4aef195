// Package logger provides the logging capability handed to dockhop components.
// Components receive a Logger at construction and never reach for a global,
// so tests can swap in Noop or BufferLogger per instance.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger defines the interface for logging operations.
// All methods accept a format string and arguments, similar to fmt.Printf.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})

	// With returns a child logger that attaches key=value to every event.
	With(key, value string) Logger
}

// Format selects the on-the-wire shape of log events.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures a zerolog-backed Logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is FormatConsole (default) or FormatJSON.
	Format string
	// Output defaults to stderr.
	Output io.Writer
	// NoColor disables ANSI colour in console output.
	NoColor bool
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New creates a structured Logger.
func New(opts Options) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if opts.Format != FormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    opts.NoColor,
			TimeFormat: time.TimeOnly,
		}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &zeroLogger{zl: zl}
}

func (l *zeroLogger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *zeroLogger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *zeroLogger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *zeroLogger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

func (l *zeroLogger) With(key, value string) Logger {
	return &zeroLogger{zl: l.zl.With().Str(key, value).Logger()}
}

// noopLogger implements Logger but discards all messages.
type noopLogger struct{}

// Noop returns a logger that discards all messages.
func Noop() Logger {
	return noopLogger{}
}

func (noopLogger) Debug(format string, args ...interface{}) {}
func (noopLogger) Info(format string, args ...interface{})  {}
func (noopLogger) Warn(format string, args ...interface{})  {}
func (noopLogger) Error(format string, args ...interface{}) {}
func (l noopLogger) With(key, value string) Logger          { return l }

// OrNoop returns l, or a Noop logger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return Noop()
	}
	return l
}

// LogMessage represents a captured log message.
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]string
}

// BufferLogger captures log messages for testing. It is safe for concurrent
// use, since collection cycles log from many goroutines at once.
type BufferLogger struct {
	mu       *sync.Mutex
	messages *[]LogMessage
	fields   map[string]string
}

// NewBufferLogger creates a logger that captures messages for inspection.
func NewBufferLogger() *BufferLogger {
	msgs := make([]LogMessage, 0)
	return &BufferLogger{
		mu:       &sync.Mutex{},
		messages: &msgs,
		fields:   map[string]string{},
	}
}

func (l *BufferLogger) record(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fields := make(map[string]string, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	*l.messages = append(*l.messages, LogMessage{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		Fields:  fields,
	})
}

func (l *BufferLogger) Debug(format string, args ...interface{}) { l.record("debug", format, args...) }
func (l *BufferLogger) Info(format string, args ...interface{})  { l.record("info", format, args...) }
func (l *BufferLogger) Warn(format string, args ...interface{})  { l.record("warn", format, args...) }
func (l *BufferLogger) Error(format string, args ...interface{}) { l.record("error", format, args...) }

// With returns a child that shares the parent's buffer.
func (l *BufferLogger) With(key, value string) Logger {
	fields := make(map[string]string, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &BufferLogger{mu: l.mu, messages: l.messages, fields: fields}
}

// Messages returns a copy of everything captured so far.
func (l *BufferLogger) Messages() []LogMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogMessage, len(*l.messages))
	copy(out, *l.messages)
	return out
}

// HasLevel returns true if any message was logged at the given level.
func (l *BufferLogger) HasLevel(level string) bool {
	for _, m := range l.Messages() {
		if m.Level == level {
			return true
		}
	}
	return false
}

// Contains reports whether any captured message at level contains substr.
func (l *BufferLogger) Contains(level, substr string) bool {
	for _, m := range l.Messages() {
		if m.Level == level && strings.Contains(m.Message, substr) {
			return true
		}
	}
	return false
}

// String renders captured messages one per line, for test failure output.
func (l *BufferLogger) String() string {
	var b strings.Builder
	for _, m := range l.Messages() {
		keys := make([]string, 0, len(m.Fields))
		for k := range m.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(m.Level + " " + m.Message)
		for _, k := range keys {
			b.WriteString(" " + k + "=" + m.Fields[k])
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Clear removes all captured messages.
func (l *BufferLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.messages = (*l.messages)[:0]
}
