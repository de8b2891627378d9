// Package logging provides the fluent structured-logging facade used across
// the tournament core. The chaining API (WithField/WithComponent/WithError/
// WithDuration) follows the teacher's hand-rolled internal/logging package;
// the encoding, level filtering and output plumbing underneath is
// github.com/rs/zerolog rather than a second hand-rolled implementation.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level      string `json:"level"`
	Output     string `json:"output"` // "stdout", "stderr", or file path
	Component  string `json:"component"`
	JSONFormat bool   `json:"json_format"`
}

// Logger is a structured logger backed by zerolog.
type Logger struct {
	z zerolog.Logger
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a new logger with the given configuration.
func New(cfg *Config) *Logger {
	var w io.Writer
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			w = f
		} else {
			w = os.Stdout
		}
	}

	if !cfg.JSONFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	z := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	if cfg.Component != "" {
		z = z.With().Str("component", cfg.Component).Logger()
	}

	return &Logger{z: z}
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default logger instance.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(&Config{Level: "INFO", Output: "stdout", Component: "app", JSONFormat: true})
	})
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(l *Logger) { defaultLogger = l }

// WithComponent returns a new logger with the specified component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{z: l.z.With().Str("component", component).Logger()}
}

// WithTraceID returns a new logger with the specified trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{z: l.z.With().Str("trace_id", traceID).Logger()}
}

// WithField returns a new logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.z.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{z: ctx.Logger()}
}

// WithError returns a new logger with an error field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{z: l.z.With().Err(err).Logger()}
}

// WithDuration returns a new logger with a duration field.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{z: l.z.With().Dur("duration", d).Logger()}
}

func (l *Logger) Debug(msg string, args ...interface{}) { logKV(l.z.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { logKV(l.z.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { logKV(l.z.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { logKV(l.z.Error(), msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { logKV(l.z.Fatal(), msg, args) }

// logKV supports the teacher's two call-site shapes: a plain message, or a
// message followed by trailing string-keyed key/value pairs.
func logKV(evt *zerolog.Event, msg string, args []interface{}) {
	if len(args) >= 2 && len(args)%2 == 0 {
		allStringKeys := true
		for i := 0; i+1 < len(args); i += 2 {
			if _, ok := args[i].(string); !ok {
				allStringKeys = false
				break
			}
		}
		if allStringKeys {
			for i := 0; i+1 < len(args); i += 2 {
				evt = evt.Interface(args[i].(string), args[i+1])
			}
			evt.Msg(msg)
			return
		}
	}
	evt.Msg(msg)
}

// Package-level functions delegating to the default logger.

func Debug(msg string, args ...interface{}) { Default().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { Default().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { Default().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { Default().Error(msg, args...) }
func Fatal(msg string, args ...interface{}) { Default().Fatal(msg, args...) }

func WithComponent(component string) *Logger           { return Default().WithComponent(component) }
func WithTraceID(traceID string) *Logger               { return Default().WithTraceID(traceID) }
func WithField(key string, value interface{}) *Logger  { return Default().WithField(key, value) }
func WithFields(fields map[string]interface{}) *Logger { return Default().WithFields(fields) }
func WithError(err error) *Logger                      { return Default().WithError(err) }
