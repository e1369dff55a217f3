package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Logger emits structured events to an underlying sink.
type Logger interface {
	Log(context.Context, Event) error
}

// LoggerFunc adapts a function into a Logger.
type LoggerFunc func(context.Context, Event) error

// Log implements Logger.
func (f LoggerFunc) Log(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// JSONLogger serialises each event as one JSON object per line. A mutex
// keeps concurrent writers (the cycle steps and the capture teardown) from
// interleaving partial lines.
type JSONLogger struct {
	mu    sync.Mutex
	enc   *json.Encoder
	clock func() time.Time
}

// JSONLoggerOption configures a JSONLogger.
type JSONLoggerOption func(*JSONLogger)

// WithClock injects the time source used to stamp events that carry no
// timestamp of their own.
func WithClock(fn func() time.Time) JSONLoggerOption {
	return func(l *JSONLogger) {
		if fn != nil {
			l.clock = fn
		}
	}
}

// NewJSONLogger builds a logger writing newline-delimited JSON to w.
func NewJSONLogger(w io.Writer, opts ...JSONLoggerOption) *JSONLogger {
	logger := &JSONLogger{clock: time.Now}
	if w != nil {
		logger.enc = json.NewEncoder(w)
	}
	for _, opt := range opts {
		opt(logger)
	}
	return logger
}

// Log implements Logger. Events without a timestamp are stamped from the
// clock; an unset level defaults to info.
func (l *JSONLogger) Log(_ context.Context, event Event) error {
	if l == nil || l.enc == nil {
		return errors.New("json logger has no sink")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock()
	}
	if event.Level == "" {
		event.Level = LevelInfo
	}

	if err := l.enc.Encode(event); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

var _ Logger = LoggerFunc(nil)
var _ Logger = (*JSONLogger)(nil)
