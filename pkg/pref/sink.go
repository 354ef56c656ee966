package pref

import (
	"log/slog"

	"github.com/vango-dev/prefsync/internal/errors"
)

// Sink receives failures the cell contained instead of returning.
// err is never nil and carries a registry code (see Code).
type Sink interface {
	Warn(key string, err error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(key string, err error)

// Warn implements Sink.
func (f SinkFunc) Warn(key string, err error) {
	f(key, err)
}

// LogSink reports failures to logger at warn level.
// A nil logger resolves to slog.Default() at call time.
func LogSink(logger *slog.Logger) Sink {
	return logSink{logger: logger}
}

type logSink struct {
	logger *slog.Logger
}

func (s logSink) Warn(key string, err error) {
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	msg := err.Error()
	var e *errors.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	logger.Warn("prefsync: "+msg,
		slog.String("key", key),
		slog.String("code", Code(err)),
		slog.Any("error", err),
	)
}

// DiscardSink drops every failure.
var DiscardSink Sink = SinkFunc(func(string, error) {})

// Code returns the registry code carried by an error handed to a Sink,
// e.g. "E011" for an unparseable stored value.
func Code(err error) string {
	return errors.CodeOf(err)
}
