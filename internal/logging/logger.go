// Package logging provides centralized logging for the milter.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// contextKey is used for storing loggers in context.
type contextKey struct{}

var loggerKey = contextKey{}

// ParseLevel maps a configured level name to a slog.Level. Unknown names
// map to info and report false.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// NewLogger creates a new slog.Logger with the specified level.
func NewLogger(level string) *slog.Logger {
	return NewLoggerTo(os.Stderr, level)
}

// NewLoggerTo creates a text logger writing to w.
func NewLoggerTo(w io.Writer, level string) *slog.Logger {
	lvl, _ := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
	}
	handler := slog.NewTextHandler(w, opts)
	return slog.New(handler)
}

// WithConnection returns a new logger with connection-specific attributes.
func WithConnection(logger *slog.Logger, remoteAddr string) *slog.Logger {
	return logger.With(
		slog.String("remote_addr", remoteAddr),
	)
}

// WithSession returns a new logger carrying the session ID. It is the same
// identifier that prefixes event log lines, so diagnostics and events for
// one connection can be correlated.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(
		slog.String("session_id", sessionID),
	)
}

// WithListener returns a new logger with listener-specific attributes.
func WithListener(logger *slog.Logger, address string, network string) *slog.Logger {
	return logger.With(
		slog.String("listener", address),
		slog.String("network", network),
	)
}

// FromContext retrieves the logger from the context.
// Returns the default logger if none is found.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// NewContext returns a new context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// TransactionWriter wraps an io.Writer to log all data written.
// Used for debugging raw milter packets.
type TransactionWriter struct {
	w      io.Writer
	logger *slog.Logger
	prefix string
}

// NewTransactionWriter creates a writer that logs all data.
func NewTransactionWriter(w io.Writer, logger *slog.Logger, prefix string) *TransactionWriter {
	return &TransactionWriter{
		w:      w,
		logger: logger,
		prefix: prefix,
	}
}

// Write writes data and logs it.
func (tw *TransactionWriter) Write(p []byte) (n int, err error) {
	n, err = tw.w.Write(p)
	if n > 0 {
		logTransaction(tw.logger, tw.prefix, p[:n])
	}
	return n, err
}

// TransactionReader wraps an io.Reader to log all data read.
type TransactionReader struct {
	r      io.Reader
	logger *slog.Logger
	prefix string
}

// NewTransactionReader creates a reader that logs all data.
func NewTransactionReader(r io.Reader, logger *slog.Logger, prefix string) *TransactionReader {
	return &TransactionReader{
		r:      r,
		logger: logger,
		prefix: prefix,
	}
}

// Read reads data and logs it.
func (tr *TransactionReader) Read(p []byte) (n int, err error) {
	n, err = tr.r.Read(p)
	if n > 0 {
		logTransaction(tr.logger, tr.prefix, p[:n])
	}
	return n, err
}

// logTransaction quotes the data since milter packets are binary.
func logTransaction(logger *slog.Logger, direction string, data []byte) {
	logger.Debug("transaction",
		slog.String("direction", direction),
		slog.Int("bytes", len(data)),
		slog.String("data", strconv.Quote(string(data))),
	)
}
