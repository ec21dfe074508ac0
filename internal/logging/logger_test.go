package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"info level", "info", slog.LevelInfo},
		{"warn level", "warn", slog.LevelWarn},
		{"warning level", "warning", slog.LevelWarn},
		{"error level", "error", slog.LevelError},
		{"unknown defaults to info", "unknown", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
		{"case insensitive", "DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.level)
			if logger == nil {
				t.Fatal("expected logger, got nil")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level  string
		want   slog.Level
		wantOK bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, ok := ParseLevel(tt.level)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLevel(%q) = %v, %v, want %v, %v", tt.level, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNewLoggerToHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("shown")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(output, "shown") {
		t.Error("expected warn message in output")
	}
}

func TestWithConnection(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, nil)
	logger := slog.New(handler)

	connLogger := WithConnection(logger, "127.0.0.1:12345")
	connLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "remote_addr=127.0.0.1:12345") {
		t.Error("expected remote_addr in log output")
	}
}

func TestWithSession(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, nil)
	logger := slog.New(handler)

	WithSession(logger, "17").Info("test message")

	if !strings.Contains(buf.String(), "session_id=17") {
		t.Error("expected session_id in log output")
	}
}

func TestWithListener(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, nil)
	logger := slog.New(handler)

	listenerLogger := WithListener(logger, "127.0.0.1:9900", "tcp")
	listenerLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "listener=127.0.0.1:9900") {
		t.Error("expected listener in log output")
	}
	if !strings.Contains(output, "network=tcp") {
		t.Error("expected network in log output")
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, nil)
	logger := slog.New(handler)

	ctx := context.Background()

	// Without logger in context, should return default
	retrieved := FromContext(ctx)
	if retrieved == nil {
		t.Fatal("expected default logger, got nil")
	}

	// With logger in context
	ctx = NewContext(ctx, logger)
	retrieved = FromContext(ctx)
	if retrieved != logger {
		t.Error("expected same logger from context")
	}
}

func TestTransactionWriter(t *testing.T) {
	var logBuf bytes.Buffer
	handler := slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(handler)

	var writeBuf bytes.Buffer
	tw := NewTransactionWriter(&writeBuf, logger, "send")

	data := []byte{0, 0, 0, 1, 'N'}
	n, err := tw.Write(data)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected %d bytes written, got %d", len(data), n)
	}
	if writeBuf.String() != string(data) {
		t.Errorf("expected data written to underlying writer")
	}

	output := logBuf.String()
	if !strings.Contains(output, "transaction") {
		t.Error("expected transaction log entry")
	}
	if !strings.Contains(output, "direction=send") {
		t.Error("expected direction in log")
	}
}

func TestTransactionReader(t *testing.T) {
	var logBuf bytes.Buffer
	handler := slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(handler)

	data := "\x00\x00\x00\x01c"
	tr := NewTransactionReader(strings.NewReader(data), logger, "recv")

	buf := make([]byte, 100)
	n, err := tr.Read(buf)

	if err != nil && err != io.EOF {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected %d bytes read, got %d", len(data), n)
	}

	output := logBuf.String()
	if !strings.Contains(output, "transaction") {
		t.Error("expected transaction log entry")
	}
	if !strings.Contains(output, "direction=recv") {
		t.Error("expected direction in log")
	}
}
