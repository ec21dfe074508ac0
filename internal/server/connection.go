package server

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/infodancer/attachment-milter/internal/logging"
)

// Connection wraps an accepted net.Conn with idle timeout management and
// optional transaction logging. The milter server reads and writes through
// it like any other net.Conn.
type Connection struct {
	net.Conn

	reader      io.Reader
	writer      io.Writer
	logger      *slog.Logger
	idleTimeout time.Duration
	onClose     func()

	mu       sync.Mutex
	closed   bool
	draining bool
}

// ConnectionConfig holds configuration for a new connection.
type ConnectionConfig struct {
	IdleTimeout    time.Duration
	LogTransaction bool
	Logger         *slog.Logger
	// OnClose runs once when the connection is closed.
	OnClose func()
}

// NewConnection creates a new Connection wrapper.
func NewConnection(conn net.Conn, cfg ConnectionConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Create connection-scoped logger with the remote address
	connLogger := logging.WithConnection(logger, remoteAddrString(conn))

	c := &Connection{
		Conn:        conn,
		reader:      conn,
		writer:      conn,
		logger:      connLogger,
		idleTimeout: cfg.IdleTimeout,
		onClose:     cfg.OnClose,
	}

	if cfg.LogTransaction {
		c.reader = logging.NewTransactionReader(conn, connLogger, "recv")
		c.writer = logging.NewTransactionWriter(conn, connLogger, "send")
	}

	return c
}

func remoteAddrString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// Read reads from the connection. Each read waits at most the idle timeout.
func (c *Connection) Read(p []byte) (int, error) {
	if err := c.ResetIdleTimeout(); err != nil {
		return 0, err
	}
	return c.reader.Read(p)
}

// Write writes to the connection within the idle timeout.
func (c *Connection) Write(p []byte) (int, error) {
	if c.idleTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return 0, err
		}
	}
	return c.writer.Write(p)
}

// ResetIdleTimeout pushes the read deadline one idle timeout into the
// future. It does nothing once the connection is draining.
func (c *Connection) ResetIdleTimeout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.draining || c.idleTimeout <= 0 {
		return nil
	}
	return c.Conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
}

// Drain makes the pending and every later read fail at once, so an idle
// session ends without waiting for its timeout. A reply that is being
// computed can still be written.
func (c *Connection) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.draining || c.closed {
		return
	}
	c.draining = true
	if err := c.Conn.SetReadDeadline(time.Now()); err != nil {
		c.logger.Debug("error draining connection",
			slog.String("error", err.Error()),
		)
	}
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Conn.Close()
	c.logger.Info("connection closed")
	if c.onClose != nil {
		c.onClose()
	}
	return err
}

// IsClosed returns true if the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
