package server

import (
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/infodancer/attachment-milter/internal/config"
	"github.com/infodancer/attachment-milter/internal/logging"
	"github.com/infodancer/attachment-milter/internal/metrics"
)

// Listener is a net.Listener for a single TCP or unix socket address. Every
// accepted connection is wrapped in a Connection and tracked until it is
// closed, so shutdown can end idle sessions and wait for busy ones.
type Listener struct {
	address string
	connCfg ConnectionConfig
	metrics metrics.Collector
	logger  *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[*Connection]struct{}
	closed   bool
}

// ListenerConfig holds configuration for creating a new Listener.
type ListenerConfig struct {
	// Address accepts host:port, inet:port@host, inet6:port@host or unix:/path.
	Address        string
	IdleTimeout    time.Duration
	LogTransaction bool
	Logger         *slog.Logger
	Metrics        metrics.Collector
}

var _ net.Listener = (*Listener)(nil)

// NewListener creates a new Listener with the given configuration.
func NewListener(cfg ListenerConfig) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	collector := cfg.Metrics
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	network, _, _ := config.ParseAddress(cfg.Address)

	return &Listener{
		address: cfg.Address,
		connCfg: ConnectionConfig{
			IdleTimeout:    cfg.IdleTimeout,
			LogTransaction: cfg.LogTransaction,
			Logger:         logger,
		},
		metrics: collector,
		logger:  logging.WithListener(logger, cfg.Address, network),
		conns:   make(map[*Connection]struct{}),
	}
}

// Listen binds the configured address.
func (l *Listener) Listen() error {
	network, address, err := config.ParseAddress(l.address)
	if err != nil {
		return err
	}

	if network == "unix" {
		removeStaleSocket(address)
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		_ = ln.Close()
		return net.ErrClosed
	}
	l.listener = ln

	l.logger.Info("listener started",
		slog.String("address", ln.Addr().String()),
	)
	return nil
}

// removeStaleSocket deletes a socket file left behind by a previous run.
// Regular files are left alone so net.Listen reports the conflict.
func removeStaleSocket(path string) {
	fi, err := os.Lstat(path)
	if err != nil || fi.Mode()&os.ModeSocket == 0 {
		return
	}
	_ = os.Remove(path)
}

// Accept waits for the next connection and returns it wrapped in a
// Connection.
func (l *Listener) Accept() (net.Conn, error) {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return nil, net.ErrClosed
	}

	for {
		netConn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()

			// Check if it's a temporary error
			if ne, ok := err.(net.Error); ok && ne.Timeout() && !closed {
				l.logger.Warn("temporary accept error",
					slog.String("error", err.Error()),
				)
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return nil, err
		}

		if conn := l.track(netConn); conn != nil {
			return conn, nil
		}
	}
}

// track wraps netConn and registers it. It returns nil, after closing
// netConn, when the listener has already been closed.
func (l *Listener) track(netConn net.Conn) *Connection {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		_ = netConn.Close()
		return nil
	}

	cfg := l.connCfg
	var conn *Connection
	cfg.OnClose = func() { l.release(conn) }
	conn = NewConnection(netConn, cfg)

	l.conns[conn] = struct{}{}
	l.wg.Add(1)
	l.metrics.ConnectionOpened()

	conn.Logger().Info("connection accepted",
		slog.String("local_addr", netConn.LocalAddr().String()),
	)
	return conn
}

func (l *Listener) release(conn *Connection) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()

	l.metrics.ConnectionClosed()
	l.wg.Done()
}

// Close stops the listener from accepting new connections. Open
// connections are left alone; see Drain.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

// Drain wakes every open connection that is waiting for the MTA so its
// session ends.
func (l *Listener) Drain() {
	l.mu.Lock()
	conns := make([]*Connection, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		c.Drain()
	}
}

// Wait blocks until every accepted connection has been closed.
func (l *Listener) Wait() {
	l.wg.Wait()
}

// Address returns the listener's configured address.
func (l *Listener) Address() string {
	return l.address
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}
