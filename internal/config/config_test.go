package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Name != "attachment-milter" {
		t.Errorf("expected name 'attachment-milter', got %q", cfg.Name)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log_level 'info', got %q", cfg.LogLevel)
	}

	if len(cfg.Listeners) != 1 {
		t.Fatalf("expected 1 listener, got %d", len(cfg.Listeners))
	}

	if cfg.Listeners[0].Address != "inet:9900@localhost" {
		t.Errorf("expected listener address 'inet:9900@localhost', got %q", cfg.Listeners[0].Address)
	}

	if cfg.Timeouts.Idle != "600s" {
		t.Errorf("expected idle timeout '600s', got %q", cfg.Timeouts.Idle)
	}

	if cfg.Dispatch.Concurrency != 1 {
		t.Errorf("expected dispatch concurrency 1, got %d", cfg.Dispatch.Concurrency)
	}

	if cfg.EventLog.Type != EventLogBuffered {
		t.Errorf("expected event_log type 'buffered', got %q", cfg.EventLog.Type)
	}

	if cfg.EventLog.QueueSize != 4 {
		t.Errorf("expected event_log queue_size 4, got %d", cfg.EventLog.QueueSize)
	}

	if cfg.SessionIDs != "counter" {
		t.Errorf("expected session_ids 'counter', got %q", cfg.SessionIDs)
	}

	if !cfg.Actions.AddHeadersEnabled() || !cfg.Actions.ChangeBodyEnabled() || !cfg.Actions.AddRecipientsEnabled() {
		t.Error("expected all actions enabled by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty name",
			modify:  func(c *Config) { c.Name = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "chatty" },
			wantErr: true,
		},
		{
			name:    "no listeners",
			modify:  func(c *Config) { c.Listeners = nil },
			wantErr: true,
		},
		{
			name: "listener with empty address",
			modify: func(c *Config) {
				c.Listeners = []ListenerConfig{{Address: ""}}
			},
			wantErr: true,
		},
		{
			name: "listener with invalid address",
			modify: func(c *Config) {
				c.Listeners = []ListenerConfig{{Address: "nonsense"}}
			},
			wantErr: true,
		},
		{
			name: "unix listener",
			modify: func(c *Config) {
				c.Listeners = []ListenerConfig{{Address: "unix:/run/milter.sock"}}
			},
			wantErr: false,
		},
		{
			name:    "invalid idle timeout",
			modify:  func(c *Config) { c.Timeouts.Idle = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid dispatch timeout",
			modify:  func(c *Config) { c.Timeouts.Dispatch = "invalid" },
			wantErr: true,
		},
		{
			name:    "zero dispatch timeout",
			modify:  func(c *Config) { c.Timeouts.Dispatch = "0s" },
			wantErr: true,
		},
		{
			name:    "missing dispatch url",
			modify:  func(c *Config) { c.Dispatch.URL = "" },
			wantErr: true,
		},
		{
			name:    "non-http dispatch url",
			modify:  func(c *Config) { c.Dispatch.URL = "ftp://example.com/upload" },
			wantErr: true,
		},
		{
			name:    "zero concurrency",
			modify:  func(c *Config) { c.Dispatch.Concurrency = 0 },
			wantErr: true,
		},
		{
			name:    "invalid event log type",
			modify:  func(c *Config) { c.EventLog.Type = "syslog" },
			wantErr: true,
		},
		{
			name:    "buffered with zero queue",
			modify:  func(c *Config) { c.EventLog.QueueSize = 0 },
			wantErr: true,
		},
		{
			name: "direct without path",
			modify: func(c *Config) {
				c.EventLog.Type = EventLogDirect
				c.EventLog.Path = ""
			},
			wantErr: true,
		},
		{
			name: "redis without address",
			modify: func(c *Config) {
				c.EventLog.Type = EventLogRedis
				c.EventLog.Redis.Address = ""
			},
			wantErr: true,
		},
		{
			name:    "uuid session ids",
			modify:  func(c *Config) { c.SessionIDs = "uuid" },
			wantErr: false,
		},
		{
			name:    "invalid session ids",
			modify:  func(c *Config) { c.SessionIDs = "random" },
			wantErr: true,
		},
		{
			name: "metrics enabled without address",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Address = ""
			},
			wantErr: true,
		},
		{
			name: "metrics enabled without path",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Path = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTimeouts(t *testing.T) {
	tests := []struct {
		name         string
		cfg          TimeoutsConfig
		wantIdle     time.Duration
		wantDispatch time.Duration
	}{
		{"empty uses defaults", TimeoutsConfig{}, 600 * time.Second, 30 * time.Second},
		{"configured", TimeoutsConfig{Idle: "2m", Dispatch: "5s"}, 2 * time.Minute, 5 * time.Second},
		{"invalid uses defaults", TimeoutsConfig{Idle: "x", Dispatch: "y"}, 600 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.IdleTimeout(); got != tt.wantIdle {
				t.Errorf("IdleTimeout() = %v, want %v", got, tt.wantIdle)
			}
			if got := tt.cfg.DispatchTimeout(); got != tt.wantDispatch {
				t.Errorf("DispatchTimeout() = %v, want %v", got, tt.wantDispatch)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		addr        string
		wantNetwork string
		wantAddress string
		wantErr     bool
	}{
		{"127.0.0.1:9900", "tcp", "127.0.0.1:9900", false},
		{":9900", "tcp", ":9900", false},
		{"[::1]:9900", "tcp", "[::1]:9900", false},
		{"inet:9900@localhost", "tcp4", "localhost:9900", false},
		{"inet:9900", "tcp4", ":9900", false},
		{"inet6:9900@::1", "tcp6", "[::1]:9900", false},
		{"unix:/run/milter.sock", "unix", "/run/milter.sock", false},
		{"local:/run/milter.sock", "unix", "/run/milter.sock", false},
		{"unix:", "", "", true},
		{"inet:@localhost", "", "", true},
		{"localhost", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			network, address, err := ParseAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
			if network != tt.wantNetwork || address != tt.wantAddress {
				t.Errorf("ParseAddress(%q) = %q, %q, want %q, %q", tt.addr, network, address, tt.wantNetwork, tt.wantAddress)
			}
		})
	}
}
