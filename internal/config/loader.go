package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when -config is not given.
const DefaultPath = "./attachment-milter.toml"

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath  string
	LogLevel    string
	Listen      string
	DispatchURL string
	Concurrency int
	EventLog    string
	EventPath   string
	SessionIDs  string
}

// NewFlagSet returns a flag set for the serve command bound to f.
func NewFlagSet(name string, f *Flags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&f.ConfigPath, "config", DefaultPath, "Path to configuration file (.toml, .yaml or .yml)")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.Listen, "listen", "", "Listen address, e.g. inet:9900@localhost (replaces all config listeners)")
	fs.StringVar(&f.DispatchURL, "dispatch-url", "", "Artifact ingestion endpoint URL")
	fs.IntVar(&f.Concurrency, "concurrency", 0, "Maximum concurrent uploads per message")
	fs.StringVar(&f.EventLog, "event-log", "", "Event log sink (buffered, direct, redis)")
	fs.StringVar(&f.EventPath, "event-log-path", "", "Event log file for the direct sink")
	fs.StringVar(&f.SessionIDs, "session-ids", "", "Session identifier allocator (counter, uuid)")

	return fs
}

// ParseFlags parses command-line arguments and returns a Flags struct.
func ParseFlags(name string, args []string) (*Flags, error) {
	f := &Flags{}
	if err := NewFlagSet(name, f).Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// Load parses a configuration file and returns the Config. Files ending in
// .yaml or .yml are read as YAML, everything else as TOML.
// If the file does not exist, returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fileConfig)
	default:
		err = toml.Unmarshal(data, &fileConfig)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	// Merge file config into defaults
	cfg = mergeConfig(cfg, fileConfig.Milter)

	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-zero/non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}

	if f.Listen != "" {
		// -listen flag replaces ALL listeners with a single listener
		cfg.Listeners = []ListenerConfig{
			{Address: f.Listen},
		}
	}

	if f.DispatchURL != "" {
		cfg.Dispatch.URL = f.DispatchURL
	}

	if f.Concurrency > 0 {
		cfg.Dispatch.Concurrency = f.Concurrency
	}

	if f.EventLog != "" {
		cfg.EventLog.Type = f.EventLog
	}

	if f.EventPath != "" {
		cfg.EventLog.Path = f.EventPath
	}

	if f.SessionIDs != "" {
		cfg.SessionIDs = f.SessionIDs
	}

	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags,
// then applies environment and flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(ApplyEnv(cfg), f), nil
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.Name != "" {
		dst.Name = src.Name
	}

	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}

	if len(src.Listeners) > 0 {
		dst.Listeners = src.Listeners
	}

	if src.Timeouts.Idle != "" {
		dst.Timeouts.Idle = src.Timeouts.Idle
	}

	if src.Timeouts.Dispatch != "" {
		dst.Timeouts.Dispatch = src.Timeouts.Dispatch
	}

	if src.Actions.AddHeaders != nil {
		dst.Actions.AddHeaders = src.Actions.AddHeaders
	}

	if src.Actions.ChangeBody != nil {
		dst.Actions.ChangeBody = src.Actions.ChangeBody
	}

	if src.Actions.AddRecipients != nil {
		dst.Actions.AddRecipients = src.Actions.AddRecipients
	}

	if src.Dispatch.URL != "" {
		dst.Dispatch.URL = src.Dispatch.URL
	}

	if src.Dispatch.Concurrency > 0 {
		dst.Dispatch.Concurrency = src.Dispatch.Concurrency
	}

	if src.EventLog.Type != "" {
		dst.EventLog.Type = src.EventLog.Type
	}

	if src.EventLog.QueueSize > 0 {
		dst.EventLog.QueueSize = src.EventLog.QueueSize
	}

	if src.EventLog.Path != "" {
		dst.EventLog.Path = src.EventLog.Path
	}

	if src.EventLog.Redis.Address != "" {
		dst.EventLog.Redis.Address = src.EventLog.Redis.Address
	}

	if src.EventLog.Redis.Password != "" {
		dst.EventLog.Redis.Password = src.EventLog.Redis.Password
	}

	if src.EventLog.Redis.DB > 0 {
		dst.EventLog.Redis.DB = src.EventLog.Redis.DB
	}

	if src.EventLog.Redis.Key != "" {
		dst.EventLog.Redis.Key = src.EventLog.Redis.Key
	}

	if src.SessionIDs != "" {
		dst.SessionIDs = src.SessionIDs
	}

	// Metrics: enabled is explicitly set (boolean), so we merge if source has any non-zero value
	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}

	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}

	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	return dst
}
