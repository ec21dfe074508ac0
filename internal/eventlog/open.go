package eventlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Config selects and configures a sink.
type Config struct {
	Type      Type
	QueueSize int
	Path      string
	Redis     RedisConfig
	// Output receives lines from a Buffered sink.
	Output io.Writer
}

// Open builds the sink described by cfg.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Sink, error) {
	switch cfg.Type {
	case "", TypeBuffered:
		if cfg.Output == nil {
			return nil, fmt.Errorf("buffered event log requires an output")
		}
		return NewBuffered(cfg.Output, cfg.QueueSize, logger), nil
	case TypeDirect:
		return OpenDirect(cfg.Path)
	case TypeRedis:
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown event log type %q", cfg.Type)
	}
}
