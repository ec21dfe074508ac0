package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the list that receives lines when no key is configured.
const DefaultRedisKey = "attachment-milter:events"

// RedisConfig configures a Redis sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Timeout  time.Duration
}

// Redis pushes formatted lines onto a Redis list. RPUSH keeps receipt order
// for a single producer.
type Redis struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedis connects to the server and verifies it answers PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Addr, err)
	}

	return &Redis{client: client, key: key, timeout: timeout}, nil
}

// Record appends one line to the list.
func (r *Redis) Record(sessionID, message string, ts time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	line := Event{SessionID: sessionID, Message: message, Time: ts}.Line()
	if err := r.client.RPush(ctx, r.key, line).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("pushing event: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
