package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/modoterra/telesink/pkg/codec"
)

// Redis appends msgpack-encoded events to a Redis list with RPUSH.
type Redis struct {
	rdb    *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedis connects to url (redis://[:password@]host:port/db) and checks
// the server answers before returning.
func NewRedis(ctx context.Context, url, key string, logger *slog.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedis(ctx, redis.NewClient(opt), key, logger)
}

func newRedis(ctx context.Context, rdb *redis.Client, key string, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis mirror connected", "addr", rdb.Options().Addr, "key", key)
	return &Redis{rdb: rdb, key: key, logger: logger}, nil
}

// Publish encodes evt and appends it to the configured list.
func (r *Redis) Publish(ctx context.Context, evt Event) error {
	data, err := codec.MarshalMsgpack(&evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.rdb.RPush(ctx, r.key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", r.key, err)
	}
	r.logger.Debug("mirrored event", "id", evt.ID, "kind", evt.Kind)
	return nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
