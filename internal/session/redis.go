// ABOUTME: Redis session backend for embedders that share state across hosts
// ABOUTME: Records carry a TTL matching the inactivity expiry so Redis prunes them itself

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "foyer:session:"

type redisBlob struct {
	client *redis.Client
	key    string
}

// NewRedisStore returns a Store that persists records in Redis under
// redisKeyPrefix + key. Every write refreshes the key TTL to the inactivity
// expiry, so abandoned sessions age out server-side. The connection is
// verified with a short ping before the store is returned.
func NewRedisStore(client *redis.Client, key string) (Store, error) {
	if key == "" {
		key = "default"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return newBlobStore(&redisBlob{client: client, key: redisKeyPrefix + key}, "session"), nil
}

func (r *redisBlob) load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *redisBlob) store(ctx context.Context, data []byte) error {
	return r.client.Set(ctx, r.key, data, InactivityExpiry).Err()
}

func (r *redisBlob) close() error {
	return r.client.Close()
}
