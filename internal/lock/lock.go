// Package lock provides a Redis lease so only one scheduler runs a tick.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lease
var ErrNotAcquired = errors.New("lease held by another runner")

// releaseScript deletes the key only when the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out leases backed by Redis keys
type Locker struct {
	client *redis.Client
	prefix string
}

// NewLocker creates a Locker from a redis:// URL
func NewLocker(ctx context.Context, redisURL, prefix string) (*Locker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed connecting to redis: %w", err)
	}

	return NewLockerWithClient(client, prefix), nil
}

// NewLockerWithClient wraps an existing client
func NewLockerWithClient(client *redis.Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "photocrm:lock:"
	}
	return &Locker{client: client, prefix: prefix}
}

// Close closes the Redis connection
func (l *Locker) Close() error {
	return l.client.Close()
}

// Lease is a held lock. It expires on its own after its TTL.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes the lease for name for ttl. It returns ErrNotAcquired when
// somebody else holds it.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	key := l.prefix + name
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release gives the lease back if it is still ours
func (le *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.locker.client, []string{le.key}, le.token).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
