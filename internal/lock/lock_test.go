package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestLocker creates a Locker backed by miniredis
func setupTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewLockerWithClient(client, "test:")
	t.Cleanup(func() { l.Close() })
	return l, mr
}

func TestAcquireExclusive(t *testing.T) {
	l, mr := setupTestLocker(t)
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:tick"))

	_, err = l.Acquire(ctx, "tick", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("test:tick"))

	_, err = l.Acquire(ctx, "tick", time.Minute)
	assert.NoError(t, err)
}

func TestLeaseExpires(t *testing.T) {
	l, mr := setupTestLocker(t)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "tick", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = l.Acquire(ctx, "tick", time.Second)
	assert.NoError(t, err)
}

func TestReleaseKeepsForeignLease(t *testing.T) {
	l, mr := setupTestLocker(t)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "tick", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	_, err = l.Acquire(ctx, "tick", time.Minute)
	require.NoError(t, err)

	// the expired holder must not delete the new holder's key
	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("test:tick"))
}

func TestNewLockerBadURL(t *testing.T) {
	_, err := NewLocker(context.Background(), "not-a-url", "")
	assert.Error(t, err)
}
