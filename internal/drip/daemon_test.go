package drip

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/thephotocrm/thephotocrm-sub005/internal/lock"
)

type countingRunner struct {
	calls   int32
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (r *countingRunner) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.started != nil {
		r.once.Do(func() { close(r.started) })
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return Result{}, nil
}

type countingEvaluator struct {
	calls int32
}

func (e *countingEvaluator) Evaluate(ctx context.Context, now time.Time) error {
	atomic.AddInt32(&e.calls, 1)
	return nil
}

func TestDaemonTick(t *testing.T) {
	runner := &countingRunner{}
	eval := &countingEvaluator{}

	d, err := NewDaemon(runner, eval, nil, DaemonConfig{}, discardLogger())
	require.NoError(t, err)

	d.Tick()
	d.Tick()

	assert.Equal(t, int32(2), atomic.LoadInt32(&runner.calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&eval.calls))
	assert.Equal(t, 2, d.Ticks())
}

func TestDaemonInvalidSchedule(t *testing.T) {
	_, err := NewDaemon(&countingRunner{}, nil, nil, DaemonConfig{Schedule: "every now and then"}, discardLogger())
	assert.Error(t, err)
}

func TestDaemonStopCancelsRunningTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &countingRunner{block: make(chan struct{}), started: make(chan struct{})}
	d, err := NewDaemon(runner, nil, nil, DaemonConfig{Schedule: "@every 1s"}, discardLogger())
	require.NoError(t, err)

	d.Start()

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	// the blocked tick returned through its cancelled context
	assert.Equal(t, 1, d.Ticks())
}

func TestDaemonSkipsWithoutLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := lock.NewLockerWithClient(client, "test:")
	defer locker.Close()

	runner := &countingRunner{}
	d, err := NewDaemon(runner, nil, locker, DaemonConfig{LeaseName: "tick", LeaseTTL: time.Minute}, discardLogger())
	require.NoError(t, err)

	// another process holds the lease
	held, err := locker.Acquire(context.Background(), "tick", time.Minute)
	require.NoError(t, err)

	d.Tick()
	assert.Equal(t, int32(0), atomic.LoadInt32(&runner.calls))

	require.NoError(t, held.Release(context.Background()))

	d.Tick()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
	assert.False(t, mr.Exists("test:tick"), "lease released after tick")
}
