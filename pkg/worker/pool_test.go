package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ProcessesAllWork(t *testing.T) {
	var processed int64
	pool := NewPool[int](4, 64, func(_ context.Context, _ int) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(i))
	}

	require.NoError(t, pool.Stop(2*time.Second))
	assert.EqualValues(t, 50, atomic.LoadInt64(&processed))

	stats := pool.Stats()
	assert.EqualValues(t, 50, stats.Submitted)
	assert.EqualValues(t, 50, stats.Processed)
	assert.EqualValues(t, 0, stats.Failed)
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := NewPool[int](1, 1, func(_ context.Context, _ int) error { return nil })
	assert.ErrorIs(t, pool.Submit(1), ErrPoolNotStarted)
}

func TestPool_QueueFull(t *testing.T) {
	block := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})

	pool := NewPool[int](1, 1, func(_ context.Context, _ int) error {
		once.Do(func() { close(started) })
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	// First item occupies the single worker, second fills the queue.
	require.NoError(t, pool.Submit(1))
	<-started
	require.NoError(t, pool.Submit(2))

	err := pool.Submit(3)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.EqualValues(t, 1, pool.Stats().Dropped)

	close(block)
	require.NoError(t, pool.Stop(2*time.Second))
}

func TestPool_CountsFailures(t *testing.T) {
	pool := NewPool[int](2, 16, func(_ context.Context, n int) error {
		if n%2 == 0 {
			return errors.New("even numbers fail")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(2*time.Second))

	stats := pool.Stats()
	assert.EqualValues(t, 10, stats.Processed)
	assert.EqualValues(t, 5, stats.Failed)
}

func TestPool_DoubleStart(t *testing.T) {
	pool := NewPool[int](1, 4, func(_ context.Context, _ int) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_StopIdempotent(t *testing.T) {
	pool := NewPool[int](1, 4, func(_ context.Context, _ int) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(time.Second))
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_NilProcessorPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewPool[int](1, 1, nil)
	})
}
