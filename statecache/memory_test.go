package statecache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Iram04hack/network-management-system-sub002/errors"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory(context.Background(), WithCleanupInterval(10*time.Millisecond))
	t.Cleanup(m.Close)
	return m
}

func TestMemorySetGetDelete(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, NodeKey("n1"), []byte(`{"status":"started"}`), time.Minute))

	got, err := m.Get(ctx, NodeKey("n1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"started"}`, string(got))

	require.NoError(t, m.Delete(ctx, NodeKey("n1")))
	_, err = m.Get(ctx, NodeKey("n1"))
	assert.ErrorIs(t, err, apperrors.ErrKeyNotFound)
}

func TestMemoryMissReturnsNotFound(t *testing.T) {
	m := newTestMemory(t)

	_, err := m.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, apperrors.ErrKeyNotFound)
}

func TestMemoryExpiryHidesEntry(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	time.Sleep(30 * time.Millisecond)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, apperrors.ErrKeyNotFound)
}

func TestMemorySweepReclaimsExpired(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", []byte("v"), 5*time.Millisecond))
	require.NoError(t, m.Set(ctx, "long", []byte("v"), time.Minute))

	assert.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "pinned", []byte("v"), 0))
	time.Sleep(30 * time.Millisecond)

	_, err := m.Get(ctx, "pinned")
	assert.NoError(t, err)
}

func TestMemoryDeleteIsIdempotent(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	assert.NoError(t, m.Delete(ctx, "absent"))
	assert.NoError(t, m.Delete(ctx, "absent"))
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("abc"), time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)

	got[0] = 'z'
	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "node:n1", NodeKey("n1"))
	assert.Equal(t, "project:p1", ProjectKey("p1"))
	assert.Equal(t, "network_state", KeyNetworkState)
}
