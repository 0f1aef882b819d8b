package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateRules(t *testing.T) {
	tests := []struct {
		name     string
		subs     []Status
		expected string
	}{
		{"empty is healthy", nil, StateHealthy},
		{"all healthy", []Status{Healthy("a", ""), Healthy("b", "")}, StateHealthy},
		{"one degraded", []Status{Healthy("a", ""), Degraded("b", "slow")}, StateDegraded},
		{"unhealthy wins", []Status{Degraded("a", ""), Unhealthy("b", "down")}, StateUnhealthy},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			agg := Aggregate("system", tc.subs)
			assert.Equal(t, tc.expected, agg.Status)
			assert.Len(t, agg.SubStatuses, len(tc.subs))
		})
	}
}

func TestUpdateAndGet(t *testing.T) {
	m := NewMonitor()
	m.Update("bus", Healthy("bus", "draining"))

	status, ok := m.Get("bus")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())
	assert.False(t, status.Timestamp.IsZero())

	_, ok = m.Get("absent")
	assert.False(t, ok)
}

func TestSnapshotMergesProbesAndPushed(t *testing.T) {
	m := NewMonitor()
	m.Update("bus", Healthy("bus", ""))
	m.RegisterProbe("cache", func(ctx context.Context) Status {
		return Degraded("cache", "backend unreachable")
	})

	snap := m.Snapshot(context.Background(), "nmscore")
	assert.Equal(t, StateDegraded, snap.Status)
	assert.Len(t, snap.SubStatuses, 2)
}

func TestSnapshotAnnotatesSlowProbe(t *testing.T) {
	m := NewMonitor()
	m.probeTimeout = 20 * time.Millisecond
	m.RegisterProbe("gateway", func(ctx context.Context) Status {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return Healthy("gateway", "")
	})

	snap := m.Snapshot(context.Background(), "nmscore")
	require.Len(t, snap.SubStatuses, 1)
	assert.Equal(t, StateDegraded, snap.SubStatuses[0].Status)
	assert.Contains(t, snap.SubStatuses[0].Message, "timed out")
}

func TestSnapshotSurvivesPanickingProbe(t *testing.T) {
	m := NewMonitor()
	m.RegisterProbe("flaky", func(ctx context.Context) Status {
		panic("boom")
	})

	assert.NotPanics(t, func() {
		snap := m.Snapshot(context.Background(), "nmscore")
		assert.Equal(t, StateUnhealthy, snap.Status)
	})
}

func TestRemoveAndComponents(t *testing.T) {
	m := NewMonitor()
	m.Update("bus", Healthy("bus", ""))
	m.RegisterProbe("cache", func(ctx context.Context) Status { return Healthy("cache", "") })

	assert.Equal(t, []string{"bus", "cache"}, m.Components())

	m.Remove("bus")
	assert.Equal(t, []string{"cache"}, m.Components())
}
