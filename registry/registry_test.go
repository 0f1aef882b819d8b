package registry

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegister_DuplicateOverwrites(t *testing.T) {
	r := New(testLogger())

	r.Register("monitoring", []string{"metrics"})
	r.Register("monitoring", []string{"metrics", "alerting"})

	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []string{"monitoring"}, r.ModulesWithCapability("alerting"))
}

func TestUnregister_Idempotent(t *testing.T) {
	r := New(testLogger())
	r.Register("security", []string{"ids"})

	r.Unregister("security")
	assert.Equal(t, 0, r.Count())

	// Second unregister and unknown names are no-ops.
	r.Unregister("security")
	r.Unregister("never-registered")
	assert.Equal(t, 0, r.Count())
}

func TestModulesWithCapability(t *testing.T) {
	r := New(testLogger())
	r.Register("monitoring", []string{"monitoring", "metrics"})
	r.Register("security", []string{"security"})
	r.Register("qos", []string{"traffic_control", "monitoring"})

	got := r.ModulesWithCapability("monitoring")
	assert.ElementsMatch(t, []string{"monitoring", "qos"}, got)

	// Unmatched capability returns an empty slice, not nil or an error.
	empty := r.ModulesWithCapability("reporting")
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestIsHealthy_HeartbeatStaleness(t *testing.T) {
	r := New(testLogger(), WithHealthTimeout(50*time.Millisecond))
	r.Register("ai", []string{"assist"})

	assert.True(t, r.IsHealthy("ai"))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, r.IsHealthy("ai"))

	// Heartbeat restores health.
	r.Heartbeat("ai")
	assert.True(t, r.IsHealthy("ai"))
}

func TestIsHealthy_UnknownModule(t *testing.T) {
	r := New(testLogger())
	assert.False(t, r.IsHealthy("ghost"))
}

func TestIsHealthy_ProbeOverridesfreshHeartbeat(t *testing.T) {
	r := New(testLogger())
	healthy := true
	r.Register("reporting", []string{"reports"}, WithHealthCheck(func() bool { return healthy }))

	assert.True(t, r.IsHealthy("reporting"))
	healthy = false
	assert.False(t, r.IsHealthy("reporting"))
}

func TestRecordActivity(t *testing.T) {
	r := New(testLogger())
	r.Register("monitoring", []string{"metrics"})

	r.RecordActivity("monitoring", false)
	r.RecordActivity("monitoring", true)
	r.RecordActivity("unknown", false) // ignored

	snaps := r.Modules()
	assert.Len(t, snaps, 1)
	assert.EqualValues(t, 2, snaps[0].MessageCount)
	assert.EqualValues(t, 1, snaps[0].ErrorCount)
}

func TestSubscribedModules_SkipsSender(t *testing.T) {
	r := New(testLogger())
	r.Register("a", nil, WithSubscriptions("alert"))
	r.Register("b", nil, WithSubscriptions("alert", "report"))
	r.Register("c", nil) // no subscriptions

	got := r.SubscribedModules("alert", "a")
	assert.Equal(t, []string{"b"}, got)

	assert.Empty(t, r.SubscribedModules("unknown-type", "a"))
}

func TestHandler_Lookup(t *testing.T) {
	r := New(testLogger())
	r.Register("security", nil, WithHandler(func(string, map[string]any) error { return nil }))
	r.Register("bare", nil)

	h, ok := r.Handler("security")
	assert.True(t, ok)
	assert.NotNil(t, h)

	h, ok = r.Handler("bare")
	assert.True(t, ok)
	assert.Nil(t, h)

	_, ok = r.Handler("ghost")
	assert.False(t, ok)
}
