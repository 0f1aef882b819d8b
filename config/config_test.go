package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iram04hack/network-management-system-sub002/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8090, cfg.Server.RealtimePort)
	assert.Equal(t, 0.75, cfg.NetState.PartialSuccessRatio)
	assert.Equal(t, time.Second, cfg.Bus.DrainInterval.Std())

	require.Len(t, cfg.Workflows, 1)
	assert.Equal(t, "equipment_discovery", cfg.Workflows[0].Name)
	assert.Len(t, cfg.Workflows[0].Steps, 4)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
gns3:
  url: http://gns3.lab:3080
cache:
  backend: nats
  nats_url: nats://localhost:4222
  nats_bucket: nms-state
  ttl: 5m
bus:
  drain_interval: 250ms
  batch_size: 25
netstate:
  partial_success_ratio: 0.9
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://gns3.lab:3080", cfg.GNS3.URL)
	assert.Equal(t, "nats", cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Bus.DrainInterval.Std())
	assert.Equal(t, 25, cfg.Bus.BatchSize)
	assert.Equal(t, 0.9, cfg.NetState.PartialSuccessRatio)

	// Untouched sections keep their defaults.
	assert.Equal(t, 8090, cfg.Server.RealtimePort)
	assert.Equal(t, "equipment_discovery", cfg.Workflows[0].Name)
}

func TestLoadWorkflowDefinitions(t *testing.T) {
	path := writeConfig(t, `
workflows:
  - name: firmware_rollout
    steps:
      - name: stage_image
        target_module: inventory
        action: stage
        timeout_seconds: 300
      - name: apply_image
        target_module: configuration
        action: apply
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Workflows, 1)
	def := cfg.Workflows[0]
	assert.Equal(t, "firmware_rollout", def.Name)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, "inventory", def.Steps[0].TargetModule)
	assert.Equal(t, 300, def.Steps[0].TimeoutSeconds)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "gns3: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateRejectsBadRatio(t *testing.T) {
	cfg := Default()
	cfg.NetState.PartialSuccessRatio = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateRejectsNATSWithoutURL(t *testing.T) {
	cfg := Default()
	cfg.Cache.Backend = "nats"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateWorkflows(t *testing.T) {
	cfg := Default()
	cfg.Workflows = append(cfg.Workflows, cfg.Workflows[0])
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate workflow")
}

func TestValidateRejectsPortCollision(t *testing.T) {
	cfg := Default()
	cfg.Server.MetricsPort = cfg.Server.RealtimePort
	require.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"_GNS3_URL", "http://override:3080")
	t.Setenv(EnvPrefix+"_REALTIME_PORT", "9999")
	t.Setenv(EnvPrefix+"_PARTIAL_SUCCESS_RATIO", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://override:3080", cfg.GNS3.URL)
	assert.Equal(t, 9999, cfg.Server.RealtimePort)
	assert.Equal(t, 0.5, cfg.NetState.PartialSuccessRatio)
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", out)
}
