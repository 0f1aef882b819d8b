// Package config loads the daemon configuration from YAML, applies
// environment overrides and validates the result. Workflow definitions live
// here: they are loaded once at startup and immutable afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Iram04hack/network-management-system-sub002/errors"
	"github.com/Iram04hack/network-management-system-sub002/workflow"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "NMS"

// Duration wraps time.Duration with YAML support for strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig holds the listening ports.
type ServerConfig struct {
	RealtimePort int    `yaml:"realtime_port" validate:"gte=1,lte=65535"`
	RealtimePath string `yaml:"realtime_path" validate:"required"`
	MetricsPort  int    `yaml:"metrics_port" validate:"gte=1,lte=65535"`
}

// GNS3Config points at the emulator server.
type GNS3Config struct {
	URL       string  `yaml:"url" validate:"required,url"`
	RateLimit float64 `yaml:"rate_limit" validate:"gt=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=1"`
}

// CacheConfig selects and tunes the state cache backend.
type CacheConfig struct {
	Backend    string   `yaml:"backend" validate:"oneof=memory nats"`
	TTL        Duration `yaml:"ttl"`
	NATSURL    string   `yaml:"nats_url" validate:"required_if=Backend nats"`
	NATSBucket string   `yaml:"nats_bucket" validate:"required_if=Backend nats"`
}

// BusConfig tunes the delivery engine.
type BusConfig struct {
	DrainInterval Duration `yaml:"drain_interval"`
	BatchSize     int      `yaml:"batch_size" validate:"gte=1"`
	HistoryTTL    Duration `yaml:"history_ttl"`
}

// NetStateConfig tunes the network-state service.
type NetStateConfig struct {
	PartialSuccessRatio float64  `yaml:"partial_success_ratio" validate:"gte=0,lte=1"`
	SettleDelay         Duration `yaml:"settle_delay"`
	CacheTTL            Duration `yaml:"cache_ttl"`
	FanoutLimit         int      `yaml:"fanout_limit" validate:"gte=1"`
}

// JobsConfig sizes the background job runner.
type JobsConfig struct {
	Workers   int `yaml:"workers" validate:"gte=1"`
	QueueSize int `yaml:"queue_size" validate:"gte=1"`
}

// NotifyConfig points at the optional notification webhook.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
}

// Config is the daemon configuration.
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	GNS3      GNS3Config            `yaml:"gns3"`
	Cache     CacheConfig           `yaml:"cache"`
	Bus       BusConfig             `yaml:"bus"`
	NetState  NetStateConfig        `yaml:"netstate"`
	Jobs      JobsConfig            `yaml:"jobs"`
	Notify    NotifyConfig          `yaml:"notify"`
	Workflows []workflow.Definition `yaml:"workflows" validate:"dive"`
}

// Default returns the configuration used when no file overrides it,
// including the built-in equipment_discovery workflow.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			RealtimePort: 8090,
			RealtimePath: "/ws/events",
			MetricsPort:  9090,
		},
		GNS3: GNS3Config{
			URL:       "http://localhost:3080",
			RateLimit: 20,
			RateBurst: 10,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     Duration(10 * time.Minute),
		},
		Bus: BusConfig{
			DrainInterval: Duration(time.Second),
			BatchSize:     10,
			HistoryTTL:    Duration(24 * time.Hour),
		},
		NetState: NetStateConfig{
			PartialSuccessRatio: 0.75,
			SettleDelay:         Duration(2 * time.Second),
			CacheTTL:            Duration(10 * time.Minute),
			FanoutLimit:         8,
		},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 128,
		},
		Workflows: []workflow.Definition{
			{
				Name: "equipment_discovery",
				Steps: []workflow.Step{
					{Name: "scan_network", TargetModule: "discovery", Action: "scan", TimeoutSeconds: 120},
					{Name: "identify_devices", TargetModule: "discovery", Action: "identify", TimeoutSeconds: 60},
					{Name: "collect_details", TargetModule: "monitoring", Action: "collect", TimeoutSeconds: 60},
					{Name: "update_inventory", TargetModule: "inventory", Action: "update", TimeoutSeconds: 30},
				},
			},
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates. An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "config", "Load", err.Error())
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Load", err.Error())
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration with struct tags plus cross-field rules
// the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", err.Error())
	}

	seen := make(map[string]struct{}, len(c.Workflows))
	for _, def := range c.Workflows {
		if _, dup := seen[def.Name]; dup {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("duplicate workflow %q", def.Name))
		}
		seen[def.Name] = struct{}{}
	}

	if c.Server.RealtimePort == c.Server.MetricsPort {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"realtime and metrics ports must differ")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_GNS3_URL"); val != "" {
		cfg.GNS3.URL = val
	}
	if val := os.Getenv(EnvPrefix + "_REALTIME_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.RealtimePort = port
		}
	}
	if val := os.Getenv(EnvPrefix + "_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.MetricsPort = port
		}
	}
	if val := os.Getenv(EnvPrefix + "_CACHE_BACKEND"); val != "" {
		cfg.Cache.Backend = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_URL"); val != "" {
		cfg.Cache.NATSURL = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_BUCKET"); val != "" {
		cfg.Cache.NATSBucket = val
	}
	if val := os.Getenv(EnvPrefix + "_WEBHOOK_URL"); val != "" {
		cfg.Notify.WebhookURL = val
	}
	if val := os.Getenv(EnvPrefix + "_PARTIAL_SUCCESS_RATIO"); val != "" {
		if ratio, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.NetState.PartialSuccessRatio = ratio
		}
	}
}
