// Package main implements the entry point for the network management
// communication core. The daemon fronts a GNS3 emulator with a cached
// network state, routes inter-module messages with priority delivery and
// retries, runs multi-step workflows and fans events out to websocket
// clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/Iram04hack/network-management-system-sub002/bus"
	"github.com/Iram04hack/network-management-system-sub002/config"
	"github.com/Iram04hack/network-management-system-sub002/event"
	"github.com/Iram04hack/network-management-system-sub002/gns3"
	"github.com/Iram04hack/network-management-system-sub002/health"
	"github.com/Iram04hack/network-management-system-sub002/hub"
	"github.com/Iram04hack/network-management-system-sub002/jobs"
	"github.com/Iram04hack/network-management-system-sub002/metric"
	"github.com/Iram04hack/network-management-system-sub002/netstate"
	"github.com/Iram04hack/network-management-system-sub002/notify"
	"github.com/Iram04hack/network-management-system-sub002/realtime"
	"github.com/Iram04hack/network-management-system-sub002/registry"
	"github.com/Iram04hack/network-management-system-sub002/statecache"
	"github.com/Iram04hack/network-management-system-sub002/workflow"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "nmsd"
)

const heartbeatEvery = time.Minute

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting network management core",
		"version", Version,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	d, err := buildDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.cleanup()

	return d.runWithSignalHandling(ctx, cliCfg.ShutdownTimeout)
}

// lateSink breaks the construction cycle between the delivery engine and
// the realtime server: the engine is built first and the sink target is
// stored once the server exists.
type lateSink struct {
	server atomic.Pointer[realtime.Server]
}

func (l *lateSink) Publish(ev *event.Event) {
	if s := l.server.Load(); s != nil {
		s.Publish(ev)
	}
}

// daemon bundles the wired subsystems with their teardown hooks.
type daemon struct {
	hub           *hub.Hub
	registry      *registry.Registry
	metricsServer *metric.Server
	logger        *slog.Logger
	closers       []func()
}

func (d *daemon) cleanup() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{logger: logger}

	metricsReg := metric.NewRegistry()
	core := metricsReg.CoreMetrics()

	d.metricsServer = metric.NewServer(cfg.Server.MetricsPort, "/metrics", metricsReg)
	go func() {
		if err := d.metricsServer.Start(); err != nil {
			logger.Error("metrics server exited", "error", err)
		}
	}()
	d.closers = append(d.closers, func() { _ = d.metricsServer.Stop(5 * time.Second) })

	cache, err := buildCache(ctx, cfg, logger, d)
	if err != nil {
		return nil, err
	}

	gateway, err := gns3.NewClient(cfg.GNS3.URL, logger,
		gns3.WithRateLimit(rate.Limit(cfg.GNS3.RateLimit), cfg.GNS3.RateBurst),
		gns3.WithClientMetrics(core),
	)
	if err != nil {
		return nil, fmt.Errorf("create emulator client: %w", err)
	}

	d.registry = registry.New(logger, registry.WithMetrics(core))

	runner := jobs.NewRunner(jobs.RunnerConfig{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		Metrics:   metricsReg,
	}, logger)

	sink := &lateSink{}
	engine := bus.New(d.registry, logger,
		bus.WithDrainInterval(cfg.Bus.DrainInterval.Std()),
		bus.WithBatchSize(cfg.Bus.BatchSize),
		bus.WithHistoryTTL(cfg.Bus.HistoryTTL.Std()),
		bus.WithJobDispatcher(runner),
		bus.WithEventSink(sink),
		bus.WithMetrics(core),
	)

	state := netstate.New(gateway, cache, engine, logger,
		netstate.WithSettleDelay(cfg.NetState.SettleDelay.Std()),
		netstate.WithCacheTTL(cfg.NetState.CacheTTL.Std()),
		netstate.WithPartialSuccessRatio(cfg.NetState.PartialSuccessRatio),
		netstate.WithFanoutLimit(cfg.NetState.FanoutLimit),
	)

	rt := realtime.NewServer(cfg.Server.RealtimePort, state, logger,
		realtime.WithPath(cfg.Server.RealtimePath),
		realtime.WithMetricsRegistry(metricsReg),
	)
	sink.server.Store(rt)

	for _, entry := range builtinActions(state, cache) {
		if err := runner.RegisterAction(entry.module, entry.action, entry.fn); err != nil {
			return nil, fmt.Errorf("register action %s.%s: %w", entry.module, entry.action, err)
		}
	}
	runner.Seal()

	orch, err := workflow.New(cfg.Workflows, engine, logger, workflow.WithMetrics(core))
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	if err := orch.ValidateActions(runner); err != nil {
		return nil, fmt.Errorf("validate workflow actions: %w", err)
	}

	monitor := health.NewMonitor()
	monitor.RegisterProbe("gns3", func(ctx context.Context) health.Status {
		if _, err := gateway.ListProjects(ctx); err != nil {
			return health.Unhealthy("gns3", err.Error())
		}
		return health.Healthy("gns3", "emulator reachable")
	})
	monitor.RegisterProbe("cache", func(ctx context.Context) health.Status {
		if err := cache.Set(ctx, "health_probe", []byte("ok"), time.Minute); err != nil {
			return health.Unhealthy("cache", err.Error())
		}
		return health.Healthy("cache", "cache reachable")
	})

	var sinkImpl notify.Sink
	if cfg.Notify.WebhookURL != "" {
		webhook, err := notify.NewWebhook(cfg.Notify.WebhookURL)
		if err != nil {
			return nil, fmt.Errorf("create webhook notifier: %w", err)
		}
		sinkImpl = webhook
	}

	h, err := hub.New(hub.Options{
		Registry:  d.registry,
		Engine:    engine,
		Jobs:      runner,
		Workflows: orch,
		State:     state,
		Realtime:  rt,
		Health:    monitor,
		Notifier:  sinkImpl,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	d.hub = h
	return d, nil
}

// buildCache selects the state cache backend from configuration.
func buildCache(ctx context.Context, cfg *config.Config, logger *slog.Logger, d *daemon) (statecache.Store, error) {
	switch cfg.Cache.Backend {
	case "nats":
		nc, err := nats.Connect(cfg.Cache.NATSURL,
			nats.Name(appName),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		d.closers = append(d.closers, nc.Close)

		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Cache.NATSBucket,
			Description: "network management state cache",
		})
		if err != nil {
			return nil, fmt.Errorf("create KV bucket %s: %w", cfg.Cache.NATSBucket, err)
		}
		logger.Info("state cache backend ready", "backend", "nats", "bucket", cfg.Cache.NATSBucket)
		return statecache.NewKV(bucket, logger), nil

	default:
		mem := statecache.NewMemory(ctx)
		d.closers = append(d.closers, mem.Close)
		logger.Info("state cache backend ready", "backend", "memory")
		return mem, nil
	}
}

func (d *daemon) runWithSignalHandling(ctx context.Context, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := d.hub.Start(signalCtx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}

	d.registerBuiltinModules()
	go d.heartbeatLoop(signalCtx)

	d.logger.Info("network management core started")

	<-signalCtx.Done()
	d.logger.Info("Received shutdown signal", "timeout", shutdownTimeout)

	if err := d.hub.Stop(); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	d.logger.Info("shutdown complete")
	return nil
}

func (d *daemon) registerBuiltinModules() {
	for name, capabilities := range builtinModules {
		if err := d.hub.RegisterModule(name, capabilities); err != nil {
			d.logger.Warn("builtin module registration announce failed", "module", name, "error", err)
		}
	}
}

// heartbeatLoop keeps the in-process modules within the registry's
// staleness window. External modules heartbeat over the hub themselves.
func (d *daemon) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name := range builtinModules {
				d.registry.Heartbeat(name)
			}
		}
	}
}
