// Package hub is the composition root for the communication core. It wires
// the module registry, the delivery engine, the job runner, the workflow
// orchestrator, the network-state service and the realtime server behind a
// single facade with one lifecycle.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Iram04hack/network-management-system-sub002/bus"
	"github.com/Iram04hack/network-management-system-sub002/errors"
	"github.com/Iram04hack/network-management-system-sub002/event"
	"github.com/Iram04hack/network-management-system-sub002/gns3"
	"github.com/Iram04hack/network-management-system-sub002/health"
	"github.com/Iram04hack/network-management-system-sub002/jobs"
	"github.com/Iram04hack/network-management-system-sub002/netstate"
	"github.com/Iram04hack/network-management-system-sub002/notify"
	"github.com/Iram04hack/network-management-system-sub002/realtime"
	"github.com/Iram04hack/network-management-system-sub002/registry"
	"github.com/Iram04hack/network-management-system-sub002/workflow"
)

const componentName = "hub"

// Options collects the constructed subsystems. All fields except Notifier
// are required.
type Options struct {
	Registry    *registry.Registry
	Engine      *bus.Engine
	Jobs        *jobs.Runner
	Workflows   *workflow.Orchestrator
	State       *netstate.Service
	Realtime    *realtime.Server
	Health      *health.Monitor
	Notifier    notify.Sink
	Logger      *slog.Logger
	StopTimeout time.Duration
}

// DefaultStopTimeout bounds each subsystem's shutdown.
const DefaultStopTimeout = 10 * time.Second

// Hub fronts the wired subsystems.
type Hub struct {
	registry    *registry.Registry
	engine      *bus.Engine
	jobs        *jobs.Runner
	workflows   *workflow.Orchestrator
	state       *netstate.Service
	realtime    *realtime.Server
	health      *health.Monitor
	notifier    *notify.BestEffort
	logger      *slog.Logger
	stopTimeout time.Duration
}

// New validates the wiring and returns the facade.
func New(opts Options) (*Hub, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "registry is required")
	case opts.Engine == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "engine is required")
	case opts.Jobs == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "job runner is required")
	case opts.Workflows == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "orchestrator is required")
	case opts.State == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "state service is required")
	case opts.Logger == nil:
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "logger is required")
	}

	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	return &Hub{
		registry:    opts.Registry,
		engine:      opts.Engine,
		jobs:        opts.Jobs,
		workflows:   opts.Workflows,
		state:       opts.State,
		realtime:    opts.Realtime,
		health:      opts.Health,
		notifier:    notify.NewBestEffort(opts.Notifier, opts.Logger),
		logger:      opts.Logger.With("component", componentName),
		stopTimeout: stopTimeout,
	}, nil
}

// Start brings the subsystems up in dependency order. Jobs must be running
// before the engine drains, and the engine before the realtime server
// accepts clients.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.jobs.Start(ctx); err != nil {
		return errors.Wrap(err, componentName, "Start", "job runner failed to start")
	}
	if err := h.engine.Start(ctx); err != nil {
		_ = h.jobs.Stop(h.stopTimeout)
		return errors.Wrap(err, componentName, "Start", "delivery engine failed to start")
	}
	if h.realtime != nil {
		if err := h.realtime.Start(ctx); err != nil {
			_ = h.engine.Stop(h.stopTimeout)
			_ = h.jobs.Stop(h.stopTimeout)
			return errors.Wrap(err, componentName, "Start", "realtime server failed to start")
		}
	}
	h.logger.Info("hub started")
	return nil
}

// Stop tears the subsystems down in reverse order. The first error is
// returned but every subsystem is still stopped.
func (h *Hub) Stop() error {
	var firstErr error
	if h.realtime != nil {
		if err := h.realtime.Stop(h.stopTimeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := h.engine.Stop(h.stopTimeout); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := h.jobs.Stop(h.stopTimeout); err != nil && firstErr == nil {
		firstErr = err
	}
	h.logger.Info("hub stopped")
	return firstErr
}

// RegisterModule adds a module to the registry and announces it on the bus.
func (h *Hub) RegisterModule(name string, capabilities []string, opts ...registry.RegisterOption) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrValidation, componentName, "RegisterModule", "module name is required")
	}
	h.registry.Register(name, capabilities, opts...)

	ev := event.New(event.TypeModuleAlert, componentName, map[string]any{
		"alert":        "module_registered",
		"module":       name,
		"capabilities": capabilities,
	})
	return h.engine.PublishEvent(ev)
}

// UnregisterModule removes a module. Unknown names are a no-op.
func (h *Hub) UnregisterModule(name string) {
	h.registry.Unregister(name)
}

// Heartbeat refreshes a module's liveness window.
func (h *Hub) Heartbeat(name string) {
	h.registry.Heartbeat(name)
}

// Modules lists the registered modules.
func (h *Hub) Modules() []registry.Snapshot {
	return h.registry.Modules()
}

// SendMessage queues a point-to-point message for target.
func (h *Hub) SendMessage(sender, target, msgType string, payload map[string]any, opts ...event.MessageOption) (string, error) {
	all := append([]event.MessageOption{event.WithTarget(target)}, opts...)
	msg := event.NewMessage(msgType, sender, payload, all...)
	return h.engine.Send(msg)
}

// BroadcastMessage queues a fanout message. An empty capability delivers to
// every subscribed module except the sender.
func (h *Hub) BroadcastMessage(sender, msgType string, payload map[string]any, capability string, opts ...event.MessageOption) (string, error) {
	if capability != "" {
		opts = append(opts, event.WithCapabilityFilter(capability))
	}
	msg := event.NewMessage(msgType, sender, payload, opts...)
	return h.engine.Send(msg)
}

// PublishEvent fans a platform event out to the bus and realtime clients.
func (h *Hub) PublishEvent(ev *event.Event) error {
	return h.engine.PublishEvent(ev)
}

// MessageStatus reports a queued or archived message by id.
func (h *Hub) MessageStatus(id string) (event.CommunicationMessage, bool) {
	return h.engine.Message(id)
}

// DeadLetters returns the terminally failed messages still in history.
func (h *Hub) DeadLetters() []event.CommunicationMessage {
	return h.engine.DeadLetters()
}

// ExecuteWorkflow launches a named workflow. The hub installs a completion
// hook that notifies operators before the caller's callback runs.
func (h *Hub) ExecuteWorkflow(name string, initialData map[string]any, callback workflow.CompletionFn) (string, error) {
	return h.workflows.Execute(name, initialData, func(sum workflow.Summary) {
		h.notifyWorkflowDone(sum)
		if callback != nil {
			callback(sum)
		}
	})
}

// ListWorkflows names the loaded workflow definitions.
func (h *Hub) ListWorkflows() []string {
	return h.workflows.ListWorkflows()
}

// WorkflowStatus returns per-step results for a running or finished workflow.
func (h *Hub) WorkflowStatus(workflowID string) (map[string]workflow.StepResult, bool) {
	return h.workflows.StepResults(workflowID)
}

// StartNode proxies to the network-state service.
func (h *Hub) StartNode(ctx context.Context, projectID, nodeID string) (netstate.ActionResult, error) {
	return h.state.StartNode(ctx, projectID, nodeID)
}

// StopNode proxies to the network-state service.
func (h *Hub) StopNode(ctx context.Context, projectID, nodeID string) (netstate.ActionResult, error) {
	return h.state.StopNode(ctx, projectID, nodeID)
}

// RestartNode proxies to the network-state service.
func (h *Hub) RestartNode(ctx context.Context, projectID, nodeID string) (netstate.RestartResult, error) {
	return h.state.RestartNode(ctx, projectID, nodeID)
}

// StartProject starts every node in a project with bounded concurrency.
func (h *Hub) StartProject(ctx context.Context, projectID string) (netstate.ProjectStartResult, error) {
	return h.state.StartProjectNodes(ctx, projectID)
}

// RefreshTopology pulls the full emulator state and replaces the cache.
func (h *Hub) RefreshTopology(ctx context.Context) (*gns3.NetworkState, error) {
	return h.state.RefreshTopology(ctx)
}

// GetCachedTopology serves the cached network state.
func (h *Hub) GetCachedTopology(ctx context.Context) (*gns3.NetworkState, error) {
	return h.state.GetCachedTopology(ctx)
}

// GetCachedNodeStatus serves a single node's cached status, degrading to
// unknown when the cache cannot answer.
func (h *Hub) GetCachedNodeStatus(ctx context.Context, nodeID string) (gns3.NodeStatus, error) {
	return h.state.GetCachedNodeStatus(ctx, nodeID)
}

// HealthSnapshot aggregates component health, including live bus and module
// readings taken at call time.
func (h *Hub) HealthSnapshot(ctx context.Context) health.Status {
	if h.health == nil {
		return health.Healthy(componentName, "health monitor not configured")
	}

	stats := h.engine.Stats()
	queued := 0
	for _, n := range stats.Queued {
		queued += n
	}
	busStatus := health.Healthy("bus", fmt.Sprintf("%d queued, %d processing", queued, stats.Processing))
	if queued > busQueueDegradedThreshold {
		busStatus = health.Degraded("bus", fmt.Sprintf("queue backlog at %d", queued))
	}
	h.health.Update("bus", busStatus)

	stale := 0
	for _, snap := range h.registry.Modules() {
		if !snap.Healthy {
			stale++
		}
	}
	if stale > 0 {
		h.health.Update("registry", health.Degraded("registry", fmt.Sprintf("%d stale modules", stale)))
	} else {
		h.health.Update("registry", health.Healthy("registry", "all modules responsive"))
	}

	return h.health.Snapshot(ctx, "nms")
}

// busQueueDegradedThreshold marks the backlog size past which the bus is
// reported degraded.
const busQueueDegradedThreshold = 1000

func (h *Hub) notifyWorkflowDone(sum workflow.Summary) {
	urgency := notify.UrgencyNormal
	title := "workflow completed"
	if sum.FailedSteps > 0 {
		urgency = notify.UrgencyCritical
		title = "workflow completed with errors"
	}
	msg := fmt.Sprintf("%s (%s): %d steps, %d failed, took %s",
		sum.Definition, sum.WorkflowID, len(sum.StepResults), sum.FailedSteps, sum.Duration.Round(time.Millisecond))
	_ = h.notifier.Notify(context.Background(), title, msg, urgency)
}
