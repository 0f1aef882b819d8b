// Package registry tracks the in-process modules of the platform: their
// declared capabilities, heartbeat freshness and activity counters. The
// delivery engine consults it for capability-based broadcast routing.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Iram04hack/network-management-system-sub002/metric"
)

// DefaultHealthTimeout is the staleness window after which a module with no
// heartbeat is considered unhealthy.
const DefaultHealthTimeout = 5 * time.Minute

// HealthCheckFn is an optional module-supplied probe consulted by IsHealthy
// in addition to heartbeat freshness.
type HealthCheckFn func() bool

// Handler receives messages delivered to a module by the delivery engine.
// Returning an error counts against the module and triggers retry per the
// message's policy.
type Handler func(msgType string, payload map[string]any) error

// Registration describes one registered module.
type Registration struct {
	Name          string
	Capabilities  []string
	LastHeartbeat time.Time
	MessageCount  int64
	ErrorCount    int64

	handler     Handler
	healthCheck HealthCheckFn
	// Subscriptions maps message types the module wants delivered on broadcast.
	subscriptions map[string]struct{}
}

// Snapshot is the exported view of a registration.
type Snapshot struct {
	Name          string    `json:"name"`
	Capabilities  []string  `json:"capabilities"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	MessageCount  int64     `json:"message_count"`
	ErrorCount    int64     `json:"error_count"`
	Healthy       bool      `json:"healthy"`
}

// Registry manages module registrations in a thread-safe manner.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Registration
	logger  *slog.Logger
	metrics *metric.Metrics

	healthTimeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithHealthTimeout overrides the default 5 minute staleness window.
func WithHealthTimeout(d time.Duration) Option {
	return func(r *Registry) { r.healthTimeout = d }
}

// WithMetrics wires the platform metrics so the registry can publish the
// registered-modules gauge.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates an empty module registry.
func New(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		modules:       make(map[string]*Registration),
		logger:        logger,
		healthTimeout: DefaultHealthTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterOption configures one registration.
type RegisterOption func(*Registration)

// WithHandler sets the delivery handler for broadcast and point-to-point
// messages. Modules without a handler are routable but deliveries no-op.
func WithHandler(h Handler) RegisterOption {
	return func(reg *Registration) { reg.handler = h }
}

// WithHealthCheck attaches a module-supplied health probe.
func WithHealthCheck(fn HealthCheckFn) RegisterOption {
	return func(reg *Registration) { reg.healthCheck = fn }
}

// WithSubscriptions declares the message types delivered to the module on
// broadcast. A module with no subscriptions receives only point-to-point
// and capability-filtered messages.
func WithSubscriptions(msgTypes ...string) RegisterOption {
	return func(reg *Registration) {
		for _, t := range msgTypes {
			reg.subscriptions[t] = struct{}{}
		}
	}
}

// Register adds a module. Registering a duplicate name overwrites the
// previous registration.
func (r *Registry) Register(name string, capabilities []string, opts ...RegisterOption) {
	reg := &Registration{
		Name:          name,
		Capabilities:  append([]string(nil), capabilities...),
		LastHeartbeat: time.Now(),
		subscriptions: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	_, replaced := r.modules[name]
	r.modules[name] = reg
	count := len(r.modules)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ModulesRegistered.Set(float64(count))
	}
	r.logger.Info("module registered",
		"module", name,
		"capabilities", capabilities,
		"replaced", replaced)
}

// Unregister removes a module. Unregistering an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.modules[name]
	delete(r.modules, name)
	count := len(r.modules)
	r.mu.Unlock()

	if !existed {
		return
	}

	if r.metrics != nil {
		r.metrics.ModulesRegistered.Set(float64(count))
	}
	r.logger.Info("module unregistered", "module", name)
}

// Heartbeat refreshes a module's heartbeat. Unknown names are ignored.
func (r *Registry) Heartbeat(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.modules[name]; ok {
		reg.LastHeartbeat = time.Now()
	}
}

// RecordActivity bumps the module's message counter and refreshes its
// heartbeat; failed deliveries also bump the error counter. Called by the
// delivery engine on every inbound/outbound message for the module.
func (r *Registry) RecordActivity(name string, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.modules[name]
	if !ok {
		return
	}
	reg.LastHeartbeat = time.Now()
	reg.MessageCount++
	if failed {
		reg.ErrorCount++
	}
}

// ModulesWithCapability returns the names of modules advertising the
// capability. Returns an empty slice, never an error, when nothing matches.
func (r *Registry) ModulesWithCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0)
	for name, reg := range r.modules {
		for _, c := range reg.Capabilities {
			if c == capability {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

// SubscribedModules returns the names of modules subscribed to msgType,
// excluding the sender.
func (r *Registry) SubscribedModules(msgType, sender string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0)
	for name, reg := range r.modules {
		if name == sender {
			continue
		}
		if _, ok := reg.subscriptions[msgType]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Handler returns the delivery handler for a module, or nil with false when
// the module is unknown.
func (r *Registry) Handler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.modules[name]
	if !ok {
		return nil, false
	}
	return reg.handler, true
}

// Exists reports whether a module is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[name]
	return ok
}

// IsHealthy reports whether the module is registered, its heartbeat is
// fresher than the staleness window, and its optional health probe passes.
func (r *Registry) IsHealthy(name string) bool {
	r.mu.RLock()
	reg, ok := r.modules[name]
	if !ok {
		r.mu.RUnlock()
		return false
	}
	heartbeat := reg.LastHeartbeat
	probe := reg.healthCheck
	r.mu.RUnlock()

	if time.Since(heartbeat) > r.healthTimeout {
		return false
	}
	if probe != nil && !probe() {
		return false
	}
	return true
}

// Modules returns a snapshot of all registrations.
func (r *Registry) Modules() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(r.modules))
	for _, reg := range r.modules {
		snaps = append(snaps, Snapshot{
			Name:          reg.Name,
			Capabilities:  append([]string(nil), reg.Capabilities...),
			LastHeartbeat: reg.LastHeartbeat,
			MessageCount:  reg.MessageCount,
			ErrorCount:    reg.ErrorCount,
			Healthy:       time.Since(reg.LastHeartbeat) <= r.healthTimeout,
		})
	}
	return snaps
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}
