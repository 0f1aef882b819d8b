// Package realtime is the connection registry: a websocket server that fans
// events out to persistent subscriber connections. Each connection carries a
// subscription filter over event categories; publishing is fire-and-forget
// per connection through a bounded drop-oldest outbox.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iram04hack/network-management-system-sub002/errors"
	"github.com/Iram04hack/network-management-system-sub002/event"
	"github.com/Iram04hack/network-management-system-sub002/gns3"
	"github.com/Iram04hack/network-management-system-sub002/metric"
	"github.com/Iram04hack/network-management-system-sub002/netstate"
)

// Server defaults.
const (
	DefaultPath             = "/ws/events"
	DefaultHeartbeatTimeout = 5 * time.Minute
	DefaultSweepInterval    = 30 * time.Second
	DefaultOutboxCapacity   = 256
	DefaultWriteTimeout     = 5 * time.Second
)

// Client control message types.
const (
	ctrlSubscribe       = "subscribe"
	ctrlUnsubscribe     = "unsubscribe"
	ctrlHeartbeat       = "heartbeat"
	ctrlRequestTopology = "request_topology"
	// Older clients send request_state_snapshot for the same thing.
	ctrlRequestSnapshot = "request_state_snapshot"
	ctrlNodeAction      = "node_action"
)

// Server frame types.
const (
	frameConnectionEstablished = "connection_established"
	frameSubscriptionConfirmed = "subscription_confirmed"
	frameEvent                 = "gns3_event"
	frameTopologyResponse      = "topology_response"
	frameNodeActionResult      = "node_action_result"
	frameError                 = "error"
)

// controlMessage is one inbound client frame.
type controlMessage struct {
	Type       string   `json:"type"`
	Categories []string `json:"categories,omitempty"`
	Action     string   `json:"action,omitempty"`
	ProjectID  string   `json:"project_id,omitempty"`
	NodeID     string   `json:"node_id,omitempty"`
}

// StateService is the slice of the network-state service the connection
// protocol proxies to.
type StateService interface {
	GetCachedTopology(ctx context.Context) (*gns3.NetworkState, error)
	StartNode(ctx context.Context, projectID, nodeID string) (netstate.ActionResult, error)
	StopNode(ctx context.Context, projectID, nodeID string) (netstate.ActionResult, error)
	RestartNode(ctx context.Context, projectID, nodeID string) (netstate.RestartResult, error)
}

// serverMetrics are registered against the central registry per component.
type serverMetrics struct {
	clientsConnected prometheus.Gauge
	eventsPublished  prometheus.Counter
	framesDelivered  prometheus.Counter
	framesDropped    prometheus.Counter
	evictions        prometheus.Counter
}

func newServerMetrics(reg *metric.Registry) *serverMetrics {
	if reg == nil {
		return nil
	}

	m := &serverMetrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "realtime",
			Name: "clients_connected", Help: "Currently connected subscriber connections",
		}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "realtime",
			Name: "events_published_total", Help: "Events offered to the fanout",
		}),
		framesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "realtime",
			Name: "frames_delivered_total", Help: "Frames enqueued to matching connections",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "realtime",
			Name: "frames_dropped_total", Help: "Frames dropped by full outboxes",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "realtime",
			Name: "stale_evictions_total", Help: "Connections evicted for stale heartbeats",
		}),
	}
	_ = reg.RegisterGauge("realtime", "clients_connected", m.clientsConnected)
	_ = reg.RegisterCounter("realtime", "events_published_total", m.eventsPublished)
	_ = reg.RegisterCounter("realtime", "frames_delivered_total", m.framesDelivered)
	_ = reg.RegisterCounter("realtime", "frames_dropped_total", m.framesDropped)
	_ = reg.RegisterCounter("realtime", "stale_evictions_total", m.evictions)
	return m
}

// Server is the websocket connection registry.
type Server struct {
	port  int
	path  string
	state StateService

	logger   *slog.Logger
	metrics  *serverMetrics
	upgrader websocket.Upgrader
	server   *http.Server

	heartbeatTimeout time.Duration
	sweepInterval    time.Duration
	outboxCapacity   int
	writeTimeout     time.Duration

	connMu      sync.RWMutex
	connections map[string]*connection

	lifecycleMu sync.Mutex
	started     bool
	boundAddr   string
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPath overrides the websocket endpoint path.
func WithPath(path string) ServerOption {
	return func(s *Server) { s.path = path }
}

// WithHeartbeatTimeout overrides the staleness window.
func WithHeartbeatTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.heartbeatTimeout = d }
}

// WithSweepInterval overrides the eviction sweep cadence.
func WithSweepInterval(d time.Duration) ServerOption {
	return func(s *Server) { s.sweepInterval = d }
}

// WithOutboxCapacity overrides the per-connection outbox size.
func WithOutboxCapacity(n int) ServerOption {
	return func(s *Server) { s.outboxCapacity = n }
}

// WithMetricsRegistry enables connection metrics.
func WithMetricsRegistry(reg *metric.Registry) ServerOption {
	return func(s *Server) { s.metrics = newServerMetrics(reg) }
}

// NewServer creates the connection registry server.
func NewServer(port int, state StateService, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		port:             port,
		path:             DefaultPath,
		state:            state,
		logger:           logger,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		sweepInterval:    DefaultSweepInterval,
		outboxCapacity:   DefaultOutboxCapacity,
		writeTimeout:     DefaultWriteTimeout,
		connections:      make(map[string]*connection),
		shutdown:         make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the websocket upgrade handler, exported so tests and
// embedding servers can mount it directly.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// Start binds the listen socket, then serves HTTP and runs the heartbeat
// sweep in the background. It returns once the socket is bound; accept-loop
// errors after that point are logged. A stopped server may be started again.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if s.started {
		s.lifecycleMu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "realtime server already running")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s.Handler())
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.server = nil
		s.lifecycleMu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", "listen")
	}

	s.started = true
	s.shutdown = make(chan struct{})
	s.boundAddr = ln.Addr().String()
	server := s.server
	s.lifecycleMu.Unlock()

	s.wg.Add(1)
	go s.sweepLoop(ctx)

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("realtime server terminated", "error", err)
		}
	}()

	s.logger.Info("realtime server listening", "addr", ln.Addr().String(), "path", s.path)
	return nil
}

// Addr reports the bound listen address, empty before Start. Useful when the
// server was configured with port 0.
func (s *Server) Addr() string {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.boundAddr
}

// Stop shuts the HTTP server down and closes every connection.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.started {
		return errors.WrapInvalid(errors.ErrNotStarted, "Server", "Stop", "realtime server not running")
	}
	s.started = false
	close(s.shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("realtime server shutdown", "error", err)
		}
	}

	s.connMu.Lock()
	for id, conn := range s.connections {
		conn.close()
		delete(s.connections, id)
	}
	s.connMu.Unlock()

	s.wg.Wait()
	s.logger.Info("realtime server stopped")
	return nil
}

// Count returns the number of live connections.
func (s *Server) Count() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.connections)
}

// Publish fans the event out to every connection whose filter matches its
// category. The frame is serialized once; connections that do not match
// receive nothing. Delivering to zero connections is valid.
func (s *Server) Publish(ev *event.Event) {
	if ev == nil {
		return
	}
	category := ev.Category()

	frame, err := json.Marshal(map[string]any{
		"type":     frameEvent,
		"category": category,
		"event":    ev,
	})
	if err != nil {
		s.logger.Warn("event serialization failed", "type", string(ev.Type), "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.eventsPublished.Inc()
	}

	s.connMu.RLock()
	targets := make([]*connection, 0, len(s.connections))
	for _, conn := range s.connections {
		if conn.matches(category) {
			targets = append(targets, conn)
		}
	}
	s.connMu.RUnlock()

	for _, conn := range targets {
		before := conn.outbox.Stats().Dropped
		conn.enqueue(frame)
		if s.metrics != nil {
			s.metrics.framesDelivered.Inc()
			if conn.outbox.Stats().Dropped > before {
				s.metrics.framesDropped.Inc()
			}
		}
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn, err := newConnection(uuid.New().String(), ws, s.outboxCapacity)
	if err != nil {
		s.logger.Error("connection setup failed", "error", err)
		_ = ws.Close()
		return
	}

	s.connMu.Lock()
	s.connections[conn.id] = conn
	count := len(s.connections)
	s.connMu.Unlock()

	if s.metrics != nil {
		s.metrics.clientsConnected.Set(float64(count))
	}
	s.logger.Info("connection established", "connection_id", conn.id, "remote", r.RemoteAddr)

	conn.enqueueJSON(map[string]any{
		"type":          frameConnectionEstablished,
		"connection_id": conn.id,
		"categories":    event.ValidCategories(),
	})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		conn.writeLoop(s.writeTimeout)
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(r.Context(), conn)
	}()
}

// readLoop handles inbound control messages until the connection drops.
func (s *Server) readLoop(ctx context.Context, conn *connection) {
	defer s.removeConnection(conn, "closed")

	for {
		select {
		case <-s.shutdown:
			return
		case <-conn.done:
			return
		default:
		}

		_ = conn.conn.SetReadDeadline(time.Now().Add(s.heartbeatTimeout))
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			return
		}

		var ctrl controlMessage
		if err := json.Unmarshal(data, &ctrl); err != nil {
			conn.enqueueJSON(map[string]any{"type": frameError, "message": "invalid control message"})
			continue
		}

		// Any inbound traffic proves liveness.
		conn.heartbeat()

		s.handleControl(ctx, conn, ctrl)
	}
}

func (s *Server) handleControl(ctx context.Context, conn *connection, ctrl controlMessage) {
	switch ctrl.Type {
	case ctrlSubscribe:
		subs := conn.subscribe(toCategories(ctrl.Categories))
		conn.enqueueJSON(map[string]any{"type": frameSubscriptionConfirmed, "subscriptions": subs})

	case ctrlUnsubscribe:
		subs := conn.unsubscribe(toCategories(ctrl.Categories))
		conn.enqueueJSON(map[string]any{"type": frameSubscriptionConfirmed, "subscriptions": subs})

	case ctrlHeartbeat:
		// Liveness already refreshed in readLoop.

	case ctrlRequestTopology, ctrlRequestSnapshot:
		s.handleTopologyRequest(ctx, conn)

	case ctrlNodeAction:
		s.handleNodeAction(ctx, conn, ctrl)

	default:
		conn.enqueueJSON(map[string]any{
			"type":    frameError,
			"message": fmt.Sprintf("unknown control message type %q", ctrl.Type),
		})
	}
}

func (s *Server) handleTopologyRequest(ctx context.Context, conn *connection) {
	if s.state == nil {
		conn.enqueueJSON(map[string]any{"type": frameError, "message": "topology service unavailable"})
		return
	}

	state, err := s.state.GetCachedTopology(ctx)
	if err != nil {
		conn.enqueueJSON(map[string]any{
			"type":     frameTopologyResponse,
			"degraded": true,
			"message":  "cached topology unavailable",
		})
		return
	}
	conn.enqueueJSON(map[string]any{"type": frameTopologyResponse, "state": state})
}

// handleNodeAction proxies start/stop/restart to the state service and
// replies on the same connection.
func (s *Server) handleNodeAction(ctx context.Context, conn *connection, ctrl controlMessage) {
	if s.state == nil {
		conn.enqueueJSON(map[string]any{"type": frameError, "message": "node actions unavailable"})
		return
	}

	var (
		result any
		err    error
	)
	switch ctrl.Action {
	case "start":
		result, err = s.state.StartNode(ctx, ctrl.ProjectID, ctrl.NodeID)
	case "stop":
		result, err = s.state.StopNode(ctx, ctrl.ProjectID, ctrl.NodeID)
	case "restart":
		result, err = s.state.RestartNode(ctx, ctrl.ProjectID, ctrl.NodeID)
	default:
		conn.enqueueJSON(map[string]any{
			"type":    frameError,
			"message": fmt.Sprintf("unknown node action %q", ctrl.Action),
		})
		return
	}

	frame := map[string]any{
		"type":       frameNodeActionResult,
		"action":     ctrl.Action,
		"project_id": ctrl.ProjectID,
		"node_id":    ctrl.NodeID,
		"result":     result,
	}
	if err != nil {
		frame["error"] = err.Error()
	}
	conn.enqueueJSON(frame)
}

func (s *Server) removeConnection(conn *connection, reason string) {
	conn.close()

	s.connMu.Lock()
	_, present := s.connections[conn.id]
	delete(s.connections, conn.id)
	count := len(s.connections)
	s.connMu.Unlock()

	if !present {
		return
	}
	if s.metrics != nil {
		s.metrics.clientsConnected.Set(float64(count))
	}
	s.logger.Info("connection removed", "connection_id", conn.id, "reason", reason)
}

func (s *Server) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictStale(time.Now())
		case <-s.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// evictStale drops connections whose heartbeat exceeded the staleness
// window.
func (s *Server) evictStale(now time.Time) {
	s.connMu.RLock()
	var stale []*connection
	for _, conn := range s.connections {
		if conn.stale(now, s.heartbeatTimeout) {
			stale = append(stale, conn)
		}
	}
	s.connMu.RUnlock()

	for _, conn := range stale {
		if s.metrics != nil {
			s.metrics.evictions.Inc()
		}
		s.removeConnection(conn, "stale heartbeat")
	}
}

func toCategories(raw []string) []event.Category {
	out := make([]event.Category, 0, len(raw))
	for _, r := range raw {
		out = append(out, event.Category(r))
	}
	return out
}
