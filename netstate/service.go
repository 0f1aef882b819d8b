// Package netstate composes the emulator gateway, the state cache and the
// event model: it executes node and project actions, keeps the cached
// picture of the network current, and publishes the matching events.
//
// The cache is advisory. When it is unreachable the service degrades:
// gateway actions are still attempted, cached reads report unknown.
package netstate

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iram04hack/network-management-system-sub002/errors"
	"github.com/Iram04hack/network-management-system-sub002/event"
	"github.com/Iram04hack/network-management-system-sub002/gns3"
	"github.com/Iram04hack/network-management-system-sub002/statecache"
)

// Defaults for the service knobs.
const (
	DefaultSettleDelay         = 2 * time.Second
	DefaultCacheTTL            = 10 * time.Minute
	DefaultPartialSuccessRatio = 0.75
	DefaultFanoutLimit         = 8
)

// Publisher delivers events through the bus and real-time fanout.
// *bus.Engine satisfies it.
type Publisher interface {
	PublishEvent(ev *event.Event) error
}

// ActionResult reports one gateway node action.
type ActionResult struct {
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
	PreviousStatus gns3.NodeStatus `json:"previous_status"`
	NewStatus      gns3.NodeStatus `json:"new_status"`
}

// RestartResult carries both halves of a restart. Start.Attempted is false
// when the stop half failed.
type RestartResult struct {
	Stop           ActionResult `json:"stop"`
	Start          ActionResult `json:"start"`
	StartAttempted bool         `json:"start_attempted"`
}

// ProjectStartResult summarizes a project-wide start fanout.
type ProjectStartResult struct {
	ProjectID string                  `json:"project_id"`
	Total     int                     `json:"total"`
	Started   int                     `json:"started"`
	Failed    int                     `json:"failed"`
	Results   map[string]ActionResult `json:"results"`
	Success   bool                    `json:"success"`
}

// Service is the network-state service.
type Service struct {
	gateway   gns3.Gateway
	cache     statecache.Store
	publisher Publisher
	logger    *slog.Logger

	settleDelay  time.Duration
	cacheTTL     time.Duration
	successRatio float64
	fanoutLimit  int

	// stateMu serializes read-modify-write of the network_state entry so
	// concurrent node actions never lose each other's updates.
	stateMu sync.Mutex
}

// Option configures the service.
type Option func(*Service)

// WithSettleDelay overrides the pause between the stop and start halves of
// a restart.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Service) { s.settleDelay = d }
}

// WithCacheTTL overrides the TTL applied to cache writes.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) { s.cacheTTL = d }
}

// WithPartialSuccessRatio overrides the fraction of nodes that must start
// for a project-wide start to count as a success.
func WithPartialSuccessRatio(ratio float64) Option {
	return func(s *Service) { s.successRatio = ratio }
}

// WithFanoutLimit caps concurrent node starts during project fanout.
func WithFanoutLimit(n int) Option {
	return func(s *Service) { s.fanoutLimit = n }
}

// New creates the network-state service.
func New(gateway gns3.Gateway, cache statecache.Store, publisher Publisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		gateway:      gateway,
		cache:        cache,
		publisher:    publisher,
		logger:       logger,
		settleDelay:  DefaultSettleDelay,
		cacheTTL:     DefaultCacheTTL,
		successRatio: DefaultPartialSuccessRatio,
		fanoutLimit:  DefaultFanoutLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartNode starts a node, updates the cached entry and publishes
// node.started.
func (s *Service) StartNode(ctx context.Context, projectID, nodeID string) (ActionResult, error) {
	return s.nodeAction(ctx, projectID, nodeID, gns3.NodeStarted, event.TypeNodeStarted, true)
}

// StopNode stops a node, updates the cached entry and publishes
// node.stopped.
func (s *Service) StopNode(ctx context.Context, projectID, nodeID string) (ActionResult, error) {
	return s.nodeAction(ctx, projectID, nodeID, gns3.NodeStopped, event.TypeNodeStopped, true)
}

// RestartNode stops the node, waits a settle delay, then starts it. The
// start half is skipped when the stop half failed; both sub-results are
// returned either way.
func (s *Service) RestartNode(ctx context.Context, projectID, nodeID string) (RestartResult, error) {
	result := RestartResult{}

	stopRes, err := s.StopNode(ctx, projectID, nodeID)
	result.Stop = stopRes
	if err != nil {
		s.logger.Warn("restart aborted, stop failed",
			"project_id", projectID,
			"node_id", nodeID,
			"error", err)
		return result, err
	}

	select {
	case <-time.After(s.settleDelay):
	case <-ctx.Done():
		return result, errors.Wrap(ctx.Err(), "Service", "RestartNode", "cancelled during settle delay")
	}

	startRes, err := s.StartNode(ctx, projectID, nodeID)
	result.Start = startRes
	result.StartAttempted = true
	return result, err
}

// StartProjectNodes starts every node of the project concurrently and emits
// a single topology.changed summarizing the outcome. Per-node events are
// deliberately not published for a project-wide start.
func (s *Service) StartProjectNodes(ctx context.Context, projectID string) (ProjectStartResult, error) {
	result := ProjectStartResult{ProjectID: projectID, Results: make(map[string]ActionResult)}
	if projectID == "" {
		return result, errors.WrapInvalid(errors.ErrMissingProjectID, "Service", "StartProjectNodes", "reject request")
	}

	nodes, err := s.gateway.ListNodes(ctx, projectID)
	if err != nil {
		return result, errors.Wrap(err, "Service", "StartProjectNodes", "list project nodes")
	}
	result.Total = len(nodes)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanoutLimit)

	for _, node := range nodes {
		nodeID := node.ID
		g.Go(func() error {
			res, actionErr := s.nodeAction(gctx, projectID, nodeID, gns3.NodeStarted, event.TypeNodeStarted, false)
			if actionErr != nil && res.Error == "" {
				res.Error = actionErr.Error()
			}
			mu.Lock()
			result.Results[nodeID] = res
			mu.Unlock()
			// Per-node failures are collected, not propagated, so one bad
			// node never cancels the rest of the fanout.
			return nil
		})
	}
	g.Wait()

	for _, res := range result.Results {
		if res.Success {
			result.Started++
		} else {
			result.Failed++
		}
	}
	if result.Total == 0 {
		result.Success = true
	} else {
		result.Success = float64(result.Started)/float64(result.Total) >= s.successRatio
	}

	s.publish(event.New(event.TypeTopologyChanged, "netstate", map[string]any{
		"reason":     "project_start",
		"project_id": projectID,
		"total":      result.Total,
		"started":    result.Started,
		"failed":     result.Failed,
	}, event.WithPriority(event.PriorityHigh)))

	s.logger.Info("project start finished",
		"project_id", projectID,
		"total", result.Total,
		"started", result.Started,
		"failed", result.Failed,
		"success", result.Success)

	return result, nil
}

// RefreshTopology re-pulls the whole emulator state, replaces the cache
// wholesale and publishes topology.changed.
func (s *Service) RefreshTopology(ctx context.Context) (*gns3.NetworkState, error) {
	projects, err := s.gateway.ListProjects(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Service", "RefreshTopology", "list projects")
	}

	state := gns3.NewNetworkState()
	state.ServerStatus = gns3.ServerConnected
	state.LastUpdate = time.Now()

	for _, project := range projects {
		state.Projects[project.ID] = project

		nodes, err := s.gateway.ListNodes(ctx, project.ID)
		if err != nil {
			return nil, errors.Wrap(err, "Service", "RefreshTopology",
				fmt.Sprintf("list nodes of project %s", project.ID))
		}
		for _, node := range nodes {
			node.ProjectID = project.ID
			node.LastUpdate = state.LastUpdate
			state.Nodes[node.ID] = node
		}

		links, err := s.gateway.ListLinks(ctx, project.ID)
		if err != nil {
			return nil, errors.Wrap(err, "Service", "RefreshTopology",
				fmt.Sprintf("list links of project %s", project.ID))
		}
		for _, link := range links {
			state.Links[link.ID] = link
		}
	}

	s.replaceState(ctx, state)

	s.publish(event.New(event.TypeTopologyChanged, "netstate", map[string]any{
		"reason":   "refresh",
		"projects": len(state.Projects),
		"nodes":    len(state.Nodes),
		"links":    len(state.Links),
	}, event.WithPriority(event.PriorityHigh)))

	return state, nil
}

// GetCachedTopology returns the cached network state. A cache outage
// degrades to ErrCacheUnavailable; an absent entry to ErrKeyNotFound.
func (s *Service) GetCachedTopology(ctx context.Context) (*gns3.NetworkState, error) {
	data, err := s.cache.Get(ctx, statecache.KeyNetworkState)
	if err != nil {
		return nil, err
	}

	var state gns3.NetworkState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.WrapInvalid(err, "Service", "GetCachedTopology", "decode cached state")
	}
	return &state, nil
}

// GetCachedNodeStatus returns the cached status of one node. Cache misses
// and outages report unknown rather than failing.
func (s *Service) GetCachedNodeStatus(ctx context.Context, nodeID string) (gns3.NodeStatus, error) {
	if nodeID == "" {
		return gns3.NodeUnknown, errors.WrapInvalid(errors.ErrMissingNodeID, "Service", "GetCachedNodeStatus", "reject request")
	}

	data, err := s.cache.Get(ctx, statecache.NodeKey(nodeID))
	if err != nil {
		if !stderrors.Is(err, errors.ErrKeyNotFound) {
			s.logger.Warn("cache read degraded", "node_id", nodeID, "error", err)
		}
		return gns3.NodeUnknown, nil
	}

	var node gns3.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return gns3.NodeUnknown, nil
	}
	if node.Status == "" {
		return gns3.NodeUnknown, nil
	}
	return node.Status, nil
}

// nodeAction runs one gateway call, then the cache update and event
// publication that follow a successful action.
func (s *Service) nodeAction(ctx context.Context, projectID, nodeID string, newStatus gns3.NodeStatus, evType event.Type, emit bool) (ActionResult, error) {
	result := ActionResult{PreviousStatus: gns3.NodeUnknown, NewStatus: gns3.NodeUnknown}

	if projectID == "" {
		return result, errors.WrapInvalid(errors.ErrMissingProjectID, "Service", "nodeAction", "reject request")
	}
	if nodeID == "" {
		return result, errors.WrapInvalid(errors.ErrMissingNodeID, "Service", "nodeAction", "reject request")
	}

	prev, _ := s.GetCachedNodeStatus(ctx, nodeID)
	result.PreviousStatus = prev

	var gatewayErr error
	if newStatus == gns3.NodeStarted {
		gatewayErr = s.gateway.StartNode(ctx, projectID, nodeID)
	} else {
		gatewayErr = s.gateway.StopNode(ctx, projectID, nodeID)
	}
	if gatewayErr != nil {
		result.Error = gatewayErr.Error()
		return result, errors.Wrap(gatewayErr, "Service", "nodeAction", "gateway call")
	}

	result.Success = true
	result.NewStatus = newStatus

	s.updateCachedNode(ctx, projectID, nodeID, newStatus)

	if emit {
		s.publish(event.New(evType, "netstate", map[string]any{
			"project_id":      projectID,
			"node_id":         nodeID,
			"status":          string(newStatus),
			"previous_status": string(prev),
		}, event.WithPriority(event.PriorityHigh)))
	}

	return result, nil
}

// updateCachedNode read-modify-writes the node entry and the whole-state
// entry. Cache failures are logged, never propagated: the action already
// succeeded against the gateway.
func (s *Service) updateCachedNode(ctx context.Context, projectID, nodeID string, status gns3.NodeStatus) {
	now := time.Now()

	node := gns3.Node{ID: nodeID, ProjectID: projectID}
	if data, err := s.cache.Get(ctx, statecache.NodeKey(nodeID)); err == nil {
		_ = json.Unmarshal(data, &node)
	}
	node.Status = status
	node.LastUpdate = now

	if data, err := json.Marshal(node); err == nil {
		if err := s.cache.Set(ctx, statecache.NodeKey(nodeID), data, s.cacheTTL); err != nil {
			s.logger.Warn("cache write degraded", "key", statecache.NodeKey(nodeID), "error", err)
		}
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	data, err := s.cache.Get(ctx, statecache.KeyNetworkState)
	if err != nil {
		return
	}
	var state gns3.NetworkState
	if err := json.Unmarshal(data, &state); err != nil {
		return
	}
	if state.Nodes == nil {
		state.Nodes = make(map[string]gns3.Node)
	}
	state.Nodes[nodeID] = node
	state.LastUpdate = now

	if updated, err := json.Marshal(&state); err == nil {
		if err := s.cache.Set(ctx, statecache.KeyNetworkState, updated, s.cacheTTL); err != nil {
			s.logger.Warn("cache write degraded", "key", statecache.KeyNetworkState, "error", err)
		}
	}
}

// replaceState writes the refreshed state and its per-entity entries.
func (s *Service) replaceState(ctx context.Context, state *gns3.NetworkState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if data, err := json.Marshal(state); err == nil {
		if err := s.cache.Set(ctx, statecache.KeyNetworkState, data, s.cacheTTL); err != nil {
			s.logger.Warn("cache write degraded", "key", statecache.KeyNetworkState, "error", err)
			return
		}
	}

	for id, project := range state.Projects {
		if data, err := json.Marshal(project); err == nil {
			_ = s.cache.Set(ctx, statecache.ProjectKey(id), data, s.cacheTTL)
		}
	}
	for id, node := range state.Nodes {
		if data, err := json.Marshal(node); err == nil {
			_ = s.cache.Set(ctx, statecache.NodeKey(id), data, s.cacheTTL)
		}
	}
}

func (s *Service) publish(ev *event.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ev); err != nil {
		s.logger.Warn("event publication failed", "type", string(ev.Type), "error", err)
	}
}
