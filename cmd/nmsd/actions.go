package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Iram04hack/network-management-system-sub002/gns3"
	"github.com/Iram04hack/network-management-system-sub002/jobs"
	"github.com/Iram04hack/network-management-system-sub002/netstate"
	"github.com/Iram04hack/network-management-system-sub002/statecache"
)

// builtinModules are the in-process modules the daemon registers at boot.
// External modules register over the hub at runtime.
var builtinModules = map[string][]string{
	"network":    {"node_control", "topology"},
	"discovery":  {"scan", "identify"},
	"monitoring": {"collect"},
	"inventory":  {"update"},
}

type actionEntry struct {
	module string
	action string
	fn     jobs.ActionFunc
}

// builtinActions binds the daemon's job actions to the state service and
// cache. Workflow steps targeting these (module, action) pairs run here.
func builtinActions(state *netstate.Service, cache statecache.Store) []actionEntry {
	return []actionEntry{
		{"network", "start_node", nodeActionFn(state.StartNode)},
		{"network", "stop_node", nodeActionFn(state.StopNode)},
		{"network", "restart_node", restartNodeFn(state)},
		{"network", "start_project", startProjectFn(state)},
		{"network", "refresh_topology", refreshTopologyFn(state)},
		{"discovery", "scan", refreshTopologyFn(state)},
		{"discovery", "identify", identifyDevicesFn(state)},
		{"monitoring", "collect", collectStatusFn(state)},
		{"inventory", "update", updateInventoryFn(state, cache)},
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	val, ok := raw.(string)
	if !ok || val == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return val, nil
}

func nodeActionFn(call func(ctx context.Context, projectID, nodeID string) (netstate.ActionResult, error)) jobs.ActionFunc {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		projectID, err := stringArg(args, "project_id")
		if err != nil {
			return nil, err
		}
		nodeID, err := stringArg(args, "node_id")
		if err != nil {
			return nil, err
		}
		res, err := call(ctx, projectID, nodeID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":    res.Success,
			"new_status": string(res.NewStatus),
		}, nil
	}
}

func restartNodeFn(state *netstate.Service) jobs.ActionFunc {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		projectID, err := stringArg(args, "project_id")
		if err != nil {
			return nil, err
		}
		nodeID, err := stringArg(args, "node_id")
		if err != nil {
			return nil, err
		}
		res, err := state.RestartNode(ctx, projectID, nodeID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"stopped":         res.Stop.Success,
			"started":         res.Start.Success,
			"start_attempted": res.StartAttempted,
		}, nil
	}
}

func startProjectFn(state *netstate.Service) jobs.ActionFunc {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		projectID, err := stringArg(args, "project_id")
		if err != nil {
			return nil, err
		}
		res, err := state.StartProjectNodes(ctx, projectID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"total":   res.Total,
			"started": res.Started,
			"failed":  res.Failed,
			"success": res.Success,
		}, nil
	}
}

func refreshTopologyFn(state *netstate.Service) jobs.ActionFunc {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		topo, err := state.RefreshTopology(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"projects": len(topo.Projects),
			"nodes":    len(topo.Nodes),
			"links":    len(topo.Links),
		}, nil
	}
}

func identifyDevicesFn(state *netstate.Service) jobs.ActionFunc {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		topo, err := state.GetCachedTopology(ctx)
		if err != nil {
			return nil, err
		}
		byType := make(map[string]int)
		for _, node := range topo.Nodes {
			nodeType := node.NodeType
			if nodeType == "" {
				nodeType = "unknown"
			}
			byType[nodeType]++
		}
		return map[string]any{
			"total":        len(topo.Nodes),
			"device_types": byType,
		}, nil
	}
}

func collectStatusFn(state *netstate.Service) jobs.ActionFunc {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		topo, err := state.GetCachedTopology(ctx)
		if err != nil {
			return nil, err
		}
		byStatus := make(map[string]int)
		for _, node := range topo.Nodes {
			byStatus[string(node.Status)]++
		}
		return map[string]any{
			"total":     len(topo.Nodes),
			"by_status": byStatus,
		}, nil
	}
}

// inventoryRecord is the document written by the update_inventory action.
type inventoryRecord struct {
	UpdatedAt time.Time            `json:"updated_at"`
	Devices   map[string]gns3.Node `json:"devices"`
}

func updateInventoryFn(state *netstate.Service, cache statecache.Store) jobs.ActionFunc {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		topo, err := state.GetCachedTopology(ctx)
		if err != nil {
			return nil, err
		}
		record := inventoryRecord{UpdatedAt: time.Now().UTC(), Devices: topo.Nodes}
		data, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		if err := cache.Set(ctx, "inventory", data, 0); err != nil {
			return nil, err
		}
		return map[string]any{
			"updated": true,
			"devices": len(record.Devices),
		}, nil
	}
}
