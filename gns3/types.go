// Package gns3 defines the network emulator gateway contract, the topology
// value types shared with the state service, and a REST client for a GNS3
// server. Exact wire fidelity with every GNS3 release is not a goal; the
// client covers the project/node/link surface the core orchestrates.
package gns3

import "time"

// NodeStatus is the emulator-reported lifecycle state of a node.
type NodeStatus string

// Node statuses. Unknown is reported when cached state is unavailable.
const (
	NodeStarted   NodeStatus = "started"
	NodeStopped   NodeStatus = "stopped"
	NodeSuspended NodeStatus = "suspended"
	NodeUnknown   NodeStatus = "unknown"
)

// ServerStatus reports reachability of the emulator server.
type ServerStatus string

// Server statuses
const (
	ServerConnected    ServerStatus = "connected"
	ServerDisconnected ServerStatus = "disconnected"
)

// Project is an emulator project.
type Project struct {
	ID     string `json:"project_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Node is one emulated device inside a project.
type Node struct {
	ID          string     `json:"node_id"`
	ProjectID   string     `json:"project_id"`
	Name        string     `json:"name"`
	NodeType    string     `json:"node_type"`
	Status      NodeStatus `json:"status"`
	ConsoleHost string     `json:"console_host,omitempty"`
	ConsolePort int        `json:"console,omitempty"`
	LastUpdate  time.Time  `json:"last_update,omitempty"`
}

// LinkEndpoint is one side of a link.
type LinkEndpoint struct {
	NodeID        string `json:"node_id"`
	AdapterNumber int    `json:"adapter_number"`
	PortNumber    int    `json:"port_number"`
}

// Link connects two node endpoints inside a project.
type Link struct {
	ID        string         `json:"link_id"`
	ProjectID string         `json:"project_id"`
	LinkType  string         `json:"link_type,omitempty"`
	Endpoints []LinkEndpoint `json:"nodes"`
}

// NetworkState is the cached picture of the whole emulator. It is replaced
// wholesale on refresh and updated entry-by-entry on single-node actions;
// every Node.ProjectID keys into Projects.
type NetworkState struct {
	Projects     map[string]Project `json:"projects"`
	Nodes        map[string]Node    `json:"nodes"`
	Links        map[string]Link    `json:"links"`
	LastUpdate   time.Time          `json:"last_update"`
	ServerStatus ServerStatus       `json:"server_status"`
}

// NewNetworkState returns an empty state marked disconnected.
func NewNetworkState() *NetworkState {
	return &NetworkState{
		Projects:     make(map[string]Project),
		Nodes:        make(map[string]Node),
		Links:        make(map[string]Link),
		ServerStatus: ServerDisconnected,
	}
}
