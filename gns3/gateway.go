package gns3

import "context"

// Gateway wraps the emulator's project/node/link operations. Implementations
// must bound every call with the context and classify failures so callers
// can distinguish retryable outages from missing entities.
type Gateway interface {
	ListProjects(ctx context.Context) ([]Project, error)
	ListNodes(ctx context.Context, projectID string) ([]Node, error)
	ListLinks(ctx context.Context, projectID string) ([]Link, error)
	StartNode(ctx context.Context, projectID, nodeID string) error
	StopNode(ctx context.Context, projectID, nodeID string) error
}
