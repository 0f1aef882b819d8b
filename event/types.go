// Package event defines the typed event and message value objects shared by
// every component of the orchestration core: the event taxonomy, priority
// tiers, delivery statuses, and the mapping from event types to the
// coarse-grained categories used by subscription filtering.
package event

// Type identifies what happened. The taxonomy is closed: every type declared
// here maps to exactly one Category; anything else maps to CategoryUnmapped
// and only matches the all_events subscription.
type Type string

// Declared event types
const (
	TypeNodeStarted   Type = "node.started"
	TypeNodeStopped   Type = "node.stopped"
	TypeNodeSuspended Type = "node.suspended"
	TypeNodeCreated   Type = "node.created"
	TypeNodeDeleted   Type = "node.deleted"

	TypeTopologyChanged Type = "topology.changed"
	TypeLinkCreated     Type = "link.created"
	TypeLinkDeleted     Type = "link.deleted"

	TypeProjectOpened  Type = "project.opened"
	TypeProjectClosed  Type = "project.closed"
	TypeProjectCreated Type = "project.created"
	TypeProjectDeleted Type = "project.deleted"

	TypeWorkflowCompleted Type = "workflow.completed"
	TypeModuleAlert       Type = "module.alert"
)

// Category is the coarse-grained grouping used purely for subscription
// filtering on realtime connections.
type Category string

// Subscription categories
const (
	CategoryNodeStatus      Category = "node_status"
	CategoryTopologyChanges Category = "topology_changes"
	CategoryProjectEvents   Category = "project_events"
	CategoryAllEvents       Category = "all_events"
	// CategoryUnmapped is returned for event types outside the declared
	// taxonomy. It matches only the all_events subscription.
	CategoryUnmapped Category = "unmapped"
)

// ValidCategories lists the categories a connection may subscribe to.
func ValidCategories() []Category {
	return []Category{
		CategoryNodeStatus,
		CategoryTopologyChanges,
		CategoryProjectEvents,
		CategoryAllEvents,
	}
}

// IsSubscribable reports whether c is a category clients may subscribe to.
func (c Category) IsSubscribable() bool {
	switch c {
	case CategoryNodeStatus, CategoryTopologyChanges, CategoryProjectEvents, CategoryAllEvents:
		return true
	default:
		return false
	}
}

var typeCategories = map[Type]Category{
	TypeNodeStarted:   CategoryNodeStatus,
	TypeNodeStopped:   CategoryNodeStatus,
	TypeNodeSuspended: CategoryNodeStatus,
	TypeNodeCreated:   CategoryNodeStatus,
	TypeNodeDeleted:   CategoryNodeStatus,

	TypeTopologyChanged: CategoryTopologyChanges,
	TypeLinkCreated:     CategoryTopologyChanges,
	TypeLinkDeleted:     CategoryTopologyChanges,

	TypeProjectOpened:  CategoryProjectEvents,
	TypeProjectClosed:  CategoryProjectEvents,
	TypeProjectCreated: CategoryProjectEvents,
	TypeProjectDeleted: CategoryProjectEvents,

	TypeWorkflowCompleted: CategoryProjectEvents,
	TypeModuleAlert:       CategoryProjectEvents,
}

// CategoryOf maps an event type to its subscription category. The mapping is
// total: unknown types return CategoryUnmapped, never an error.
func CategoryOf(t Type) Category {
	if c, ok := typeCategories[t]; ok {
		return c
	}
	return CategoryUnmapped
}

// Priority governs queue drain order in the delivery engine.
type Priority int

// Priority tiers, highest first.
const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// Priorities lists all tiers in drain order (critical first).
func Priorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}
}

// String returns the wire representation of the priority
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority converts a wire string to a Priority.
// Unknown values return PriorityNormal and false.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "critical":
		return PriorityCritical, true
	case "high":
		return PriorityHigh, true
	case "normal":
		return PriorityNormal, true
	case "low":
		return PriorityLow, true
	default:
		return PriorityNormal, false
	}
}

// IsValid reports whether p is a declared tier.
func (p Priority) IsValid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// MarshalText implements encoding.TextMarshaler so priorities serialize as
// their wire names in JSON.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, _ := ParsePriority(string(text))
	*p = parsed
	return nil
}

// DeliveryStatus tracks an event through the delivery engine.
type DeliveryStatus string

// Delivery statuses
const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryRetry     DeliveryStatus = "retry"
)
