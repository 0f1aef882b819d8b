// Package health tracks per-component health and aggregates it into a
// best-effort system snapshot. Queries never fail: an unreachable dependency
// is annotated as degraded or unhealthy instead of failing the whole call.
package health

import "time"

// States a component can report.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the health of one component or of the aggregated system.
type Status struct {
	Component   string         `json:"component"`
	Healthy     bool           `json:"healthy"`
	Status      string         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
	SubStatuses []Status       `json:"sub_statuses,omitempty"`
}

// IsHealthy reports a healthy state.
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded reports a degraded state.
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy reports an unhealthy state.
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithDetails attaches diagnostic details and returns the copy.
func (s Status) WithDetails(details map[string]any) Status {
	s.Details = details
	return s
}

// Healthy creates a healthy status.
func Healthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Degraded creates a degraded status. Degraded components still serve, with
// reduced guarantees.
func Degraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Unhealthy creates an unhealthy status.
func Unhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate folds sub-statuses into one: any unhealthy makes the aggregate
// unhealthy; otherwise any degraded makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return Healthy(component, "no components registered")
	}

	hasUnhealthy, hasDegraded := false, false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var agg Status
	switch {
	case hasUnhealthy:
		agg = Unhealthy(component, "one or more components are unhealthy")
	case hasDegraded:
		agg = Degraded(component, "one or more components are degraded")
	default:
		agg = Healthy(component, "all components healthy")
	}

	agg.SubStatuses = make([]Status, len(subStatuses))
	copy(agg.SubStatuses, subStatuses)
	return agg
}
