package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Iram04hack/network-management-system-sub002/errors"
)

// Event is the published record of something that happened in the network.
// Events flow from the network-state service through the delivery engine to
// module subscribers and realtime connections.
//
// Events are immutable after creation except for the delivery-tracking
// fields (Status, RetryCount), which are mutated only by the delivery
// engine's single processing path.
type Event struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Source        string         `json:"source"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Priority      Priority       `json:"priority"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	TargetModules []string       `json:"target_modules,omitempty"`

	Status     DeliveryStatus `json:"status"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
}

// Option is a functional option for configuring Event construction.
type Option func(*Event)

// WithPriority overrides the default normal priority.
func WithPriority(p Priority) Option {
	return func(e *Event) { e.Priority = p }
}

// WithCorrelationID links the event to a request or workflow.
func WithCorrelationID(id string) Option {
	return func(e *Event) { e.CorrelationID = id }
}

// WithTargets restricts delivery to the named modules instead of broadcast.
func WithTargets(modules ...string) Option {
	return func(e *Event) { e.TargetModules = modules }
}

// WithMaxRetries overrides the default retry budget.
func WithMaxRetries(n int) Option {
	return func(e *Event) { e.MaxRetries = n }
}

// WithTime sets a specific timestamp instead of time.Now().
// Useful for replaying historical data and for tests.
func WithTime(ts time.Time) Option {
	return func(e *Event) { e.Timestamp = ts }
}

// New creates an Event with a generated ID, the current timestamp, normal
// priority and a default retry budget of 3.
func New(t Type, source string, payload map[string]any, opts ...Option) *Event {
	e := &Event{
		ID:         uuid.New().String(),
		Type:       t,
		Source:     source,
		Payload:    payload,
		Timestamp:  time.Now(),
		Priority:   PriorityNormal,
		Status:     DeliveryPending,
		MaxRetries: 3,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Category returns the subscription category for this event's type.
func (e *Event) Category() Category {
	return CategoryOf(e.Type)
}

// Validate checks the event before it enters the delivery engine.
func (e *Event) Validate() error {
	if e.ID == "" {
		return errors.WrapInvalid(errors.ErrValidation, "Event", "Validate", "id cannot be empty")
	}
	if e.Type == "" {
		return errors.WrapInvalid(errors.ErrValidation, "Event", "Validate", "type cannot be empty")
	}
	if e.Source == "" {
		return errors.WrapInvalid(errors.ErrValidation, "Event", "Validate", "source cannot be empty")
	}
	if !e.Priority.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidPriority, "Event", "Validate", "priority out of range")
	}
	if e.RetryCount > e.MaxRetries {
		return errors.WrapInvalid(errors.ErrValidation, "Event", "Validate", "retry count exceeds max retries")
	}
	return nil
}

// Serialize renders the event to its JSON wire form.
func (e *Event) Serialize() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Event", "Serialize", "marshal event")
	}
	return data, nil
}
