package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/Iram04hack/network-management-system-sub002/errors"
)

// MessageStatus tracks a CommunicationMessage through its lifecycle.
type MessageStatus string

// Message statuses. Completed, Failed and TimedOut are terminal.
const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusFailed     MessageStatus = "failed"
	StatusTimedOut   MessageStatus = "timeout"
)

// IsTerminal reports whether the status ends the message lifecycle.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Result is delivered to a message callback when the message reaches a
// terminal status.
type Result struct {
	MessageID      string        `json:"message_id"`
	Status         MessageStatus `json:"status"`
	Error          string        `json:"error,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Callback is the optional continuation attached to a message. It is invoked
// exactly once, by the delivery engine, when the message reaches a terminal
// status.
type Callback func(Result)

// StepRef carries workflow step metadata on a message. A non-zero StepRef
// makes the delivery engine dispatch the message as a background job against
// (Target, Action) instead of routing it point-to-point.
type StepRef struct {
	WorkflowID string `json:"workflow_id"`
	StepName   string `json:"step_name"`
	Action     string `json:"action"`
}

// IsZero reports whether the message carries no step metadata.
func (s StepRef) IsZero() bool {
	return s.WorkflowID == "" && s.StepName == ""
}

// CommunicationMessage is the module-to-module form of an event with richer
// framing: sender/target addressing, a per-message timeout, and an optional
// completion callback.
//
// A message is created by Send, mutated only by the delivery engine's single
// processing path, and moved to the completed or failed history once
// terminal.
type CommunicationMessage struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Sender         string         `json:"sender"`
	Target         string         `json:"target,omitempty"` // empty means broadcast
	Payload        map[string]any `json:"payload,omitempty"`
	Priority       Priority       `json:"priority"`
	Timestamp      time.Time      `json:"timestamp"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Status         MessageStatus  `json:"status"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ProcessingTime time.Duration  `json:"processing_time,omitempty"`

	// Step is set when the message dispatches a workflow step.
	Step StepRef `json:"step,omitempty"`

	// CapabilityFilter restricts broadcast delivery to modules advertising
	// the capability. Ignored for point-to-point messages.
	CapabilityFilter string `json:"capability_filter,omitempty"`

	// Callback is invoked once on terminal status. Not serialized.
	Callback Callback `json:"-"`
}

// MessageOption is a functional option for configuring message construction.
type MessageOption func(*CommunicationMessage)

// WithTarget makes the message point-to-point instead of broadcast.
func WithTarget(target string) MessageOption {
	return func(m *CommunicationMessage) { m.Target = target }
}

// WithMessagePriority overrides the default normal priority.
func WithMessagePriority(p Priority) MessageOption {
	return func(m *CommunicationMessage) { m.Priority = p }
}

// WithTimeout overrides the default 30 second message timeout.
func WithTimeout(seconds int) MessageOption {
	return func(m *CommunicationMessage) { m.TimeoutSeconds = seconds }
}

// WithRetries overrides the default retry budget.
func WithRetries(max int) MessageOption {
	return func(m *CommunicationMessage) { m.MaxRetries = max }
}

// WithCallback attaches a terminal-status continuation.
func WithCallback(cb Callback) MessageOption {
	return func(m *CommunicationMessage) { m.Callback = cb }
}

// WithStep attaches workflow step metadata.
func WithStep(ref StepRef) MessageOption {
	return func(m *CommunicationMessage) { m.Step = ref }
}

// WithCapabilityFilter restricts broadcast delivery by capability.
func WithCapabilityFilter(capability string) MessageOption {
	return func(m *CommunicationMessage) { m.CapabilityFilter = capability }
}

// NewMessage creates a CommunicationMessage with a generated ID, the current
// timestamp, normal priority, a 30 second timeout and a retry budget of 3.
func NewMessage(msgType, sender string, payload map[string]any, opts ...MessageOption) *CommunicationMessage {
	m := &CommunicationMessage{
		ID:             uuid.New().String(),
		Type:           msgType,
		Sender:         sender,
		Payload:        payload,
		Priority:       PriorityNormal,
		Timestamp:      time.Now(),
		TimeoutSeconds: 30,
		Status:         StatusPending,
		MaxRetries:     3,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Validate checks the message before it enters the delivery engine.
// Validation errors surface synchronously to the Send caller.
func (m *CommunicationMessage) Validate() error {
	if m.ID == "" {
		return errors.WrapInvalid(errors.ErrValidation, "CommunicationMessage", "Validate", "id cannot be empty")
	}
	if m.Type == "" {
		return errors.WrapInvalid(errors.ErrValidation, "CommunicationMessage", "Validate", "type cannot be empty")
	}
	if m.Sender == "" {
		return errors.WrapInvalid(errors.ErrValidation, "CommunicationMessage", "Validate", "sender cannot be empty")
	}
	if !m.Priority.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidPriority, "CommunicationMessage", "Validate", "priority out of range")
	}
	if m.TimeoutSeconds <= 0 {
		return errors.WrapInvalid(errors.ErrValidation, "CommunicationMessage", "Validate", "timeout must be positive")
	}
	if m.MaxRetries < 0 {
		return errors.WrapInvalid(errors.ErrValidation, "CommunicationMessage", "Validate", "max retries cannot be negative")
	}
	return nil
}

// Expired reports whether the message has outlived its timeout as of now.
func (m *CommunicationMessage) Expired(now time.Time) bool {
	deadline := m.Timestamp.Add(time.Duration(m.TimeoutSeconds) * time.Second)
	return now.After(deadline)
}
