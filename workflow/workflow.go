// Package workflow runs named multi-step sequences across modules. Each
// step is dispatched as a job-backed message to its target module; the next
// step is chained from the previous one's completion callback, so Execute
// never blocks the caller.
//
// A failed or timed-out step is recorded with an error marker and the
// workflow still advances. Partial failure does not abort the sequence.
package workflow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iram04hack/network-management-system-sub002/errors"
	"github.com/Iram04hack/network-management-system-sub002/event"
	"github.com/Iram04hack/network-management-system-sub002/metric"
)

// MessageTypeStep is the message type used for step dispatch.
const MessageTypeStep = "workflow.step"

// DefaultStepTimeoutSeconds applies when a step declares no timeout.
const DefaultStepTimeoutSeconds = 60

// DefaultRetention is how long a finished instance stays queryable before
// it is evicted.
const DefaultRetention = 1 * time.Hour

// Step is one unit of a workflow definition.
type Step struct {
	Name           string `yaml:"name" validate:"required"`
	TargetModule   string `yaml:"target_module" validate:"required"`
	Action         string `yaml:"action" validate:"required"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gte=0"`
}

// Definition is an immutable named step sequence, loaded at startup.
type Definition struct {
	Name  string `yaml:"name" validate:"required"`
	Steps []Step `yaml:"steps" validate:"required,min=1,dive"`
}

// StepResult records the outcome of one step.
type StepResult struct {
	Status   string         `json:"status"` // completed or failed
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Summary is handed to the completion callback and kept as the archived
// record of a finished workflow.
type Summary struct {
	WorkflowID  string                `json:"workflow_id"`
	Definition  string                `json:"definition"`
	StepResults map[string]StepResult `json:"step_results"`
	FailedSteps int                   `json:"failed_steps"`
	Duration    time.Duration         `json:"duration"`
}

// CompletionFn is invoked exactly once when the workflow finishes.
type CompletionFn func(Summary)

// Sender dispatches step messages and the completion event. *bus.Engine
// satisfies it.
type Sender interface {
	Send(msg *event.CommunicationMessage) (string, error)
	PublishEvent(ev *event.Event) error
}

// ActionResolver reports whether (module, action) has a registered job
// handler. *jobs.Runner satisfies it.
type ActionResolver interface {
	Resolve(module, action string) error
}

// instance is one running workflow.
type instance struct {
	id          string
	definition  Definition
	currentStep int
	stepResults map[string]StepResult
	initialData map[string]any
	callback    CompletionFn
	startedAt   time.Time
	finishedAt  time.Time
	done        bool
}

// Orchestrator owns the definition table and the running instances.
type Orchestrator struct {
	definitions map[string]Definition
	sender      Sender
	logger      *slog.Logger
	metrics     *metric.Metrics
	retention   time.Duration

	mu        sync.Mutex
	instances map[string]*instance
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithMetrics enables workflow metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRetention overrides how long finished instances stay queryable.
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) { o.retention = d }
}

// New creates an orchestrator over a set of definitions. Definitions are
// validated structurally; duplicate names are a startup error.
func New(definitions []Definition, sender Sender, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		definitions: make(map[string]Definition, len(definitions)),
		sender:      sender,
		logger:      logger,
		retention:   DefaultRetention,
		instances:   make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(o)
	}

	for _, def := range definitions {
		if def.Name == "" {
			return nil, errors.WrapInvalid(errors.ErrValidation, "Orchestrator", "New", "workflow name cannot be empty")
		}
		if len(def.Steps) == 0 {
			return nil, errors.WrapInvalid(errors.ErrValidation, "Orchestrator", "New",
				fmt.Sprintf("workflow %q has no steps", def.Name))
		}
		if _, exists := o.definitions[def.Name]; exists {
			return nil, errors.WrapInvalid(errors.ErrValidation, "Orchestrator", "New",
				fmt.Sprintf("duplicate workflow %q", def.Name))
		}
		for i, step := range def.Steps {
			if step.Name == "" || step.TargetModule == "" || step.Action == "" {
				return nil, errors.WrapInvalid(errors.ErrValidation, "Orchestrator", "New",
					fmt.Sprintf("workflow %q step %d is incomplete", def.Name, i))
			}
		}
		o.definitions[def.Name] = def
	}

	return o, nil
}

// ValidateActions checks every step's (targetModule, action) against the
// job action registry. Called once at startup so a misconfigured workflow
// fails the process instead of a run.
func (o *Orchestrator) ValidateActions(resolver ActionResolver) error {
	for name, def := range o.definitions {
		for _, step := range def.Steps {
			if err := resolver.Resolve(step.TargetModule, step.Action); err != nil {
				return errors.WrapInvalid(err, "Orchestrator", "ValidateActions",
					fmt.Sprintf("workflow %q step %q", name, step.Name))
			}
		}
	}
	return nil
}

// ListWorkflows returns the defined workflow names.
func (o *Orchestrator) ListWorkflows() []string {
	names := make([]string, 0, len(o.definitions))
	for name := range o.definitions {
		names = append(names, name)
	}
	return names
}

// Definition returns a workflow definition by name.
func (o *Orchestrator) Definition(name string) (Definition, bool) {
	def, ok := o.definitions[name]
	return def, ok
}

// Execute launches a workflow and returns its instance ID immediately.
// The callback, when set, fires exactly once on completion.
func (o *Orchestrator) Execute(name string, initialData map[string]any, callback CompletionFn) (string, error) {
	def, ok := o.definitions[name]
	if !ok {
		return "", errors.WrapInvalid(errors.ErrUnknownWorkflow, "Orchestrator", "Execute",
			fmt.Sprintf("no workflow named %q", name))
	}

	inst := &instance{
		id:          uuid.New().String(),
		definition:  def,
		stepResults: make(map[string]StepResult, len(def.Steps)),
		initialData: initialData,
		callback:    callback,
		startedAt:   time.Now(),
	}

	o.mu.Lock()
	o.instances[inst.id] = inst
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.WorkflowsStarted.Inc()
	}
	o.logger.Info("workflow started",
		"workflow_id", inst.id,
		"definition", name,
		"steps", len(def.Steps))

	o.dispatchStep(inst.id, 0)
	return inst.id, nil
}

// StepResults returns a copy of an instance's recorded step results.
func (o *Orchestrator) StepResults(workflowID string) (map[string]StepResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	inst, ok := o.instances[workflowID]
	if !ok {
		return nil, false
	}
	out := make(map[string]StepResult, len(inst.stepResults))
	for k, v := range inst.stepResults {
		out[k] = v
	}
	return out, true
}

// Running returns the number of unfinished instances.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, inst := range o.instances {
		if !inst.done {
			n++
		}
	}
	return n
}

// dispatchStep sends step idx of the instance as a job-backed message. A
// synchronous send failure is recorded as that step's error and the
// workflow advances anyway.
func (o *Orchestrator) dispatchStep(workflowID string, idx int) {
	o.mu.Lock()
	inst, ok := o.instances[workflowID]
	if !ok || inst.done {
		o.mu.Unlock()
		return
	}
	inst.currentStep = idx
	step := inst.definition.Steps[idx]
	initialData := inst.initialData
	o.mu.Unlock()

	timeout := step.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultStepTimeoutSeconds
	}

	payload := make(map[string]any, len(initialData))
	for k, v := range initialData {
		payload[k] = v
	}

	dispatched := time.Now()
	msg := event.NewMessage(MessageTypeStep, "workflow", payload,
		event.WithTarget(step.TargetModule),
		event.WithStep(event.StepRef{
			WorkflowID: workflowID,
			StepName:   step.Name,
			Action:     step.Action,
		}),
		event.WithTimeout(timeout),
		event.WithMessagePriority(event.PriorityHigh),
		event.WithCallback(func(res event.Result) {
			o.onStepResult(workflowID, idx, res, time.Since(dispatched))
		}),
	)

	if _, err := o.sender.Send(msg); err != nil {
		o.logger.Warn("step dispatch failed",
			"workflow_id", workflowID,
			"step", step.Name,
			"error", err)
		o.recordAndAdvance(workflowID, idx, StepResult{
			Status: "failed",
			Error:  err.Error(),
		})
		return
	}

	o.logger.Debug("step dispatched",
		"workflow_id", workflowID,
		"step", step.Name,
		"target", step.TargetModule,
		"action", step.Action)
}

// onStepResult records the message's terminal result for the step and
// advances the workflow.
func (o *Orchestrator) onStepResult(workflowID string, idx int, res event.Result, elapsed time.Duration) {
	result := StepResult{Duration: elapsed}
	if res.Status == event.StatusCompleted {
		result.Status = "completed"
		result.Output = res.Output
	} else {
		result.Status = "failed"
		result.Error = res.Error
		if result.Error == "" {
			result.Error = string(res.Status)
		}
	}
	o.recordAndAdvance(workflowID, idx, result)
}

func (o *Orchestrator) recordAndAdvance(workflowID string, idx int, result StepResult) {
	o.mu.Lock()
	inst, ok := o.instances[workflowID]
	if !ok || inst.done {
		o.mu.Unlock()
		return
	}

	step := inst.definition.Steps[idx]
	inst.stepResults[step.Name] = result

	finished := idx+1 >= len(inst.definition.Steps)
	if finished {
		inst.done = true
		inst.finishedAt = time.Now()
	}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.StepDuration.WithLabelValues(inst.definition.Name, step.Name).Observe(result.Duration.Seconds())
	}
	if result.Status == "failed" {
		o.logger.Warn("step failed, advancing",
			"workflow_id", workflowID,
			"step", step.Name,
			"error", result.Error)
	}

	if finished {
		o.finalize(inst)
		return
	}
	o.dispatchStep(workflowID, idx+1)
}

// finalize fires the completion callback exactly once and publishes the
// completion event.
func (o *Orchestrator) finalize(inst *instance) {
	o.mu.Lock()
	summary := Summary{
		WorkflowID:  inst.id,
		Definition:  inst.definition.Name,
		StepResults: make(map[string]StepResult, len(inst.stepResults)),
		Duration:    time.Since(inst.startedAt),
	}
	for name, res := range inst.stepResults {
		summary.StepResults[name] = res
		if res.Status == "failed" {
			summary.FailedSteps++
		}
	}
	callback := inst.callback
	inst.callback = nil
	o.mu.Unlock()

	status := "completed"
	if summary.FailedSteps > 0 {
		status = "completed_with_errors"
	}
	if o.metrics != nil {
		o.metrics.WorkflowsCompleted.WithLabelValues(status).Inc()
	}
	o.logger.Info("workflow finished",
		"workflow_id", inst.id,
		"definition", inst.definition.Name,
		"failed_steps", summary.FailedSteps,
		"duration", summary.Duration)

	if callback != nil {
		callback(summary)
	}

	ev := event.New(event.TypeWorkflowCompleted, "workflow", map[string]any{
		"workflow_id":  summary.WorkflowID,
		"definition":   summary.Definition,
		"failed_steps": summary.FailedSteps,
		"duration_ms":  summary.Duration.Milliseconds(),
	})
	if err := o.sender.PublishEvent(ev); err != nil {
		o.logger.Warn("completion event publication failed",
			"workflow_id", summary.WorkflowID,
			"error", err)
	}

	o.evictFinished(time.Now())
}

// evictFinished drops finished instances older than the retention window.
// Swept on every finalization, so the instance table stays bounded by the
// running set plus the recently finished.
func (o *Orchestrator) evictFinished(now time.Time) {
	cutoff := now.Add(-o.retention)

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, inst := range o.instances {
		if inst.done && inst.finishedAt.Before(cutoff) {
			delete(o.instances, id)
		}
	}
}
