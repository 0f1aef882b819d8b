package workflow

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Iram04hack/network-management-system-sub002/errors"
	"github.com/Iram04hack/network-management-system-sub002/event"
)

// fakeSender captures dispatched step messages so the test can play the
// delivery engine and complete them one by one.
type fakeSender struct {
	mu       sync.Mutex
	messages []*event.CommunicationMessage
	events   []*event.Event
	sendErr  error
}

func (f *fakeSender) Send(msg *event.CommunicationMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.messages = append(f.messages, msg)
	return msg.ID, nil
}

func (f *fakeSender) PublishEvent(ev *event.Event) error {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// completeNext resolves the oldest undelivered step message.
func (f *fakeSender) completeNext(status event.MessageStatus, output map[string]any, errMsg string) {
	f.mu.Lock()
	msg := f.messages[0]
	f.messages = f.messages[1:]
	f.mu.Unlock()

	msg.Callback(event.Result{
		MessageID: msg.ID,
		Status:    status,
		Output:    output,
		Error:     errMsg,
	})
}

func discoveryDefinition() Definition {
	return Definition{
		Name: "equipment_discovery",
		Steps: []Step{
			{Name: "scan_network", TargetModule: "discovery", Action: "scan", TimeoutSeconds: 30},
			{Name: "identify_devices", TargetModule: "discovery", Action: "identify", TimeoutSeconds: 30},
			{Name: "collect_details", TargetModule: "monitoring", Action: "collect", TimeoutSeconds: 30},
			{Name: "update_inventory", TargetModule: "inventory", Action: "update", TimeoutSeconds: 30},
		},
	}
}

func newTestOrchestrator(t *testing.T, sender *fakeSender, defs ...Definition) *Orchestrator {
	t.Helper()
	if len(defs) == 0 {
		defs = []Definition{discoveryDefinition()}
	}
	o, err := New(defs, sender, slog.Default())
	require.NoError(t, err)
	return o
}

func TestNewRejectsBadDefinitions(t *testing.T) {
	sender := &fakeSender{}

	_, err := New([]Definition{{Name: "", Steps: []Step{{Name: "s", TargetModule: "m", Action: "a"}}}}, sender, slog.Default())
	assert.Error(t, err)

	_, err = New([]Definition{{Name: "empty"}}, sender, slog.Default())
	assert.Error(t, err)

	def := discoveryDefinition()
	_, err = New([]Definition{def, def}, sender, slog.Default())
	assert.Error(t, err, "duplicate names rejected")

	_, err = New([]Definition{{Name: "w", Steps: []Step{{Name: "s", TargetModule: "", Action: "a"}}}}, sender, slog.Default())
	assert.Error(t, err)
}

type mapResolver map[string]bool

func (m mapResolver) Resolve(module, action string) error {
	if !m[module+"/"+action] {
		return apperrors.ErrUnknownAction
	}
	return nil
}

func TestValidateActionsFailsFast(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSender{})

	complete := mapResolver{
		"discovery/scan":     true,
		"discovery/identify": true,
		"monitoring/collect": true,
		"inventory/update":   true,
	}
	assert.NoError(t, o.ValidateActions(complete))

	missing := mapResolver{"discovery/scan": true}
	err := o.ValidateActions(missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownAction)
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSender{})

	_, err := o.Execute("no_such_flow", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownWorkflow)
}

func TestFourStepWorkflowCompletesWithCallbackOnce(t *testing.T) {
	sender := &fakeSender{}
	o := newTestOrchestrator(t, sender)

	var callbackCount int
	var summary Summary
	id, err := o.Execute("equipment_discovery", map[string]any{"project_id": "p1"}, func(s Summary) {
		callbackCount++
		summary = s
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Steps are dispatched one at a time, chained on completion.
	for i := 0; i < 4; i++ {
		require.Equal(t, 1, sender.pending(), "exactly one in-flight step at step %d", i)
		sender.completeNext(event.StatusCompleted, map[string]any{"step": i}, "")
	}

	assert.Equal(t, 1, callbackCount)
	assert.Equal(t, "equipment_discovery", summary.Definition)
	assert.Len(t, summary.StepResults, 4)
	assert.Equal(t, 0, summary.FailedSteps)
	assert.Equal(t, 0, o.Running())

	// Completion event published.
	require.Len(t, sender.events, 1)
	assert.Equal(t, event.TypeWorkflowCompleted, sender.events[0].Type)
}

func TestStepMessagesCarryWorkflowMetadata(t *testing.T) {
	sender := &fakeSender{}
	o := newTestOrchestrator(t, sender)

	id, err := o.Execute("equipment_discovery", map[string]any{"project_id": "p1"}, nil)
	require.NoError(t, err)

	msg := sender.messages[0]
	assert.Equal(t, MessageTypeStep, msg.Type)
	assert.Equal(t, "discovery", msg.Target)
	assert.Equal(t, id, msg.Step.WorkflowID)
	assert.Equal(t, "scan_network", msg.Step.StepName)
	assert.Equal(t, "scan", msg.Step.Action)
	assert.Equal(t, 30, msg.TimeoutSeconds)
	assert.Equal(t, "p1", msg.Payload["project_id"])
}

func TestFailedStepIsRecordedAndWorkflowAdvances(t *testing.T) {
	sender := &fakeSender{}
	o := newTestOrchestrator(t, sender)

	var summary Summary
	_, err := o.Execute("equipment_discovery", nil, func(s Summary) { summary = s })
	require.NoError(t, err)

	sender.completeNext(event.StatusCompleted, nil, "")
	sender.completeNext(event.StatusTimedOut, nil, "operation timed out")
	sender.completeNext(event.StatusFailed, nil, "module crashed")
	sender.completeNext(event.StatusCompleted, nil, "")

	assert.Len(t, summary.StepResults, 4)
	assert.Equal(t, 2, summary.FailedSteps)
	assert.Equal(t, "failed", summary.StepResults["identify_devices"].Status)
	assert.Contains(t, summary.StepResults["identify_devices"].Error, "timed out")
	assert.Equal(t, "completed", summary.StepResults["update_inventory"].Status)
}

func TestSynchronousDispatchFailureStillAdvances(t *testing.T) {
	sender := &fakeSender{sendErr: fmt.Errorf("queue rejected")}
	o := newTestOrchestrator(t, sender)

	finished := make(chan Summary, 1)
	_, err := o.Execute("equipment_discovery", nil, func(s Summary) { finished <- s })
	require.NoError(t, err)

	select {
	case summary := <-finished:
		assert.Len(t, summary.StepResults, 4)
		assert.Equal(t, 4, summary.FailedSteps)
	case <-time.After(time.Second):
		t.Fatal("workflow did not finish")
	}
}

func TestListWorkflowsAndDefinition(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSender{})

	assert.Equal(t, []string{"equipment_discovery"}, o.ListWorkflows())

	def, ok := o.Definition("equipment_discovery")
	require.True(t, ok)
	assert.Len(t, def.Steps, 4)

	_, ok = o.Definition("absent")
	assert.False(t, ok)
}

// Finished instances are kept for the retention window and then evicted so
// the instance table never grows without bound.
func TestFinishedInstancesEvictedAfterRetention(t *testing.T) {
	sender := &fakeSender{}
	o := newTestOrchestrator(t, sender)

	runWorkflow := func() string {
		id, err := o.Execute("equipment_discovery", nil, nil)
		require.NoError(t, err)
		for i := 0; i < 4; i++ {
			sender.completeNext(event.StatusCompleted, nil, "")
		}
		return id
	}

	finished := runWorkflow()

	// Still queryable inside the window.
	_, ok := o.StepResults(finished)
	require.True(t, ok)

	// A running instance must survive any sweep.
	running, err := o.Execute("equipment_discovery", nil, nil)
	require.NoError(t, err)

	o.evictFinished(time.Now().Add(2 * time.Hour))

	_, ok = o.StepResults(finished)
	assert.False(t, ok, "finished instance evicted past retention")
	_, ok = o.StepResults(running)
	assert.True(t, ok)
	assert.Equal(t, 1, o.Running())
}

func TestStepResultsSnapshot(t *testing.T) {
	sender := &fakeSender{}
	o := newTestOrchestrator(t, sender)

	id, err := o.Execute("equipment_discovery", nil, nil)
	require.NoError(t, err)

	sender.completeNext(event.StatusCompleted, nil, "")

	results, ok := o.StepResults(id)
	require.True(t, ok)
	assert.Len(t, results, 1)
	assert.Equal(t, "completed", results["scan_network"].Status)
}
