// Package bus implements the message delivery engine: per-priority queues,
// a periodic drain loop with retry and dead-lettering, a timeout scanner for
// in-flight work, and a janitor for terminal history.
//
// Routing: a message carrying workflow step metadata is dispatched as a
// background job against (target, action); a message with a target is
// delivered point-to-point to that module's handler; anything else is
// broadcast to subscribed modules, skipping the sender.
//
// Known limitation, preserved deliberately: the drain loop pops the union of
// all queues in strict priority order every tick, so a sustained stream of
// critical/high messages can starve low-priority messages indefinitely.
package bus

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Iram04hack/network-management-system-sub002/errors"
	"github.com/Iram04hack/network-management-system-sub002/event"
	"github.com/Iram04hack/network-management-system-sub002/jobs"
	"github.com/Iram04hack/network-management-system-sub002/metric"
	"github.com/Iram04hack/network-management-system-sub002/registry"
)

// Default engine tuning.
const (
	DefaultDrainInterval       = 1 * time.Second
	DefaultBatchSize           = 10
	DefaultTimeoutScanInterval = 1 * time.Second
	DefaultJanitorInterval     = 1 * time.Hour
	DefaultHistoryTTL          = 24 * time.Hour
)

// JobDispatcher submits background jobs for workflow step messages.
// *jobs.Runner satisfies it.
type JobDispatcher interface {
	Submit(module, action string, args map[string]any, timeout time.Duration, onComplete jobs.CompletionFn) (string, error)
}

// EventSink receives events for real-time fanout to subscriber connections.
type EventSink interface {
	Publish(ev *event.Event)
}

// record is a terminal message kept for inspection until the janitor
// evicts it.
type record struct {
	msg    *event.CommunicationMessage
	doneAt time.Time
}

// inflight tracks a message popped into the processing working set.
type inflight struct {
	msg       *event.CommunicationMessage
	startedAt time.Time
}

// Stats is a point-in-time snapshot of the engine's collections.
type Stats struct {
	Queued     map[event.Priority]int
	Processing int
	Completed  int
	Failed     int
}

// Engine is the delivery engine. One mutex guards the queue collections;
// routing runs outside the lock so producers are never blocked by delivery.
type Engine struct {
	logger   *slog.Logger
	registry *registry.Registry
	dispatch JobDispatcher
	sink     EventSink
	metrics  *metric.Metrics

	drainInterval   time.Duration
	batchSize       int
	scanInterval    time.Duration
	janitorInterval time.Duration
	historyTTL      time.Duration

	mu         sync.Mutex
	queues     map[event.Priority][]*event.CommunicationMessage
	processing map[string]*inflight
	completed  map[string]*record
	failed     map[string]*record

	lifecycleMu sync.Mutex
	started     bool
	shutdown    chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
}

// Option configures the engine.
type Option func(*Engine)

// WithDrainInterval overrides the drain tick.
func WithDrainInterval(d time.Duration) Option {
	return func(e *Engine) { e.drainInterval = d }
}

// WithBatchSize overrides the per-tick batch size.
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// WithTimeoutScanInterval overrides the timeout scanner tick.
func WithTimeoutScanInterval(d time.Duration) Option {
	return func(e *Engine) { e.scanInterval = d }
}

// WithJanitorInterval overrides the history janitor tick.
func WithJanitorInterval(d time.Duration) Option {
	return func(e *Engine) { e.janitorInterval = d }
}

// WithHistoryTTL overrides how long terminal messages are retained.
func WithHistoryTTL(d time.Duration) Option {
	return func(e *Engine) { e.historyTTL = d }
}

// WithJobDispatcher wires the background job runner for workflow step
// messages. Without it, step messages fail as invalid.
func WithJobDispatcher(d JobDispatcher) Option {
	return func(e *Engine) { e.dispatch = d }
}

// WithEventSink wires the real-time fanout target for PublishEvent.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithMetrics enables delivery metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates a delivery engine bound to the module registry.
func New(reg *registry.Registry, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:          logger,
		registry:        reg,
		drainInterval:   DefaultDrainInterval,
		batchSize:       DefaultBatchSize,
		scanInterval:    DefaultTimeoutScanInterval,
		janitorInterval: DefaultJanitorInterval,
		historyTTL:      DefaultHistoryTTL,
		queues:          make(map[event.Priority][]*event.CommunicationMessage),
		processing:      make(map[string]*inflight),
		completed:       make(map[string]*record),
		failed:          make(map[string]*record),
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the drain loop, timeout scanner and janitor. A stopped
// engine may be started again; queued messages survive the gap.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start", "engine already running")
	}
	e.started = true
	e.shutdown = make(chan struct{})
	e.done = make(chan struct{})

	e.wg.Add(3)
	go e.drainLoop(ctx)
	go e.timeoutLoop(ctx)
	go e.janitorLoop(ctx)

	e.logger.Info("delivery engine started",
		"drain_interval", e.drainInterval,
		"batch_size", e.batchSize)
	return nil
}

// Stop halts the background loops. Queued messages are left in place;
// in-flight routing finishes.
func (e *Engine) Stop(timeout time.Duration) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.started {
		return errors.WrapInvalid(errors.ErrNotStarted, "Engine", "Stop", "engine not running")
	}

	close(e.shutdown)

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrTimeout, "Engine", "Stop", "loops did not stop in time")
	}

	e.started = false
	close(e.done)
	e.logger.Info("delivery engine stopped")
	return nil
}

// Send validates and enqueues a message to its priority tier. It never
// blocks: validation errors are the only synchronous failures, everything
// after enqueue surfaces via terminal status and the optional callback.
func (e *Engine) Send(msg *event.CommunicationMessage) (string, error) {
	if msg == nil {
		return "", errors.WrapInvalid(errors.ErrValidation, "Engine", "Send", "message cannot be nil")
	}
	if err := msg.Validate(); err != nil {
		return "", errors.WrapInvalid(err, "Engine", "Send", "reject message")
	}
	if !msg.Step.IsZero() && e.dispatch == nil {
		return "", errors.WrapInvalid(errors.ErrValidation, "Engine", "Send", "no job dispatcher configured for step messages")
	}

	msg.Status = event.StatusPending

	e.mu.Lock()
	e.queues[msg.Priority] = append(e.queues[msg.Priority], msg)
	depth := len(e.queues[msg.Priority])
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.MessagesSent.WithLabelValues(msg.Priority.String()).Inc()
		e.metrics.QueueDepth.WithLabelValues(msg.Priority.String()).Set(float64(depth))
	}

	e.logger.Debug("message enqueued",
		"message_id", msg.ID,
		"type", msg.Type,
		"priority", msg.Priority.String())

	return msg.ID, nil
}

// PublishEvent sends the event as a broadcast message and forwards it to the
// real-time sink for connection fanout.
func (e *Engine) PublishEvent(ev *event.Event) error {
	if ev == nil {
		return errors.WrapInvalid(errors.ErrValidation, "Engine", "PublishEvent", "event cannot be nil")
	}
	if err := ev.Validate(); err != nil {
		return errors.WrapInvalid(err, "Engine", "PublishEvent", "reject event")
	}

	msg := event.NewMessage(string(ev.Type), ev.Source, ev.Payload,
		event.WithMessagePriority(ev.Priority),
		event.WithRetries(ev.MaxRetries),
	)
	if _, err := e.Send(msg); err != nil {
		return err
	}

	if e.sink != nil {
		e.sink.Publish(ev)
	}
	return nil
}

// Message returns a snapshot copy of a message from any collection.
func (e *Engine) Message(id string) (event.CommunicationMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if inf, ok := e.processing[id]; ok {
		return *inf.msg, true
	}
	if rec, ok := e.completed[id]; ok {
		return *rec.msg, true
	}
	if rec, ok := e.failed[id]; ok {
		return *rec.msg, true
	}
	for _, queue := range e.queues {
		for _, msg := range queue {
			if msg.ID == id {
				return *msg, true
			}
		}
	}
	return event.CommunicationMessage{}, false
}

// DeadLetters returns snapshot copies of the terminal failed/timeout
// messages still retained.
func (e *Engine) DeadLetters() []event.CommunicationMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]event.CommunicationMessage, 0, len(e.failed))
	for _, rec := range e.failed {
		out = append(out, *rec.msg)
	}
	return out
}

// Stats returns collection sizes.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	queued := make(map[event.Priority]int, len(e.queues))
	for p, q := range e.queues {
		queued[p] = len(q)
	}
	return Stats{
		Queued:     queued,
		Processing: len(e.processing),
		Completed:  len(e.completed),
		Failed:     len(e.failed),
	}
}

func (e *Engine) drainLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.drainOnce(ctx)
		case <-e.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// drainOnce pops up to batchSize messages in strict priority order and
// routes them outside the lock.
func (e *Engine) drainOnce(ctx context.Context) {
	now := time.Now()

	e.mu.Lock()
	batch := make([]*event.CommunicationMessage, 0, e.batchSize)
	for _, p := range event.Priorities() {
		for len(e.queues[p]) > 0 && len(batch) < e.batchSize {
			msg := e.queues[p][0]
			e.queues[p] = e.queues[p][1:]
			msg.Status = event.StatusProcessing
			e.processing[msg.ID] = &inflight{msg: msg, startedAt: now}
			batch = append(batch, msg)
		}
		if len(batch) >= e.batchSize {
			break
		}
	}
	if e.metrics != nil {
		for _, p := range event.Priorities() {
			e.metrics.QueueDepth.WithLabelValues(p.String()).Set(float64(len(e.queues[p])))
		}
	}
	e.mu.Unlock()

	for _, msg := range batch {
		e.route(ctx, msg, now)
	}
}

// route dispatches one message. Job-backed step messages stay in the
// processing set until their job reports back; everything else resolves
// synchronously.
func (e *Engine) route(ctx context.Context, msg *event.CommunicationMessage, startedAt time.Time) {
	switch {
	case !msg.Step.IsZero():
		e.routeStep(msg, startedAt)
	case msg.Target != "":
		err := e.deliverDirect(msg)
		e.resolve(msg, nil, err, startedAt)
	default:
		delivered, err := e.broadcast(msg)
		if err == nil {
			e.resolve(msg, map[string]any{"delivered_to": delivered}, nil, startedAt)
		} else {
			e.resolve(msg, nil, err, startedAt)
		}
	}
}

// routeStep submits the workflow step as a background job. The message
// resolves when the job completes, fails or exceeds its timeout.
func (e *Engine) routeStep(msg *event.CommunicationMessage, startedAt time.Time) {
	args := make(map[string]any, len(msg.Payload)+2)
	for k, v := range msg.Payload {
		args[k] = v
	}
	args["workflow_id"] = msg.Step.WorkflowID
	args["step_name"] = msg.Step.StepName

	timeout := time.Duration(msg.TimeoutSeconds) * time.Second
	msgID := msg.ID

	jobID, err := e.dispatch.Submit(msg.Target, msg.Step.Action, args, timeout, func(res jobs.Result) {
		e.finishAsync(msgID, res)
	})
	if err != nil {
		e.resolve(msg, nil, err, startedAt)
		return
	}

	e.logger.Debug("workflow step dispatched",
		"message_id", msg.ID,
		"workflow_id", msg.Step.WorkflowID,
		"step", msg.Step.StepName,
		"job_id", jobID)
}

// finishAsync resolves a job-backed message when its job reports back. If
// the timeout scanner already expired the message, the late result is
// dropped.
func (e *Engine) finishAsync(msgID string, res jobs.Result) {
	e.mu.Lock()
	inf, ok := e.processing[msgID]
	e.mu.Unlock()
	if !ok {
		e.logger.Debug("dropping job result for expired message", "message_id", msgID)
		return
	}
	e.resolve(inf.msg, res.Output, res.Err, inf.startedAt)
}

// deliverDirect invokes the target module's handler.
func (e *Engine) deliverDirect(msg *event.CommunicationMessage) error {
	handler, ok := e.registry.Handler(msg.Target)
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownModule, "Engine", "deliverDirect",
			fmt.Sprintf("target %q not registered", msg.Target))
	}
	if handler == nil {
		return errors.WrapInvalid(errors.ErrUnknownModule, "Engine", "deliverDirect",
			fmt.Sprintf("target %q has no handler", msg.Target))
	}

	err := handler(msg.Type, msg.Payload)
	e.registry.RecordActivity(msg.Target, err != nil)
	if err != nil {
		return errors.WrapTransient(err, "Engine", "deliverDirect", "handler failed")
	}
	return nil
}

// broadcast delivers the message to every matching module except the sender.
// Delivering to zero modules is valid. The broadcast fails only when every
// candidate handler failed.
func (e *Engine) broadcast(msg *event.CommunicationMessage) (int, error) {
	var candidates []string
	if msg.CapabilityFilter != "" {
		for _, name := range e.registry.ModulesWithCapability(msg.CapabilityFilter) {
			if name != msg.Sender {
				candidates = append(candidates, name)
			}
		}
	} else {
		candidates = e.registry.SubscribedModules(msg.Type, msg.Sender)
	}

	if len(candidates) == 0 {
		return 0, nil
	}

	delivered := 0
	var lastErr error
	for _, name := range candidates {
		handler, ok := e.registry.Handler(name)
		if !ok || handler == nil {
			continue
		}
		err := handler(msg.Type, msg.Payload)
		e.registry.RecordActivity(name, err != nil)
		if err != nil {
			lastErr = err
			e.logger.Warn("broadcast delivery failed",
				"message_id", msg.ID,
				"module", name,
				"error", err)
			continue
		}
		delivered++
	}

	if delivered == 0 && lastErr != nil {
		return 0, errors.WrapTransient(lastErr, "Engine", "broadcast", "all deliveries failed")
	}
	return delivered, nil
}

// resolve moves a processed message to its terminal collection or re-queues
// it for retry. Callbacks fire outside the lock.
//
// Only the owner of the processing entry may finalize a message: resolve
// claims the entry under the lock first, and drops the result when the
// timeout scanner got there before it. Without the claim a synchronous
// handler outliving its deadline would finalize the message a second time,
// overwriting the terminal timeout status and re-firing the callback.
func (e *Engine) resolve(msg *event.CommunicationMessage, output map[string]any, routeErr error, startedAt time.Time) {
	elapsed := time.Since(startedAt)

	e.mu.Lock()
	if _, owned := e.processing[msg.ID]; !owned {
		e.mu.Unlock()
		e.logger.Debug("dropping result for message already finalized",
			"message_id", msg.ID,
			"status", string(msg.Status))
		return
	}
	delete(e.processing, msg.ID)
	e.mu.Unlock()

	if routeErr == nil {
		e.mu.Lock()
		msg.Status = event.StatusCompleted
		msg.ProcessingTime = elapsed
		e.completed[msg.ID] = &record{msg: msg, doneAt: time.Now()}
		e.mu.Unlock()

		e.observe("completed", elapsed)
		e.fireCallback(msg, output)
		return
	}

	// Timeouts and invalid-class errors are terminal regardless of
	// retries left.
	retryable := !errors.IsInvalid(routeErr) && !stderrors.Is(routeErr, errors.ErrTimeout)

	if retryable && msg.RetryCount < msg.MaxRetries {
		e.mu.Lock()
		msg.RetryCount++
		msg.Status = event.StatusPending
		msg.ErrorMessage = routeErr.Error()
		e.queues[msg.Priority] = append(e.queues[msg.Priority], msg)
		e.mu.Unlock()

		if e.metrics != nil {
			e.metrics.MessagesRetried.WithLabelValues(msg.Priority.String()).Inc()
		}
		e.logger.Debug("message re-enqueued for retry",
			"message_id", msg.ID,
			"retry", msg.RetryCount,
			"max_retries", msg.MaxRetries,
			"error", routeErr)
		return
	}

	status := event.StatusFailed
	terminalErr := routeErr
	if stderrors.Is(routeErr, errors.ErrTimeout) {
		status = event.StatusTimedOut
	} else if retryable {
		terminalErr = errors.Wrap(errors.ErrRetriesExhausted, "Engine", "resolve", routeErr.Error())
	}

	e.mu.Lock()
	msg.Status = status
	msg.ProcessingTime = elapsed
	msg.ErrorMessage = terminalErr.Error()
	e.failed[msg.ID] = &record{msg: msg, doneAt: time.Now()}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.MessagesDead.Inc()
	}
	e.observe(string(status), elapsed)
	e.logger.Warn("message dead-lettered",
		"message_id", msg.ID,
		"type", msg.Type,
		"status", string(status),
		"retries", msg.RetryCount,
		"error", terminalErr)

	e.fireCallback(msg, nil)
}

func (e *Engine) fireCallback(msg *event.CommunicationMessage, output map[string]any) {
	if msg.Callback == nil {
		return
	}
	msg.Callback(event.Result{
		MessageID:      msg.ID,
		Status:         msg.Status,
		Error:          msg.ErrorMessage,
		Output:         output,
		ProcessingTime: msg.ProcessingTime,
	})
}

func (e *Engine) observe(status string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.MessagesProcessed.WithLabelValues(status).Inc()
	e.metrics.DeliveryDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (e *Engine) timeoutLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.scanTimeouts(time.Now())
		case <-e.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// scanTimeouts expires in-flight messages past their deadline. Expiry is
// terminal: the message moves to the dead-letter record and is never
// retried, whatever its retry budget.
func (e *Engine) scanTimeouts(now time.Time) {
	var expired []*event.CommunicationMessage

	e.mu.Lock()
	for id, inf := range e.processing {
		if inf.msg.Expired(now) {
			delete(e.processing, id)
			inf.msg.Status = event.StatusTimedOut
			inf.msg.ErrorMessage = errors.ErrTimeout.Error()
			inf.msg.ProcessingTime = now.Sub(inf.startedAt)
			e.failed[id] = &record{msg: inf.msg, doneAt: now}
			expired = append(expired, inf.msg)
		}
	}
	e.mu.Unlock()

	for _, msg := range expired {
		if e.metrics != nil {
			e.metrics.MessagesDead.Inc()
		}
		e.observe(string(event.StatusTimedOut), msg.ProcessingTime)
		e.logger.Warn("message timed out",
			"message_id", msg.ID,
			"type", msg.Type,
			"timeout_seconds", msg.TimeoutSeconds)
		e.fireCallback(msg, nil)
	}
}

func (e *Engine) janitorLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.evictHistory(time.Now())
		case <-e.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// evictHistory drops terminal records older than the history TTL.
func (e *Engine) evictHistory(now time.Time) {
	cutoff := now.Add(-e.historyTTL)
	evicted := 0

	e.mu.Lock()
	for id, rec := range e.completed {
		if rec.doneAt.Before(cutoff) {
			delete(e.completed, id)
			evicted++
		}
	}
	for id, rec := range e.failed {
		if rec.doneAt.Before(cutoff) {
			delete(e.failed, id)
			evicted++
		}
	}
	e.mu.Unlock()

	if evicted > 0 {
		e.logger.Debug("evicted terminal message history", "count", evicted)
	}
}
