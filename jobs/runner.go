// Package jobs provides the background job runner used to execute workflow
// steps and other long-running actions. Actions are registered in a typed
// registry keyed by (module, action) and validated at startup, so dispatching
// an unknown action fails fast instead of silently doing nothing.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iram04hack/network-management-system-sub002/errors"
	"github.com/Iram04hack/network-management-system-sub002/metric"
	"github.com/Iram04hack/network-management-system-sub002/pkg/worker"
)

// ActionFunc executes one registered action. The context carries the job's
// timeout; implementations must honor cancellation.
type ActionFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// ActionKey identifies a registered action.
type ActionKey struct {
	Module string
	Action string
}

func (k ActionKey) String() string {
	return k.Module + "/" + k.Action
}

// Result is delivered to the job's completion callback out-of-band.
type Result struct {
	JobID    string
	Key      ActionKey
	Output   map[string]any
	Err      error
	Duration time.Duration
}

// CompletionFn receives the job result when the action finishes, fails or
// times out.
type CompletionFn func(Result)

// Job is one unit of submitted work.
type Job struct {
	ID         string
	Key        ActionKey
	Args       map[string]any
	Timeout    time.Duration
	OnComplete CompletionFn
}

// Runner executes registered actions on a bounded worker pool.
// Submission is fire-and-forget: results are delivered via the job's
// completion callback.
type Runner struct {
	mu      sync.RWMutex
	actions map[ActionKey]ActionFunc
	sealed  bool

	pool   *worker.Pool[*Job]
	logger *slog.Logger
}

// RunnerConfig holds Runner construction parameters.
type RunnerConfig struct {
	Workers   int
	QueueSize int
	Metrics   *metric.Registry
}

// NewRunner creates a job runner. Register actions, then call Seal before
// Start; submissions against an unsealed runner are rejected.
func NewRunner(cfg RunnerConfig, logger *slog.Logger) *Runner {
	r := &Runner{
		actions: make(map[ActionKey]ActionFunc),
		logger:  logger,
	}

	opts := []worker.Option[*Job]{}
	if cfg.Metrics != nil {
		opts = append(opts, worker.WithMetricsRegistry[*Job](cfg.Metrics, "jobs"))
	}
	r.pool = worker.NewPool[*Job](cfg.Workers, cfg.QueueSize, r.execute, opts...)

	return r
}

// RegisterAction adds an action to the registry. Duplicate keys and
// registration after Seal are startup errors.
func (r *Runner) RegisterAction(module, action string, fn ActionFunc) error {
	if module == "" || action == "" {
		return errors.WrapInvalid(errors.ErrValidation, "Runner", "RegisterAction", "module and action cannot be empty")
	}
	if fn == nil {
		return errors.WrapInvalid(errors.ErrValidation, "Runner", "RegisterAction", "action func cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Runner", "RegisterAction", "registry sealed")
	}

	key := ActionKey{Module: module, Action: action}
	if _, exists := r.actions[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("action %s already registered", key),
			"Runner", "RegisterAction", "duplicate action")
	}

	r.actions[key] = fn
	return nil
}

// Seal freezes the action registry. Called once at startup after all
// modules have registered their actions.
func (r *Runner) Seal() {
	r.mu.Lock()
	r.sealed = true
	count := len(r.actions)
	r.mu.Unlock()

	r.logger.Info("job action registry sealed", "actions", count)
}

// Resolve reports whether (module, action) is registered. Workflow
// definitions are validated against this at startup.
func (r *Runner) Resolve(module, action string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.actions[ActionKey{Module: module, Action: action}]; !ok {
		return errors.WrapInvalid(errors.ErrUnknownAction, "Runner", "Resolve",
			fmt.Sprintf("no handler for %s/%s", module, action))
	}
	return nil
}

// Actions returns the registered action keys.
func (r *Runner) Actions() []ActionKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]ActionKey, 0, len(r.actions))
	for k := range r.actions {
		keys = append(keys, k)
	}
	return keys
}

// Start launches the worker pool.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.RLock()
	sealed := r.sealed
	r.mu.RUnlock()
	if !sealed {
		return errors.WrapInvalid(errors.ErrNotStarted, "Runner", "Start", "registry must be sealed before start")
	}
	return r.pool.Start(ctx)
}

// Stop drains and stops the worker pool.
func (r *Runner) Stop(timeout time.Duration) error {
	return r.pool.Stop(timeout)
}

// Submit queues a job for execution and returns its ID immediately.
// Unknown actions are rejected synchronously with ErrUnknownAction.
func (r *Runner) Submit(module, action string, args map[string]any, timeout time.Duration, onComplete CompletionFn) (string, error) {
	if err := r.Resolve(module, action); err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	job := &Job{
		ID:         uuid.New().String(),
		Key:        ActionKey{Module: module, Action: action},
		Args:       args,
		Timeout:    timeout,
		OnComplete: onComplete,
	}

	if err := r.pool.Submit(job); err != nil {
		return "", errors.WrapTransient(err, "Runner", "Submit", "enqueue job")
	}

	return job.ID, nil
}

// Stats exposes the underlying pool statistics.
func (r *Runner) Stats() worker.PoolStats {
	return r.pool.Stats()
}

// execute runs one job with its timeout and delivers the result.
func (r *Runner) execute(ctx context.Context, job *Job) error {
	r.mu.RLock()
	fn := r.actions[job.Key]
	r.mu.RUnlock()

	jobCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	start := time.Now()
	output, err := runWithDeadline(jobCtx, fn, job.Args)
	duration := time.Since(start)

	if err != nil {
		r.logger.Warn("job failed",
			"job_id", job.ID,
			"action", job.Key.String(),
			"duration", duration,
			"error", err)
	} else {
		r.logger.Debug("job completed",
			"job_id", job.ID,
			"action", job.Key.String(),
			"duration", duration)
	}

	if job.OnComplete != nil {
		job.OnComplete(Result{
			JobID:    job.ID,
			Key:      job.Key,
			Output:   output,
			Err:      err,
			Duration: duration,
		})
	}

	return err
}

// runWithDeadline runs fn and enforces the context deadline even when the
// action ignores cancellation. The abandoned goroutine is left to finish;
// its result is discarded.
func runWithDeadline(ctx context.Context, fn ActionFunc, args map[string]any) (map[string]any, error) {
	type outcome struct {
		output map[string]any
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		output, err := fn(ctx, args)
		done <- outcome{output: output, err: err}
	}()

	select {
	case o := <-done:
		return o.output, o.err
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrTimeout, "Runner", "execute", "action deadline exceeded")
	}
}
