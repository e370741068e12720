// Package exec houses the two bounded worker pools behind the orchestration
// core: the background workflow executor (finite auto-run workflows) and the
// monitoring pool (long-lived periodic checks with suspend/restore).
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nevindra/cortex"
)

// defaultExecutorWorkers bounds concurrent background workflows.
const defaultExecutorWorkers = 5

// maxIterations is the hard cap on ProcessInput calls per background
// workflow, preventing infinite loops in misdeclared step graphs.
const maxIterations = 100

// Executor runs finite workflows to completion without a human in the loop.
// Submissions refuse engines parked on an INTERACTIVE step — background
// workflows are required to be non-interactive. Record status is updated
// transactionally at every transition and cancellation is cooperative: the
// record flips to CANCELLED and the running iteration completes.
type Executor struct {
	store  cortex.Store
	bus    *cortex.EventBus
	logger *slog.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets a structured logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(x *Executor) { x.logger = l }
}

// NewExecutor creates a bounded background workflow executor.
func NewExecutor(store cortex.Store, bus *cortex.EventBus, opts ...ExecutorOption) *Executor {
	x := &Executor{
		store:  store,
		bus:    bus,
		logger: slog.Default(),
		sem:    make(chan struct{}, defaultExecutorWorkers),
	}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Start establishes the run context workers execute under. Must be called
// before SubmitWorkflow.
func (x *Executor) Start(ctx context.Context) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.runCtx != nil {
		return
	}
	x.runCtx, x.cancel = context.WithCancel(ctx)
}

// Stop cancels the run context and waits for in-flight workers.
func (x *Executor) Stop() {
	x.mu.Lock()
	cancel := x.cancel
	x.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	x.wg.Wait()
}

var _ cortex.BackgroundSubmitter = (*Executor)(nil)

// SubmitWorkflow queues an engine for background execution and returns its
// task id. The record is created QUEUED and flips to RUNNING when a worker
// picks it up.
func (x *Executor) SubmitWorkflow(ctx context.Context, engine *cortex.Engine, workflowType, sessionID string, metadata map[string]any) (string, error) {
	x.mu.Lock()
	runCtx := x.runCtx
	x.mu.Unlock()
	if runCtx == nil {
		return "", fmt.Errorf("%w: executor not started", cortex.ErrBackgroundSubmit)
	}
	if step := engine.CurrentStep(); step != nil && step.Kind() == cortex.StepInteractive && engine.RequiresInput() {
		return "", fmt.Errorf("%w: workflow %q starts at interactive step %q", cortex.ErrBackgroundSubmit, workflowType, step.ID())
	}

	taskID := cortex.NewID()
	now := time.Now()
	rec := cortex.BackgroundWorkflowRecord{
		TaskID:       taskID,
		WorkflowType: workflowType,
		Status:       cortex.BackgroundQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     metadata,
	}
	if sessionID != "" {
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		rec.Metadata["session_id"] = sessionID
	}
	if err := x.store.CreateBackgroundWorkflow(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: %v", cortex.ErrBackgroundSubmit, err)
	}

	x.wg.Add(1)
	go x.run(runCtx, taskID, workflowType, sessionID, engine)
	return taskID, nil
}

// Cancel flips the record to CANCELLED. The worker notices between
// iterations; the running iteration completes.
func (x *Executor) Cancel(ctx context.Context, taskID string) error {
	return x.store.UpdateBackgroundStatus(ctx, taskID, cortex.BackgroundCancelled, "")
}

func (x *Executor) run(ctx context.Context, taskID, workflowType, sessionID string, engine *cortex.Engine) {
	defer x.wg.Done()
	select {
	case x.sem <- struct{}{}:
		defer func() { <-x.sem }()
	case <-ctx.Done():
		return
	}

	if err := x.store.UpdateBackgroundStatus(ctx, taskID, cortex.BackgroundRunning, ""); err != nil {
		x.logger.Warn("background workflow: mark running", "task_id", taskID, "error", err)
	}

	base := map[string]any{
		"task_id":       taskID,
		"workflow_type": workflowType,
		"session_id":    sessionID,
	}

	auto := ""
	for i := 0; i < maxIterations; i++ {
		if ctx.Err() != nil {
			// Process shutdown mid-run: leave the record SUSPENDED so a
			// restart can inspect it; no completion event is published.
			x.finish(context.Background(), taskID, cortex.BackgroundSuspended, "", "", base)
			return
		}
		if rec, err := x.store.GetBackgroundWorkflow(ctx, taskID); err == nil && rec.Status == cortex.BackgroundCancelled {
			x.bus.Publish(ctx, cortex.BackgroundWorkflowCancelled, base, "background_executor")
			return
		}
		if engine.RequiresInput() {
			x.finish(ctx, taskID, cortex.BackgroundFailed, "background workflow reached an interactive step", cortex.BackgroundWorkflowFailed, base)
			return
		}

		res := engine.ProcessInput(ctx, &auto)
		switch {
		case res.Cancel:
			if err := x.store.UpdateBackgroundStatus(ctx, taskID, cortex.BackgroundCancelled, ""); err != nil {
				x.logger.Warn("background workflow: mark cancelled", "task_id", taskID, "error", err)
			}
			x.bus.Publish(ctx, cortex.BackgroundWorkflowCancelled, base, "background_executor")
			return
		case res.Complete || engine.IsComplete():
			data := map[string]any{"completed_steps": engine.ExecutedSteps(), "message": res.Message}
			for k, v := range base {
				data[k] = v
			}
			if err := x.store.UpdateBackgroundStatus(ctx, taskID, cortex.BackgroundCompleted, ""); err != nil {
				x.logger.Warn("background workflow: mark completed", "task_id", taskID, "error", err)
			}
			x.bus.Publish(ctx, cortex.BackgroundWorkflowCompleted, data, "background_executor")
			return
		case !res.Success:
			x.finish(ctx, taskID, cortex.BackgroundFailed, res.Message, cortex.BackgroundWorkflowFailed, base)
			return
		}
	}
	x.finish(ctx, taskID, cortex.BackgroundFailed,
		fmt.Sprintf("exceeded %d iterations", maxIterations), cortex.BackgroundWorkflowFailed, base)
}

func (x *Executor) finish(ctx context.Context, taskID string, status cortex.BackgroundStatus, errMsg string, kind cortex.EventKind, base map[string]any) {
	if err := x.store.UpdateBackgroundStatus(ctx, taskID, status, errMsg); err != nil {
		x.logger.Warn("background workflow: status update", "task_id", taskID, "status", status, "error", err)
	}
	if kind == "" {
		return
	}
	data := map[string]any{"error": errMsg}
	for k, v := range base {
		data[k] = v
	}
	x.bus.Publish(ctx, kind, data, "background_executor")
}
