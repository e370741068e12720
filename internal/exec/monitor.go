package exec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nevindra/cortex"
)

// defaultMonitorWorkers bounds concurrently running monitors.
const defaultMonitorWorkers = 10

// shutdownJoinTimeout bounds how long PrepareShutdown waits per monitor.
const shutdownJoinTimeout = 5 * time.Second

// defaultStopTimeout bounds how long StopMonitor waits when the caller
// passes no timeout.
const defaultStopTimeout = 10 * time.Second

// metadataIntervalKey is where a monitor's check interval is persisted in
// its record metadata, so restore reconstructs the same cadence.
const metadataIntervalKey = "check_interval_seconds"

// MonitorFunc is the body of a monitor: it is expected to loop until ctx is
// cancelled, sleeping checkInterval between checks. The context is the stop
// event; ctx.Done() is a wakeable sleep.
type MonitorFunc func(ctx context.Context, checkInterval time.Duration)

// MonitorFactory reconstructs a monitor body from its persisted identity.
// Returning an error leaves the task SUSPENDED; it appears in the restore
// report as a failure.
type MonitorFactory func(workflowType string, metadata map[string]any) (MonitorFunc, error)

// ShutdownReport summarizes PrepareShutdown.
type ShutdownReport struct {
	Suspended    []string
	FailedToStop []string
}

// RestoreReport summarizes RestoreMonitors.
type RestoreReport struct {
	Restored []string
	Failed   []string
}

type monitorHandle struct {
	workflowType string
	metadata     map[string]any
	interval     time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
}

// MonitorPool runs long-lived per-task monitors. Contrasted with the
// background executor, a monitor does not run to completion: it checks a
// condition forever until stopped, suspended on shutdown, or cancelled.
type MonitorPool struct {
	store   cortex.Store
	bus     *cortex.EventBus
	factory MonitorFactory
	logger  *slog.Logger

	mu       sync.Mutex
	runCtx   context.Context
	cancel   context.CancelFunc
	monitors map[string]*monitorHandle
}

// MonitorPoolOption configures a MonitorPool.
type MonitorPoolOption func(*MonitorPool)

// WithMonitorLogger sets a structured logger.
func WithMonitorLogger(l *slog.Logger) MonitorPoolOption {
	return func(p *MonitorPool) { p.logger = l }
}

// NewMonitorPool creates a pool reconstructing monitor bodies with factory.
func NewMonitorPool(store cortex.Store, bus *cortex.EventBus, factory MonitorFactory, opts ...MonitorPoolOption) *MonitorPool {
	p := &MonitorPool{
		store:    store,
		bus:      bus,
		factory:  factory,
		logger:   slog.Default(),
		monitors: make(map[string]*monitorHandle),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start establishes the run context monitors execute under.
func (p *MonitorPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runCtx != nil {
		return
	}
	p.runCtx, p.cancel = context.WithCancel(ctx)
}

var _ cortex.MonitorSubmitter = (*MonitorPool)(nil)

// SubmitMonitor builds a monitor body via the factory, persists a QUEUED
// record, launches the monitor goroutine, and flips the record to RUNNING.
// It is the path
// MonitorCreationStep uses, and the same (workflowType, metadata) identity
// is what restore hands back to the factory after a process restart.
func (p *MonitorPool) SubmitMonitor(ctx context.Context, workflowType string, metadata map[string]any, checkInterval time.Duration) (string, error) {
	fn, err := p.factory(workflowType, metadata)
	if err != nil {
		return "", fmt.Errorf("%w: %v", cortex.ErrBackgroundSubmit, err)
	}

	taskID := cortex.NewID()
	now := time.Now()
	meta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[metadataIntervalKey] = checkInterval.Seconds()
	rec := cortex.BackgroundWorkflowRecord{
		TaskID:       taskID,
		WorkflowType: workflowType,
		Status:       cortex.BackgroundQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     meta,
	}
	if err := p.store.CreateBackgroundWorkflow(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: %v", cortex.ErrBackgroundSubmit, err)
	}
	if err := p.launch(ctx, taskID, workflowType, meta, checkInterval, fn); err != nil {
		return "", err
	}
	return taskID, nil
}

// launch starts the monitor goroutine for taskID and flips its record to
// RUNNING. Callers have already persisted the record.
func (p *MonitorPool) launch(ctx context.Context, taskID, workflowType string, metadata map[string]any, interval time.Duration, fn MonitorFunc) error {
	p.mu.Lock()
	if p.runCtx == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: monitor pool not started", cortex.ErrBackgroundSubmit)
	}
	if len(p.monitors) >= defaultMonitorWorkers {
		p.mu.Unlock()
		return fmt.Errorf("%w: monitor pool full (%d active)", cortex.ErrBackgroundSubmit, defaultMonitorWorkers)
	}
	monCtx, cancel := context.WithCancel(p.runCtx)
	h := &monitorHandle{
		workflowType: workflowType,
		metadata:     metadata,
		interval:     interval,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	p.monitors[taskID] = h
	p.mu.Unlock()

	if err := p.store.UpdateBackgroundStatus(ctx, taskID, cortex.BackgroundRunning, ""); err != nil {
		p.logger.Warn("monitor: mark running", "task_id", taskID, "error", err)
	}

	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("monitor panicked", "task_id", taskID, "panic", r)
			}
		}()
		fn(monCtx, interval)
	}()
	return nil
}

// ActiveMonitors returns the task ids of running monitors.
func (p *MonitorPool) ActiveMonitors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.monitors))
	for id := range p.monitors {
		out = append(out, id)
	}
	return out
}

// StopMonitor signals one monitor's stop event and joins with a bounded
// wait (the default 10s when timeout <= 0), flipping its record to
// CANCELLED.
func (p *MonitorPool) StopMonitor(ctx context.Context, taskID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	p.mu.Lock()
	h, ok := p.monitors[taskID]
	delete(p.monitors, taskID)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: monitor %s", cortex.ErrEngineNotFound, taskID)
	}

	h.cancel()
	select {
	case <-h.done:
	case <-time.After(timeout):
		return fmt.Errorf("%w: monitor %s did not stop within %s", cortex.ErrBackgroundSubmit, taskID, timeout)
	}
	if err := p.store.UpdateBackgroundStatus(ctx, taskID, cortex.BackgroundCancelled, ""); err != nil {
		return err
	}
	p.bus.Publish(ctx, cortex.BackgroundWorkflowCancelled, map[string]any{"task_id": taskID}, "monitor_pool")
	return nil
}

// StopAllMonitors stops every active monitor with the default timeout.
func (p *MonitorPool) StopAllMonitors(ctx context.Context) {
	for _, id := range p.ActiveMonitors() {
		if err := p.StopMonitor(ctx, id, 0); err != nil {
			p.logger.Warn("monitor: stop", "task_id", id, "error", err)
		}
	}
}

// PrepareShutdown marks every active monitor SUSPENDED, signals all stop
// events, and joins each worker with a short bounded wait. The process can
// then exit; RestoreMonitors brings the same set back after restart.
func (p *MonitorPool) PrepareShutdown(ctx context.Context) ShutdownReport {
	p.mu.Lock()
	handles := make(map[string]*monitorHandle, len(p.monitors))
	for id, h := range p.monitors {
		handles[id] = h
	}
	p.monitors = make(map[string]*monitorHandle)
	p.mu.Unlock()

	var report ShutdownReport
	for id, h := range handles {
		if err := p.store.UpdateBackgroundStatus(ctx, id, cortex.BackgroundSuspended, ""); err != nil {
			p.logger.Warn("monitor: mark suspended", "task_id", id, "error", err)
		}
		h.cancel()
	}
	for id, h := range handles {
		select {
		case <-h.done:
			report.Suspended = append(report.Suspended, id)
		case <-time.After(shutdownJoinTimeout):
			report.FailedToStop = append(report.FailedToStop, id)
			p.logger.Warn("monitor did not stop before shutdown", "task_id", id)
		}
	}
	return report
}

// RestoreMonitors queries SUSPENDED records, asks the factory to
// reconstruct each monitor, re-submits it under its original task id, and
// flips the record back to RUNNING. Tasks the factory cannot reconstruct
// remain SUSPENDED and are reported as failures; the system stays usable.
func (p *MonitorPool) RestoreMonitors(ctx context.Context) RestoreReport {
	var report RestoreReport
	suspended, err := p.store.ListBackgroundWorkflows(ctx, cortex.BackgroundSuspended)
	if err != nil {
		p.logger.Warn("monitor restore: list suspended", "error", err)
		return report
	}
	for _, rec := range suspended {
		fn, err := p.factory(rec.WorkflowType, rec.Metadata)
		if err != nil {
			p.logger.Warn("monitor restore failed", "task_id", rec.TaskID, "workflow_type", rec.WorkflowType, "error", err)
			report.Failed = append(report.Failed, rec.TaskID)
			continue
		}
		interval := intervalFromMetadata(rec.Metadata)
		if err := p.launch(ctx, rec.TaskID, rec.WorkflowType, rec.Metadata, interval, fn); err != nil {
			p.logger.Warn("monitor restore launch failed", "task_id", rec.TaskID, "error", err)
			report.Failed = append(report.Failed, rec.TaskID)
			continue
		}
		report.Restored = append(report.Restored, rec.TaskID)
	}
	return report
}

// Stop cancels every monitor without the suspend bookkeeping; used by tests
// and hard teardown.
func (p *MonitorPool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	handles := p.monitors
	p.monitors = make(map[string]*monitorHandle)
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}

func intervalFromMetadata(metadata map[string]any) time.Duration {
	v, ok := metadata[metadataIntervalKey]
	if !ok {
		return 30 * time.Second
	}
	switch n := v.(type) {
	case float64:
		return time.Duration(n * float64(time.Second))
	case int64:
		return time.Duration(n) * time.Second
	case int:
		return time.Duration(n) * time.Second
	}
	return 30 * time.Second
}
