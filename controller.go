package cortex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// taskHistorySize bounds the controller's completed-task history.
const taskHistorySize = 100

// TaskInfo is one entry of the controller's in-memory background task
// registry, persisted best-effort to a small on-disk file.
type TaskInfo struct {
	TaskID       string    `json:"task_id"`
	WorkflowType string    `json:"workflow_type"`
	SessionID    string    `json:"session_id,omitempty"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

type taskRegistryFile struct {
	Active  []TaskInfo `json:"active"`
	History []TaskInfo `json:"history"`
}

// Controller sequences input -> processing -> output layer completions into
// discrete cycles and enforces the pending-end contract: CYCLE_COMPLETED is
// published when the output layer finishes, and only then are sessions
// flagged pending_end finalized.
type Controller struct {
	bus          *EventBus
	sessions     *SessionStore
	logger       *slog.Logger
	registryPath string

	mu         sync.Mutex
	cycleID    string
	cycleCount int64
	inCycle    bool
	tasks      map[string]TaskInfo
	history    []TaskInfo
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithTaskRegistryPath sets the on-disk file the background task registry
// persists to. Loss of the file is non-fatal; it is reloaded best-effort at
// construction.
func WithTaskRegistryPath(path string) ControllerOption {
	return func(c *Controller) { c.registryPath = path }
}

// WithControllerLogger sets a structured logger.
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a Controller and reloads the persisted task
// registry when a path is configured.
func NewController(bus *EventBus, sessions *SessionStore, opts ...ControllerOption) *Controller {
	c := &Controller{
		bus:      bus,
		sessions: sessions,
		logger:   slog.Default(),
		tasks:    make(map[string]TaskInfo),
	}
	for _, o := range opts {
		o(c)
	}
	c.loadRegistry()
	return c
}

// Start subscribes the controller to the layer-completion and background
// workflow events.
func (c *Controller) Start(ctx context.Context) {
	c.bus.Subscribe(InputLayerComplete, c.onInputComplete, "controller")
	c.bus.Subscribe(OutputLayerComplete, c.onOutputComplete, "controller")
	c.bus.Subscribe(BackgroundWorkflowCompleted, c.onBackgroundDone, "controller")
	c.bus.Subscribe(BackgroundWorkflowFailed, c.onBackgroundDone, "controller")
	c.bus.Subscribe(BackgroundWorkflowCancelled, c.onBackgroundDone, "controller")
}

// CurrentCycle returns the open cycle's id, or "" between cycles.
func (c *Controller) CurrentCycle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inCycle {
		return ""
	}
	return c.cycleID
}

// onInputComplete opens a cycle: the span from one INPUT_LAYER_COMPLETE to
// the next CYCLE_COMPLETED is the unit of deferred session teardown.
func (c *Controller) onInputComplete(ctx context.Context, evt Event) error {
	c.mu.Lock()
	if c.inCycle {
		// The previous cycle never closed (an output module died mid-turn).
		// Close it so the new exchange is not blocked forever.
		c.logger.Warn("cycle reopened before completion", "cycle_id", c.cycleID)
	}
	c.cycleCount++
	c.cycleID = NewID()
	c.inCycle = true
	cycleID := c.cycleID
	idx := c.cycleCount
	c.mu.Unlock()

	c.bus.Publish(ctx, CycleStarted, map[string]any{
		"cycle_id": cycleID,
		"index":    idx,
	}, "controller")
	return nil
}

// onOutputComplete closes the cycle: publish CYCLE_COMPLETED, then finalize
// every session flagged pending_end. Finalization happens only here —
// never mid-cycle.
func (c *Controller) onOutputComplete(ctx context.Context, evt Event) error {
	c.mu.Lock()
	if !c.inCycle {
		c.mu.Unlock()
		return nil
	}
	c.inCycle = false
	cycleID := c.cycleID
	c.mu.Unlock()

	c.bus.Publish(ctx, CycleCompleted, map[string]any{"cycle_id": cycleID}, "controller")
	ended := c.sessions.FinalizePending(ctx)
	if len(ended) > 0 {
		c.logger.Debug("cycle boundary finalized sessions", "cycle_id", cycleID, "sessions", ended)
	}
	return nil
}

// TrackTask registers a submitted background task in the registry.
func (c *Controller) TrackTask(taskID, workflowType, sessionID string) {
	c.mu.Lock()
	c.tasks[taskID] = TaskInfo{
		TaskID:       taskID,
		WorkflowType: workflowType,
		SessionID:    sessionID,
		Status:       string(BackgroundRunning),
		StartedAt:    time.Now(),
	}
	c.mu.Unlock()
	c.persistRegistry()
}

// onBackgroundDone moves a finished task from the active index into the
// bounded history.
func (c *Controller) onBackgroundDone(_ context.Context, evt Event) error {
	taskID, _ := evt.Data["task_id"].(string)
	if taskID == "" {
		return nil
	}
	status := string(BackgroundCompleted)
	switch evt.Kind {
	case BackgroundWorkflowFailed:
		status = string(BackgroundFailed)
	case BackgroundWorkflowCancelled:
		status = string(BackgroundCancelled)
	}

	c.mu.Lock()
	info, ok := c.tasks[taskID]
	if !ok {
		info = TaskInfo{TaskID: taskID, StartedAt: time.Now()}
		if wt, ok := evt.Data["workflow_type"].(string); ok {
			info.WorkflowType = wt
		}
	}
	delete(c.tasks, taskID)
	info.Status = status
	info.FinishedAt = time.Now()
	c.history = append(c.history, info)
	if len(c.history) > taskHistorySize {
		c.history = c.history[len(c.history)-taskHistorySize:]
	}
	c.mu.Unlock()

	c.persistRegistry()
	return nil
}

// ActiveTasks returns a snapshot of tracked, unfinished background tasks.
func (c *Controller) ActiveTasks() []TaskInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TaskInfo, 0, len(c.tasks))
	for _, info := range c.tasks {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// TaskHistory returns the bounded completion history, oldest first.
func (c *Controller) TaskHistory() []TaskInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TaskInfo(nil), c.history...)
}

// RegistrySnapshot is the task-registry view a debug window renders: the
// live tasks plus the bounded completion history.
type RegistrySnapshot struct {
	Active  []TaskInfo
	History []TaskInfo
}

// Snapshot returns the registry state for a UI poll.
func (c *Controller) Snapshot() RegistrySnapshot {
	return RegistrySnapshot{Active: c.ActiveTasks(), History: c.TaskHistory()}
}

// FormatStatus renders a human-readable summary of active sessions and
// tracked background tasks, for an operator surface.
func (c *Controller) FormatStatus() string {
	var b strings.Builder
	sessions := c.sessions.GetActiveSessions()
	fmt.Fprintf(&b, "active sessions: %d\n", len(sessions))
	for _, s := range sessions {
		fmt.Fprintf(&b, "  %s %s (%s)\n", s.Kind, s.ID, s.Status)
	}
	active := c.ActiveTasks()
	fmt.Fprintf(&b, "background tasks: %d\n", len(active))
	for _, t := range active {
		fmt.Fprintf(&b, "  %s %s since %s\n", t.WorkflowType, t.TaskID, t.StartedAt.Format(time.RFC3339))
	}
	return b.String()
}

// loadRegistry reloads the persisted task registry. Best-effort: a missing
// or corrupt file starts empty.
func (c *Controller) loadRegistry() {
	if c.registryPath == "" {
		return
	}
	data, err := os.ReadFile(c.registryPath)
	if err != nil {
		return
	}
	var file taskRegistryFile
	if err := json.Unmarshal(data, &file); err != nil {
		c.logger.Warn("task registry unreadable, starting empty", "path", c.registryPath, "error", err)
		return
	}
	c.mu.Lock()
	for _, info := range file.Active {
		c.tasks[info.TaskID] = info
	}
	c.history = file.History
	c.mu.Unlock()
}

// persistRegistry writes the registry to disk. Best-effort: failures are
// logged and otherwise ignored.
func (c *Controller) persistRegistry() {
	if c.registryPath == "" {
		return
	}
	c.mu.Lock()
	file := taskRegistryFile{History: append([]TaskInfo(nil), c.history...)}
	for _, info := range c.tasks {
		file.Active = append(file.Active, info)
	}
	c.mu.Unlock()
	sort.Slice(file.Active, func(i, j int) bool { return file.Active[i].StartedAt.Before(file.Active[j].StartedAt) })

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.registryPath), 0o755); err != nil {
		c.logger.Warn("task registry dir", "error", err)
		return
	}
	if err := os.WriteFile(c.registryPath, data, 0o644); err != nil {
		c.logger.Warn("task registry write failed", "path", c.registryPath, "error", err)
	}
}
