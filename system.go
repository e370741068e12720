package cortex

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ActionMux routes system actions to registered executors by action name.
// The step layer stays generic; hosts register the actions their modules
// implement (media control, file reading, sandboxed code).
type ActionMux struct {
	mu       sync.RWMutex
	handlers map[string]SystemActionExecutor
}

// NewActionMux creates an empty mux.
func NewActionMux() *ActionMux {
	return &ActionMux{handlers: make(map[string]SystemActionExecutor)}
}

// Handle registers executor for action, replacing any previous handler.
func (m *ActionMux) Handle(action string, executor SystemActionExecutor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[action] = executor
}

// Execute dispatches to the handler registered for action.
func (m *ActionMux) Execute(ctx context.Context, action string, params map[string]any) (ActionResult, error) {
	m.mu.RLock()
	executor, ok := m.handlers[action]
	m.mu.RUnlock()
	if !ok {
		return ActionResult{}, wrapf(ErrInvalidInput, "no executor for action %q", action)
	}
	return executor.Execute(ctx, action, params)
}

// ActionFunc adapts a function to SystemActionExecutor.
type ActionFunc func(ctx context.Context, action string, params map[string]any) (ActionResult, error)

// Execute calls f.
func (f ActionFunc) Execute(ctx context.Context, action string, params map[string]any) (ActionResult, error) {
	return f(ctx, action, params)
}

// SandboxExecutor runs "run_code"-style actions through a CodeRunner
// instead of shelling out on the host. The params carry the code under
// "code" (and optionally "runtime" and "timeout_seconds").
type SandboxExecutor struct {
	runner CodeRunner
}

// NewSandboxExecutor creates a SandboxExecutor over runner.
func NewSandboxExecutor(runner CodeRunner) *SandboxExecutor {
	return &SandboxExecutor{runner: runner}
}

var _ SystemActionExecutor = (*SandboxExecutor)(nil)

// Execute runs the code named by params and returns its structured output.
func (s *SandboxExecutor) Execute(ctx context.Context, action string, params map[string]any) (ActionResult, error) {
	codeParam, ok := params["code"].(string)
	if !ok || codeParam == "" {
		return ActionResult{}, wrapf(ErrMissingRequiredData, "action %q needs a \"code\" param", action)
	}
	req := CodeRequest{Code: codeParam}
	if runtime, ok := params["runtime"].(string); ok {
		req.Runtime = runtime
	}
	if secs, ok := params["timeout_seconds"].(float64); ok && secs > 0 {
		req.Timeout = time.Duration(secs * float64(time.Second))
	}
	if sid, ok := params["session_id"].(string); ok {
		req.SessionID = sid
	}

	result, err := s.runner.Run(ctx, req)
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: %v", ErrStepExecution, err)
	}
	if result.Error != "" {
		return ActionResult{}, wrapf(ErrStepExecution, "sandboxed code: %s", result.Error)
	}
	return ActionResult{
		Output: result.Output,
		Data:   map[string]any{"logs": result.Logs, "exit_code": result.ExitCode},
	}, nil
}

// FileReadExecutor serves the direct "read_file" action: the one-shot form
// of the drop_and_read workflow, for callers that want the content without
// a session. Params carry the path under "current_file_path" (an empty
// string is rejected here — the whole-folder case is workflow-only).
type FileReadExecutor struct {
	ingestor FileIngestor
}

// NewFileReadExecutor creates a FileReadExecutor over ingestor.
func NewFileReadExecutor(ingestor FileIngestor) *FileReadExecutor {
	return &FileReadExecutor{ingestor: ingestor}
}

var _ SystemActionExecutor = (*FileReadExecutor)(nil)

// Execute ingests the named file and returns its text content.
func (f *FileReadExecutor) Execute(ctx context.Context, action string, params map[string]any) (ActionResult, error) {
	path, _ := params["current_file_path"].(string)
	if path == "" {
		return ActionResult{}, wrapf(ErrMissingRequiredData, "action %q needs \"current_file_path\"", action)
	}
	content, err := f.ingestor.Ingest(ctx, path)
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: %v", ErrStepExecution, err)
	}
	return ActionResult{
		Output: content,
		Data:   map[string]any{"file_path": path, "content_length": len(content)},
	}, nil
}

// MediaBackend is the host-side media surface a MediaExecutor drives.
type MediaBackend interface {
	Control(ctx context.Context, command string, params map[string]any) error
}

// MediaExecutor performs media-control actions (play, pause, next, volume)
// against a MediaBackend and publishes MEDIA_CONTROL_EXECUTED for each
// successful command.
type MediaExecutor struct {
	backend MediaBackend
	bus     *EventBus
}

// NewMediaExecutor creates a MediaExecutor publishing on bus.
func NewMediaExecutor(backend MediaBackend, bus *EventBus) *MediaExecutor {
	return &MediaExecutor{backend: backend, bus: bus}
}

var _ SystemActionExecutor = (*MediaExecutor)(nil)

// Execute runs one media command. The action name is the command
// ("media_play", "media_pause", ...).
func (m *MediaExecutor) Execute(ctx context.Context, action string, params map[string]any) (ActionResult, error) {
	if err := m.backend.Control(ctx, action, params); err != nil {
		return ActionResult{}, fmt.Errorf("%w: %s: %v", ErrStepExecution, action, err)
	}
	m.bus.Publish(ctx, MediaControlExecuted, map[string]any{
		"command": action,
		"params":  params,
	}, "media_executor")
	return ActionResult{Output: "executed " + action}, nil
}
