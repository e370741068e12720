package cortex

import (
	"context"
	"errors"
	"testing"
)

type fakeRunner struct {
	lastReq CodeRequest
	result  CodeResult
	err     error
}

func (f *fakeRunner) Run(_ context.Context, req CodeRequest) (CodeResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func TestActionMuxRoutesByName(t *testing.T) {
	mux := NewActionMux()
	mux.Handle("media_play", ActionFunc(func(_ context.Context, action string, _ map[string]any) (ActionResult, error) {
		return ActionResult{Output: "played"}, nil
	}))

	res, err := mux.Execute(context.Background(), "media_play", nil)
	if err != nil || res.Output != "played" {
		t.Fatalf("result = %+v, %v", res, err)
	}
	if _, err := mux.Execute(context.Background(), "unknown", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown action err = %v", err)
	}
}

func TestSandboxExecutorRunsCode(t *testing.T) {
	runner := &fakeRunner{result: CodeResult{Output: `{"n":3}`, Logs: "ok"}}
	exec := NewSandboxExecutor(runner)

	res, err := exec.Execute(context.Background(), "run_code", map[string]any{
		"code":            "set_result({'n': 3})",
		"timeout_seconds": 5.0,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != `{"n":3}` || res.Data["logs"] != "ok" {
		t.Errorf("result = %+v", res)
	}
	if runner.lastReq.Timeout.Seconds() != 5 {
		t.Errorf("timeout = %v", runner.lastReq.Timeout)
	}
}

func TestSandboxExecutorRequiresCode(t *testing.T) {
	exec := NewSandboxExecutor(&fakeRunner{})
	if _, err := exec.Execute(context.Background(), "run_code", nil); !errors.Is(err, ErrMissingRequiredData) {
		t.Errorf("err = %v", err)
	}
}

func TestSandboxExecutorSurfacesCodeError(t *testing.T) {
	exec := NewSandboxExecutor(&fakeRunner{result: CodeResult{Error: "exit code 1"}})
	if _, err := exec.Execute(context.Background(), "run_code", map[string]any{"code": "x"}); !errors.Is(err, ErrStepExecution) {
		t.Errorf("err = %v", err)
	}
}

func TestFileReadExecutor(t *testing.T) {
	exec := NewFileReadExecutor(fakeIngestor{"notes.txt": "contents"})

	res, err := exec.Execute(context.Background(), "read_file", map[string]any{"current_file_path": "notes.txt"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "contents" || res.Data["content_length"] != 8 {
		t.Errorf("result = %+v", res)
	}

	if _, err := exec.Execute(context.Background(), "read_file", nil); !errors.Is(err, ErrMissingRequiredData) {
		t.Errorf("missing path err = %v", err)
	}
	if _, err := exec.Execute(context.Background(), "read_file", map[string]any{"current_file_path": "nope.txt"}); !errors.Is(err, ErrStepExecution) {
		t.Errorf("ingest failure err = %v", err)
	}
}

type fakeMediaBackend struct{ commands []string }

func (f *fakeMediaBackend) Control(_ context.Context, command string, _ map[string]any) error {
	f.commands = append(f.commands, command)
	return nil
}

func TestMediaExecutorPublishesEvent(t *testing.T) {
	bus := startedBus(t)
	backend := &fakeMediaBackend{}
	exec := NewMediaExecutor(backend, bus)

	if _, err := exec.Execute(context.Background(), "media_play", map[string]any{"track": "song.mp3"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	drainBus(t, bus)
	if got := bus.GetStats().PerKind[MediaControlExecuted]; got != 1 {
		t.Errorf("media_control_executed published %d times, want 1", got)
	}
	if len(backend.commands) != 1 || backend.commands[0] != "media_play" {
		t.Errorf("backend commands = %v", backend.commands)
	}
}
