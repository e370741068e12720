package cortex

import (
	"context"
	"errors"
	"testing"
)

func declarativeFileRead() (DeclarativeWorkflow, DeclarativeGraph) {
	w := DeclarativeWorkflow{
		Name:                  "Drop and read",
		Description:           "Read a dropped file aloud",
		Mode:                  "direct",
		AutoAdvanceOnApproval: true,
	}
	g := DeclarativeGraph{
		EntryPoint: "file_path_input",
		Steps: []DeclarativeStep{
			{
				ID: "file_path_input", Type: "input",
				Description: "collect the file path",
				Prompt:      "Which file?", DataKey: "current_file_path",
				SkipIfDataExists: true,
			},
			{
				ID: "execute_read", Type: "processing",
				Description: "read the selected file",
				Handler:     "read_file",
			},
		},
		Transitions: []DeclarativeTransition{
			{From: "file_path_input", To: "execute_read"},
			{From: "execute_read", To: EndStep},
		},
	}
	return w, g
}

func TestCompileDeclarativeWorkflowRuns(t *testing.T) {
	reg := NewRegistry(CompileDeps{
		Handlers: map[string]ProcessingFunc{
			"read_file": func(_ context.Context, wc *Context, sid string) StepResult {
				path, _ := wc.Get(sid, "current_file_path")
				return CompleteWorkflow("read "+path.(string), nil)
			},
		},
	})
	w, g := declarativeFileRead()
	def, err := reg.Compile("drop_and_read", w, g)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if def.Mode != ModeDirect || def.EntryPoint != "file_path_input" {
		t.Errorf("def = %+v", def)
	}
	if _, ok := reg.Get("drop_and_read"); !ok {
		t.Fatal("compiled workflow not registered")
	}

	bus := startedBus(t)
	wc := NewContext()
	wc.Set("s", "current_file_path", "notes.txt")
	eng, err := NewEngine(def, wc, bus, "s")
	if err != nil {
		t.Fatal(err)
	}
	res := eng.Start(context.Background())
	if !res.Complete || res.Message != "read notes.txt" {
		t.Errorf("result = %+v", res)
	}
}

func TestCompileGuardedTransition(t *testing.T) {
	reg := NewRegistry(CompileDeps{
		Handlers: map[string]ProcessingFunc{
			"classify": func(_ context.Context, wc *Context, sid string) StepResult {
				return SuccessResult("classified", map[string]any{"size": "big"})
			},
			"big":   func(context.Context, *Context, string) StepResult { return CompleteWorkflow("big", nil) },
			"small": func(context.Context, *Context, string) StepResult { return CompleteWorkflow("small", nil) },
		},
	})
	w := DeclarativeWorkflow{Mode: "direct", AutoAdvanceOnApproval: true}
	g := DeclarativeGraph{
		EntryPoint: "classify",
		Steps: []DeclarativeStep{
			{ID: "classify", Type: "processing", Handler: "classify"},
			{ID: "handle_big", Type: "processing", Handler: "big"},
			{ID: "handle_small", Type: "processing", Handler: "small"},
		},
		Transitions: []DeclarativeTransition{
			{From: "classify", To: "handle_big", WhenKey: "size", WhenValue: "big"},
			{From: "classify", To: "handle_small"},
			{From: "handle_big", To: EndStep},
			{From: "handle_small", To: EndStep},
		},
	}
	def, err := reg.Compile("guarded", w, g)
	if err != nil {
		t.Fatal(err)
	}

	bus := startedBus(t)
	eng, _ := NewEngine(def, NewContext(), bus, "s")
	res := eng.Start(context.Background())
	if !res.Complete || res.Message != "big" {
		t.Errorf("result = %+v", res)
	}
}

func TestCompileConditionalBranches(t *testing.T) {
	reg := NewRegistry(CompileDeps{
		Handlers: map[string]ProcessingFunc{
			"finish": func(context.Context, *Context, string) StepResult { return CompleteWorkflow("done", nil) },
		},
	})
	w := DeclarativeWorkflow{Mode: "direct", AutoAdvanceOnApproval: true}
	g := DeclarativeGraph{
		EntryPoint: "route",
		Steps: []DeclarativeStep{
			{
				ID: "route", Type: "conditional", SelectorKey: "mode",
				Branches: map[string][]string{"detailed": {"ask_detail"}},
			},
			{ID: "ask_detail", Type: "input", Prompt: "Detail?", DataKey: "detail"},
			{ID: "finish", Type: "processing", Handler: "finish"},
		},
		Transitions: []DeclarativeTransition{
			{From: "route", To: "finish"},
			{From: "finish", To: EndStep},
		},
	}
	def, err := reg.Compile("cond", w, g)
	if err != nil {
		t.Fatal(err)
	}
	// Branch member steps run inside the conditional, not at top level.
	if _, ok := def.Steps["ask_detail"]; ok {
		t.Error("branch member leaked into the top-level step map")
	}

	bus := startedBus(t)
	wc := NewContext()
	wc.Set("s", "mode", "quick") // no branch -> immediate transition
	eng, _ := NewEngine(def, wc, bus, "s")
	if res := eng.Start(context.Background()); !res.Complete {
		t.Errorf("result = %+v", res)
	}
}

func TestCompileErrors(t *testing.T) {
	reg := NewRegistry(CompileDeps{})
	w := DeclarativeWorkflow{Mode: "direct"}

	_, err := reg.Compile("bad", w, DeclarativeGraph{
		EntryPoint: "x",
		Steps:      []DeclarativeStep{{ID: "x", Type: "processing", Handler: "missing"}},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown handler err = %v", err)
	}

	_, err = reg.Compile("bad2", w, DeclarativeGraph{
		EntryPoint: "x",
		Steps:      []DeclarativeStep{{ID: "x", Type: "teleport"}},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown type err = %v", err)
	}

	_, err = reg.Compile("bad3", w, DeclarativeGraph{
		EntryPoint: "missing",
		Steps:      []DeclarativeStep{{ID: "x", Type: "input", DataKey: "k"}},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad entry point err = %v", err)
	}
}
