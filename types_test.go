package cortex

import "testing"

func TestUserMessage(t *testing.T) {
	msg := UserMessage("hello")
	if msg.Role != "user" || msg.Content != "hello" {
		t.Errorf("UserMessage(\"hello\") = %+v", msg)
	}
}

func TestSystemMessage(t *testing.T) {
	msg := SystemMessage("you are helpful")
	if msg.Role != "system" || msg.Content != "you are helpful" {
		t.Errorf("SystemMessage(...) = %+v", msg)
	}
}

func TestAssistantMessage(t *testing.T) {
	msg := AssistantMessage("sure thing")
	if msg.Role != "assistant" || msg.Content != "sure thing" {
		t.Errorf("AssistantMessage(...) = %+v", msg)
	}
}

func TestSessionStatusIsActive(t *testing.T) {
	tests := []struct {
		status SessionStatus
		active bool
	}{
		{SessionReady, true},
		{SessionExecuting, true},
		{SessionWaiting, true},
		{SessionCompleted, false},
		{SessionCancelled, false},
		{SessionFailed, false},
	}
	for _, tt := range tests {
		if got := tt.status.IsActive(); got != tt.active {
			t.Errorf("%s.IsActive() = %v, want %v", tt.status, got, tt.active)
		}
	}
}

func TestStepResultFactories(t *testing.T) {
	t.Run("success carries data", func(t *testing.T) {
		r := SuccessResult("ok", map[string]any{"k": "v"})
		if !r.Success || r.Complete || r.Cancel || r.Data["k"] != "v" {
			t.Errorf("SuccessResult = %+v", r)
		}
	})
	t.Run("failure is unsuccessful and non-terminal", func(t *testing.T) {
		r := FailureResult("bad input")
		if r.Success || r.Complete || r.Cancel {
			t.Errorf("FailureResult = %+v", r)
		}
	})
	t.Run("cancel is terminal", func(t *testing.T) {
		r := CancelWorkflow("user said stop")
		if !r.Cancel || r.Complete {
			t.Errorf("CancelWorkflow = %+v", r)
		}
	})
	t.Run("complete is terminal and successful", func(t *testing.T) {
		r := CompleteWorkflow("done", nil)
		if !r.Success || !r.Complete || r.Cancel {
			t.Errorf("CompleteWorkflow = %+v", r)
		}
	})
	t.Run("skip_to sets the jump target", func(t *testing.T) {
		r := SkipTo("confirm", "already have the data", nil)
		if r.SkipToStep == nil || *r.SkipToStep != "confirm" {
			t.Errorf("SkipTo(...).SkipToStep = %v, want \"confirm\"", r.SkipToStep)
		}
	})
}

func TestWorkflowDefinitionValidate(t *testing.T) {
	t.Run("missing entry point", func(t *testing.T) {
		d := &WorkflowDefinition{WorkflowType: "t", Steps: map[string]Step{}}
		if err := d.Validate(); err == nil {
			t.Error("expected error for empty entry point")
		}
	})
	t.Run("entry point not in steps", func(t *testing.T) {
		d := &WorkflowDefinition{WorkflowType: "t", EntryPoint: "a", Steps: map[string]Step{}}
		if err := d.Validate(); err == nil {
			t.Error("expected error for missing entry point step")
		}
	})
	t.Run("transition to END is allowed", func(t *testing.T) {
		d := &WorkflowDefinition{
			WorkflowType: "t",
			EntryPoint:   "a",
			Steps:        map[string]Step{"a": NewProcessingStep("a", "desc", nil)},
			Transitions:  map[string][]Transition{"a": {{To: EndStep}}},
		}
		if err := d.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("transition to unknown step is rejected", func(t *testing.T) {
		d := &WorkflowDefinition{
			WorkflowType: "t",
			EntryPoint:   "a",
			Steps:        map[string]Step{"a": NewProcessingStep("a", "desc", nil)},
			Transitions:  map[string][]Transition{"a": {{To: "ghost"}}},
		}
		if err := d.Validate(); err == nil {
			t.Error("expected error for unknown transition target")
		}
	})
}
