package cortex

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the error kinds the core reports. Callers match with
// errors.Is; detail is attached with fmt.Errorf("%w: ...", ErrXxx).
var (
	ErrInvalidInput        = errors.New("invalid_input")
	ErrMissingRequiredData = errors.New("missing_required_data")
	ErrStepExecution       = errors.New("step_execution_error")
	ErrWorkflowNotFound    = errors.New("workflow_not_found")
	ErrEngineNotFound      = errors.New("engine_not_found")
	ErrSessionNotActive    = errors.New("session_not_active")
	ErrPersistence         = errors.New("persistence_error")
	ErrHandler             = errors.New("handler_error")
	ErrLLMReviewTimeout    = errors.New("llm_review_timeout")
	ErrBackgroundSubmit    = errors.New("background_submit_error")
	ErrRestoreFailed       = errors.New("restore_failed")
)

// ErrHTTP reports a non-2xx response from an external collaborator
// (sandboxed system-action execution, an LLM backend, ...). RetryAfter
// carries the server's Retry-After header when present; the retry wrapper
// honors it as a minimum delay.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// wrapf wraps a sentinel error kind with a formatted detail message,
// preserving errors.Is matching against kind.
func wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
