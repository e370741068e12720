package cortex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// maxAdvanceDepth bounds the auto-advance recursion inside a single
// ProcessInput call; a step graph deeper than this without an interactive
// pause is treated as a definition error.
const maxAdvanceDepth = 100

// Engine interprets one WorkflowDefinition for one session. It exists only
// while its session is active; the owner discards it when SESSION_ENDED
// fires for the session.
//
// The engine never re-enters itself through callbacks: an INTERACTIVE step
// suspends by returning, an LLM_PROCESSING step suspends until the external
// LLM writes the output key and calls ProcessInput again, and a review gate
// suspends until HandleLLMReviewResponse. All suspension is explicit state.
type Engine struct {
	def       *WorkflowDefinition
	wc        *Context
	bus       *EventBus
	sessions  *SessionStore
	sessionID string
	tracer    Tracer
	logger    *slog.Logger
	reviewTTL time.Duration

	mu             sync.Mutex
	current        string
	complete       bool
	failed         bool
	cancelled      bool
	executed       []string
	gate           *reviewGate
	suppressEvents bool
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithEngineSessions lets the engine record step history and mark its
// session pending_end on terminal results.
func WithEngineSessions(s *SessionStore) EngineOption {
	return func(e *Engine) { e.sessions = s }
}

// WithEngineTracer wraps each ProcessInput in a span.
func WithEngineTracer(t Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithEngineLogger sets a structured logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithReviewTTL overrides the default 30-minute review gate expiry.
func WithReviewTTL(d time.Duration) EngineOption {
	return func(e *Engine) { e.reviewTTL = d }
}

// NewEngine creates an engine positioned at the definition's entry point.
// The definition must Validate; bus receives the engine's workflow events
// and wc is the working context the steps read and write.
func NewEngine(def *WorkflowDefinition, wc *Context, bus *EventBus, sessionID string, opts ...EngineOption) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		def:       def,
		wc:        wc,
		bus:       bus,
		sessionID: sessionID,
		logger:    slog.Default(),
		current:   def.EntryPoint,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// SessionID returns the id of the session this engine drives.
func (e *Engine) SessionID() string { return e.sessionID }

// WorkflowType returns the definition's workflow type name.
func (e *Engine) WorkflowType() string { return e.def.WorkflowType }

// CurrentStep returns the step the engine is positioned at, or nil when the
// workflow has terminated.
func (e *Engine) CurrentStep() Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStepLocked()
}

func (e *Engine) currentStepLocked() Step {
	if e.current == "" {
		return nil
	}
	return e.def.Steps[e.current]
}

// PeekNextStep resolves where an unconditional success of the current step
// would lead, without executing anything. Returns "" at a terminal position
// and EndStep when the workflow would complete.
func (e *Engine) PeekNextStep() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == "" {
		return ""
	}
	return e.resolveNextLocked(e.current, SuccessResult("", nil))
}

// GetPrompt returns the prompt of the current step, empty when none.
func (e *Engine) GetPrompt() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	step := e.currentStepLocked()
	if step == nil {
		return ""
	}
	return step.GetPrompt(e.wc, e.sessionID)
}

// IsAwaitingLLMReview reports whether a review gate is holding the engine.
func (e *Engine) IsAwaitingLLMReview() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate != nil
}

// IsComplete reports whether the workflow ran to completion.
func (e *Engine) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete
}

// ExecutedSteps returns the ids of steps executed so far, in order.
func (e *Engine) ExecutedSteps() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

// RequiresInput reports whether the engine is parked on an INTERACTIVE step
// that genuinely needs user input.
func (e *Engine) RequiresInput() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requiresInputLocked()
}

func (e *Engine) requiresInputLocked() bool {
	if e.gate != nil {
		return false
	}
	step := e.currentStepLocked()
	return step != nil && step.Kind() == StepInteractive && !step.ShouldSkip(e.wc, e.sessionID)
}

// Status returns the engine's observable state as a map, the shape the
// get_workflow_status tool call responds with.
func (e *Engine) Status() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]any{
		"workflow_type":       e.def.WorkflowType,
		"current_step":        e.current,
		"complete":            e.complete,
		"failed":              e.failed,
		"cancelled":           e.cancelled,
		"awaiting_llm_review": e.gate != nil,
		"requires_input":      e.requiresInputLocked(),
		"executed_steps":      append([]string(nil), e.executed...),
	}
}

// Start advances the engine from the entry point through every step it can
// execute without user input — skippable INTERACTIVE steps, PROCESSING,
// SYSTEM, conditionals with empty branches — stopping at the effective
// first step. Per-step event publication is suppressed during this
// discovery so pre-flight execution does not flood subscribers; on arrival
// a single WORKFLOW_REQUIRES_INPUT (or, for an immediately complete
// workflow, a single WORKFLOW_STEP_COMPLETED with complete=true) is
// published.
func (e *Engine) Start(ctx context.Context) StepResult {
	e.mu.Lock()
	e.suppressEvents = true
	res := e.advanceLocked(ctx, nil, 0)
	e.suppressEvents = false

	switch {
	case e.complete:
		data := map[string]any{
			"session_id":     e.sessionID,
			"workflow_type":  e.def.WorkflowType,
			"step_id":        lastOrEmpty(e.executed),
			"message":        res.Message,
			"complete":       true,
			"executed_steps": append([]string(nil), e.executed...),
		}
		e.mu.Unlock()
		e.bus.Publish(ctx, WorkflowStepCompleted, data, "workflow_engine")
	case e.failed || e.cancelled:
		e.mu.Unlock()
	case e.requiresInputLocked():
		step := e.currentStepLocked()
		data := map[string]any{
			"session_id":    e.sessionID,
			"workflow_type": e.def.WorkflowType,
			"step_id":       step.ID(),
			"prompt":        step.GetPrompt(e.wc, e.sessionID),
		}
		e.mu.Unlock()
		e.bus.Publish(ctx, WorkflowRequiresInput, data, "workflow_engine")
	default:
		e.mu.Unlock()
	}
	return res
}

// ProcessInput drives the workflow forward with the given user input (nil
// when no input applies). It resolves the current step, executes it per the
// step-kind rules, and advances through transitions until the next
// suspension point or termination.
func (e *Engine) ProcessInput(ctx context.Context, userInput *string) StepResult {
	if e.tracer != nil {
		var span Span
		ctx, span = e.tracer.Start(ctx, "engine.process_input")
		defer span.End()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advanceLocked(ctx, userInput, 0)
}

// advanceLocked is the process_input algorithm. Callers hold e.mu.
func (e *Engine) advanceLocked(ctx context.Context, userInput *string, depth int) StepResult {
	if depth >= maxAdvanceDepth {
		return e.failLocked(ctx, "", fmt.Sprintf("advance depth exceeded %d", maxAdvanceDepth))
	}
	if e.gate != nil {
		res := SuccessResult("awaiting llm review", nil)
		res.ContinueCurrentStep = true
		res.LLMReviewData = e.gate.result.LLMReviewData
		return res
	}

	step := e.currentStepLocked()
	if step == nil {
		return CompleteWorkflow("workflow already complete", nil)
	}

	// INTERACTIVE: skip with data present (executed with nil input to emit
	// its "already satisfied" result), suspend without input, execute with.
	// A genuine INTERACTIVE step without input suspends by returning; the
	// single WORKFLOW_REQUIRES_INPUT was published when the engine arrived
	// at the step (Start or applyNextLocked), not on every poll.
	if step.Kind() == StepInteractive && !step.ShouldSkip(e.wc, e.sessionID) && userInput == nil {
		res := SuccessResult(step.GetPrompt(e.wc, e.sessionID), nil)
		res.ContinueCurrentStep = true
		return res
	}

	res := step.Execute(ctx, e.wc, e.sessionID, userInput)

	switch {
	case res.Cancel:
		e.cancelled = true
		e.current = ""
		e.recordStepLocked(step.ID(), res)
		e.markEndLocked("cancelled: " + res.Message)
		return res
	case res.Complete:
		e.complete = true
		e.recordStepLocked(step.ID(), res)
		e.publishStepCompletedLocked(ctx, step.ID(), res, true)
		e.markEndLocked("completed: " + res.Message)
		e.current = ""
		return res
	case !res.Success:
		return e.failLocked(ctx, step.ID(), res.Message)
	}

	if res.ContinueCurrentStep {
		// Loop idiom, unanswered branch step, or pending LLM processing:
		// stay on this step.
		if res.RequiresLLMProcessing {
			e.publishRequiresInputLocked(ctx, step)
		}
		return res
	}

	e.recordStepLocked(step.ID(), res)
	e.publishStepCompletedLocked(ctx, step.ID(), res, false)

	next := e.resolveNextLocked(step.ID(), res)

	// Review gate: hold the result and the next-step decision until the
	// external LLM approves, modifies, or cancels.
	if e.def.RequiresLLMReview && stepNeedsReview(step) {
		held := res
		if held.LLMReviewData == nil {
			held.LLMReviewData = map[string]any{
				"step_id":     step.ID(),
				"description": step.Description(),
				"message":     res.Message,
				"data":        res.Data,
				"next_step":   next,
			}
		}
		e.gate = newReviewGate(step.ID(), held, next, e.reviewTTL, e.onReviewExpired)
		return held
	}

	return e.applyNextLocked(ctx, step, res, next, depth)
}

// applyNextLocked moves the engine to next and, when auto-advance applies,
// recursively drives the following PROCESSING/SYSTEM step.
func (e *Engine) applyNextLocked(ctx context.Context, step Step, res StepResult, next string, depth int) StepResult {
	if next == EndStep || next == "" {
		e.complete = true
		e.current = ""
		done := CompleteWorkflow(res.Message, res.Data)
		e.publishStepCompletedLocked(ctx, step.ID(), done, true)
		e.markEndLocked("completed: " + res.Message)
		return done
	}

	e.current = next
	nextStep := e.currentStepLocked()
	if nextStep == nil {
		return res
	}
	// The step arrived at decides whether the engine keeps driving:
	// PROCESSING/SYSTEM/LLM steps auto-advance, INTERACTIVE ones stop.
	// suppressEvents doubles as the discovery flag — effective-first-step
	// discovery advances through everything executable without input,
	// regardless of the definition's auto-advance setting.
	if e.suppressEvents || e.def.AutoAdvanceOnApproval || nextStep.ShouldAutoAdvance(e.wc, e.sessionID) {
		if nextStep.Kind() != StepInteractive || nextStep.ShouldSkip(e.wc, e.sessionID) {
			return e.advanceLocked(ctx, nil, depth+1)
		}
		e.publishRequiresInputLocked(ctx, nextStep)
	}
	return res
}

// resolveNextLocked computes the next step id for a result: skip_to, then
// next_step, then the first transition whose guard accepts the result, then
// the sole unconditional transition, then "" (complete).
func (e *Engine) resolveNextLocked(from string, res StepResult) string {
	if res.SkipToStep != nil {
		return *res.SkipToStep
	}
	if res.NextStep != nil {
		return *res.NextStep
	}
	transitions := e.def.Transitions[from]
	for _, t := range transitions {
		if t.Guard != nil && t.Guard(res) {
			return t.To
		}
	}
	var sole string
	n := 0
	for _, t := range transitions {
		if t.Guard == nil {
			sole = t.To
			n++
		}
	}
	if n == 1 {
		return sole
	}
	return ""
}

// HandleLLMReviewResponse resolves a held review gate. approve advances to
// the held next step; modify writes modifiedParams into the working context
// first; cancel terminates the workflow.
func (e *Engine) HandleLLMReviewResponse(ctx context.Context, action ReviewAction, modifiedParams map[string]any) StepResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gate == nil {
		return FailureResult("no step awaiting llm review")
	}
	held, next, ok := e.gate.take()
	e.gate = nil
	if !ok {
		return e.failLocked(ctx, e.current, "llm review expired")
	}

	switch action {
	case ReviewCancel:
		e.cancelled = true
		e.current = ""
		res := CancelWorkflow("cancelled: llm review rejected the step")
		e.markEndLocked(res.Message)
		return res
	case ReviewModify:
		for k, v := range modifiedParams {
			e.wc.Set(e.sessionID, k, v)
		}
	case ReviewApprove:
	default:
		// Unknown action: re-arm the gate so the decision can be retried.
		e.gate = newReviewGate(e.current, held, next, e.reviewTTL, e.onReviewExpired)
		return FailureResult(fmt.Sprintf("unknown review action %q", action))
	}

	step := e.currentStepLocked()
	if step == nil {
		return CompleteWorkflow(held.Message, held.Data)
	}
	if e.def.AutoAdvanceOnApproval {
		return e.applyNextLocked(ctx, step, held, next, 0)
	}
	if next == EndStep || next == "" {
		return e.applyNextLocked(ctx, step, held, next, 0)
	}
	e.current = next
	return held
}

// onReviewExpired fires from the gate's TTL timer goroutine: the review
// never arrived, so the workflow fails with an llm_review_timeout reason.
func (e *Engine) onReviewExpired(stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gate == nil {
		return
	}
	e.gate = nil
	e.failLocked(context.Background(), stepID, ErrLLMReviewTimeout.Error())
}

// Cancel terminates the workflow immediately at the engine level. Session
// teardown still defers to the next cycle boundary via pending_end.
func (e *Engine) Cancel(reason string) StepResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gate != nil {
		e.gate.release()
		e.gate = nil
	}
	e.cancelled = true
	e.current = ""
	res := CancelWorkflow("cancelled: " + reason)
	e.markEndLocked(res.Message)
	return res
}

// Release tears down engine-held resources (a pending review gate's timer).
// The owner calls it when the session ends.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gate != nil {
		e.gate.release()
		e.gate = nil
	}
}

// BuildPendingLLMRequest returns the request envelope when the current step
// is LLM_PROCESSING and its output key is not yet populated.
func (e *Engine) BuildPendingLLMRequest() (LLMRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	step := e.currentStepLocked()
	builder, ok := step.(LLMRequestBuilder)
	if !ok {
		return LLMRequest{}, false
	}
	return builder.BuildLLMRequest(e.wc, e.sessionID), true
}

// StepsOverview returns "id: description" lines for every step, entry point
// first, for the start_workflow response.
func (e *Engine) StepsOverview() []string {
	var out []string
	seen := map[string]bool{}
	id := e.def.EntryPoint
	for id != "" && id != EndStep && !seen[id] {
		seen[id] = true
		step := e.def.Steps[id]
		if step == nil {
			break
		}
		out = append(out, fmt.Sprintf("%s: %s", id, step.Description()))
		id = e.resolveNextLocked(id, SuccessResult("", nil))
	}
	for id, step := range e.def.Steps {
		if !seen[id] {
			out = append(out, fmt.Sprintf("%s: %s", id, step.Description()))
		}
	}
	return out
}

func (e *Engine) failLocked(ctx context.Context, stepID, message string) StepResult {
	e.failed = true
	e.current = ""
	res := FailureResult(message)
	if !e.suppressEvents {
		e.bus.Publish(ctx, WorkflowFailed, map[string]any{
			"session_id":    e.sessionID,
			"workflow_type": e.def.WorkflowType,
			"step_id":       stepID,
			"error":         message,
		}, "workflow_engine")
	}
	e.markEndLocked("failed: " + message)
	e.logger.Warn("workflow failed", "workflow_type", e.def.WorkflowType, "step_id", stepID, "error", message)
	return res
}

func (e *Engine) recordStepLocked(stepID string, res StepResult) {
	e.executed = append(e.executed, stepID)
	if e.sessions != nil {
		e.sessions.RecordStep(e.sessionID, stepID, res.Message)
	}
}

func (e *Engine) markEndLocked(reason string) {
	if e.sessions != nil {
		_ = e.sessions.MarkForEnd(e.sessionID, reason)
	}
}

func (e *Engine) publishStepCompletedLocked(ctx context.Context, stepID string, res StepResult, complete bool) {
	if e.suppressEvents {
		return
	}
	e.bus.Publish(ctx, WorkflowStepCompleted, map[string]any{
		"session_id":     e.sessionID,
		"workflow_type":  e.def.WorkflowType,
		"step_id":        stepID,
		"message":        res.Message,
		"complete":       complete,
		"executed_steps": append([]string(nil), e.executed...),
	}, "workflow_engine")
}

func (e *Engine) publishRequiresInputLocked(ctx context.Context, step Step) {
	if e.suppressEvents {
		return
	}
	data := map[string]any{
		"session_id":    e.sessionID,
		"workflow_type": e.def.WorkflowType,
		"step_id":       step.ID(),
		"prompt":        step.GetPrompt(e.wc, e.sessionID),
	}
	if builder, ok := step.(LLMRequestBuilder); ok {
		req := builder.BuildLLMRequest(e.wc, e.sessionID)
		data["requires_llm_processing"] = true
		data["llm_request"] = map[string]any{
			"task_description": req.TaskDescription,
			"prompt":           req.Prompt,
			"input_data":       req.InputData,
			"output_data_key":  req.OutputDataKey,
			"step_id":          req.StepID,
		}
	}
	e.bus.Publish(ctx, WorkflowRequiresInput, data, "workflow_engine")
}

func lastOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// stepNeedsReview decides which results the review gate holds: side-effect
// bearing kinds (SYSTEM, LLM_PROCESSING) only; the decision is by step kind
// alone. Pure input collection and computation pass through.
func stepNeedsReview(step Step) bool {
	switch step.Kind() {
	case StepSystem, StepLLMProcessing:
		return true
	default:
		return false
	}
}
