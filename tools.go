package cortex

import (
	"context"
	"log/slog"
	"sync"
)

// BackgroundSubmitter is the slice of the background workflow executor the
// tool layer needs: hand over an engine and receive a task id.
type BackgroundSubmitter interface {
	SubmitWorkflow(ctx context.Context, engine *Engine, workflowType, sessionID string, metadata map[string]any) (string, error)
}

// ToolAPI is the tool-call interface the external LLM invokes against the
// core. Each request is a typed record validated at this boundary; handlers
// never route on free-form mode strings.
//
// ToolAPI owns the live engines: one per active workflow session, created
// by StartWorkflow and discarded when SESSION_ENDED fires for the session.
type ToolAPI struct {
	bus        *EventBus
	sessions   *SessionStore
	wc         *Context
	registry   *Registry
	runner     *stepRunner
	background BackgroundSubmitter
	controller *Controller
	logger     *slog.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

// ToolAPIOption configures a ToolAPI.
type ToolAPIOption func(*ToolAPI)

// WithBackground wires the background workflow executor for workflow types
// declared workflow_mode = "background".
func WithBackground(b BackgroundSubmitter) ToolAPIOption {
	return func(t *ToolAPI) { t.background = b }
}

// WithController lets StartWorkflow register background tasks in the
// controller's task registry.
func WithController(c *Controller) ToolAPIOption {
	return func(t *ToolAPI) { t.controller = c }
}

// WithToolLogger sets a structured logger.
func WithToolLogger(l *slog.Logger) ToolAPIOption {
	return func(t *ToolAPI) { t.logger = l }
}

// NewToolAPI creates the tool-call surface. It subscribes to SESSION_ENDED
// so engines and working-context scopes die with their sessions.
func NewToolAPI(bus *EventBus, sessions *SessionStore, wc *Context, registry *Registry, opts ...ToolAPIOption) *ToolAPI {
	t := &ToolAPI{
		bus:      bus,
		sessions: sessions,
		wc:       wc,
		registry: registry,
		runner:   newStepRunner(defaultRunnerWorkers, nil),
		logger:   slog.Default(),
		engines:  make(map[string]*Engine),
	}
	for _, o := range opts {
		o(t)
	}
	bus.Subscribe(SessionEnded, t.onSessionEnded, "tool_api")
	return t
}

// Start launches the step-execution runner.
func (t *ToolAPI) Start(ctx context.Context) { t.runner.Start(ctx) }

// Stop drains the step-execution runner.
func (t *ToolAPI) Stop() { t.runner.Stop() }

func (t *ToolAPI) onSessionEnded(_ context.Context, evt Event) error {
	sid, _ := evt.Data["session_id"].(string)
	if sid == "" {
		return nil
	}
	t.mu.Lock()
	eng, ok := t.engines[sid]
	delete(t.engines, sid)
	t.mu.Unlock()
	if ok {
		eng.Release()
	}
	t.wc.ClearSession(sid)
	return nil
}

func (t *ToolAPI) engine(sessionID string) (*Engine, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	eng, ok := t.engines[sessionID]
	if !ok {
		return nil, wrapf(ErrEngineNotFound, "no engine for session %s", sessionID)
	}
	return eng, nil
}

// --- start_workflow ---

// StartWorkflowRequest starts a workflow of the given type. InitialData
// pre-populates the working context; declared initial-parameter inference
// fills gaps the caller left.
type StartWorkflowRequest struct {
	WorkflowType string
	Command      string
	InitialData  map[string]any
}

// StartWorkflowResponse mirrors the start_workflow tool result.
type StartWorkflowResponse struct {
	SessionID             string
	RequiresInput         bool
	CurrentStepPrompt     string
	WorkflowStepsOverview []string
	AutoContinue          bool
	TaskID                string // background mode only
	Inferred              map[string]string
}

// StartWorkflow creates the session and engine for a workflow and advances
// to its effective first step. Direct workflows whose entry step needs no
// user input run on the step-execution pool so the call returns
// immediately; background workflows are handed to the background executor.
func (t *ToolAPI) StartWorkflow(ctx context.Context, req StartWorkflowRequest) (StartWorkflowResponse, error) {
	def, ok := t.registry.Get(req.WorkflowType)
	if !ok {
		return StartWorkflowResponse{}, wrapf(ErrWorkflowNotFound, "workflow type %q", req.WorkflowType)
	}

	sid, err := t.sessions.CreateSession(ctx, SessionWorkflow, req.WorkflowType, req.Command)
	if err != nil {
		return StartWorkflowResponse{}, err
	}

	inferred := t.seedInitialData(sid, def, req.InitialData)

	eng, err := NewEngine(def, t.wc, t.bus, sid,
		WithEngineSessions(t.sessions),
		WithEngineLogger(t.logger),
	)
	if err != nil {
		_ = t.sessions.EndSession(ctx, sid, "failed: "+err.Error())
		return StartWorkflowResponse{}, err
	}
	t.mu.Lock()
	t.engines[sid] = eng
	t.mu.Unlock()

	resp := StartWorkflowResponse{
		SessionID:             sid,
		WorkflowStepsOverview: eng.StepsOverview(),
		Inferred:              inferred,
	}

	if def.Mode == ModeBackground {
		if t.background == nil {
			_ = t.sessions.EndSession(ctx, sid, "failed: no background executor")
			return StartWorkflowResponse{}, wrapf(ErrBackgroundSubmit, "workflow %q declared background but no executor is wired", req.WorkflowType)
		}
		taskID, err := t.background.SubmitWorkflow(ctx, eng, req.WorkflowType, sid, map[string]any{"command": req.Command})
		if err != nil {
			_ = t.sessions.EndSession(ctx, sid, "failed: "+err.Error())
			return StartWorkflowResponse{}, err
		}
		if t.controller != nil {
			t.controller.TrackTask(taskID, req.WorkflowType, sid)
		}
		resp.TaskID = taskID
		resp.AutoContinue = true
		return resp, nil
	}

	entry := def.Steps[def.EntryPoint]
	if entry.Kind() == StepInteractive && !entry.ShouldSkip(t.wc, sid) {
		// The effective first step is the entry itself: no pre-flight work,
		// answer synchronously.
		eng.Start(ctx)
		resp.RequiresInput = true
		resp.CurrentStepPrompt = eng.GetPrompt()
		return resp, nil
	}

	// Pre-flight execution happens off the caller's goroutine; the engine
	// publishes WORKFLOW_REQUIRES_INPUT or the completion event on arrival.
	resp.AutoContinue = true
	if !t.runner.Submit(func(jobCtx context.Context) { eng.Start(jobCtx) }) {
		eng.Start(ctx)
		resp.AutoContinue = false
		resp.RequiresInput = eng.RequiresInput()
		resp.CurrentStepPrompt = eng.GetPrompt()
	}
	return resp, nil
}

// seedInitialData writes caller-provided data into the session's working
// context, then applies declared inference rules for parameters the caller
// omitted. Returns param -> reason for every inferred value.
func (t *ToolAPI) seedInitialData(sid string, def *WorkflowDefinition, initial map[string]any) map[string]string {
	for k, v := range initial {
		t.wc.Set(sid, k, v)
		_ = t.sessions.AddData(sid, k, v)
	}
	var inferred map[string]string
	for param, decl := range def.InitialParams {
		if t.wc.Has(sid, param) {
			continue
		}
		for _, rule := range decl.InferFrom {
			if rule.Condition != "exists" || !t.wc.Has(sid, rule.Param) {
				continue
			}
			t.wc.Set(sid, param, rule.Value)
			if inferred == nil {
				inferred = make(map[string]string)
			}
			inferred[param] = rule.Reason
			break
		}
	}
	return inferred
}

// --- continue_workflow ---

// ContinueWorkflowResponse mirrors the continue_workflow tool result.
type ContinueWorkflowResponse struct {
	Status        string
	RequiresInput bool
	Prompt        string
	Message       string
	Data          map[string]any
	LLMReviewData map[string]any
}

// ContinueWorkflow feeds user input (an empty string is valid input) into
// the session's engine.
func (t *ToolAPI) ContinueWorkflow(ctx context.Context, sessionID, userInput string) (ContinueWorkflowResponse, error) {
	eng, err := t.engine(sessionID)
	if err != nil {
		return ContinueWorkflowResponse{}, err
	}
	sess, ok := t.sessions.GetWorkflowSession(sessionID)
	if !ok || !sess.Status.IsActive() {
		return ContinueWorkflowResponse{}, wrapf(ErrSessionNotActive, "session %s", sessionID)
	}

	res := eng.ProcessInput(ctx, &userInput)
	return ContinueWorkflowResponse{
		Status:        statusWord(res, eng),
		RequiresInput: eng.RequiresInput(),
		Prompt:        eng.GetPrompt(),
		Message:       res.Message,
		Data:          res.Data,
		LLMReviewData: res.LLMReviewData,
	}, nil
}

// --- cancel_workflow ---

// CancelWorkflow cancels the session's workflow immediately at the engine;
// session teardown waits for the next cycle boundary.
func (t *ToolAPI) CancelWorkflow(ctx context.Context, sessionID, reason string) (ContinueWorkflowResponse, error) {
	eng, err := t.engine(sessionID)
	if err != nil {
		return ContinueWorkflowResponse{}, err
	}
	res := eng.Cancel(reason)
	return ContinueWorkflowResponse{Status: "cancelled", Message: res.Message}, nil
}

// --- LLM-review gating ---

// ApproveStep releases a held review gate, letting the engine advance.
func (t *ToolAPI) ApproveStep(ctx context.Context, sessionID string) (ContinueWorkflowResponse, error) {
	return t.review(ctx, sessionID, ReviewApprove, nil)
}

// ModifyStep writes modified parameters into the working context before
// releasing the gate.
func (t *ToolAPI) ModifyStep(ctx context.Context, sessionID string, modifiedParams map[string]any) (ContinueWorkflowResponse, error) {
	return t.review(ctx, sessionID, ReviewModify, modifiedParams)
}

// CancelStep rejects the held step and cancels the workflow.
func (t *ToolAPI) CancelStep(ctx context.Context, sessionID string) (ContinueWorkflowResponse, error) {
	return t.review(ctx, sessionID, ReviewCancel, nil)
}

func (t *ToolAPI) review(ctx context.Context, sessionID string, action ReviewAction, params map[string]any) (ContinueWorkflowResponse, error) {
	eng, err := t.engine(sessionID)
	if err != nil {
		return ContinueWorkflowResponse{}, err
	}
	res := eng.HandleLLMReviewResponse(ctx, action, params)
	return ContinueWorkflowResponse{
		Status:        statusWord(res, eng),
		RequiresInput: eng.RequiresInput(),
		Prompt:        eng.GetPrompt(),
		Message:       res.Message,
		Data:          res.Data,
		LLMReviewData: res.LLMReviewData,
	}, nil
}

// --- end_workflow_session / get_workflow_status ---

// EndWorkflowSession flags the session for finalization at the next cycle
// boundary, giving the LLM a turn to say goodbye first.
func (t *ToolAPI) EndWorkflowSession(sessionID, reason string) error {
	return t.sessions.MarkForEnd(sessionID, reason)
}

// GetWorkflowStatus reports the engine and session state for a workflow
// session.
func (t *ToolAPI) GetWorkflowStatus(sessionID string) (map[string]any, error) {
	eng, err := t.engine(sessionID)
	if err != nil {
		return nil, err
	}
	status := eng.Status()
	if sess, ok := t.sessions.GetWorkflowSession(sessionID); ok {
		status["session_status"] = string(sess.Status)
		status["pending_end"] = sess.PendingEnd
		status["command"] = sess.Command
	}
	return status, nil
}

func statusWord(res StepResult, eng *Engine) string {
	switch {
	case res.Cancel:
		return "cancelled"
	case res.Complete || eng.IsComplete():
		return "completed"
	case !res.Success:
		return "failed"
	case eng.IsAwaitingLLMReview():
		return "awaiting_llm_review"
	case res.RequiresLLMProcessing:
		return "awaiting_llm_processing"
	case eng.RequiresInput():
		return "awaiting_input"
	default:
		return "executing"
	}
}
