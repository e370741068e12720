package cortex

import (
	"context"
	"time"
)

// --- Event kinds (§6) ---

// EventKind identifies the closed enumeration of events the core publishes
// and consumes. Values are lowercase snake_case, matching the wire-visible
// names an external LLM/tool layer would log or route on.
type EventKind string

const (
	InputLayerComplete      EventKind = "input_layer_complete"
	ProcessingLayerComplete EventKind = "processing_layer_complete"
	OutputLayerComplete     EventKind = "output_layer_complete"

	ModuleInitialized EventKind = "module_initialized"
	ModuleReady       EventKind = "module_ready"
	ModuleError       EventKind = "module_error"
	ModuleBusy        EventKind = "module_busy"

	StateChanged EventKind = "state_changed"

	SessionStarted EventKind = "session_started"
	SessionEnded   EventKind = "session_ended"

	CycleStarted   EventKind = "cycle_started"
	CycleCompleted EventKind = "cycle_completed"

	WorkflowStepCompleted EventKind = "workflow_step_completed"
	WorkflowRequiresInput EventKind = "workflow_requires_input"
	WorkflowFailed        EventKind = "workflow_failed"

	BackgroundWorkflowCompleted EventKind = "background_workflow_completed"
	BackgroundWorkflowFailed    EventKind = "background_workflow_failed"
	BackgroundWorkflowCancelled EventKind = "background_workflow_cancelled"

	ReminderTriggered     EventKind = "reminder_triggered"
	CalendarEventStarting EventKind = "calendar_event_starting"
	TodoUpcoming          EventKind = "todo_upcoming"
	TodoOverdue           EventKind = "todo_overdue"

	SystemStartupReport  EventKind = "system_startup_report"
	MediaControlExecuted EventKind = "media_control_executed"

	SleepEntered EventKind = "sleep_entered"
	SleepExited  EventKind = "sleep_exited"
)

// Event is the immutable unit of pub/sub delivery. Data carries kind-specific
// payload (e.g. session_id, step_id, stage); Event is never mutated after
// Publish hands it to subscribers.
type Event struct {
	Kind      EventKind
	Data      map[string]any
	Source    string
	Timestamp time.Time
	ID        string
}

// --- Sessions (§3) ---

// SessionKind distinguishes conversational sessions from stepwise workflow
// sessions; at most one workflow session may be active at a time.
type SessionKind string

const (
	SessionChatting SessionKind = "chatting"
	SessionWorkflow SessionKind = "workflow"
)

// SessionStatus is the lifecycle status of a Session. A session is active
// iff its status is Ready, Executing, or Waiting.
type SessionStatus string

const (
	SessionReady     SessionStatus = "READY"
	SessionExecuting SessionStatus = "EXECUTING"
	SessionWaiting   SessionStatus = "WAITING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
	SessionFailed    SessionStatus = "FAILED"
)

// IsActive reports whether status ∈ {READY, EXECUTING, WAITING}.
func (s SessionStatus) IsActive() bool {
	switch s {
	case SessionReady, SessionExecuting, SessionWaiting:
		return true
	default:
		return false
	}
}

// Session is the common envelope for both chatting and workflow sessions.
// External callers receive lookup handles (copies returned by SessionStore
// accessors), never the live pointer — the store exclusively owns session
// state.
type Session struct {
	ID               string
	Kind             SessionKind
	Status           SessionStatus
	CreatedAt        time.Time
	LastActivity     time.Time
	SessionData      map[string]any
	Metadata         map[string]any
	PendingEnd       bool
	PendingEndReason string
}

// StepHistoryEntry records one executed workflow step for
// WorkflowSession.StepHistory.
type StepHistoryEntry struct {
	StepID        string
	ResultSummary string
	Timestamp     time.Time
}

// WorkflowSession extends Session with workflow-specific bookkeeping. Its
// Engine (see engine.go) exists only while the session is active and is
// destroyed at the same point the session is torn down.
type WorkflowSession struct {
	Session
	WorkflowType string
	Command      string
	StepHistory  []StepHistoryEntry
	CurrentStep  string
}

// --- Working Context (§3, §4.C) ---

// absentMarker is the sentinel type distinguishing "key absent" from "key
// present with a zero value" in the Working Context. An empty string is a
// valid step input (e.g. "play the whole folder"), so truthiness cannot be
// used to test presence.
type absentMarker struct{}

// Absent is a sentinel value standing for "absent", distinct from any real
// value including "". Context.Get does not return it: Get reports a missing
// key through its second return value (false).
var Absent = absentMarker{}

// --- Workflow definition & steps (§3, §4.D/E) ---

// WorkflowMode selects whether a workflow runs interactively (direct) or
// end-to-end without a human in the loop (background).
type WorkflowMode string

const (
	ModeDirect     WorkflowMode = "direct"
	ModeBackground WorkflowMode = "background"
)

// EndStep is the sentinel transition target meaning "the workflow is
// complete"; it is never a key in WorkflowDefinition.Steps.
const EndStep = "END"

// StepPriority marks whether a step's requirements must be satisfied for the
// workflow to proceed.
type StepPriority string

const (
	PriorityRequired StepPriority = "required"
	PriorityOptional StepPriority = "optional"
)

// StepKind names the four execution shapes a Step variant implements.
type StepKind string

const (
	StepInteractive   StepKind = "interactive"
	StepProcessing    StepKind = "processing"
	StepSystem        StepKind = "system"
	StepLLMProcessing StepKind = "llm_processing"
)

// Guard evaluates whether a transition should be taken, given the result of
// the step it follows.
type Guard func(StepResult) bool

// Transition is one edge out of a step: go to To if Guard is nil or returns
// true for the StepResult produced by the from-step.
type Transition struct {
	To    string
	Guard Guard
}

// Step is the polymorphic capability set every step template implements.
type Step interface {
	ID() string
	Kind() StepKind
	Description() string
	Priority() StepPriority
	Requirements() []string

	GetPrompt(wc *Context, sessionID string) string
	Execute(ctx context.Context, wc *Context, sessionID string, userInput *string) StepResult
	ShouldSkip(wc *Context, sessionID string) bool
	ShouldAutoAdvance(wc *Context, sessionID string) bool
}

// LLMRequestBuilder is implemented by LLM_PROCESSING steps; BuildLLMRequest
// returns the request envelope the engine publishes for the external LLM to
// act on and write back via OutputDataKey.
type LLMRequestBuilder interface {
	BuildLLMRequest(wc *Context, sessionID string) LLMRequest
}

// LLMRequest is the payload an LLM_PROCESSING step hands to the external LLM.
type LLMRequest struct {
	TaskDescription string
	Prompt          string
	InputData       map[string]any
	OutputDataKey   string
	StepID          string
}

// WorkflowDefinition is the declarative step graph a workflow type compiles
// to. Invariant: EntryPoint exists in Steps; every Transition target is
// either a key of Steps or EndStep.
type WorkflowDefinition struct {
	WorkflowType          string
	Name                  string
	Description           string
	Mode                  WorkflowMode
	RequiresLLMReview     bool
	AutoAdvanceOnApproval bool
	Steps                 map[string]Step
	Transitions           map[string][]Transition
	EntryPoint            string
	InitialParams         map[string]InitialParam
	Metadata              map[string]any
}

// InitialParam maps a start_workflow parameter onto the step data key it
// satisfies, with optional inference rules applied when the caller omits it.
type InitialParam struct {
	MapsToStep string
	InferFrom  []InferRule
}

// InferRule derives an initial parameter from another: when Param satisfies
// Condition (the closed set currently contains only "exists"), Value is
// used and Reason explains the inference in the start response.
type InferRule struct {
	Param     string
	Condition string
	Value     string
	Reason    string
}

// Validate checks the definition's invariants without compiling an Engine.
func (d *WorkflowDefinition) Validate() error {
	if d.EntryPoint == "" {
		return wrapf(ErrInvalidInput, "workflow %q: empty entry point", d.WorkflowType)
	}
	if _, ok := d.Steps[d.EntryPoint]; !ok {
		return wrapf(ErrInvalidInput, "workflow %q: entry point %q not in steps", d.WorkflowType, d.EntryPoint)
	}
	for from, transitions := range d.Transitions {
		if _, ok := d.Steps[from]; !ok {
			return wrapf(ErrInvalidInput, "workflow %q: transition source %q not a step", d.WorkflowType, from)
		}
		for _, t := range transitions {
			if t.To == EndStep {
				continue
			}
			if _, ok := d.Steps[t.To]; !ok {
				return wrapf(ErrInvalidInput, "workflow %q: transition target %q not a step or END", d.WorkflowType, t.To)
			}
		}
	}
	return nil
}

// --- StepResult (§3) ---

// StepResult is the outcome of executing one Step. Callers build one only
// through the five factory functions below (SuccessResult, FailureResult,
// CancelWorkflow, CompleteWorkflow, SkipTo).
type StepResult struct {
	Success                  bool
	Message                  string
	Data                     map[string]any
	Cancel                   bool
	Complete                 bool
	NextStep                 *string
	SkipToStep               *string
	ContinueCurrentStep      bool
	LLMReviewData            map[string]any
	RequiresUserConfirmation bool
	RequiresLLMProcessing    bool
}

// SuccessResult builds a successful, non-terminal StepResult.
func SuccessResult(message string, data map[string]any) StepResult {
	return StepResult{Success: true, Message: message, Data: data}
}

// FailureResult builds a failed StepResult; the engine stops advancing and
// the workflow publishes WorkflowFailed.
func FailureResult(message string) StepResult {
	return StepResult{Success: false, Message: message}
}

// CancelWorkflow builds a terminal, cancelling StepResult.
func CancelWorkflow(reason string) StepResult {
	return StepResult{Success: true, Cancel: true, Message: reason}
}

// CompleteWorkflow builds a terminal, successful StepResult.
func CompleteWorkflow(message string, data map[string]any) StepResult {
	return StepResult{Success: true, Complete: true, Message: message, Data: data}
}

// SkipTo builds a StepResult that jumps directly to the named step,
// bypassing normal transition resolution.
func SkipTo(stepID, message string, data map[string]any) StepResult {
	return StepResult{Success: true, Message: message, Data: data, SkipToStep: &stepID}
}

// --- Background workflow & intervention records (§3, §6) ---

// BackgroundStatus is the status enumeration for a persisted background
// workflow record; transitions form a DAG: QUEUED -> RUNNING -> {COMPLETED,
// FAILED, CANCELLED, SUSPENDED}; SUSPENDED -> RUNNING (restore).
type BackgroundStatus string

const (
	BackgroundQueued    BackgroundStatus = "QUEUED"
	BackgroundRunning   BackgroundStatus = "RUNNING"
	BackgroundCompleted BackgroundStatus = "COMPLETED"
	BackgroundFailed    BackgroundStatus = "FAILED"
	BackgroundCancelled BackgroundStatus = "CANCELLED"
	BackgroundSuspended BackgroundStatus = "SUSPENDED"
)

// BackgroundWorkflowRecord is the persisted state of a background task.
type BackgroundWorkflowRecord struct {
	TaskID            string
	WorkflowType      string
	TriggerConditions map[string]any
	Status            BackgroundStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastCheckAt       *time.Time
	NextCheckAt       *time.Time
	Metadata          map[string]any
	ErrorMessage      string
}

// InterventionAction names an operator action against a running background
// task, appended to the append-only intervention log.
type InterventionAction string

const (
	InterventionEdit   InterventionAction = "edit"
	InterventionCancel InterventionAction = "cancel"
	InterventionPause  InterventionAction = "pause"
	InterventionResume InterventionAction = "resume"
)

// InterventionRecord is one append-only entry in workflow_interventions.
type InterventionRecord struct {
	ID          int64
	TaskID      string
	Action      InterventionAction
	Parameters  map[string]any
	PerformedAt time.Time
	PerformedBy string
	Result      string
}

// --- Scheduled entities (§3, §6) ---

// Reminder is a fire_time/message pair. A one-shot reminder (empty
// Recurrence) is deleted once triggered; a recurring one is re-armed at the
// next occurrence its Recurrence schedule string names (see ComputeNextFire).
type Reminder struct {
	ID         string
	FireTime   time.Time
	Message    string
	Recurrence string
}

// NotificationStage is a discrete bucket of time-to-deadline at which a
// single notification is emitted, used to avoid duplicate reminders.
type NotificationStage string

const (
	StageNone        NotificationStage = ""
	Stage24hBefore   NotificationStage = "24h_before"
	Stage1hBefore    NotificationStage = "1h_before"
	Stage15minBefore NotificationStage = "15min_before"
	StageAtDeadline  NotificationStage = "at_deadline"
)

// CalendarEvent is a scheduled appointment staged for 24h/1h/15min-before
// notifications.
type CalendarEvent struct {
	ID                string
	Summary           string
	Description       string
	Start             time.Time
	End               time.Time
	Location          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastNotifiedAt    *time.Time
	LastNotifiedStage NotificationStage
}

// TodoPriority is a closed enumeration for TODO item priority.
type TodoPriority string

const (
	TodoHigh   TodoPriority = "high"
	TodoMedium TodoPriority = "medium"
	TodoLow    TodoPriority = "low"
	TodoNone   TodoPriority = "none"
)

// TodoStatus is a closed enumeration for TODO item status.
type TodoStatus string

const (
	TodoPending   TodoStatus = "pending"
	TodoCompleted TodoStatus = "completed"
)

// TodoItem is a deadline-bearing task staged for 24h/1h/at-deadline
// notifications.
type TodoItem struct {
	ID                string
	Name              string
	Description       string
	Priority          TodoPriority
	Status            TodoStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Deadline          *time.Time
	CompletedAt       *time.Time
	LastNotifiedAt    *time.Time
	LastNotifiedStage NotificationStage
}

// --- State Manager (§4.J) ---

// SystemState is one of the four coarse system states the State Manager
// tracks.
type SystemState string

const (
	StateIdle  SystemState = "IDLE"
	StateWork  SystemState = "WORK"
	StateChat  SystemState = "CHAT"
	StateSleep SystemState = "SLEEP"
)

// --- External collaborator interfaces (§6) ---
//
// These mirror the boundary the core has to the STT/NLP/LLM/TTS/memory/UI
// modules named out of scope in §1: only the interface is specified here,
// never an implementation of natural-language understanding, inference, or
// audio codecs.

// Frontend abstracts the user-facing surface (voice UI, chat client, CLI).
type Frontend interface {
	Poll(ctx context.Context) (<-chan InboundMessage, error)
	Send(ctx context.Context, chatID, text string) error
}

// InboundMessage is one message arriving from a Frontend.
type InboundMessage struct {
	ID     string
	ChatID string
	Text   string
}

// ChatProvider abstracts the LLM backend used for intent resolution,
// conversation, and LLM-review gating.
type ChatProvider interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Stream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error)
}

// ChatRequest/ChatResponse/ChatChunk are the minimal chat envelope the core
// needs to route intent classification, LLM-review gating, and closing
// narration through an external LLM; full multi-turn conversation shape is
// the collaborator's own concern.
type ChatRequest struct {
	Messages []ChatMessage
}

// ChatMessage is a single turn in a ChatRequest.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatResponse is a complete (non-streamed) LLM reply.
type ChatResponse struct {
	Content string
	Usage   Usage
}

// ChatChunk is one piece of a streamed ChatResponse.
type ChatChunk struct {
	Delta string
	Done  bool
}

// Usage records token accounting for a ChatProvider call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// UserMessage, SystemMessage, and AssistantMessage are ChatMessage
// constructors matching the three roles the core ever addresses directly.
func UserMessage(text string) ChatMessage      { return ChatMessage{Role: "user", Content: text} }
func SystemMessage(text string) ChatMessage    { return ChatMessage{Role: "system", Content: text} }
func AssistantMessage(text string) ChatMessage { return ChatMessage{Role: "assistant", Content: text} }

// Intent is the classifier's verdict on a piece of user input.
type Intent struct {
	Name       string
	Confidence float64
	Slots      map[string]any
}

// IntentClassifier abstracts the NLP module that decides whether input
// starts/continues a chat turn or a workflow command.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (Intent, error)
}

// Fact is one unit of long-term memory recall/write.
type Fact struct {
	ID         string
	Text       string
	Confidence float64
}

// MemoryStore abstracts the long-term memory module.
type MemoryStore interface {
	Remember(ctx context.Context, sessionID string, fact Fact) error
	Recall(ctx context.Context, sessionID, query string, k int) ([]Fact, error)
}

// TTS abstracts the text-to-speech module.
type TTS interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ActionResult is the outcome of a SystemActionExecutor.Execute call.
type ActionResult struct {
	Output string
	Data   map[string]any
}

// SystemActionExecutor abstracts host-side side effects a SYSTEM-kind step
// delegates to: media control, file operations, sandboxed code. See
// system.go for the sandbox-backed implementations.
type SystemActionExecutor interface {
	Execute(ctx context.Context, action string, params map[string]any) (ActionResult, error)
}
