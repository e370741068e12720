package cortex

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// --- Base step ---

// baseStep carries the identity fields every step template shares. Templates
// embed it and override the capability methods they care about.
type baseStep struct {
	id           string
	kind         StepKind
	description  string
	priority     StepPriority
	requirements []string
}

func (b *baseStep) ID() string                 { return b.id }
func (b *baseStep) Kind() StepKind             { return b.kind }
func (b *baseStep) Description() string        { return b.description }
func (b *baseStep) Priority() StepPriority     { return b.priority }
func (b *baseStep) Requirements() []string     { return b.requirements }
func (b *baseStep) GetPrompt(*Context, string) string { return "" }
func (b *baseStep) ShouldSkip(*Context, string) bool  { return false }

// Non-interactive steps advance without waiting by default; interactive
// templates override this to false.
func (b *baseStep) ShouldAutoAdvance(*Context, string) bool {
	return b.kind != StepInteractive
}

// StepOption configures identity fields common to all templates.
type StepOption func(*baseStep)

// WithPriority marks the step required or optional.
func WithPriority(p StepPriority) StepOption {
	return func(b *baseStep) { b.priority = p }
}

// WithRequirements declares the data keys the step needs before it can run.
func WithRequirements(keys ...string) StepOption {
	return func(b *baseStep) { b.requirements = append(b.requirements, keys...) }
}

func newBase(id string, kind StepKind, description string, opts []StepOption) baseStep {
	b := baseStep{id: id, kind: kind, description: description, priority: PriorityRequired}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// --- Input step (INTERACTIVE) ---

// InputStep waits for one piece of user input and stores it under DataKey.
// With skipIfDataExists, the step is satisfied by data already present in
// the working context — presence, not truthiness: an empty string counts.
type InputStep struct {
	baseStep
	prompt           string
	dataKey          string
	skipIfDataExists bool
	validate         func(string) error
}

// InputStepOption configures an InputStep beyond the shared StepOptions.
type InputStepOption func(*InputStep)

// SkipIfDataExists makes the step skippable when DataKey is already present.
func SkipIfDataExists() InputStepOption {
	return func(s *InputStep) { s.skipIfDataExists = true }
}

// WithValidation rejects input the validator returns an error for; the step
// stays current and re-prompts.
func WithValidation(fn func(string) error) InputStepOption {
	return func(s *InputStep) { s.validate = fn }
}

// NewInputStep creates an INTERACTIVE step prompting for dataKey.
func NewInputStep(id, description, prompt, dataKey string, opts ...InputStepOption) *InputStep {
	s := &InputStep{
		baseStep: newBase(id, StepInteractive, description, nil),
		prompt:   prompt,
		dataKey:  dataKey,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *InputStep) GetPrompt(*Context, string) string { return s.prompt }

func (s *InputStep) ShouldSkip(wc *Context, sessionID string) bool {
	return s.skipIfDataExists && wc.Has(sessionID, s.dataKey)
}

func (s *InputStep) ShouldAutoAdvance(*Context, string) bool { return false }

func (s *InputStep) Execute(_ context.Context, wc *Context, sessionID string, userInput *string) StepResult {
	if userInput == nil {
		if s.ShouldSkip(wc, sessionID) {
			v, _ := wc.Get(sessionID, s.dataKey)
			return SuccessResult(
				fmt.Sprintf("used existing data for %s", s.dataKey),
				map[string]any{s.dataKey: v},
			)
		}
		return FailureResult(fmt.Sprintf("%s: no input provided", s.id))
	}
	if s.validate != nil {
		if err := s.validate(*userInput); err != nil {
			res := SuccessResult(fmt.Sprintf("invalid input: %v", err), nil)
			res.ContinueCurrentStep = true
			return res
		}
	}
	wc.Set(sessionID, s.dataKey, *userInput)
	return SuccessResult(fmt.Sprintf("stored %s", s.dataKey), map[string]any{s.dataKey: *userInput})
}

// --- Selection step (INTERACTIVE) ---

// SelectionStep asks the user to choose one of a fixed set of options,
// accepted either by 1-based index or by (case-insensitive) name.
type SelectionStep struct {
	baseStep
	prompt           string
	dataKey          string
	options          []string
	skipIfDataExists bool
}

// NewSelectionStep creates an INTERACTIVE choose-one step.
func NewSelectionStep(id, description, prompt, dataKey string, options []string, skipIfDataExists bool) *SelectionStep {
	return &SelectionStep{
		baseStep:         newBase(id, StepInteractive, description, nil),
		prompt:           prompt,
		dataKey:          dataKey,
		options:          options,
		skipIfDataExists: skipIfDataExists,
	}
}

func (s *SelectionStep) GetPrompt(*Context, string) string {
	var b strings.Builder
	b.WriteString(s.prompt)
	for i, opt := range s.options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt)
	}
	return b.String()
}

func (s *SelectionStep) ShouldSkip(wc *Context, sessionID string) bool {
	return s.skipIfDataExists && wc.Has(sessionID, s.dataKey)
}

func (s *SelectionStep) ShouldAutoAdvance(*Context, string) bool { return false }

func (s *SelectionStep) Execute(_ context.Context, wc *Context, sessionID string, userInput *string) StepResult {
	if userInput == nil {
		if s.ShouldSkip(wc, sessionID) {
			v, _ := wc.Get(sessionID, s.dataKey)
			return SuccessResult(fmt.Sprintf("used existing data for %s", s.dataKey), map[string]any{s.dataKey: v})
		}
		return FailureResult(fmt.Sprintf("%s: no selection provided", s.id))
	}
	choice := strings.TrimSpace(*userInput)
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(s.options) {
		selected := s.options[n-1]
		wc.Set(sessionID, s.dataKey, selected)
		return SuccessResult(fmt.Sprintf("selected %s", selected), map[string]any{s.dataKey: selected})
	}
	for _, opt := range s.options {
		if strings.EqualFold(opt, choice) {
			wc.Set(sessionID, s.dataKey, opt)
			return SuccessResult(fmt.Sprintf("selected %s", opt), map[string]any{s.dataKey: opt})
		}
	}
	res := SuccessResult(fmt.Sprintf("%q is not one of the offered options", choice), nil)
	res.ContinueCurrentStep = true
	return res
}

// --- Confirmation step (INTERACTIVE) ---

// ConfirmationStep asks the user to confirm before a side effect proceeds.
// A negative answer cancels the workflow unless cancelOnDecline is false, in
// which case "confirmed" is recorded and transition guards route on it.
type ConfirmationStep struct {
	baseStep
	prompt          string
	cancelOnDecline bool
}

// NewConfirmationStep creates an INTERACTIVE yes/no gate.
func NewConfirmationStep(id, description, prompt string, cancelOnDecline bool) *ConfirmationStep {
	return &ConfirmationStep{
		baseStep:        newBase(id, StepInteractive, description, nil),
		prompt:          prompt,
		cancelOnDecline: cancelOnDecline,
	}
}

func (s *ConfirmationStep) GetPrompt(*Context, string) string { return s.prompt }

func (s *ConfirmationStep) ShouldAutoAdvance(*Context, string) bool { return false }

func (s *ConfirmationStep) Execute(_ context.Context, wc *Context, sessionID string, userInput *string) StepResult {
	if userInput == nil {
		res := FailureResult(fmt.Sprintf("%s: no confirmation provided", s.id))
		res.RequiresUserConfirmation = true
		return res
	}
	confirmed := isAffirmative(*userInput)
	wc.Set(sessionID, "confirmed", confirmed)
	if !confirmed && s.cancelOnDecline {
		return CancelWorkflow("cancelled: user declined confirmation")
	}
	msg := "confirmed"
	if !confirmed {
		msg = "declined"
	}
	return SuccessResult(msg, map[string]any{"confirmed": confirmed})
}

func isAffirmative(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "ok", "okay", "sure", "confirm", "ya":
		return true
	}
	return false
}

// --- Processing step (PROCESSING) ---

// ProcessingFunc is the self-contained computation a ProcessingStep runs.
type ProcessingFunc func(ctx context.Context, wc *Context, sessionID string) StepResult

// ProcessingStep runs a pure computation over the working context. It never
// waits for input and auto-advances.
type ProcessingStep struct {
	baseStep
	fn ProcessingFunc
}

// NewProcessingStep creates a PROCESSING step around fn.
func NewProcessingStep(id, description string, fn ProcessingFunc, opts ...StepOption) *ProcessingStep {
	return &ProcessingStep{baseStep: newBase(id, StepProcessing, description, opts), fn: fn}
}

func (s *ProcessingStep) Execute(ctx context.Context, wc *Context, sessionID string, _ *string) StepResult {
	for _, req := range s.requirements {
		if !wc.Has(sessionID, req) {
			if s.priority == PriorityOptional {
				return SuccessResult(fmt.Sprintf("skipped %s: %s absent", s.id, req), nil)
			}
			return FailureResult(fmt.Sprintf("missing required data %q", req))
		}
	}
	return s.fn(ctx, wc, sessionID)
}

// --- System step (SYSTEM) ---

// SystemStep performs a host-side side effect through a SystemActionExecutor.
// Parameters are gathered from the working context keys named in paramKeys;
// the executor's output lands under outputKey.
type SystemStep struct {
	baseStep
	executor  SystemActionExecutor
	action    string
	paramKeys []string
	outputKey string
}

// NewSystemStep creates a SYSTEM step delegating to executor.
func NewSystemStep(id, description string, executor SystemActionExecutor, action string, paramKeys []string, outputKey string, opts ...StepOption) *SystemStep {
	return &SystemStep{
		baseStep:  newBase(id, StepSystem, description, opts),
		executor:  executor,
		action:    action,
		paramKeys: paramKeys,
		outputKey: outputKey,
	}
}

func (s *SystemStep) Execute(ctx context.Context, wc *Context, sessionID string, _ *string) StepResult {
	params := make(map[string]any, len(s.paramKeys))
	for _, k := range s.paramKeys {
		v, ok := wc.Get(sessionID, k)
		if !ok {
			return FailureResult(fmt.Sprintf("missing required data %q", k))
		}
		params[k] = v
	}
	result, err := s.executor.Execute(ctx, s.action, params)
	if err != nil {
		return FailureResult(fmt.Sprintf("%s: %v", s.action, err))
	}
	data := map[string]any{}
	for k, v := range result.Data {
		data[k] = v
	}
	if s.outputKey != "" {
		wc.Set(sessionID, s.outputKey, result.Output)
		data[s.outputKey] = result.Output
	}
	return SuccessResult(fmt.Sprintf("executed %s", s.action), data)
}

// --- LLM-processing step (LLM_PROCESSING) ---

// LLMProcessingStep delegates work to the external LLM. Until the LLM writes
// OutputDataKey into the working context and re-drives the engine, Execute
// reports RequiresLLMProcessing and holds the workflow on this step.
type LLMProcessingStep struct {
	baseStep
	taskDescription string
	promptTemplate  string
	inputKeys       []string
	outputKey       string
}

// NewLLMProcessingStep creates an LLM_PROCESSING step writing outputKey.
func NewLLMProcessingStep(id, description, taskDescription, promptTemplate string, inputKeys []string, outputKey string, opts ...StepOption) *LLMProcessingStep {
	return &LLMProcessingStep{
		baseStep:        newBase(id, StepLLMProcessing, description, opts),
		taskDescription: taskDescription,
		promptTemplate:  promptTemplate,
		inputKeys:       inputKeys,
		outputKey:       outputKey,
	}
}

// BuildLLMRequest returns the envelope the external LLM acts on.
func (s *LLMProcessingStep) BuildLLMRequest(wc *Context, sessionID string) LLMRequest {
	input := make(map[string]any, len(s.inputKeys))
	for _, k := range s.inputKeys {
		if v, ok := wc.Get(sessionID, k); ok {
			input[k] = v
		}
	}
	return LLMRequest{
		TaskDescription: s.taskDescription,
		Prompt:          s.promptTemplate,
		InputData:       input,
		OutputDataKey:   s.outputKey,
		StepID:          s.id,
	}
}

func (s *LLMProcessingStep) Execute(_ context.Context, wc *Context, sessionID string, _ *string) StepResult {
	if v, ok := wc.Get(sessionID, s.outputKey); ok {
		return SuccessResult(fmt.Sprintf("llm output ready for %s", s.outputKey), map[string]any{s.outputKey: v})
	}
	res := SuccessResult(fmt.Sprintf("awaiting llm processing for %s", s.outputKey), nil)
	res.ContinueCurrentStep = true
	res.RequiresLLMProcessing = true
	return res
}

// --- Conditional step ---

// ConditionalStep selects a branch by the string value of a prior step's
// data key and runs the branch steps sequentially in-engine. If a branch
// step is INTERACTIVE and not skippable, execution pauses and the resume
// index is persisted so the next input continues from the unfinished branch
// step. An empty branch transitions immediately.
type ConditionalStep struct {
	baseStep
	selectorKey   string
	branches      map[string][]Step
	defaultBranch []Step
}

// NewConditionalStep creates a branch-on-value step.
func NewConditionalStep(id, description, selectorKey string, branches map[string][]Step, defaultBranch []Step) *ConditionalStep {
	return &ConditionalStep{
		baseStep:      newBase(id, StepProcessing, description, nil),
		selectorKey:   selectorKey,
		branches:      branches,
		defaultBranch: defaultBranch,
	}
}

func (s *ConditionalStep) resumeKey() string { return "_branch_resume:" + s.id }

func (s *ConditionalStep) selectBranch(wc *Context, sessionID string) []Step {
	v, ok := wc.Get(sessionID, s.selectorKey)
	if !ok {
		return s.defaultBranch
	}
	if branch, ok := s.branches[fmt.Sprintf("%v", v)]; ok {
		return branch
	}
	return s.defaultBranch
}

// GetPrompt surfaces the prompt of the branch step execution paused at.
func (s *ConditionalStep) GetPrompt(wc *Context, sessionID string) string {
	branch := s.selectBranch(wc, sessionID)
	if idx, ok := wc.Get(sessionID, s.resumeKey()); ok {
		if i, ok := idx.(int); ok && i < len(branch) {
			return branch[i].GetPrompt(wc, sessionID)
		}
	}
	return ""
}

func (s *ConditionalStep) Execute(ctx context.Context, wc *Context, sessionID string, userInput *string) StepResult {
	branch := s.selectBranch(wc, sessionID)
	if len(branch) == 0 {
		return SuccessResult(fmt.Sprintf("%s: empty branch", s.id), nil)
	}

	start := 0
	if idx, ok := wc.Get(sessionID, s.resumeKey()); ok {
		if i, ok := idx.(int); ok {
			start = i
		}
	}

	input := userInput
	for i := start; i < len(branch); i++ {
		step := branch[i]
		if step.Kind() == StepInteractive && !step.ShouldSkip(wc, sessionID) && input == nil {
			wc.Set(sessionID, s.resumeKey(), i)
			res := SuccessResult(step.GetPrompt(wc, sessionID), nil)
			res.ContinueCurrentStep = true
			return res
		}
		res := step.Execute(ctx, wc, sessionID, input)
		input = nil // user input feeds at most one branch step
		if res.Cancel || res.Complete || !res.Success {
			wc.Delete(sessionID, s.resumeKey())
			return res
		}
		if res.ContinueCurrentStep {
			wc.Set(sessionID, s.resumeKey(), i)
			res.ContinueCurrentStep = true
			return res
		}
	}
	wc.Delete(sessionID, s.resumeKey())
	return SuccessResult(fmt.Sprintf("%s: branch complete", s.id), nil)
}

// --- Loop step ---

// LoopStep re-runs a body computation until done reports true, staying on
// the current step via ContinueCurrentStep between iterations. maxIter
// bounds runaway loops; exceeding it fails the workflow.
type LoopStep struct {
	baseStep
	body    ProcessingFunc
	done    func(wc *Context, sessionID string) bool
	maxIter int
}

// NewLoopStep creates a loop over body bounded by maxIter (default 10).
func NewLoopStep(id, description string, body ProcessingFunc, done func(wc *Context, sessionID string) bool, maxIter int) *LoopStep {
	if maxIter <= 0 {
		maxIter = 10
	}
	return &LoopStep{
		baseStep: newBase(id, StepProcessing, description, nil),
		body:     body,
		done:     done,
		maxIter:  maxIter,
	}
}

func (s *LoopStep) iterKey() string { return "_loop_iter:" + s.id }

func (s *LoopStep) Execute(ctx context.Context, wc *Context, sessionID string, _ *string) StepResult {
	iter := 0
	if v, ok := wc.Get(sessionID, s.iterKey()); ok {
		if i, ok := v.(int); ok {
			iter = i
		}
	}
	if iter >= s.maxIter {
		wc.Delete(sessionID, s.iterKey())
		return FailureResult(fmt.Sprintf("%s: exceeded %d iterations", s.id, s.maxIter))
	}

	res := s.body(ctx, wc, sessionID)
	if res.Cancel || res.Complete || !res.Success {
		wc.Delete(sessionID, s.iterKey())
		return res
	}
	if s.done(wc, sessionID) {
		wc.Delete(sessionID, s.iterKey())
		return SuccessResult(fmt.Sprintf("%s: loop finished after %d iterations", s.id, iter+1), res.Data)
	}
	wc.Set(sessionID, s.iterKey(), iter+1)
	res.ContinueCurrentStep = true
	return res
}

// --- File-selection step (INTERACTIVE) ---

// FileIngestor turns a selected path or URL into text content. Backed by the
// ingest parsers (PDF extraction, readability) at wiring time; nil disables
// ingestion and the step only records the selection.
type FileIngestor interface {
	Ingest(ctx context.Context, pathOrURL string) (string, error)
}

// FileSelectionStep prompts for a file path (or URL). An empty string is a
// valid selection meaning "the whole folder" and is stored as-is. When an
// ingestor is configured and the selection is non-empty, the extracted
// content is stored under dataKey+"_content".
type FileSelectionStep struct {
	baseStep
	prompt           string
	dataKey          string
	skipIfDataExists bool
	ingestor         FileIngestor
}

// NewFileSelectionStep creates an INTERACTIVE file/URL selection step.
func NewFileSelectionStep(id, description, prompt, dataKey string, skipIfDataExists bool, ingestor FileIngestor) *FileSelectionStep {
	return &FileSelectionStep{
		baseStep:         newBase(id, StepInteractive, description, nil),
		prompt:           prompt,
		dataKey:          dataKey,
		skipIfDataExists: skipIfDataExists,
		ingestor:         ingestor,
	}
}

func (s *FileSelectionStep) GetPrompt(*Context, string) string { return s.prompt }

func (s *FileSelectionStep) ShouldSkip(wc *Context, sessionID string) bool {
	return s.skipIfDataExists && wc.Has(sessionID, s.dataKey)
}

func (s *FileSelectionStep) ShouldAutoAdvance(*Context, string) bool { return false }

func (s *FileSelectionStep) Execute(ctx context.Context, wc *Context, sessionID string, userInput *string) StepResult {
	var path string
	switch {
	case userInput != nil:
		path = strings.TrimSpace(*userInput)
		wc.Set(sessionID, s.dataKey, path)
	case s.ShouldSkip(wc, sessionID):
		v, _ := wc.Get(sessionID, s.dataKey)
		path = fmt.Sprintf("%v", v)
	default:
		return FailureResult(fmt.Sprintf("%s: no file selected", s.id))
	}

	data := map[string]any{s.dataKey: path}
	if s.ingestor != nil && path != "" {
		content, err := s.ingestor.Ingest(ctx, path)
		if err != nil {
			return FailureResult(fmt.Sprintf("ingest %s: %v", path, err))
		}
		wc.Set(sessionID, s.dataKey+"_content", content)
		data[s.dataKey+"_content"] = content
	}
	if userInput == nil {
		return SuccessResult(fmt.Sprintf("used existing data for %s", s.dataKey), data)
	}
	return SuccessResult(fmt.Sprintf("selected %s", displayPath(path)), data)
}

func displayPath(p string) string {
	if p == "" {
		return "the whole folder"
	}
	return p
}

// --- Periodic-check step ---

// CheckFunc performs one check of a condition. done ends the loop; a non-nil
// error fails this check but the caller (a monitor) may try again next tick.
type CheckFunc func(ctx context.Context, wc *Context, sessionID string) (done bool, message string, err error)

// PeriodicCheckStep performs one condition check per execution, staying
// current until the condition holds. Monitors and background workflows drive
// it repeatedly.
type PeriodicCheckStep struct {
	baseStep
	check CheckFunc
}

// NewPeriodicCheckStep creates a PROCESSING step around one check.
func NewPeriodicCheckStep(id, description string, check CheckFunc) *PeriodicCheckStep {
	return &PeriodicCheckStep{baseStep: newBase(id, StepProcessing, description, nil), check: check}
}

func (s *PeriodicCheckStep) Execute(ctx context.Context, wc *Context, sessionID string, _ *string) StepResult {
	done, msg, err := s.check(ctx, wc, sessionID)
	if err != nil {
		return FailureResult(fmt.Sprintf("%s: %v", s.id, err))
	}
	if done {
		return SuccessResult(msg, nil)
	}
	res := SuccessResult(msg, nil)
	res.ContinueCurrentStep = true
	return res
}

// --- Scheduled-trigger step (SYSTEM) ---

// ScheduledTriggerKind selects which scheduled entity a trigger step creates.
type ScheduledTriggerKind string

const (
	TriggerReminder ScheduledTriggerKind = "reminder"
	TriggerCalendar ScheduledTriggerKind = "calendar"
	TriggerTodo     ScheduledTriggerKind = "todo"
)

// ScheduledTriggerStep persists a reminder, calendar event, or TODO item so
// the scheduled-event driver fires it later. Time fields are parsed with
// dateparse, which accepts many absolute date/time layouts
// ("2026-08-02 14:00"); relative phrases such as "tomorrow" are not parsed
// and fail the step.
type ScheduledTriggerStep struct {
	baseStep
	store Store
	kind  ScheduledTriggerKind
}

// NewScheduledTriggerStep creates a SYSTEM step persisting one scheduled
// entity from working-context data.
func NewScheduledTriggerStep(id, description string, store Store, kind ScheduledTriggerKind) *ScheduledTriggerStep {
	return &ScheduledTriggerStep{
		baseStep: newBase(id, StepSystem, description, nil),
		store:    store,
		kind:     kind,
	}
}

func (s *ScheduledTriggerStep) Execute(ctx context.Context, wc *Context, sessionID string, _ *string) StepResult {
	switch s.kind {
	case TriggerReminder:
		return s.createReminder(ctx, wc, sessionID)
	case TriggerCalendar:
		return s.createCalendarEvent(ctx, wc, sessionID)
	case TriggerTodo:
		return s.createTodo(ctx, wc, sessionID)
	}
	return FailureResult(fmt.Sprintf("unknown trigger kind %q", s.kind))
}

func (s *ScheduledTriggerStep) createReminder(ctx context.Context, wc *Context, sessionID string) StepResult {
	msg := stringData(wc, sessionID, "reminder_message")
	fireAt, err := parseWhen(stringData(wc, sessionID, "reminder_time"))
	if err != nil {
		return FailureResult(fmt.Sprintf("reminder time: %v", err))
	}
	r := Reminder{
		ID:         NewID(),
		FireTime:   fireAt,
		Message:    msg,
		Recurrence: stringData(wc, sessionID, "reminder_recurrence"),
	}
	if err := s.store.CreateReminder(ctx, r); err != nil {
		return FailureResult(fmt.Sprintf("persist reminder: %v", err))
	}
	return SuccessResult(fmt.Sprintf("reminder set for %s", fireAt.Format(time.RFC3339)), map[string]any{"reminder_id": r.ID})
}

func (s *ScheduledTriggerStep) createCalendarEvent(ctx context.Context, wc *Context, sessionID string) StepResult {
	start, err := parseWhen(stringData(wc, sessionID, "event_start"))
	if err != nil {
		return FailureResult(fmt.Sprintf("event start: %v", err))
	}
	end := start.Add(time.Hour)
	if raw := stringData(wc, sessionID, "event_end"); raw != "" {
		if parsed, err := parseWhen(raw); err == nil {
			end = parsed
		}
	}
	now := time.Now()
	ev := CalendarEvent{
		ID:        NewID(),
		Summary:   stringData(wc, sessionID, "event_summary"),
		Start:     start,
		End:       end,
		Location:  stringData(wc, sessionID, "event_location"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateCalendarEvent(ctx, ev); err != nil {
		return FailureResult(fmt.Sprintf("persist calendar event: %v", err))
	}
	return SuccessResult(fmt.Sprintf("event %q scheduled", ev.Summary), map[string]any{"event_id": ev.ID})
}

func (s *ScheduledTriggerStep) createTodo(ctx context.Context, wc *Context, sessionID string) StepResult {
	now := time.Now()
	item := TodoItem{
		ID:          NewID(),
		Name:        stringData(wc, sessionID, "todo_name"),
		Description: stringData(wc, sessionID, "todo_description"),
		Priority:    todoPriorityOrDefault(stringData(wc, sessionID, "todo_priority")),
		Status:      TodoPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if raw := stringData(wc, sessionID, "todo_deadline"); raw != "" {
		deadline, err := parseWhen(raw)
		if err != nil {
			return FailureResult(fmt.Sprintf("todo deadline: %v", err))
		}
		item.Deadline = &deadline
	}
	if err := s.store.CreateTodo(ctx, item); err != nil {
		return FailureResult(fmt.Sprintf("persist todo: %v", err))
	}
	return SuccessResult(fmt.Sprintf("todo %q created", item.Name), map[string]any{"todo_id": item.ID})
}

func todoPriorityOrDefault(raw string) TodoPriority {
	switch TodoPriority(strings.ToLower(raw)) {
	case TodoHigh, TodoMedium, TodoLow:
		return TodoPriority(strings.ToLower(raw))
	}
	return TodoNone
}

// parseWhen parses a free-form time string into a concrete time.
func parseWhen(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	return dateparse.ParseLocal(raw)
}

func stringData(wc *Context, sessionID, key string) string {
	v, ok := wc.Get(sessionID, key)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// --- Monitor-creation step (SYSTEM) ---

// MonitorSubmitter is the slice of the monitoring pool a MonitorCreationStep
// needs: submit a monitor reconstructible from (workflowType, metadata).
type MonitorSubmitter interface {
	SubmitMonitor(ctx context.Context, workflowType string, metadata map[string]any, checkInterval time.Duration) (string, error)
}

// MonitorCreationStep hands a long-running check off to the monitoring pool
// and records the resulting task id in the working context.
type MonitorCreationStep struct {
	baseStep
	pool            MonitorSubmitter
	workflowType    string
	metadataKeys    []string
	defaultInterval time.Duration
}

// NewMonitorCreationStep creates a SYSTEM step submitting a monitor.
func NewMonitorCreationStep(id, description string, pool MonitorSubmitter, workflowType string, metadataKeys []string, defaultInterval time.Duration) *MonitorCreationStep {
	if defaultInterval <= 0 {
		defaultInterval = 30 * time.Second
	}
	return &MonitorCreationStep{
		baseStep:        newBase(id, StepSystem, description, nil),
		pool:            pool,
		workflowType:    workflowType,
		metadataKeys:    metadataKeys,
		defaultInterval: defaultInterval,
	}
}

func (s *MonitorCreationStep) Execute(ctx context.Context, wc *Context, sessionID string, _ *string) StepResult {
	metadata := make(map[string]any, len(s.metadataKeys))
	for _, k := range s.metadataKeys {
		if v, ok := wc.Get(sessionID, k); ok {
			metadata[k] = v
		}
	}
	interval := s.defaultInterval
	if raw := stringData(wc, sessionID, "check_interval"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			interval = d
		}
	}
	taskID, err := s.pool.SubmitMonitor(ctx, s.workflowType, metadata, interval)
	if err != nil {
		return FailureResult(fmt.Sprintf("submit monitor: %v", err))
	}
	wc.Set(sessionID, "monitor_task_id", taskID)
	return SuccessResult(fmt.Sprintf("monitor %s started", taskID), map[string]any{"monitor_task_id": taskID})
}

// --- Intervention step (SYSTEM) ---

// InterventionStep applies an operator action (edit, cancel, pause, resume)
// to a running background task and appends it to the append-only
// intervention log.
type InterventionStep struct {
	baseStep
	store Store
}

// NewInterventionStep creates a SYSTEM step applying one intervention.
func NewInterventionStep(id, description string, store Store) *InterventionStep {
	return &InterventionStep{baseStep: newBase(id, StepSystem, description, nil), store: store}
}

func (s *InterventionStep) Execute(ctx context.Context, wc *Context, sessionID string, _ *string) StepResult {
	taskID := stringData(wc, sessionID, "task_id")
	action := InterventionAction(stringData(wc, sessionID, "intervention_action"))
	if taskID == "" {
		return FailureResult("missing required data \"task_id\"")
	}

	var applyErr error
	switch action {
	case InterventionCancel:
		applyErr = s.store.UpdateBackgroundStatus(ctx, taskID, BackgroundCancelled, "")
	case InterventionPause:
		applyErr = s.store.UpdateBackgroundStatus(ctx, taskID, BackgroundSuspended, "")
	case InterventionResume:
		applyErr = s.store.UpdateBackgroundStatus(ctx, taskID, BackgroundRunning, "")
	case InterventionEdit:
		// Edit only records the parameter change; the monitor picks the new
		// metadata up from the record on its next check.
	default:
		return FailureResult(fmt.Sprintf("unknown intervention action %q", action))
	}

	result := "applied"
	if applyErr != nil {
		result = "failed: " + applyErr.Error()
	}
	params, _ := wc.Get(sessionID, "intervention_parameters")
	paramMap, _ := params.(map[string]any)
	iv := InterventionRecord{
		TaskID:      taskID,
		Action:      action,
		Parameters:  paramMap,
		PerformedAt: time.Now(),
		PerformedBy: sessionID,
		Result:      result,
	}
	if err := s.store.AppendIntervention(ctx, iv); err != nil {
		return FailureResult(fmt.Sprintf("record intervention: %v", err))
	}
	if applyErr != nil {
		return FailureResult(fmt.Sprintf("%s %s: %v", action, taskID, applyErr))
	}
	return SuccessResult(fmt.Sprintf("%s applied to %s", action, taskID), map[string]any{"task_id": taskID})
}
