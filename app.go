package cortex

import (
	"context"
	"fmt"
	"log/slog"
)

// App is the root object that wires the orchestration core to its external
// collaborators: a Frontend, a ChatProvider, an IntentClassifier, a Store,
// and optionally memory and TTS modules. There are no package-level
// singletons — tests build a fresh App (or the individual pieces) per case.
type App struct {
	frontend   Frontend
	provider   ChatProvider
	classifier IntentClassifier
	store      Store
	memory     MemoryStore
	tts        TTS
	logger     *slog.Logger
	stateDir   string
	background BackgroundSubmitter

	bus        *EventBus
	sessions   *SessionStore
	wc         *Context
	registry   *Registry
	tools      *ToolAPI
	controller *Controller
	state      *StateManager
	scheduler  *Scheduler
}

// AppOption configures an App.
type AppOption func(*App)

func WithFrontend(f Frontend) AppOption            { return func(a *App) { a.frontend = f } }
func WithProvider(p ChatProvider) AppOption        { return func(a *App) { a.provider = p } }
func WithClassifier(c IntentClassifier) AppOption  { return func(a *App) { a.classifier = c } }
func WithStore(s Store) AppOption                  { return func(a *App) { a.store = s } }
func WithMemory(m MemoryStore) AppOption           { return func(a *App) { a.memory = m } }
func WithTTS(t TTS) AppOption                      { return func(a *App) { a.tts = t } }
func WithAppLogger(l *slog.Logger) AppOption       { return func(a *App) { a.logger = l } }
func WithAppStateDir(dir string) AppOption         { return func(a *App) { a.stateDir = dir } }
func WithAppRegistry(r *Registry) AppOption        { return func(a *App) { a.registry = r } }

// WithAppBus injects an externally built EventBus, for hosts that need to
// hand the bus to executor pools before building the App.
func WithAppBus(bus *EventBus) AppOption { return func(a *App) { a.bus = bus } }

// WithAppBackground wires the background workflow executor into the tool
// layer for workflow types declared workflow_mode = "background".
func WithAppBackground(b BackgroundSubmitter) AppOption {
	return func(a *App) { a.background = b }
}

// New creates an App with the given options and builds the core pieces
// around them. Collaborators are supplied only through these options; Run
// refuses to start without a Frontend, a ChatProvider, and a Store.
func New(opts ...AppOption) *App {
	a := &App{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	if a.bus == nil {
		a.bus = NewEventBus(WithEventBusLogger(a.logger))
	}
	a.sessions = NewSessionStore(a.bus, WithSessionLogger(a.logger))
	a.wc = NewContext()
	if a.registry == nil {
		a.registry = NewRegistry(CompileDeps{Store: a.store})
	}
	a.controller = NewController(a.bus, a.sessions,
		WithControllerLogger(a.logger),
		WithTaskRegistryPath(taskRegistryPath(a.stateDir)),
	)
	toolOpts := []ToolAPIOption{
		WithToolLogger(a.logger),
		WithController(a.controller),
	}
	if a.background != nil {
		toolOpts = append(toolOpts, WithBackground(a.background))
	}
	a.tools = NewToolAPI(a.bus, a.sessions, a.wc, a.registry, toolOpts...)
	a.state = NewStateManager(a.bus,
		WithStateLogger(a.logger),
		WithStateDir(a.stateDir),
	)
	if a.store != nil {
		a.scheduler = NewScheduler(a.store, a.bus, WithSchedulerLogger(a.logger))
	}
	return a
}

func taskRegistryPath(stateDir string) string {
	if stateDir == "" {
		return ""
	}
	return stateDir + "/background_tasks.json"
}

// Accessors for hosts wiring extra pieces (executor pools, observers).
func (a *App) Bus() *EventBus            { return a.bus }
func (a *App) Sessions() *SessionStore   { return a.sessions }
func (a *App) WorkingContext() *Context  { return a.wc }
func (a *App) Registry() *Registry       { return a.registry }
func (a *App) Tools() *ToolAPI           { return a.tools }
func (a *App) Controller() *Controller   { return a.controller }
func (a *App) StateManager() *StateManager { return a.state }
func (a *App) Scheduler() *Scheduler     { return a.scheduler }
func (a *App) Store() Store              { return a.store }

// Run starts the core and the frontend poll loop, blocking until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.frontend == nil || a.provider == nil || a.store == nil {
		return fmt.Errorf("app requires Frontend, ChatProvider, and Store")
	}
	if err := a.store.Init(ctx); err != nil {
		return fmt.Errorf("store init: %w", err)
	}

	a.bus.Start(ctx)
	defer a.bus.Stop()
	a.tools.Start(ctx)
	defer a.tools.Stop()
	a.controller.Start(ctx)

	if report, ok := a.state.RestoreSleepReport(); ok {
		a.logger.Info("previous process ended while asleep",
			"reason", report.Reason, "slept_at", report.SleptAt)
	}

	go a.scheduler.Run(ctx)

	msgs, err := a.frontend.Poll(ctx)
	if err != nil {
		return fmt.Errorf("frontend poll: %w", err)
	}

	a.logger.Info("cortex running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			go a.handleMessage(ctx, msg)
		}
	}
}

// handleMessage drives one exchange through the cycle discipline: input
// layer, processing layer (intent -> chat or workflow), output layer. The
// controller turns the three completions into CYCLE_STARTED/COMPLETED and
// the pending-end sweep.
func (a *App) handleMessage(ctx context.Context, msg InboundMessage) {
	if msg.Text == "" {
		return
	}
	_ = a.state.TransitionTo(ctx, StateChat, "user input")
	a.bus.Publish(ctx, InputLayerComplete, map[string]any{
		"chat_id": msg.ChatID,
		"text":    msg.Text,
	}, "input_module")

	reply := a.process(ctx, msg)
	a.bus.Publish(ctx, ProcessingLayerComplete, map[string]any{"chat_id": msg.ChatID}, "processing_module")

	if reply != "" {
		if err := a.frontend.Send(ctx, msg.ChatID, reply); err != nil {
			a.logger.Warn("frontend send", "error", err)
		}
		if a.tts != nil {
			if _, err := a.tts.Synthesize(ctx, reply); err != nil {
				a.logger.Warn("tts synthesize", "error", err)
			}
		}
	}
	a.bus.Publish(ctx, OutputLayerComplete, map[string]any{"chat_id": msg.ChatID}, "output_module")
	_ = a.state.TransitionTo(ctx, StateIdle, "exchange complete")
}

// process resolves the user's intent and either drives a workflow or holds
// a plain conversation turn.
func (a *App) process(ctx context.Context, msg InboundMessage) string {
	if a.classifier != nil {
		intent, err := a.classifier.Classify(ctx, msg.Text)
		if err == nil && intent.Name == "start_workflow" {
			workflowType, _ := intent.Slots["workflow_type"].(string)
			initial, _ := intent.Slots["initial_data"].(map[string]any)
			resp, err := a.tools.StartWorkflow(ctx, StartWorkflowRequest{
				WorkflowType: workflowType,
				Command:      msg.Text,
				InitialData:  initial,
			})
			if err != nil {
				return fmt.Sprintf("I couldn't start that: %v", err)
			}
			_ = a.state.TransitionTo(ctx, StateWork, "workflow started")
			if resp.RequiresInput {
				return resp.CurrentStepPrompt
			}
			return fmt.Sprintf("Started %s.", workflowType)
		}
		// Input addressed to an active workflow continues it.
		if err == nil && intent.Name == "continue_workflow" {
			if ids := a.sessions.GetActiveWorkflowSessionIDs(); len(ids) == 1 {
				resp, err := a.tools.ContinueWorkflow(ctx, ids[0], msg.Text)
				if err == nil {
					if resp.RequiresInput {
						return resp.Prompt
					}
					return resp.Message
				}
			}
		}
	}

	resp, err := a.provider.Complete(ctx, ChatRequest{
		Messages: []ChatMessage{
			SystemMessage("You are a helpful multi-modal assistant."),
			UserMessage(msg.Text),
		},
	})
	if err != nil {
		a.logger.Warn("llm call", "error", err)
		return "Sorry, I hit an error answering that."
	}
	return resp.Content
}
