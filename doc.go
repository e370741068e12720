// Package cortex implements the orchestration core of a multi-modal
// assistant runtime: an event bus, a session manager for chatting and
// workflow sessions, a declarative workflow engine with conditional
// branching and LLM-review gating, a background workflow executor and
// monitoring thread pool, a scheduled-trigger driver for reminders,
// calendar, and TODO notifications, and the controller that sequences
// input/processing/output layer completions into discrete cycles.
//
// # Quick Start
//
// A process wires the pieces together and runs until a signal:
//
//	bus := cortex.NewEventBus()
//	sessions := cortex.NewSessionStore(bus)
//	ctl := cortex.NewController(bus, sessions)
//	bus.Start(ctx)
//	ctl.Start(ctx)
//
// # Core Components
//
//   - [EventBus] — typed pub/sub with ordered async delivery
//   - [SessionStore] — chatting/workflow session lifecycle, pending-end protocol
//   - [Context] — per-session and process-wide key/value scratchpad
//   - [WorkflowDefinition] / [Engine] — declarative step-graph interpretation
//   - [Controller] — cycle orchestration, layer-completion gating
//   - [Scheduler] — reminder/calendar/TODO notification staging
//   - [StateManager] — IDLE/WORK/CHAT/SLEEP finite state machine
//
// Speech-to-text, natural-language understanding, LLM inference,
// text-to-speech, long-term memory, and the user-facing surface are
// external collaborators; cortex only specifies the interfaces they
// implement ([Frontend], [ChatProvider], [IntentClassifier],
// [MemoryStore], [TTS], [SystemActionExecutor]) and the events/tool
// calls that cross the boundary. See cmd/cortexd for a reference
// wiring of the whole runtime.
package cortex
