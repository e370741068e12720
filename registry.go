package cortex

import (
	"fmt"
	"sync"
	"time"
)

// --- Declarative workflow configuration ---

// DeclarativeWorkflow is one entry of the workflow-types configuration
// file: everything about a workflow type except its step graph.
type DeclarativeWorkflow struct {
	Name                  string                   `toml:"name"`
	Description           string                   `toml:"description"`
	Mode                  string                   `toml:"workflow_mode"`
	RequiresLLMReview     bool                     `toml:"requires_llm_review"`
	AutoAdvanceOnApproval bool                     `toml:"auto_advance_on_approval"`
	InitialParams         map[string]DeclaredParam `toml:"initial_params"`
}

// DeclaredParam is the configuration-file form of InitialParam.
type DeclaredParam struct {
	MapsToStep string         `toml:"maps_to_step"`
	InferFrom  []DeclaredRule `toml:"infer_from"`
}

// DeclaredRule is the configuration-file form of InferRule.
type DeclaredRule struct {
	Param     string `toml:"param"`
	Condition string `toml:"condition"`
	Value     string `toml:"value"`
	Reason    string `toml:"reason"`
}

// DeclarativeStep is one node of the step-graph configuration file. Type
// selects the template; the remaining fields apply per template and
// unused ones are ignored.
type DeclarativeStep struct {
	ID          string `toml:"id"`
	Type        string `toml:"type"`
	Description string `toml:"description"`
	Priority    string `toml:"priority"`

	Prompt           string   `toml:"prompt"`
	DataKey          string   `toml:"data_key"`
	SkipIfDataExists bool     `toml:"skip_if_data_exists"`
	Options          []string `toml:"options"`
	CancelOnDecline  bool     `toml:"cancel_on_decline"`
	Requirements     []string `toml:"requirements"`

	// processing / periodic_check: name of a registered function.
	Handler string `toml:"handler"`

	// system
	Action    string   `toml:"action"`
	ParamKeys []string `toml:"param_keys"`
	OutputKey string   `toml:"output_key"`

	// llm_processing
	TaskDescription string   `toml:"task_description"`
	PromptTemplate  string   `toml:"prompt_template"`
	InputKeys       []string `toml:"input_keys"`

	// scheduled_trigger
	TriggerKind string `toml:"trigger_kind"`

	// monitor_creation
	MonitorType   string `toml:"monitor_type"`
	MetadataKeys  []string `toml:"metadata_keys"`
	CheckInterval string `toml:"check_interval"`

	// conditional
	SelectorKey string              `toml:"selector_key"`
	Branches    map[string][]string `toml:"branches"` // branch value -> step ids
}

// DeclarativeTransition is one edge of the step graph. An empty WhenKey is
// an unconditional edge; otherwise the edge is guarded on the step result
// carrying WhenKey == WhenValue.
type DeclarativeTransition struct {
	From      string `toml:"from"`
	To        string `toml:"to"`
	WhenKey   string `toml:"when_key"`
	WhenValue string `toml:"when_value"`
}

// DeclarativeGraph is the step-graph configuration file for one workflow
// type.
type DeclarativeGraph struct {
	EntryPoint  string                  `toml:"entry_point"`
	Steps       []DeclarativeStep       `toml:"steps"`
	Transitions []DeclarativeTransition `toml:"transitions"`
}

// --- Registry ---

// CompileDeps are the collaborator handles step templates need at compile
// time. Handlers and Checks let configuration name computation functions
// the host registers in code; everything else is passed straight into the
// corresponding template.
type CompileDeps struct {
	Store    Store
	Executor SystemActionExecutor
	Monitors MonitorSubmitter
	Ingestor FileIngestor
	Handlers map[string]ProcessingFunc
	Checks   map[string]CheckFunc
}

// Registry holds the compiled workflow definitions the core can start. It
// replaces any global definition table: tests build a fresh Registry per
// case.
type Registry struct {
	deps CompileDeps

	mu   sync.RWMutex
	defs map[string]*WorkflowDefinition
}

// NewRegistry creates an empty Registry compiling against deps.
func NewRegistry(deps CompileDeps) *Registry {
	return &Registry{deps: deps, defs: make(map[string]*WorkflowDefinition)}
}

// Register validates and stores a definition, replacing any previous one
// for the same workflow type.
func (r *Registry) Register(def *WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.WorkflowType] = def
	return nil
}

// Get returns the definition for workflowType.
func (r *Registry) Get(workflowType string) (*WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[workflowType]
	return def, ok
}

// Types returns the registered workflow type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	return out
}

// Compile turns a declarative workflow entry plus its step graph into an
// executable WorkflowDefinition and registers it. Conditional branches
// reference other declared steps by id; branch steps are excluded from the
// top-level step map (they run inside their conditional).
func (r *Registry) Compile(workflowType string, w DeclarativeWorkflow, g DeclarativeGraph) (*WorkflowDefinition, error) {
	compiled := make(map[string]Step, len(g.Steps))
	declared := make(map[string]DeclarativeStep, len(g.Steps))
	for _, ds := range g.Steps {
		if _, dup := declared[ds.ID]; dup {
			return nil, wrapf(ErrInvalidInput, "workflow %q: duplicate step id %q", workflowType, ds.ID)
		}
		declared[ds.ID] = ds
	}

	// Branch members are compiled inline under their conditional and left
	// out of the top-level graph.
	branchMember := make(map[string]bool)
	for _, ds := range g.Steps {
		for _, ids := range ds.Branches {
			for _, id := range ids {
				branchMember[id] = true
			}
		}
	}

	var build func(ds DeclarativeStep) (Step, error)
	build = func(ds DeclarativeStep) (Step, error) {
		switch ds.Type {
		case "input":
			var opts []InputStepOption
			if ds.SkipIfDataExists {
				opts = append(opts, SkipIfDataExists())
			}
			return NewInputStep(ds.ID, ds.Description, ds.Prompt, ds.DataKey, opts...), nil
		case "selection":
			return NewSelectionStep(ds.ID, ds.Description, ds.Prompt, ds.DataKey, ds.Options, ds.SkipIfDataExists), nil
		case "confirmation":
			return NewConfirmationStep(ds.ID, ds.Description, ds.Prompt, ds.CancelOnDecline), nil
		case "processing":
			fn, ok := r.deps.Handlers[ds.Handler]
			if !ok {
				return nil, wrapf(ErrInvalidInput, "step %q: unknown handler %q", ds.ID, ds.Handler)
			}
			opts := []StepOption{WithRequirements(ds.Requirements...)}
			if ds.Priority == string(PriorityOptional) {
				opts = append(opts, WithPriority(PriorityOptional))
			}
			return NewProcessingStep(ds.ID, ds.Description, fn, opts...), nil
		case "llm_processing":
			return NewLLMProcessingStep(ds.ID, ds.Description, ds.TaskDescription, ds.PromptTemplate, ds.InputKeys, ds.OutputKey), nil
		case "system":
			if r.deps.Executor == nil {
				return nil, wrapf(ErrInvalidInput, "step %q: no system action executor configured", ds.ID)
			}
			return NewSystemStep(ds.ID, ds.Description, r.deps.Executor, ds.Action, ds.ParamKeys, ds.OutputKey), nil
		case "file_selection":
			return NewFileSelectionStep(ds.ID, ds.Description, ds.Prompt, ds.DataKey, ds.SkipIfDataExists, r.deps.Ingestor), nil
		case "periodic_check":
			check, ok := r.deps.Checks[ds.Handler]
			if !ok {
				return nil, wrapf(ErrInvalidInput, "step %q: unknown check %q", ds.ID, ds.Handler)
			}
			return NewPeriodicCheckStep(ds.ID, ds.Description, check), nil
		case "scheduled_trigger":
			if r.deps.Store == nil {
				return nil, wrapf(ErrInvalidInput, "step %q: no store configured", ds.ID)
			}
			return NewScheduledTriggerStep(ds.ID, ds.Description, r.deps.Store, ScheduledTriggerKind(ds.TriggerKind)), nil
		case "monitor_creation":
			if r.deps.Monitors == nil {
				return nil, wrapf(ErrInvalidInput, "step %q: no monitor pool configured", ds.ID)
			}
			interval := time.Duration(0)
			if ds.CheckInterval != "" {
				d, err := time.ParseDuration(ds.CheckInterval)
				if err != nil {
					return nil, wrapf(ErrInvalidInput, "step %q: check_interval: %v", ds.ID, err)
				}
				interval = d
			}
			return NewMonitorCreationStep(ds.ID, ds.Description, r.deps.Monitors, ds.MonitorType, ds.MetadataKeys, interval), nil
		case "intervention":
			if r.deps.Store == nil {
				return nil, wrapf(ErrInvalidInput, "step %q: no store configured", ds.ID)
			}
			return NewInterventionStep(ds.ID, ds.Description, r.deps.Store), nil
		case "conditional":
			branches := make(map[string][]Step, len(ds.Branches))
			for value, ids := range ds.Branches {
				for _, id := range ids {
					member, ok := declared[id]
					if !ok {
						return nil, wrapf(ErrInvalidInput, "step %q: branch %q references unknown step %q", ds.ID, value, id)
					}
					inner, err := build(member)
					if err != nil {
						return nil, err
					}
					branches[value] = append(branches[value], inner)
				}
			}
			return NewConditionalStep(ds.ID, ds.Description, ds.SelectorKey, branches, nil), nil
		}
		return nil, wrapf(ErrInvalidInput, "step %q: unknown type %q", ds.ID, ds.Type)
	}

	for _, ds := range g.Steps {
		if branchMember[ds.ID] {
			continue
		}
		step, err := build(ds)
		if err != nil {
			return nil, err
		}
		compiled[ds.ID] = step
	}

	transitions := make(map[string][]Transition)
	for _, dt := range g.Transitions {
		t := Transition{To: dt.To}
		if dt.WhenKey != "" {
			key, value := dt.WhenKey, dt.WhenValue
			t.Guard = func(res StepResult) bool {
				return fmt.Sprintf("%v", res.Data[key]) == value
			}
		}
		transitions[dt.From] = append(transitions[dt.From], t)
	}

	def := &WorkflowDefinition{
		WorkflowType:          workflowType,
		Name:                  w.Name,
		Description:           w.Description,
		Mode:                  WorkflowMode(w.Mode),
		RequiresLLMReview:     w.RequiresLLMReview,
		AutoAdvanceOnApproval: w.AutoAdvanceOnApproval,
		Steps:                 compiled,
		Transitions:           transitions,
		EntryPoint:            g.EntryPoint,
		InitialParams:         compileParams(w.InitialParams),
	}
	if def.Mode == "" {
		def.Mode = ModeDirect
	}
	if err := r.Register(def); err != nil {
		return nil, err
	}
	return def, nil
}

func compileParams(in map[string]DeclaredParam) map[string]InitialParam {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]InitialParam, len(in))
	for name, p := range in {
		ip := InitialParam{MapsToStep: p.MapsToStep}
		for _, rule := range p.InferFrom {
			ip.InferFrom = append(ip.InferFrom, InferRule(rule))
		}
		out[name] = ip
	}
	return out
}
