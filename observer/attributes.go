package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrStreamChunks = attribute.Key("llm.stream_chunks")

	AttrEventKind = attribute.Key("event.kind")

	AttrWorkflowType = attribute.Key("workflow.type")
	AttrStepID       = attribute.Key("workflow.step_id")
	AttrStepKind     = attribute.Key("workflow.step_kind")
	AttrStepStatus   = attribute.Key("workflow.step_status")

	AttrSessionID = attribute.Key("session.id")
	AttrTaskID    = attribute.Key("task.id")
)
