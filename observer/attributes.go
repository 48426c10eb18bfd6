package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for gateway observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrStreamChunks = attribute.Key("llm.stream_chunks")

	AttrTaskID    = attribute.Key("task.id")
	AttrStepID    = attribute.Key("step.id")
	AttrStepKind  = attribute.Key("step.kind")
	AttrWorkKind  = attribute.Key("queue.work_kind")
	AttrCandidate = attribute.Key("selector.candidate_count")
)
