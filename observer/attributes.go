package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for steward observability spans and metrics.
var (
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")

	AttrToolCount = attribute.Key("llm.tool_count")
	AttrToolNames = attribute.Key("llm.tool_names")

	AttrStreamFragments = attribute.Key("llm.stream_fragments")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolRisk         = attribute.Key("tool.risk")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrSessionID  = attribute.Key("session.id")
	AttrTurnStatus = attribute.Key("turn.status")
	AttrEventType  = attribute.Key("event.type")
)
