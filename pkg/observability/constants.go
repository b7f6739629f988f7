package observability

const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"
	AttrHandlerKind    = "handler.kind"
	AttrConnectionID   = "connection.id"
	AttrStepKind       = "step.kind"
	AttrLLMModel       = "llm.model"
	AttrErrorType      = "error.type"
	AttrStatusCode     = "http.status_code"

	SpanHandlerMake    = "handler.make"
	SpanHandlerExecute = "handler.execute"
	SpanStepExecution  = "orchestrator.step_execution"
	SpanLLMRequest     = "orchestrator.llm_request"

	DefaultServiceName = "queryagent"
)
