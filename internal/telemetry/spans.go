package telemetry

// Span names.
const (
	SpanExecute    = "sdd.execute"
	SpanHTTPPrefix = "http."
)

// Span attribute keys.
const (
	AttrExecutionID = "execution.id"
	AttrCommand     = "sdd.command"
	AttrTaskID      = "task.id"
	AttrProjectPath = "project.path"
	AttrResolution  = "sdd.resolution"
	AttrScriptPath  = "script.path"
	AttrOutcome     = "execution.outcome"
	AttrExitCode    = "process.exit_code"
	AttrDurationMS  = "execution.duration_ms"

	AttrHTTPMethod = "http.request.method"
	AttrHTTPRoute  = "http.route"
	AttrHTTPStatus = "http.response.status_code"
)
