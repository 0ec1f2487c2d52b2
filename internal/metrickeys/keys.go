package metrickeys

const (
	Prefix = "decider."

	// Log
	MessagesAppended = Prefix + "log.messages_appended"
	AppendTime       = Prefix + "log.append_time"
	StreamDeleted    = Prefix + "log.stream_deleted"

	// Dispatch
	CommandsDispatched  = Prefix + "dispatch.commands_dispatched"
	DispatchTime        = Prefix + "dispatch.time"
	DispatchFailed      = Prefix + "dispatch.failed"
	DuplicateSuppressed = Prefix + "dispatch.duplicate_suppressed"

	// Execution
	InputsExecuted = Prefix + "execute.inputs"
	ExecuteTime    = Prefix + "execute.time"
)

// Tag names
const (
	// Backend being used
	Backend = "backend"

	// CommandName is the variant tag of a dispatched command
	CommandName = "command"

	// WorkflowID of the affected instance
	WorkflowID = "workflow_id"
)
