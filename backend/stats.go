package backend

type Stats struct {
	// WorkflowStreams is the number of workflow streams with at least one
	// message
	WorkflowStreams int64

	// PendingCommands is the number of outbound commands across all streams
	// that have not been marked processed yet
	PendingCommands int64
}
