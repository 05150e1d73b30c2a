package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried through the call chain in the context logger.
const (
	// FieldRequestID is the control-plane request ID (UUID)
	FieldRequestID = "request_id"

	// FieldTaskID is the batch task ID
	FieldTaskID = "task_id"

	// FieldWorkerID is the executor index inside the pool
	FieldWorkerID = "worker_id"

	// FieldIdentifier is the identifier currently being processed
	FieldIdentifier = "identifier"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldUserID is the caller that submitted the task
	FieldUserID = "user_id"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
	FieldState      = "state"
)
