package models

import "time"

// RunStatus represents the lifecycle state of a run
type RunStatus string

// Run statuses. SUCCESS and FAILED are terminal.
const (
	RunStatusPending RunStatus = "PENDING"
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// Terminal reports whether the status permits no further transitions
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// Run is one execution instance of a workflow against specific input
type Run struct {
	// ID of the run
	ID string `json:"id"`

	// WorkflowID is the owning workflow (read-only reference)
	WorkflowID string `json:"workflow_id"`

	// Input is the caller-supplied initial variable context
	Input map[string]interface{} `json:"input,omitempty"`

	// Status of the run
	Status RunStatus `json:"status"`

	// CurrentNodeID is a best-effort pointer to the most recently
	// dispatched node. Informational only: multiple nodes may be in
	// flight concurrently.
	CurrentNodeID string `json:"current_node_id,omitempty"`

	// CreatedAt is when the run record was created
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is set when the run transitions to RUNNING
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt is set when the run reaches a terminal state
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// LogLevel is the severity of a run log entry
type LogLevel string

// Log levels
const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is an append-only log record owned by a run
type LogEntry struct {
	// RunID of the owning run
	RunID string `json:"run_id"`

	// NodeID that produced the entry, if any
	NodeID string `json:"node_id,omitempty"`

	// Level of the entry
	Level LogLevel `json:"level"`

	// Message text
	Message string `json:"message"`

	// Details holds structured context for the entry
	Details map[string]interface{} `json:"details,omitempty"`

	// Timestamp of the entry
	Timestamp time.Time `json:"timestamp"`
}

// ActionKind is a data-driven description of a dynamically dispatched node
// kind, including the JSON schema its config must satisfy. Entries are
// read-only from the engine's perspective.
type ActionKind struct {
	// Key is the node-kind identifier looked up by the registry
	Key string `json:"key"`

	// Name is a human-readable label
	Name string `json:"name"`

	// ExecutorKind selects the adapter family that implements this kind
	// (e.g. "HTTP", "WAIT", "IF", "EMAIL", "NOTIFY", "TRANSFORM")
	ExecutorKind string `json:"executor_kind"`

	// ConfigSchema is a JSON Schema document describing valid node config
	ConfigSchema map[string]interface{} `json:"config_schema,omitempty"`

	// UISchema is optional presentation metadata
	UISchema map[string]interface{} `json:"ui_schema,omitempty"`

	// Defaults is optional default config values
	Defaults map[string]interface{} `json:"defaults,omitempty"`
}
