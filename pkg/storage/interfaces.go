// Package storage provides interfaces for persistent storage.
package storage

import (
	"errors"
	"time"

	"github.com/tcmartin/triggerflow/pkg/models"
)

// Errors returned by storage backends
var (
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrRunNotFound        = errors.New("run not found")
	ErrActionKindNotFound = errors.New("action kind not found")
)

// Provider defines the interface for persistence backends
type Provider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// GetWorkflowStore returns a store for workflow definitions
	GetWorkflowStore() WorkflowStore

	// GetRunStore returns a store for run records
	GetRunStore() RunStore

	// GetLogStore returns a store for run log entries
	GetLogStore() LogStore

	// GetCatalogStore returns a store for action kind entries
	GetCatalogStore() CatalogStore
}

// WorkflowStore manages workflow definition persistence
type WorkflowStore interface {
	// SaveWorkflow persists a workflow definition, creating or replacing it
	SaveWorkflow(workflow models.Workflow) error

	// GetWorkflow retrieves a workflow definition
	GetWorkflow(workflowID string) (models.Workflow, error)

	// ListWorkflows returns all workflow definitions
	ListWorkflows() ([]models.Workflow, error)

	// DeleteWorkflow removes a workflow and cascades to its runs and logs
	DeleteWorkflow(workflowID string) error
}

// RunUpdate carries the mutable run fields. Nil fields are left untouched;
// a pointer to the empty string clears CurrentNodeID.
type RunUpdate struct {
	Status        *models.RunStatus
	CurrentNodeID *string
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// RunStore manages run record persistence
type RunStore interface {
	// CreateRun persists a new run record
	CreateRun(run models.Run) error

	// GetRun retrieves a run record
	GetRun(runID string) (models.Run, error)

	// GetRunWithWorkflow retrieves a run together with its owning workflow
	GetRunWithWorkflow(runID string) (models.Run, models.Workflow, error)

	// UpdateRun applies a partial update to a run record
	UpdateRun(runID string, update RunUpdate) error

	// ListRuns returns runs newest first, optionally filtered by workflow.
	// A limit of 0 means no limit.
	ListRuns(workflowID string, limit int) ([]models.Run, error)
}

// LogStore manages run log persistence
type LogStore interface {
	// AppendLog persists a log entry
	AppendLog(entry models.LogEntry) error

	// GetLogs retrieves all log entries for a run in append order
	GetLogs(runID string) ([]models.LogEntry, error)
}

// CatalogStore manages action kind persistence
type CatalogStore interface {
	// SaveActionKind persists an action kind entry, creating or replacing it
	SaveActionKind(kind models.ActionKind) error

	// GetActionKind retrieves an action kind by key
	GetActionKind(key string) (models.ActionKind, error)

	// ListActionKinds returns all action kind entries
	ListActionKinds() ([]models.ActionKind, error)

	// DeleteActionKind removes an action kind entry
	DeleteActionKind(key string) error
}
