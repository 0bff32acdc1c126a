// Package executor defines the validate+execute contract behind every node
// kind, the built-in executors, and the registry that resolves a node type
// to an executor, including catalog-backed dynamic dispatch.
package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/tcmartin/triggerflow/pkg/models"
	"github.com/tcmartin/triggerflow/pkg/template"
)

// Dispatch errors
var (
	// ErrUnknownNodeType means a node's type has no built-in executor and
	// no catalog entry
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrUnsupportedExecutorKind means a catalog entry names no adapter
	// family at all
	ErrUnsupportedExecutorKind = errors.New("unsupported executor kind")

	// ErrExecutorNotImplemented means a catalog entry names an adapter
	// family that is not implemented yet
	ErrExecutorNotImplemented = errors.New("executor not implemented")
)

// ConfigValidationError reports a node config that failed validation,
// either against a catalog schema or a built-in shape requirement.
type ConfigValidationError struct {
	Detail string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed: " + e.Detail
}

// ExecutionError wraps an executor-specific failure raised during Execute
type ExecutionError struct {
	NodeID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %s execution failed: %v", e.NodeID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Status is the outcome variant of an execution step
type Status string

// Execution outcomes
const (
	// StatusOK advances the run along successor edges
	StatusOK Status = "OK"

	// StatusWait suspends the run and resumes at ResumeAt
	StatusWait Status = "WAIT"

	// StatusEnd forces the owning run to immediate success
	StatusEnd Status = "END"
)

// Result is what an executor returns from a successful Execute call
type Result struct {
	Status Status

	// Next optionally overrides the default successor set. Empty means
	// "fall back to the node's default outgoing edges".
	Next []string

	// ResumeAt is the resume instant for StatusWait results
	ResumeAt time.Time
}

// EmitFunc appends a structured log entry for the current node invocation
type EmitFunc func(level models.LogLevel, message string, details map[string]interface{})

// Context is the per-invocation environment handed to an executor
type Context struct {
	// RunID of the run being advanced
	RunID string

	// WorkflowID of the owning workflow
	WorkflowID string

	// NodeID being executed
	NodeID string

	// Input is the run's original caller-supplied input
	Input map[string]interface{}

	// Bag is a scratch scope for this single node invocation. It is not
	// shared across nodes and not persisted.
	Bag map[string]interface{}

	// Emit appends a log entry for this invocation
	Emit EmitFunc

	// NextEdges returns the outgoing target node IDs of the current node,
	// optionally filtered by edge predicate
	NextEdges func(predicate string) []string
}

// Scope returns the merged variable scope (input under bag) used by rule
// evaluation and template rendering.
func (c *Context) Scope() map[string]interface{} {
	return template.MergeScopes(c.Input, c.Bag)
}

// Executor is the capability pair implementing a node kind
type Executor interface {
	// Validate checks the node config shape before any side effect runs
	Validate(config map[string]interface{}) error

	// Execute runs the node and returns an outcome
	Execute(config map[string]interface{}, ctx *Context) (Result, error)
}
