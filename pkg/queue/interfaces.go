// Package queue provides the asynchronous job queue that advances runs one
// node at a time. Jobs carry only identifiers; all state lives in storage.
package queue

import (
	"context"
	"time"
)

// Job is one pending node execution
type Job struct {
	// RunID of the run to advance
	RunID string `json:"run_id"`

	// NodeID to execute
	NodeID string `json:"node_id"`
}

// Handler processes one job. A returned error marks the job failed but is
// never redelivered; the engine owns failure semantics.
type Handler func(ctx context.Context, runID, nodeID string) error

// Scheduler is the queue abstraction the engine enqueues into
type Scheduler interface {
	// Enqueue schedules a node execution, optionally delayed. Delivery is
	// at least once.
	Enqueue(ctx context.Context, runID, nodeID string, delay time.Duration) error

	// Start launches the worker pool and begins delivering jobs to the
	// handler
	Start(handler Handler) error

	// Stop shuts the worker pool down and waits for in-flight jobs
	Stop()
}
