package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tcmartin/triggerflow/pkg/executor"
	"github.com/tcmartin/triggerflow/pkg/models"
	"github.com/tcmartin/triggerflow/pkg/queue"
	"github.com/tcmartin/triggerflow/pkg/storage"
)

// Engine starts runs and advances them one node at a time. Process is the
// queue handler; all failure semantics live here, so a handler error never
// reaches the queue.
type Engine struct {
	runs      storage.RunStore
	workflows storage.WorkflowStore
	logs      storage.LogStore
	registry  *executor.Registry
	scheduler queue.Scheduler
	notifier  Notifier
}

// New creates an engine
func New(provider storage.Provider, registry *executor.Registry, scheduler queue.Scheduler, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Engine{
		runs:      provider.GetRunStore(),
		workflows: provider.GetWorkflowStore(),
		logs:      provider.GetLogStore(),
		registry:  registry,
		scheduler: scheduler,
		notifier:  notifier,
	}
}

// StartRun creates a run for a workflow and enqueues its entry nodes. The
// run is created PENDING, then flipped to RUNNING once the entry nodes are
// on the queue.
func (e *Engine) StartRun(ctx context.Context, workflowID string, input map[string]interface{}) (string, error) {
	workflow, err := e.workflows.GetWorkflow(workflowID)
	if err != nil {
		return "", err
	}

	run := models.Run{
		ID:         uuid.New().String(),
		WorkflowID: workflow.ID,
		Input:      input,
		Status:     models.RunStatusPending,
		CreatedAt:  time.Now(),
	}
	if err := e.runs.CreateRun(run); err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}

	for _, nodeID := range workflow.Graph.EntryNodes() {
		if err := e.scheduler.Enqueue(ctx, run.ID, nodeID, 0); err != nil {
			return "", fmt.Errorf("failed to enqueue entry node %s: %w", nodeID, err)
		}
	}

	running := models.RunStatusRunning
	startedAt := time.Now()
	if err := e.runs.UpdateRun(run.ID, storage.RunUpdate{
		Status:    &running,
		StartedAt: &startedAt,
	}); err != nil {
		return "", fmt.Errorf("failed to mark run running: %w", err)
	}
	e.notifier.RunStatusChanged(run.ID, models.RunStatusRunning)

	return run.ID, nil
}

// Process executes one node of one run. It is the queue handler. Executor
// failures fail the run and are absorbed; only infrastructure errors (run or
// node lookup) propagate to the queue's logging.
func (e *Engine) Process(ctx context.Context, runID, nodeID string) error {
	run, workflow, err := e.runs.GetRunWithWorkflow(runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	node, err := workflow.Graph.FindNode(nodeID)
	if err != nil {
		e.failRun(runID, nodeID, fmt.Errorf("node %s not in workflow %s", nodeID, workflow.ID))
		return nil
	}

	e.notifier.NodeStarted(runID, nodeID)

	// Best-effort progress marker; concurrent branches race on it
	if err := e.runs.UpdateRun(runID, storage.RunUpdate{CurrentNodeID: &nodeID}); err != nil {
		log.Printf("failed to update current node for run %s: %v", runID, err)
	}

	execCtx := &executor.Context{
		RunID:      runID,
		WorkflowID: workflow.ID,
		NodeID:     nodeID,
		Input:      run.Input,
		Bag:        map[string]interface{}{},
		Emit: func(level models.LogLevel, message string, details map[string]interface{}) {
			e.appendLog(runID, nodeID, level, message, details)
		},
		NextEdges: func(predicate string) []string {
			return workflow.Graph.OutgoingEdges(nodeID, predicate)
		},
	}

	result, err := e.executeNode(node, execCtx)
	if err != nil {
		e.failRun(runID, nodeID, err)
		return nil
	}

	switch result.Status {
	case executor.StatusWait:
		successors := result.Next
		if len(successors) == 0 {
			successors = workflow.Graph.OutgoingEdges(nodeID, "")
		}
		e.notifier.NodeCompleted(runID, nodeID, "WAIT")

		// No successor means nothing ever resumes; the run stays RUNNING
		if len(successors) == 0 {
			return nil
		}

		// Only the first successor resumes after the wait
		delay := time.Until(result.ResumeAt)
		if delay < 0 {
			delay = 0
		}
		if err := e.scheduler.Enqueue(ctx, runID, successors[0], delay); err != nil {
			e.failRun(runID, successors[0], fmt.Errorf("failed to enqueue resume: %w", err))
		}
		return nil

	case executor.StatusEnd:
		e.notifier.NodeCompleted(runID, nodeID, "OK")
		e.completeRun(runID)
		return nil

	default:
		e.notifier.NodeCompleted(runID, nodeID, "OK")

		successors := result.Next
		if len(successors) == 0 {
			successors = workflow.Graph.OutgoingEdges(nodeID, "")
		}
		if len(successors) == 0 {
			e.completeRun(runID)
			return nil
		}

		for _, next := range successors {
			if err := e.scheduler.Enqueue(ctx, runID, next, 0); err != nil {
				e.failRun(runID, next, fmt.Errorf("failed to enqueue node: %w", err))
				return nil
			}
		}
		return nil
	}
}

// executeNode resolves, validates, and executes one node
func (e *Engine) executeNode(node models.Node, ctx *executor.Context) (executor.Result, error) {
	exec, err := e.registry.Resolve(node.Type)
	if err != nil {
		return executor.Result{}, err
	}

	if err := exec.Validate(node.Config); err != nil {
		return executor.Result{}, err
	}

	result, err := exec.Execute(node.Config, ctx)
	if err != nil {
		return executor.Result{}, &executor.ExecutionError{NodeID: node.ID, Err: err}
	}
	return result, nil
}

// appendLog persists a log entry and notifies observers
func (e *Engine) appendLog(runID, nodeID string, level models.LogLevel, message string, details map[string]interface{}) {
	entry := models.LogEntry{
		RunID:     runID,
		NodeID:    nodeID,
		Level:     level,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
	if err := e.logs.AppendLog(entry); err != nil {
		log.Printf("failed to append log for run %s: %v", runID, err)
		return
	}
	e.notifier.LogAppended(entry)
}

// completeRun marks a run SUCCESS and clears the progress marker
func (e *Engine) completeRun(runID string) {
	success := models.RunStatusSuccess
	finishedAt := time.Now()
	empty := ""
	if err := e.runs.UpdateRun(runID, storage.RunUpdate{
		Status:        &success,
		CurrentNodeID: &empty,
		FinishedAt:    &finishedAt,
	}); err != nil {
		log.Printf("failed to complete run %s: %v", runID, err)
		return
	}
	e.notifier.RunStatusChanged(runID, models.RunStatusSuccess)
}

// failRun records the failure and marks the run FAILED
func (e *Engine) failRun(runID, nodeID string, cause error) {
	e.appendLog(runID, nodeID, models.LogLevelError, cause.Error(), nil)
	e.notifier.NodeCompleted(runID, nodeID, "ERROR")

	failed := models.RunStatusFailed
	finishedAt := time.Now()
	if err := e.runs.UpdateRun(runID, storage.RunUpdate{
		Status:     &failed,
		FinishedAt: &finishedAt,
	}); err != nil {
		log.Printf("failed to fail run %s: %v", runID, err)
		return
	}
	e.notifier.RunStatusChanged(runID, models.RunStatusFailed)
}
