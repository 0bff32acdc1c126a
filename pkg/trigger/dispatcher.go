// Package trigger matches inbound event payloads against workflow trigger
// rules and starts runs for the workflows that match.
package trigger

import (
	"context"
	"log"
	"sync"

	"github.com/tcmartin/triggerflow/pkg/rule"
	"github.com/tcmartin/triggerflow/pkg/storage"
)

// RunStarter starts a run for a workflow
type RunStarter interface {
	StartRun(ctx context.Context, workflowID string, input map[string]interface{}) (string, error)
}

// Dispatcher fans an event payload out to every workflow whose trigger rule
// matches it. One misbehaving workflow never blocks the others: rule
// failures evaluate to no-match and start errors are logged without
// retracting the match.
type Dispatcher struct {
	workflows storage.WorkflowStore
	starter   RunStarter
}

// NewDispatcher creates a dispatcher
func NewDispatcher(workflows storage.WorkflowStore, starter RunStarter) *Dispatcher {
	return &Dispatcher{workflows: workflows, starter: starter}
}

// Dispatch evaluates the payload against every workflow's trigger rule and
// starts a run per match. Returns the IDs of the workflows that matched.
func (d *Dispatcher) Dispatch(ctx context.Context, payload map[string]interface{}) ([]string, error) {
	workflows, err := d.workflows.ListWorkflows()
	if err != nil {
		return nil, err
	}

	var triggered []string
	var wg sync.WaitGroup

	for _, workflow := range workflows {
		if workflow.TriggerRule == nil {
			continue
		}
		if !rule.Evaluate(workflow.TriggerRule, payload) {
			continue
		}

		// The match is what the caller is told about; a failed start is
		// logged but does not retract it
		triggered = append(triggered, workflow.ID)

		wg.Add(1)
		go func(workflowID string) {
			defer wg.Done()

			if _, err := d.starter.StartRun(ctx, workflowID, payload); err != nil {
				log.Printf("failed to start run for workflow %s: %v", workflowID, err)
			}
		}(workflow.ID)
	}

	wg.Wait()
	return triggered, nil
}
