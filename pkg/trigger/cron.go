package trigger

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tcmartin/triggerflow/pkg/storage"
)

// CronScheduler starts runs for workflows that declare a cron schedule.
// Reload resyncs the cron entries with the stored workflows; callers invoke
// it after every workflow mutation.
type CronScheduler struct {
	workflows storage.WorkflowStore
	starter   RunStarter

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewCronScheduler creates a cron scheduler
func NewCronScheduler(workflows storage.WorkflowStore, starter RunStarter) *CronScheduler {
	return &CronScheduler{
		workflows: workflows,
		starter:   starter,
		cron:      cron.New(),
		entries:   make(map[string]cron.EntryID),
	}
}

// Start begins firing schedules. Reload must have been called at least once
// for existing workflows to be picked up.
func (s *CronScheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Reload resyncs cron entries with the stored workflows
func (s *CronScheduler) Reload() error {
	workflows, err := s.workflows.ListWorkflows()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scheduled := make(map[string]bool)
	for _, workflow := range workflows {
		if workflow.Schedule == "" {
			continue
		}
		scheduled[workflow.ID] = true

		if _, ok := s.entries[workflow.ID]; ok {
			// Replace in case the expression changed
			s.cron.Remove(s.entries[workflow.ID])
			delete(s.entries, workflow.ID)
		}

		workflowID := workflow.ID
		entryID, err := s.cron.AddFunc(workflow.Schedule, func() {
			s.fire(workflowID)
		})
		if err != nil {
			log.Printf("invalid schedule for workflow %s: %v", workflowID, err)
			continue
		}
		s.entries[workflowID] = entryID
	}

	// Drop entries for deleted or unscheduled workflows
	for workflowID, entryID := range s.entries {
		if !scheduled[workflowID] {
			s.cron.Remove(entryID)
			delete(s.entries, workflowID)
		}
	}

	return nil
}

func (s *CronScheduler) fire(workflowID string) {
	payload := map[string]interface{}{
		"trigger":  "schedule",
		"fired_at": time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.starter.StartRun(context.Background(), workflowID, payload); err != nil {
		log.Printf("failed to start scheduled run for workflow %s: %v", workflowID, err)
	}
}
