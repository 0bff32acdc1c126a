package storage

import (
	"sort"
	"sync"

	"github.com/tcmartin/triggerflow/pkg/models"
)

// MemoryProvider implements the Provider interface using in-memory storage
type MemoryProvider struct {
	workflowStore *MemoryWorkflowStore
	runStore      *MemoryRunStore
	logStore      *MemoryLogStore
	catalogStore  *MemoryCatalogStore
}

// NewMemoryProvider creates a new in-memory storage provider
func NewMemoryProvider() *MemoryProvider {
	workflows := NewMemoryWorkflowStore()
	runs := NewMemoryRunStore(workflows)
	logs := NewMemoryLogStore()
	workflows.runs = runs
	workflows.logs = logs

	return &MemoryProvider{
		workflowStore: workflows,
		runStore:      runs,
		logStore:      logs,
		catalogStore:  NewMemoryCatalogStore(),
	}
}

// Initialize sets up the storage backend
func (p *MemoryProvider) Initialize() error {
	// Nothing to initialize for in-memory storage
	return nil
}

// Close cleans up resources
func (p *MemoryProvider) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// GetWorkflowStore returns a store for workflow definitions
func (p *MemoryProvider) GetWorkflowStore() WorkflowStore {
	return p.workflowStore
}

// GetRunStore returns a store for run records
func (p *MemoryProvider) GetRunStore() RunStore {
	return p.runStore
}

// GetLogStore returns a store for run log entries
func (p *MemoryProvider) GetLogStore() LogStore {
	return p.logStore
}

// GetCatalogStore returns a store for action kind entries
func (p *MemoryProvider) GetCatalogStore() CatalogStore {
	return p.catalogStore
}

// MemoryWorkflowStore implements the WorkflowStore interface using in-memory storage
type MemoryWorkflowStore struct {
	workflows map[string]models.Workflow
	mu        sync.RWMutex

	// Set by the provider so DeleteWorkflow can cascade
	runs *MemoryRunStore
	logs *MemoryLogStore
}

// NewMemoryWorkflowStore creates a new in-memory workflow store
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{
		workflows: make(map[string]models.Workflow),
	}
}

// SaveWorkflow persists a workflow definition
func (s *MemoryWorkflowStore) SaveWorkflow(workflow models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[workflow.ID] = workflow
	return nil
}

// GetWorkflow retrieves a workflow definition
func (s *MemoryWorkflowStore) GetWorkflow(workflowID string) (models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workflow, ok := s.workflows[workflowID]
	if !ok {
		return models.Workflow{}, ErrWorkflowNotFound
	}
	return workflow, nil
}

// ListWorkflows returns all workflow definitions
func (s *MemoryWorkflowStore) ListWorkflows() ([]models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workflows := make([]models.Workflow, 0, len(s.workflows))
	for _, workflow := range s.workflows {
		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})
	return workflows, nil
}

// DeleteWorkflow removes a workflow and cascades to its runs and logs
func (s *MemoryWorkflowStore) DeleteWorkflow(workflowID string) error {
	s.mu.Lock()
	if _, ok := s.workflows[workflowID]; !ok {
		s.mu.Unlock()
		return ErrWorkflowNotFound
	}
	delete(s.workflows, workflowID)
	s.mu.Unlock()

	for _, runID := range s.runs.deleteByWorkflow(workflowID) {
		s.logs.deleteByRun(runID)
	}
	return nil
}

// MemoryRunStore implements the RunStore interface using in-memory storage
type MemoryRunStore struct {
	runs      map[string]models.Run
	mu        sync.RWMutex
	workflows *MemoryWorkflowStore
}

// NewMemoryRunStore creates a new in-memory run store
func NewMemoryRunStore(workflows *MemoryWorkflowStore) *MemoryRunStore {
	return &MemoryRunStore{
		runs:      make(map[string]models.Run),
		workflows: workflows,
	}
}

// CreateRun persists a new run record
func (s *MemoryRunStore) CreateRun(run models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run record
func (s *MemoryRunStore) GetRun(runID string) (models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return models.Run{}, ErrRunNotFound
	}
	return run, nil
}

// GetRunWithWorkflow retrieves a run together with its owning workflow
func (s *MemoryRunStore) GetRunWithWorkflow(runID string) (models.Run, models.Workflow, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return models.Run{}, models.Workflow{}, err
	}

	workflow, err := s.workflows.GetWorkflow(run.WorkflowID)
	if err != nil {
		return models.Run{}, models.Workflow{}, err
	}
	return run, workflow, nil
}

// UpdateRun applies a partial update to a run record
func (s *MemoryRunStore) UpdateRun(runID string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}

	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.CurrentNodeID != nil {
		run.CurrentNodeID = *update.CurrentNodeID
	}
	if update.StartedAt != nil {
		run.StartedAt = update.StartedAt
	}
	if update.FinishedAt != nil {
		run.FinishedAt = update.FinishedAt
	}

	s.runs[runID] = run
	return nil
}

// ListRuns returns runs newest first, optionally filtered by workflow
func (s *MemoryRunStore) ListRuns(workflowID string, limit int) ([]models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if workflowID != "" && run.WorkflowID != workflowID {
			continue
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// deleteByWorkflow removes all runs owned by a workflow and returns their IDs
func (s *MemoryRunStore) deleteByWorkflow(workflowID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []string
	for id, run := range s.runs {
		if run.WorkflowID == workflowID {
			delete(s.runs, id)
			deleted = append(deleted, id)
		}
	}
	return deleted
}

// MemoryLogStore implements the LogStore interface using in-memory storage
type MemoryLogStore struct {
	logs map[string][]models.LogEntry
	mu   sync.RWMutex
}

// NewMemoryLogStore creates a new in-memory log store
func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{
		logs: make(map[string][]models.LogEntry),
	}
}

// AppendLog persists a log entry
func (s *MemoryLogStore) AppendLog(entry models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[entry.RunID] = append(s.logs[entry.RunID], entry)
	return nil
}

// GetLogs retrieves all log entries for a run in append order
func (s *MemoryLogStore) GetLogs(runID string) ([]models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.logs[runID]
	out := make([]models.LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryLogStore) deleteByRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.logs, runID)
}

// MemoryCatalogStore implements the CatalogStore interface using in-memory storage
type MemoryCatalogStore struct {
	kinds map[string]models.ActionKind
	mu    sync.RWMutex
}

// NewMemoryCatalogStore creates a new in-memory catalog store
func NewMemoryCatalogStore() *MemoryCatalogStore {
	return &MemoryCatalogStore{
		kinds: make(map[string]models.ActionKind),
	}
}

// SaveActionKind persists an action kind entry
func (s *MemoryCatalogStore) SaveActionKind(kind models.ActionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kinds[kind.Key] = kind
	return nil
}

// GetActionKind retrieves an action kind by key
func (s *MemoryCatalogStore) GetActionKind(key string) (models.ActionKind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kind, ok := s.kinds[key]
	if !ok {
		return models.ActionKind{}, ErrActionKindNotFound
	}
	return kind, nil
}

// ListActionKinds returns all action kind entries
func (s *MemoryCatalogStore) ListActionKinds() ([]models.ActionKind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kinds := make([]models.ActionKind, 0, len(s.kinds))
	for _, kind := range s.kinds {
		kinds = append(kinds, kind)
	}

	sort.Slice(kinds, func(i, j int) bool {
		return kinds[i].Key < kinds[j].Key
	})
	return kinds, nil
}

// DeleteActionKind removes an action kind entry
func (s *MemoryCatalogStore) DeleteActionKind(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.kinds[key]; !ok {
		return ErrActionKindNotFound
	}
	delete(s.kinds, key)
	return nil
}
