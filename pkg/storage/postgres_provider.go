package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/tcmartin/triggerflow/pkg/models"
)

// PostgreSQLProvider implements the Provider interface using PostgreSQL
type PostgreSQLProvider struct {
	db            *sql.DB
	workflowStore *PostgreSQLWorkflowStore
	runStore      *PostgreSQLRunStore
	logStore      *PostgreSQLLogStore
	catalogStore  *PostgreSQLCatalogStore
}

// PostgreSQLProviderConfig contains configuration for the PostgreSQL provider
type PostgreSQLProviderConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewPostgreSQLProvider creates a new PostgreSQL storage provider
func NewPostgreSQLProvider(config PostgreSQLProviderConfig) (*PostgreSQLProvider, error) {
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	provider := &PostgreSQLProvider{db: db}
	provider.workflowStore = NewPostgreSQLWorkflowStore(db)
	provider.runStore = NewPostgreSQLRunStore(db)
	provider.logStore = NewPostgreSQLLogStore(db)
	provider.catalogStore = NewPostgreSQLCatalogStore(db)

	return provider, nil
}

// Initialize sets up the storage backend
func (p *PostgreSQLProvider) Initialize() error {
	if err := p.workflowStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize workflow store: %w", err)
	}

	if err := p.runStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize run store: %w", err)
	}

	if err := p.logStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize log store: %w", err)
	}

	if err := p.catalogStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize catalog store: %w", err)
	}

	return nil
}

// Close cleans up resources
func (p *PostgreSQLProvider) Close() error {
	return p.db.Close()
}

// GetWorkflowStore returns a store for workflow definitions
func (p *PostgreSQLProvider) GetWorkflowStore() WorkflowStore {
	return p.workflowStore
}

// GetRunStore returns a store for run records
func (p *PostgreSQLProvider) GetRunStore() RunStore {
	return p.runStore
}

// GetLogStore returns a store for run log entries
func (p *PostgreSQLProvider) GetLogStore() LogStore {
	return p.logStore
}

// GetCatalogStore returns a store for action kind entries
func (p *PostgreSQLProvider) GetCatalogStore() CatalogStore {
	return p.catalogStore
}

// PostgreSQLWorkflowStore implements the WorkflowStore interface using PostgreSQL
type PostgreSQLWorkflowStore struct {
	db *sql.DB
}

// NewPostgreSQLWorkflowStore creates a new PostgreSQL workflow store
func NewPostgreSQLWorkflowStore(db *sql.DB) *PostgreSQLWorkflowStore {
	return &PostgreSQLWorkflowStore{db: db}
}

// Initialize creates the workflows table if it doesn't exist
func (s *PostgreSQLWorkflowStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflows (
			workflow_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			graph JSONB NOT NULL,
			trigger_rule JSONB,
			schedule TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create workflows table: %w", err)
	}

	return nil
}

// SaveWorkflow persists a workflow definition
func (s *PostgreSQLWorkflowStore) SaveWorkflow(workflow models.Workflow) error {
	graph, err := json.Marshal(workflow.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	var rule []byte
	if workflow.TriggerRule != nil {
		rule, err = json.Marshal(workflow.TriggerRule)
		if err != nil {
			return fmt.Errorf("failed to marshal trigger rule: %w", err)
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO workflows (workflow_id, name, graph, trigger_rule, schedule, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workflow_id) DO UPDATE SET
			name = EXCLUDED.name,
			graph = EXCLUDED.graph,
			trigger_rule = EXCLUDED.trigger_rule,
			schedule = EXCLUDED.schedule,
			updated_at = EXCLUDED.updated_at
	`, workflow.ID, workflow.Name, graph, nullBytes(rule), nullString(workflow.Schedule),
		workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

// GetWorkflow retrieves a workflow definition
func (s *PostgreSQLWorkflowStore) GetWorkflow(workflowID string) (models.Workflow, error) {
	row := s.db.QueryRow(`
		SELECT workflow_id, name, graph, trigger_rule, schedule, created_at, updated_at
		FROM workflows WHERE workflow_id = $1
	`, workflowID)

	workflow, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return models.Workflow{}, ErrWorkflowNotFound
	}
	if err != nil {
		return models.Workflow{}, fmt.Errorf("failed to get workflow: %w", err)
	}
	return workflow, nil
}

// ListWorkflows returns all workflow definitions
func (s *PostgreSQLWorkflowStore) ListWorkflows() ([]models.Workflow, error) {
	rows, err := s.db.Query(`
		SELECT workflow_id, name, graph, trigger_rule, schedule, created_at, updated_at
		FROM workflows ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	workflows := []models.Workflow{}
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, workflow)
	}
	return workflows, rows.Err()
}

// DeleteWorkflow removes a workflow. Runs and logs cascade via foreign keys.
func (s *PostgreSQLWorkflowStore) DeleteWorkflow(workflowID string) error {
	result, err := s.db.Exec("DELETE FROM workflows WHERE workflow_id = $1", workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

// rowScanner abstracts sql.Row and sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (models.Workflow, error) {
	var workflow models.Workflow
	var graph []byte
	var rule []byte
	var schedule sql.NullString

	err := row.Scan(&workflow.ID, &workflow.Name, &graph, &rule, &schedule,
		&workflow.CreatedAt, &workflow.UpdatedAt)
	if err != nil {
		return models.Workflow{}, err
	}

	if err := json.Unmarshal(graph, &workflow.Graph); err != nil {
		return models.Workflow{}, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	if len(rule) > 0 {
		if err := json.Unmarshal(rule, &workflow.TriggerRule); err != nil {
			return models.Workflow{}, fmt.Errorf("failed to unmarshal trigger rule: %w", err)
		}
	}
	workflow.Schedule = schedule.String

	return workflow, nil
}

// PostgreSQLRunStore implements the RunStore interface using PostgreSQL
type PostgreSQLRunStore struct {
	db *sql.DB
}

// NewPostgreSQLRunStore creates a new PostgreSQL run store
func NewPostgreSQLRunStore(db *sql.DB) *PostgreSQLRunStore {
	return &PostgreSQLRunStore{db: db}
}

// Initialize creates the runs table if it doesn't exist
func (s *PostgreSQLRunStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES workflows (workflow_id) ON DELETE CASCADE,
			input JSONB,
			status TEXT NOT NULL,
			current_node_id TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS runs_workflow_id_idx ON runs (workflow_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	return nil
}

// CreateRun persists a new run record
func (s *PostgreSQLRunStore) CreateRun(run models.Run) error {
	var input []byte
	if run.Input != nil {
		var err error
		input, err = json.Marshal(run.Input)
		if err != nil {
			return fmt.Errorf("failed to marshal input: %w", err)
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, workflow_id, input, status, current_node_id, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.WorkflowID, nullBytes(input), string(run.Status),
		nullString(run.CurrentNodeID), run.CreatedAt, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run record
func (s *PostgreSQLRunStore) GetRun(runID string) (models.Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, workflow_id, input, status, current_node_id, created_at, started_at, finished_at
		FROM runs WHERE run_id = $1
	`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return models.Run{}, ErrRunNotFound
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetRunWithWorkflow retrieves a run joined with its owning workflow
func (s *PostgreSQLRunStore) GetRunWithWorkflow(runID string) (models.Run, models.Workflow, error) {
	row := s.db.QueryRow(`
		SELECT r.run_id, r.workflow_id, r.input, r.status, r.current_node_id,
			r.created_at, r.started_at, r.finished_at,
			w.workflow_id, w.name, w.graph, w.trigger_rule, w.schedule, w.created_at, w.updated_at
		FROM runs r
		JOIN workflows w ON w.workflow_id = r.workflow_id
		WHERE r.run_id = $1
	`, runID)

	var run models.Run
	var workflow models.Workflow
	var input, graph, rule []byte
	var currentNode, schedule sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&run.ID, &run.WorkflowID, &input, &run.Status, &currentNode,
		&run.CreatedAt, &startedAt, &finishedAt,
		&workflow.ID, &workflow.Name, &graph, &rule, &schedule,
		&workflow.CreatedAt, &workflow.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.Run{}, models.Workflow{}, ErrRunNotFound
	}
	if err != nil {
		return models.Run{}, models.Workflow{}, fmt.Errorf("failed to get run with workflow: %w", err)
	}

	if len(input) > 0 {
		if err := json.Unmarshal(input, &run.Input); err != nil {
			return models.Run{}, models.Workflow{}, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}
	run.CurrentNodeID = currentNode.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	if err := json.Unmarshal(graph, &workflow.Graph); err != nil {
		return models.Run{}, models.Workflow{}, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	if len(rule) > 0 {
		if err := json.Unmarshal(rule, &workflow.TriggerRule); err != nil {
			return models.Run{}, models.Workflow{}, fmt.Errorf("failed to unmarshal trigger rule: %w", err)
		}
	}
	workflow.Schedule = schedule.String

	return run, workflow, nil
}

// UpdateRun applies a partial update to a run record
func (s *PostgreSQLRunStore) UpdateRun(runID string, update RunUpdate) error {
	set := ""
	args := []interface{}{}

	appendSet := func(column string, value interface{}) {
		if set != "" {
			set += ", "
		}
		args = append(args, value)
		set += fmt.Sprintf("%s = $%d", column, len(args))
	}

	if update.Status != nil {
		appendSet("status", string(*update.Status))
	}
	if update.CurrentNodeID != nil {
		appendSet("current_node_id", nullString(*update.CurrentNodeID))
	}
	if update.StartedAt != nil {
		appendSet("started_at", *update.StartedAt)
	}
	if update.FinishedAt != nil {
		appendSet("finished_at", *update.FinishedAt)
	}

	if set == "" {
		return nil
	}

	args = append(args, runID)
	query := fmt.Sprintf("UPDATE runs SET %s WHERE run_id = $%d", set, len(args))

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs newest first, optionally filtered by workflow
func (s *PostgreSQLRunStore) ListRuns(workflowID string, limit int) ([]models.Run, error) {
	query := `
		SELECT run_id, workflow_id, input, status, current_node_id, created_at, started_at, finished_at
		FROM runs
	`
	args := []interface{}{}

	if workflowID != "" {
		query += " WHERE workflow_id = $1"
		args = append(args, workflowID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (models.Run, error) {
	var run models.Run
	var input []byte
	var currentNode sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&run.ID, &run.WorkflowID, &input, &run.Status, &currentNode,
		&run.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return models.Run{}, err
	}

	if len(input) > 0 {
		if err := json.Unmarshal(input, &run.Input); err != nil {
			return models.Run{}, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}
	run.CurrentNodeID = currentNode.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	return run, nil
}

// PostgreSQLLogStore implements the LogStore interface using PostgreSQL
type PostgreSQLLogStore struct {
	db *sql.DB
}

// NewPostgreSQLLogStore creates a new PostgreSQL log store
func NewPostgreSQLLogStore(db *sql.DB) *PostgreSQLLogStore {
	return &PostgreSQLLogStore{db: db}
}

// Initialize creates the run_logs table if it doesn't exist
func (s *PostgreSQLLogStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_logs (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
			node_id TEXT,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			details JSONB,
			ts TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS run_logs_run_id_idx ON run_logs (run_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create run_logs table: %w", err)
	}

	return nil
}

// AppendLog persists a log entry
func (s *PostgreSQLLogStore) AppendLog(entry models.LogEntry) error {
	var details []byte
	if entry.Details != nil {
		var err error
		details, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO run_logs (run_id, node_id, level, message, details, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.RunID, nullString(entry.NodeID), string(entry.Level), entry.Message,
		nullBytes(details), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}

	return nil
}

// GetLogs retrieves all log entries for a run in append order
func (s *PostgreSQLLogStore) GetLogs(runID string) ([]models.LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT run_id, node_id, level, message, details, ts
		FROM run_logs WHERE run_id = $1 ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	entries := []models.LogEntry{}
	for rows.Next() {
		var entry models.LogEntry
		var nodeID sql.NullString
		var details []byte

		if err := rows.Scan(&entry.RunID, &nodeID, &entry.Level, &entry.Message,
			&details, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		entry.NodeID = nodeID.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PostgreSQLCatalogStore implements the CatalogStore interface using PostgreSQL
type PostgreSQLCatalogStore struct {
	db *sql.DB
}

// NewPostgreSQLCatalogStore creates a new PostgreSQL catalog store
func NewPostgreSQLCatalogStore(db *sql.DB) *PostgreSQLCatalogStore {
	return &PostgreSQLCatalogStore{db: db}
}

// Initialize creates the action_kinds table if it doesn't exist
func (s *PostgreSQLCatalogStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS action_kinds (
			key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			executor_kind TEXT NOT NULL,
			config_schema JSONB,
			ui_schema JSONB,
			defaults JSONB
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create action_kinds table: %w", err)
	}

	return nil
}

// SaveActionKind persists an action kind entry
func (s *PostgreSQLCatalogStore) SaveActionKind(kind models.ActionKind) error {
	configSchema, err := marshalOptional(kind.ConfigSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal config schema: %w", err)
	}
	uiSchema, err := marshalOptional(kind.UISchema)
	if err != nil {
		return fmt.Errorf("failed to marshal ui schema: %w", err)
	}
	defaults, err := marshalOptional(kind.Defaults)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO action_kinds (key, name, executor_kind, config_schema, ui_schema, defaults)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			executor_kind = EXCLUDED.executor_kind,
			config_schema = EXCLUDED.config_schema,
			ui_schema = EXCLUDED.ui_schema,
			defaults = EXCLUDED.defaults
	`, kind.Key, kind.Name, kind.ExecutorKind, nullBytes(configSchema),
		nullBytes(uiSchema), nullBytes(defaults))
	if err != nil {
		return fmt.Errorf("failed to save action kind: %w", err)
	}

	return nil
}

// GetActionKind retrieves an action kind by key
func (s *PostgreSQLCatalogStore) GetActionKind(key string) (models.ActionKind, error) {
	row := s.db.QueryRow(`
		SELECT key, name, executor_kind, config_schema, ui_schema, defaults
		FROM action_kinds WHERE key = $1
	`, key)

	kind, err := scanActionKind(row)
	if err == sql.ErrNoRows {
		return models.ActionKind{}, ErrActionKindNotFound
	}
	if err != nil {
		return models.ActionKind{}, fmt.Errorf("failed to get action kind: %w", err)
	}
	return kind, nil
}

// ListActionKinds returns all action kind entries
func (s *PostgreSQLCatalogStore) ListActionKinds() ([]models.ActionKind, error) {
	rows, err := s.db.Query(`
		SELECT key, name, executor_kind, config_schema, ui_schema, defaults
		FROM action_kinds ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list action kinds: %w", err)
	}
	defer rows.Close()

	kinds := []models.ActionKind{}
	for rows.Next() {
		kind, err := scanActionKind(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action kind: %w", err)
		}
		kinds = append(kinds, kind)
	}
	return kinds, rows.Err()
}

// DeleteActionKind removes an action kind entry
func (s *PostgreSQLCatalogStore) DeleteActionKind(key string) error {
	result, err := s.db.Exec("DELETE FROM action_kinds WHERE key = $1", key)
	if err != nil {
		return fmt.Errorf("failed to delete action kind: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrActionKindNotFound
	}
	return nil
}

func scanActionKind(row rowScanner) (models.ActionKind, error) {
	var kind models.ActionKind
	var configSchema, uiSchema, defaults []byte

	err := row.Scan(&kind.Key, &kind.Name, &kind.ExecutorKind,
		&configSchema, &uiSchema, &defaults)
	if err != nil {
		return models.ActionKind{}, err
	}

	if len(configSchema) > 0 {
		if err := json.Unmarshal(configSchema, &kind.ConfigSchema); err != nil {
			return models.ActionKind{}, fmt.Errorf("failed to unmarshal config schema: %w", err)
		}
	}
	if len(uiSchema) > 0 {
		if err := json.Unmarshal(uiSchema, &kind.UISchema); err != nil {
			return models.ActionKind{}, fmt.Errorf("failed to unmarshal ui schema: %w", err)
		}
	}
	if len(defaults) > 0 {
		if err := json.Unmarshal(defaults, &kind.Defaults); err != nil {
			return models.ActionKind{}, fmt.Errorf("failed to unmarshal defaults: %w", err)
		}
	}

	return kind, nil
}

func marshalOptional(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// nullString maps "" to SQL NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullBytes maps an empty slice to SQL NULL
func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
