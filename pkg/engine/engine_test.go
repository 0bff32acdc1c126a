package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/triggerflow/pkg/executor"
	"github.com/tcmartin/triggerflow/pkg/models"
	"github.com/tcmartin/triggerflow/pkg/queue"
	"github.com/tcmartin/triggerflow/pkg/storage"
	"github.com/tcmartin/triggerflow/pkg/utils"
)

// enqueued is one captured scheduler call
type enqueued struct {
	RunID  string
	NodeID string
	Delay  time.Duration
}

// fakeScheduler records enqueues so tests can drive Process by hand
type fakeScheduler struct {
	mu   sync.Mutex
	jobs []enqueued
}

func (s *fakeScheduler) Enqueue(ctx context.Context, runID, nodeID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, enqueued{RunID: runID, NodeID: nodeID, Delay: delay})
	return nil
}

func (s *fakeScheduler) Start(handler queue.Handler) error {
	return nil
}

func (s *fakeScheduler) Stop() {}

func (s *fakeScheduler) pop() (enqueued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return enqueued{}, false
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	return job, true
}

func (s *fakeScheduler) all() []enqueued {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]enqueued, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func newTestEngine(t *testing.T, workflow models.Workflow) (*Engine, *fakeScheduler, storage.Provider) {
	t.Helper()

	provider := storage.NewMemoryProvider()
	require.NoError(t, provider.GetWorkflowStore().SaveWorkflow(workflow))

	scheduler := &fakeScheduler{}
	registry := executor.NewRegistry(utils.NewHTTPClient(), provider.GetCatalogStore())
	eng := New(provider, registry, scheduler, nil)
	return eng, scheduler, provider
}

// drain processes queued jobs until the queue is empty
func drain(t *testing.T, eng *Engine, scheduler *fakeScheduler) {
	t.Helper()
	for i := 0; i < 100; i++ {
		job, ok := scheduler.pop()
		if !ok {
			return
		}
		require.NoError(t, eng.Process(context.Background(), job.RunID, job.NodeID))
	}
	t.Fatal("queue did not drain")
}

func notifyNode(id, message string) models.Node {
	return models.Node{ID: id, Type: "NOTIFY", Config: map[string]interface{}{"message": message}}
}

func TestStartRunEnqueuesEntryNodes(t *testing.T) {
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{
				notifyNode("n1", "a"),
				notifyNode("n2", "b"),
				notifyNode("n3", "c"),
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "n1", Target: "n3"},
			},
		},
	}
	eng, scheduler, provider := newTestEngine(t, workflow)

	runID, err := eng.StartRun(context.Background(), "wf-1", map[string]interface{}{"x": 1})
	require.NoError(t, err)

	run, err := provider.GetRunStore().GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	require.NotNil(t, run.StartedAt)

	// n3 is a target, so only n1 and n2 are entry nodes
	jobs := scheduler.all()
	require.Len(t, jobs, 2)
	assert.Equal(t, "n1", jobs[0].NodeID)
	assert.Equal(t, "n2", jobs[1].NodeID)
	assert.Equal(t, time.Duration(0), jobs[0].Delay)
}

func TestStartRunUnknownWorkflow(t *testing.T) {
	eng, _, _ := newTestEngine(t, models.Workflow{ID: "wf-1"})

	_, err := eng.StartRun(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, storage.ErrWorkflowNotFound)
}

func TestProcessAdvancesAlongDefaultEdges(t *testing.T) {
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{
				notifyNode("n1", "first"),
				notifyNode("n2", "second"),
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "n1", Target: "n2"},
			},
		},
	}
	eng, scheduler, provider := newTestEngine(t, workflow)

	runID, err := eng.StartRun(context.Background(), "wf-1", nil)
	require.NoError(t, err)
	drain(t, eng, scheduler)

	run, err := provider.GetRunStore().GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Empty(t, run.CurrentNodeID)
	require.NotNil(t, run.FinishedAt)

	logs, err := provider.GetLogStore().GetLogs(runID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "NOTIFY console: first", logs[0].Message)
	assert.Equal(t, "NOTIFY console: second", logs[1].Message)
}

func TestProcessBranchesOnIf(t *testing.T) {
	// n1 NOTIFY -> n2 WAIT 0s -> n3 IF x>10 -> then n4 / else n5
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{
				notifyNode("n1", "start"),
				{ID: "n2", Type: "WAIT", Config: map[string]interface{}{"seconds": float64(0)}},
				{ID: "n3", Type: "IF", Config: map[string]interface{}{
					"rule": map[string]interface{}{
						">": []interface{}{map[string]interface{}{"var": "x"}, float64(10)},
					},
				}},
				{ID: "n4", Type: "END"},
				{ID: "n5", Type: "END"},
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "n1", Target: "n2"},
				{ID: "e2", Source: "n2", Target: "n3"},
				{ID: "e3", Source: "n3", Target: "n4", Predicate: "then"},
				{ID: "e4", Source: "n3", Target: "n5", Predicate: "else"},
			},
		},
	}
	eng, scheduler, provider := newTestEngine(t, workflow)

	runID, err := eng.StartRun(context.Background(), "wf-1", map[string]interface{}{"x": float64(15)})
	require.NoError(t, err)

	visited := []string{}
	for {
		job, ok := scheduler.pop()
		if !ok {
			break
		}
		visited = append(visited, job.NodeID)
		require.NoError(t, eng.Process(context.Background(), job.RunID, job.NodeID))
	}
	assert.Equal(t, []string{"n1", "n2", "n3", "n4"}, visited)

	run, err := provider.GetRunStore().GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
}

func TestProcessWaitDelaysFirstSuccessorOnly(t *testing.T) {
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "WAIT", Config: map[string]interface{}{"minutes": float64(5)}},
				notifyNode("n2", "a"),
				notifyNode("n3", "b"),
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "n1", Target: "n2"},
				{ID: "e2", Source: "n1", Target: "n3"},
			},
		},
	}
	eng, scheduler, _ := newTestEngine(t, workflow)

	runID, err := eng.StartRun(context.Background(), "wf-1", nil)
	require.NoError(t, err)

	job, ok := scheduler.pop()
	require.True(t, ok)
	require.NoError(t, eng.Process(context.Background(), job.RunID, job.NodeID))

	// Only n2 is scheduled, delayed by the wait
	jobs := scheduler.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, runID, jobs[0].RunID)
	assert.Equal(t, "n2", jobs[0].NodeID)
	assert.InDelta(t, (5 * time.Minute).Milliseconds(), jobs[0].Delay.Milliseconds(), 1000)
}

func TestProcessWaitWithoutSuccessorsLeavesRunRunning(t *testing.T) {
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "WAIT", Config: map[string]interface{}{"seconds": float64(1)}},
			},
		},
	}
	eng, scheduler, provider := newTestEngine(t, workflow)

	runID, err := eng.StartRun(context.Background(), "wf-1", nil)
	require.NoError(t, err)

	job, _ := scheduler.pop()
	require.NoError(t, eng.Process(context.Background(), job.RunID, job.NodeID))

	// Nothing is scheduled and the run never completes
	_, ok := scheduler.pop()
	assert.False(t, ok)

	run, err := provider.GetRunStore().GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)
}

func TestProcessWaitInPastResumesImmediately(t *testing.T) {
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "WAIT", Config: map[string]interface{}{
					"until": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
				}},
				notifyNode("n2", "a"),
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "n1", Target: "n2"},
			},
		},
	}
	eng, scheduler, _ := newTestEngine(t, workflow)

	_, err := eng.StartRun(context.Background(), "wf-1", nil)
	require.NoError(t, err)

	job, _ := scheduler.pop()
	require.NoError(t, eng.Process(context.Background(), job.RunID, job.NodeID))

	jobs := scheduler.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Duration(0), jobs[0].Delay)
}

func TestProcessEndDiscardsRemainingEdges(t *testing.T) {
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "END"},
				notifyNode("n2", "unreachable"),
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "n1", Target: "n2"},
			},
		},
	}
	eng, scheduler, provider := newTestEngine(t, workflow)

	runID, err := eng.StartRun(context.Background(), "wf-1", nil)
	require.NoError(t, err)

	job, _ := scheduler.pop()
	require.NoError(t, eng.Process(context.Background(), job.RunID, job.NodeID))

	_, ok := scheduler.pop()
	assert.False(t, ok)

	run, err := provider.GetRunStore().GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
}

func TestProcessExecutorErrorFailsRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "API_CALL", Config: map[string]interface{}{
					"url":    server.URL,
					"method": "GET",
				}},
				notifyNode("n2", "never"),
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "n1", Target: "n2"},
			},
		},
	}
	eng, scheduler, provider := newTestEngine(t, workflow)

	runID, err := eng.StartRun(context.Background(), "wf-1", nil)
	require.NoError(t, err)

	job, _ := scheduler.pop()
	// Executor failures are absorbed, never surfaced to the queue
	require.NoError(t, eng.Process(context.Background(), job.RunID, job.NodeID))

	_, ok := scheduler.pop()
	assert.False(t, ok)

	run, err := provider.GetRunStore().GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.FinishedAt)

	logs, err := provider.GetLogStore().GetLogs(runID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	last := logs[len(logs)-1]
	assert.Equal(t, models.LogLevelError, last.Level)
	assert.Contains(t, last.Message, "HTTP_500")
}

func TestProcessUnknownNodeTypeFailsRun(t *testing.T) {
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "TELEPORT"},
			},
		},
	}
	eng, scheduler, provider := newTestEngine(t, workflow)

	runID, err := eng.StartRun(context.Background(), "wf-1", nil)
	require.NoError(t, err)

	job, _ := scheduler.pop()
	require.NoError(t, eng.Process(context.Background(), job.RunID, job.NodeID))

	run, err := provider.GetRunStore().GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
}

func TestProcessValidationErrorFailsRun(t *testing.T) {
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "NOTIFY", Config: map[string]interface{}{}},
			},
		},
	}
	eng, scheduler, provider := newTestEngine(t, workflow)

	runID, err := eng.StartRun(context.Background(), "wf-1", nil)
	require.NoError(t, err)

	job, _ := scheduler.pop()
	require.NoError(t, eng.Process(context.Background(), job.RunID, job.NodeID))

	run, err := provider.GetRunStore().GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	logs, err := provider.GetLogStore().GetLogs(runID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "config validation failed")
}

func TestProcessMissingNodeFailsRun(t *testing.T) {
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{notifyNode("n1", "hi")},
		},
	}
	eng, _, provider := newTestEngine(t, workflow)

	runID, err := eng.StartRun(context.Background(), "wf-1", nil)
	require.NoError(t, err)

	// A job naming a node the graph no longer contains fails the run
	// instead of erroring the job and stranding the run in RUNNING
	require.NoError(t, eng.Process(context.Background(), runID, "ghost"))

	run, err := provider.GetRunStore().GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	logs, err := provider.GetLogStore().GetLogs(runID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, models.LogLevelError, logs[len(logs)-1].Level)
}

func TestProcessMissingRunPropagates(t *testing.T) {
	eng, _, _ := newTestEngine(t, models.Workflow{ID: "wf-1"})

	err := eng.Process(context.Background(), "missing", "n1")
	assert.ErrorIs(t, err, storage.ErrRunNotFound)
}

func TestProcessCatalogNodeDispatch(t *testing.T) {
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "SLACK_POST", Config: map[string]interface{}{
					"message": "deploy done",
					"channel": "ops",
				}},
			},
		},
	}
	eng, scheduler, provider := newTestEngine(t, workflow)

	require.NoError(t, provider.GetCatalogStore().SaveActionKind(models.ActionKind{
		Key:          "SLACK_POST",
		Name:         "Post to Slack",
		ExecutorKind: "NOTIFY",
		ConfigSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"message"},
		},
	}))

	runID, err := eng.StartRun(context.Background(), "wf-1", nil)
	require.NoError(t, err)
	drain(t, eng, scheduler)

	run, err := provider.GetRunStore().GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, run.Status)

	logs, err := provider.GetLogStore().GetLogs(runID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "deploy done")
}

// notifierRecorder captures run progress events
type notifierRecorder struct {
	mu       sync.Mutex
	started  []string
	done     []string
	statuses []models.RunStatus
	logged   int
}

func (n *notifierRecorder) NodeStarted(runID, nodeID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, nodeID)
}

func (n *notifierRecorder) NodeCompleted(runID, nodeID, outcome string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.done = append(n.done, nodeID+":"+outcome)
}

func (n *notifierRecorder) RunStatusChanged(runID string, status models.RunStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, status)
}

func (n *notifierRecorder) LogAppended(entry models.LogEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logged++
}

func TestEngineNotifies(t *testing.T) {
	workflow := models.Workflow{
		ID: "wf-1",
		Graph: models.Graph{
			Nodes: []models.Node{notifyNode("n1", "hello")},
		},
	}

	provider := storage.NewMemoryProvider()
	require.NoError(t, provider.GetWorkflowStore().SaveWorkflow(workflow))

	scheduler := &fakeScheduler{}
	recorder := &notifierRecorder{}
	registry := executor.NewRegistry(utils.NewHTTPClient(), provider.GetCatalogStore())
	eng := New(provider, registry, scheduler, recorder)

	_, err := eng.StartRun(context.Background(), "wf-1", nil)
	require.NoError(t, err)
	drain(t, eng, scheduler)

	assert.Equal(t, []string{"n1"}, recorder.started)
	assert.Equal(t, []string{"n1:OK"}, recorder.done)
	assert.Equal(t, []models.RunStatus{models.RunStatusRunning, models.RunStatusSuccess}, recorder.statuses)
	assert.Equal(t, 1, recorder.logged)
}
