package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/triggerflow/pkg/config"
	"github.com/tcmartin/triggerflow/pkg/engine"
	"github.com/tcmartin/triggerflow/pkg/executor"
	"github.com/tcmartin/triggerflow/pkg/models"
	"github.com/tcmartin/triggerflow/pkg/queue"
	"github.com/tcmartin/triggerflow/pkg/storage"
	"github.com/tcmartin/triggerflow/pkg/trigger"
	"github.com/tcmartin/triggerflow/pkg/utils"
)

type testServer struct {
	server   *Server
	provider storage.Provider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	provider := storage.NewMemoryProvider()
	scheduler := queue.NewMemoryScheduler(2)
	registry := executor.NewRegistry(utils.NewHTTPClient(), provider.GetCatalogStore())
	eng := engine.New(provider, registry, scheduler, nil)
	require.NoError(t, scheduler.Start(eng.Process))
	t.Cleanup(scheduler.Stop)

	dispatcher := trigger.NewDispatcher(provider.GetWorkflowStore(), eng)
	server := NewServer(config.DefaultConfig(), provider, eng, dispatcher, nil, nil, nil)

	return &testServer{server: server, provider: provider}
}

func (ts *testServer) do(t *testing.T, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) doJSON(t *testing.T, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	return ts.do(t, method, path, "application/json", body)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doJSON(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestWorkflowCRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doJSON(t, http.MethodPost, "/api/v1/workflows", models.Workflow{
		Name: "Lead followup",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "NOTIFY", Config: map[string]interface{}{"message": "hi"}},
			},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	rec = ts.doJSON(t, http.MethodGet, "/api/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.doJSON(t, http.MethodGet, "/api/v1/workflows", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var listed []models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	created.Name = "Renamed"
	rec = ts.doJSON(t, http.MethodPut, "/api/v1/workflows/"+created.ID, created)
	assert.Equal(t, http.StatusOK, rec.Code)

	workflow, err := ts.provider.GetWorkflowStore().GetWorkflow(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", workflow.Name)

	rec = ts.doJSON(t, http.MethodDelete, "/api/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.doJSON(t, http.MethodGet, "/api/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateWorkflowFromYAML(t *testing.T) {
	ts := newTestServer(t)

	yaml := []byte(`
name: YAML workflow
nodes:
  - id: n1
    type: NOTIFY
    config:
      message: hello
`)
	rec := ts.do(t, http.MethodPost, "/api/v1/workflows", "application/yaml", yaml)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "YAML workflow", created.Name)
	require.Len(t, created.Graph.Nodes, 1)
}

func TestCreateWorkflowRejectsInvalid(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/workflows", "application/json", []byte(`{"name":""}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/workflows", "application/yaml", []byte(`nodes: [`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// JSON bodies get the same structural checks as YAML ones
	rec = ts.doJSON(t, http.MethodPost, "/api/v1/workflows", models.Workflow{
		Name: "Dangling edge",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "NOTIFY", Config: map[string]interface{}{"message": "hi"}},
			},
			Edges: []models.Edge{{ID: "e1", Source: "n1", Target: "ghost"}},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, "/api/v1/workflows", models.Workflow{
		Name: "Duplicate ids",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "NOTIFY"},
				{ID: "n1", Type: "NOTIFY"},
			},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func waitForRunStatus(t *testing.T, provider storage.Provider, runID string, want models.RunStatus) models.Run {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := provider.GetRunStore().GetRun(runID)
		require.NoError(t, err)
		if run.Status == want {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached %s", runID, want)
	return models.Run{}
}

func TestStartRunEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doJSON(t, http.MethodPost, "/api/v1/workflows", models.Workflow{
		Name: "Notifier",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "NOTIFY", Config: map[string]interface{}{"message": "got {{x}}"}},
			},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workflow))

	rec = ts.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%s/runs", workflow.ID),
		map[string]interface{}{"x": 42})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	runID := resp["run_id"]
	require.NotEmpty(t, runID)

	waitForRunStatus(t, ts.provider, runID, models.RunStatusSuccess)

	rec = ts.doJSON(t, http.MethodGet, "/api/v1/runs/"+runID+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []models.LogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "NOTIFY console: got 42", logs[0].Message)
}

func TestStartRunUnknownWorkflow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doJSON(t, http.MethodPost, "/api/v1/workflows/missing/runs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doJSON(t, http.MethodPost, "/api/v1/workflows", models.Workflow{
		Name: "Notifier",
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "NOTIFY", Config: map[string]interface{}{"message": "hi"}},
			},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workflow))

	rec = ts.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%s/runs", workflow.ID), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.doJSON(t, http.MethodGet, "/api/v1/runs?workflow_id="+workflow.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	rec = ts.doJSON(t, http.MethodGet, "/api/v1/runs?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventEndpointTriggersWorkflows(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doJSON(t, http.MethodPost, "/api/v1/workflows", models.Workflow{
		Name: "Lead catcher",
		TriggerRule: map[string]interface{}{
			">": []interface{}{map[string]interface{}{"var": "score"}, float64(75)},
		},
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "n1", Type: "NOTIFY", Config: map[string]interface{}{"message": "scored {{score}}"}},
			},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workflow))

	rec = ts.doJSON(t, http.MethodPost, "/api/v1/events", map[string]interface{}{"score": 90})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Triggered []string `json:"triggered"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{workflow.ID}, resp.Triggered)

	// A non-matching payload triggers nothing
	rec = ts.doJSON(t, http.MethodPost, "/api/v1/events", map[string]interface{}{"score": 10})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Triggered)
}

func TestActionKindEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doJSON(t, http.MethodPost, "/api/v1/actions", models.ActionKind{
		Key:          "SLACK_POST",
		Name:         "Post to Slack",
		ExecutorKind: "NOTIFY",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, "/api/v1/actions", models.ActionKind{Key: "BROKEN"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.doJSON(t, http.MethodGet, "/api/v1/actions/SLACK_POST", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.doJSON(t, http.MethodGet, "/api/v1/actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var kinds []models.ActionKind
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kinds))
	assert.Len(t, kinds, 1)

	rec = ts.doJSON(t, http.MethodDelete, "/api/v1/actions/SLACK_POST", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.doJSON(t, http.MethodGet, "/api/v1/actions/SLACK_POST", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doJSON(t, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.doJSON(t, http.MethodGet, "/api/v1/runs/missing/logs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
