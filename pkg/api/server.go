// Package api exposes the HTTP surface: workflow and catalog CRUD, run
// management, event ingestion, and real-time run updates over WebSocket
// and SSE.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tcmartin/triggerflow/pkg/config"
	"github.com/tcmartin/triggerflow/pkg/engine"
	"github.com/tcmartin/triggerflow/pkg/loader"
	"github.com/tcmartin/triggerflow/pkg/models"
	"github.com/tcmartin/triggerflow/pkg/storage"
	"github.com/tcmartin/triggerflow/pkg/trigger"
)

// Server represents the HTTP API server
type Server struct {
	config     *config.Config
	router     *mux.Router
	server     *http.Server
	provider   storage.Provider
	engine     *engine.Engine
	dispatcher *trigger.Dispatcher
	cron       *trigger.CronScheduler
	hub        *WebSocketHub
	sse        *SSEBroker
}

// NewServer creates a new API server. cron, hub, and sse may be nil.
func NewServer(cfg *config.Config, provider storage.Provider, eng *engine.Engine,
	dispatcher *trigger.Dispatcher, cron *trigger.CronScheduler,
	hub *WebSocketHub, sse *SSEBroker) *Server {

	s := &Server{
		config:     cfg,
		router:     mux.NewRouter(),
		provider:   provider,
		engine:     eng,
		dispatcher: dispatcher,
		cron:       cron,
		hub:        hub,
		sse:        sse,
	}

	s.setupRoutes()
	return s
}

// Router returns the underlying router, for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Workflow routes
	workflows := api.PathPrefix("/workflows").Subrouter()
	workflows.HandleFunc("", s.handleListWorkflows).Methods(http.MethodGet)
	workflows.HandleFunc("", s.handleCreateWorkflow).Methods(http.MethodPost)
	workflows.HandleFunc("/{id}", s.handleGetWorkflow).Methods(http.MethodGet)
	workflows.HandleFunc("/{id}", s.handleUpdateWorkflow).Methods(http.MethodPut)
	workflows.HandleFunc("/{id}", s.handleDeleteWorkflow).Methods(http.MethodDelete)
	workflows.HandleFunc("/{id}/runs", s.handleStartRun).Methods(http.MethodPost)

	// Run routes
	runs := api.PathPrefix("/runs").Subrouter()
	runs.HandleFunc("", s.handleListRuns).Methods(http.MethodGet)
	runs.HandleFunc("/{id}", s.handleGetRun).Methods(http.MethodGet)
	runs.HandleFunc("/{id}/logs", s.handleGetRunLogs).Methods(http.MethodGet)
	runs.HandleFunc("/{id}/events", s.handleRunEvents).Methods(http.MethodGet)

	// Event ingestion
	api.HandleFunc("/events", s.handleEvent).Methods(http.MethodPost)

	// Action kind catalog
	actions := api.PathPrefix("/actions").Subrouter()
	actions.HandleFunc("", s.handleListActionKinds).Methods(http.MethodGet)
	actions.HandleFunc("", s.handleSaveActionKind).Methods(http.MethodPost)
	actions.HandleFunc("/{key}", s.handleGetActionKind).Methods(http.MethodGet)
	actions.HandleFunc("/{key}", s.handleDeleteActionKind).Methods(http.MethodDelete)

	// Real-time updates
	if s.hub != nil {
		api.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			s.hub.HandleWebSocket(w, r)
		})
	}

	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("Request: %s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// decodeWorkflow reads a workflow from the request body, accepting JSON or
// YAML depending on Content-Type
func decodeWorkflow(r *http.Request) (models.Workflow, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return models.Workflow{}, err
	}

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "yaml") {
		return loader.Parse(body)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(body, &workflow); err != nil {
		return models.Workflow{}, err
	}
	// JSON submissions get the same structural checks as YAML ones
	if err := loader.Validate(workflow); err != nil {
		return models.Workflow{}, err
	}
	return workflow, nil
}

// handleCreateWorkflow handles workflow creation
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, err := decodeWorkflow(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}
	now := time.Now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := s.provider.GetWorkflowStore().SaveWorkflow(workflow); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reloadCron()

	s.respondJSON(w, http.StatusCreated, workflow)
}

// handleListWorkflows handles workflow listing
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.provider.GetWorkflowStore().ListWorkflows()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, workflows)
}

// handleGetWorkflow handles workflow retrieval
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, err := s.provider.GetWorkflowStore().GetWorkflow(mux.Vars(r)["id"])
	if err == storage.ErrWorkflowNotFound {
		s.respondError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, workflow)
}

// handleUpdateWorkflow handles workflow replacement
func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := s.provider.GetWorkflowStore().GetWorkflow(id)
	if err == storage.ErrWorkflowNotFound {
		s.respondError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	workflow, err := decodeWorkflow(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	workflow.ID = existing.ID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now()

	if err := s.provider.GetWorkflowStore().SaveWorkflow(workflow); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reloadCron()

	s.respondJSON(w, http.StatusOK, workflow)
}

// handleDeleteWorkflow handles workflow deletion
func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	err := s.provider.GetWorkflowStore().DeleteWorkflow(mux.Vars(r)["id"])
	if err == storage.ErrWorkflowNotFound {
		s.respondError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reloadCron()

	w.WriteHeader(http.StatusNoContent)
}

// handleStartRun starts a run for a workflow
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var input map[string]interface{}
	if r.Body != nil {
		// An empty body means no input
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil && err != io.EOF {
			s.respondError(w, http.StatusBadRequest, "invalid input payload")
			return
		}
	}

	runID, err := s.engine.StartRun(r.Context(), mux.Vars(r)["id"], input)
	if err == storage.ErrWorkflowNotFound {
		s.respondError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleListRuns lists runs, optionally filtered by workflow
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	runs, err := s.provider.GetRunStore().ListRuns(r.URL.Query().Get("workflow_id"), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, runs)
}

// handleGetRun retrieves a run
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.provider.GetRunStore().GetRun(mux.Vars(r)["id"])
	if err == storage.ErrRunNotFound {
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, run)
}

// handleGetRunLogs retrieves the log entries of a run
func (s *Server) handleGetRunLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := s.provider.GetRunStore().GetRun(id); err != nil {
		if err == storage.ErrRunNotFound {
			s.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logs, err := s.provider.GetLogStore().GetLogs(id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, logs)
}

// handleRunEvents serves the SSE stream of run progress events
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.sse == nil {
		s.respondError(w, http.StatusNotFound, "event streaming not enabled")
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := s.provider.GetRunStore().GetRun(id); err != nil {
		if err == storage.ErrRunNotFound {
			s.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.sse.HandleStream(w, r, id)
}

// handleEvent dispatches an inbound event payload against trigger rules
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	triggered, err := s.dispatcher.Dispatch(r.Context(), payload)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if triggered == nil {
		triggered = []string{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"triggered": triggered})
}

// handleSaveActionKind creates or replaces a catalog entry
func (s *Server) handleSaveActionKind(w http.ResponseWriter, r *http.Request) {
	var kind models.ActionKind
	if err := json.NewDecoder(r.Body).Decode(&kind); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid action kind")
		return
	}
	if kind.Key == "" || kind.ExecutorKind == "" {
		s.respondError(w, http.StatusBadRequest, "key and executor_kind are required")
		return
	}

	if err := s.provider.GetCatalogStore().SaveActionKind(kind); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, kind)
}

// handleListActionKinds lists catalog entries
func (s *Server) handleListActionKinds(w http.ResponseWriter, r *http.Request) {
	kinds, err := s.provider.GetCatalogStore().ListActionKinds()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, kinds)
}

// handleGetActionKind retrieves a catalog entry
func (s *Server) handleGetActionKind(w http.ResponseWriter, r *http.Request) {
	kind, err := s.provider.GetCatalogStore().GetActionKind(mux.Vars(r)["key"])
	if err == storage.ErrActionKindNotFound {
		s.respondError(w, http.StatusNotFound, "action kind not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, kind)
}

// handleDeleteActionKind removes a catalog entry
func (s *Server) handleDeleteActionKind(w http.ResponseWriter, r *http.Request) {
	err := s.provider.GetCatalogStore().DeleteActionKind(mux.Vars(r)["key"])
	if err == storage.ErrActionKindNotFound {
		s.respondError(w, http.StatusNotFound, "action kind not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// reloadCron resyncs schedules after a workflow mutation
func (s *Server) reloadCron() {
	if s.cron == nil {
		return
	}
	if err := s.cron.Reload(); err != nil {
		log.Printf("failed to reload schedules: %v", err)
	}
}
