package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/r3labs/sse/v2"

	"github.com/tcmartin/triggerflow/pkg/models"
)

// SSEBroker streams run progress events over Server-Sent Events. Each run
// gets its own stream, created lazily on first subscription or first event.
// It implements engine.Notifier.
type SSEBroker struct {
	server *sse.Server
}

// NewSSEBroker creates an SSE broker
func NewSSEBroker() *SSEBroker {
	server := sse.New()
	server.AutoReplay = false
	return &SSEBroker{server: server}
}

// HandleStream serves the SSE stream for one run
func (b *SSEBroker) HandleStream(w http.ResponseWriter, r *http.Request, runID string) {
	b.server.CreateStream(runID)

	// The sse server reads the stream name from the query string
	query := r.URL.Query()
	query.Set("stream", runID)
	r.URL.RawQuery = query.Encode()

	b.server.ServeHTTP(w, r)
}

// Close shuts the broker down and disconnects all clients
func (b *SSEBroker) Close() {
	b.server.Close()
}

func (b *SSEBroker) publish(runID string, update RunUpdate) {
	if !b.server.StreamExists(runID) {
		return
	}

	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("failed to marshal SSE event: %v", err)
		return
	}
	b.server.Publish(runID, &sse.Event{Data: data})
}

// NodeStarted implements engine.Notifier
func (b *SSEBroker) NodeStarted(runID, nodeID string) {
	b.publish(runID, RunUpdate{
		Type:      "node_started",
		RunID:     runID,
		NodeID:    nodeID,
		Timestamp: time.Now(),
	})
}

// NodeCompleted implements engine.Notifier
func (b *SSEBroker) NodeCompleted(runID, nodeID, outcome string) {
	b.publish(runID, RunUpdate{
		Type:      "node_completed",
		RunID:     runID,
		NodeID:    nodeID,
		Outcome:   outcome,
		Timestamp: time.Now(),
	})
}

// RunStatusChanged implements engine.Notifier
func (b *SSEBroker) RunStatusChanged(runID string, status models.RunStatus) {
	b.publish(runID, RunUpdate{
		Type:      "run_status",
		RunID:     runID,
		Status:    status,
		Timestamp: time.Now(),
	})
}

// LogAppended implements engine.Notifier
func (b *SSEBroker) LogAppended(entry models.LogEntry) {
	b.publish(entry.RunID, RunUpdate{
		Type:      "log",
		RunID:     entry.RunID,
		NodeID:    entry.NodeID,
		Log:       &entry,
		Timestamp: time.Now(),
	})
}
