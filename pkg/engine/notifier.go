// Package engine implements the run lifecycle: starting runs from workflow
// definitions and advancing them one node at a time off the job queue.
package engine

import (
	"github.com/tcmartin/triggerflow/pkg/models"
)

// Notifier receives run progress events. Implementations must not block;
// delivery is best effort and never affects run state.
type Notifier interface {
	// NodeStarted fires when a node execution is picked up
	NodeStarted(runID, nodeID string)

	// NodeCompleted fires when a node execution finishes with an outcome
	// of "OK", "WAIT", or "ERROR"
	NodeCompleted(runID, nodeID, outcome string)

	// RunStatusChanged fires when the run transitions status
	RunStatusChanged(runID string, status models.RunStatus)

	// LogAppended fires for every persisted log entry
	LogAppended(entry models.LogEntry)
}

// NoopNotifier discards all events
type NoopNotifier struct{}

func (NoopNotifier) NodeStarted(runID, nodeID string)                       {}
func (NoopNotifier) NodeCompleted(runID, nodeID, outcome string)            {}
func (NoopNotifier) RunStatusChanged(runID string, status models.RunStatus) {}
func (NoopNotifier) LogAppended(entry models.LogEntry)                      {}

// MultiNotifier fans events out to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that forwards to all given notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) NodeStarted(runID, nodeID string) {
	for _, n := range m.notifiers {
		n.NodeStarted(runID, nodeID)
	}
}

func (m *MultiNotifier) NodeCompleted(runID, nodeID, outcome string) {
	for _, n := range m.notifiers {
		n.NodeCompleted(runID, nodeID, outcome)
	}
}

func (m *MultiNotifier) RunStatusChanged(runID string, status models.RunStatus) {
	for _, n := range m.notifiers {
		n.RunStatusChanged(runID, status)
	}
}

func (m *MultiNotifier) LogAppended(entry models.LogEntry) {
	for _, n := range m.notifiers {
		n.LogAppended(entry)
	}
}
