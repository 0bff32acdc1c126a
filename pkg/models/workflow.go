// Package models defines the core data types for triggerflow.
package models

import (
	"errors"
	"time"
)

// ErrNodeNotFound is returned when a graph does not contain the requested node
var ErrNodeNotFound = errors.New("node not found")

// Node is a typed unit of work within a workflow graph
type Node struct {
	// ID of the node, unique within the graph
	ID string `json:"id"`

	// Type identifies the executor for this node (e.g. "IF", "API_CALL")
	Type string `json:"type"`

	// Name is an optional human-readable label
	Name string `json:"name,omitempty"`

	// Config is the kind-specific configuration for the node
	Config map[string]interface{} `json:"config,omitempty"`
}

// Edge is a directed connection between two nodes
type Edge struct {
	// ID of the edge
	ID string `json:"id"`

	// Source node ID
	Source string `json:"source"`

	// Target node ID
	Target string `json:"target"`

	// Predicate is an optional label used to select a branch (e.g. "then"/"else").
	// Edges with an empty predicate form the default outgoing set.
	Predicate string `json:"predicate,omitempty"`
}

// Graph is the node/edge structure of a workflow
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// EntryNodes returns the IDs of all nodes that are never the target of an
// edge. These form the fan-out start set for a new run.
func (g *Graph) EntryNodes() []string {
	targets := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		targets[e.Target] = true
	}

	entries := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if !targets[n.ID] {
			entries = append(entries, n.ID)
		}
	}
	return entries
}

// OutgoingEdges returns the target node IDs of edges sourced at nodeID.
// An empty predicate returns the targets of all outgoing edges, tagged and
// untagged alike; a non-empty predicate matches exactly (case-sensitive).
func (g *Graph) OutgoingEdges(nodeID, predicate string) []string {
	targets := make([]string, 0)
	for _, e := range g.Edges {
		if e.Source != nodeID {
			continue
		}
		if predicate == "" || e.Predicate == predicate {
			targets = append(targets, e.Target)
		}
	}
	return targets
}

// FindNode returns the node with the given ID, or ErrNodeNotFound
func (g *Graph) FindNode(nodeID string) (Node, error) {
	for _, n := range g.Nodes {
		if n.ID == nodeID {
			return n, nil
		}
	}
	return Node{}, ErrNodeNotFound
}

// Workflow is a named, reusable graph definition plus an optional trigger
// rule and an optional cron schedule.
type Workflow struct {
	// ID of the workflow
	ID string `json:"id"`

	// Name of the workflow
	Name string `json:"name"`

	// Graph holds the nodes and edges
	Graph Graph `json:"graph"`

	// TriggerRule is an optional json-logic style expression evaluated
	// against inbound event payloads; nil means manual-start only
	TriggerRule map[string]interface{} `json:"trigger_rule,omitempty"`

	// Schedule is an optional cron expression for time-based starts
	Schedule string `json:"schedule,omitempty"`

	// CreatedAt is when the workflow was created
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the workflow was last updated
	UpdatedAt time.Time `json:"updated_at"`
}
