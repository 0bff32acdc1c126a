// Package loader parses workflow definitions from YAML.
package loader

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tcmartin/triggerflow/pkg/models"
)

// WorkflowDocument is the YAML shape of a workflow definition
type WorkflowDocument struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	TriggerRule map[string]interface{} `yaml:"trigger_rule,omitempty"`
	Schedule    string                 `yaml:"schedule,omitempty"`
	Nodes       []NodeDocument         `yaml:"nodes"`
	Edges       []EdgeDocument         `yaml:"edges,omitempty"`
}

// NodeDocument is the YAML shape of a graph node
type NodeDocument struct {
	ID     string                 `yaml:"id"`
	Type   string                 `yaml:"type"`
	Name   string                 `yaml:"name,omitempty"`
	Config map[string]interface{} `yaml:"config,omitempty"`
}

// EdgeDocument is the YAML shape of a graph edge
type EdgeDocument struct {
	ID        string `yaml:"id,omitempty"`
	Source    string `yaml:"source"`
	Target    string `yaml:"target"`
	Predicate string `yaml:"predicate,omitempty"`
}

// Parse converts a YAML document into a workflow definition
func Parse(yamlContent []byte) (models.Workflow, error) {
	var doc WorkflowDocument
	if err := yaml.Unmarshal(yamlContent, &doc); err != nil {
		return models.Workflow{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	workflow := models.Workflow{
		ID:          doc.ID,
		Name:        doc.Name,
		TriggerRule: doc.TriggerRule,
		Schedule:    doc.Schedule,
	}

	for _, node := range doc.Nodes {
		workflow.Graph.Nodes = append(workflow.Graph.Nodes, models.Node{
			ID:     node.ID,
			Type:   node.Type,
			Name:   node.Name,
			Config: node.Config,
		})
	}

	for i, edge := range doc.Edges {
		id := edge.ID
		if id == "" {
			id = fmt.Sprintf("e%d", i+1)
		}
		workflow.Graph.Edges = append(workflow.Graph.Edges, models.Edge{
			ID:        id,
			Source:    edge.Source,
			Target:    edge.Target,
			Predicate: edge.Predicate,
		})
	}

	if err := Validate(workflow); err != nil {
		return models.Workflow{}, err
	}

	return workflow, nil
}

// Marshal converts a workflow definition back to YAML
func Marshal(workflow models.Workflow) ([]byte, error) {
	doc := WorkflowDocument{
		ID:          workflow.ID,
		Name:        workflow.Name,
		TriggerRule: workflow.TriggerRule,
		Schedule:    workflow.Schedule,
	}

	for _, node := range workflow.Graph.Nodes {
		doc.Nodes = append(doc.Nodes, NodeDocument{
			ID:     node.ID,
			Type:   node.Type,
			Name:   node.Name,
			Config: node.Config,
		})
	}

	for _, edge := range workflow.Graph.Edges {
		doc.Edges = append(doc.Edges, EdgeDocument{
			ID:        edge.ID,
			Source:    edge.Source,
			Target:    edge.Target,
			Predicate: edge.Predicate,
		})
	}

	return yaml.Marshal(doc)
}

// Validate checks the structural rules every workflow definition must meet,
// regardless of the format it arrived in
func Validate(workflow models.Workflow) error {
	if workflow.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(workflow.Graph.Nodes) == 0 {
		return fmt.Errorf("workflow must have at least one node")
	}

	seen := make(map[string]bool, len(workflow.Graph.Nodes))
	for _, node := range workflow.Graph.Nodes {
		if node.ID == "" {
			return fmt.Errorf("node id is required")
		}
		if node.Type == "" {
			return fmt.Errorf("node '%s' has no type", node.ID)
		}
		if seen[node.ID] {
			return fmt.Errorf("duplicate node id '%s'", node.ID)
		}
		seen[node.ID] = true
	}

	for _, edge := range workflow.Graph.Edges {
		if !seen[edge.Source] {
			return fmt.Errorf("edge references unknown source node '%s'", edge.Source)
		}
		if !seen[edge.Target] {
			return fmt.Errorf("edge references unknown target node '%s'", edge.Target)
		}
	}

	return nil
}
