package executor

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tcmartin/triggerflow/pkg/models"
	"github.com/tcmartin/triggerflow/pkg/utils"
)

// CatalogLookup resolves a node-kind key to its catalog entry. The engine's
// view of the catalog is read-only.
type CatalogLookup interface {
	GetActionKind(key string) (models.ActionKind, error)
}

// Registry maps node types to executors. Built-in kinds are compiled in;
// anything else goes through the catalog: the node config is validated
// against the entry's JSON schema and the entry's executor kind selects an
// adapter family. The registry is immutable after construction.
type Registry struct {
	builtin  map[string]Executor
	families map[string]Executor
	catalog  CatalogLookup
}

// NewRegistry creates a registry with all built-in executors registered.
// catalog may be nil, which disables dynamic dispatch.
func NewRegistry(client *utils.HTTPClient, catalog CatalogLookup) *Registry {
	if client == nil {
		client = utils.NewHTTPClient()
	}
	apiCall := NewAPICallExecutor(client)

	return &Registry{
		builtin: map[string]Executor{
			KindIf:      &IfExecutor{},
			KindWait:    &WaitExecutor{},
			KindAPICall: apiCall,
			KindNotify:  &NotifyExecutor{},
			KindEmail:   &EmailExecutor{},
			KindEnd:     &EndExecutor{},
		},
		families: map[string]Executor{
			"IF":        &IfExecutor{},
			"WAIT":      &WaitExecutor{},
			"HTTP":      apiCall,
			"NOTIFY":    &NotifyExecutor{},
			"EMAIL":     &EmailExecutor{},
			"TRANSFORM": &TransformExecutor{},
		},
		catalog: catalog,
	}
}

// Resolve returns the executor for a node type. Built-in kinds win; other
// types are looked up in the catalog by key.
func (r *Registry) Resolve(nodeType string) (Executor, error) {
	if exec, ok := r.builtin[nodeType]; ok {
		return exec, nil
	}

	if r.catalog == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}

	kind, err := r.catalog.GetActionKind(nodeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}

	if kind.ExecutorKind == "" {
		return nil, fmt.Errorf("%w: catalog entry %s names no executor", ErrUnsupportedExecutorKind, kind.Key)
	}

	delegate, ok := r.families[kind.ExecutorKind]
	if !ok {
		// Known catalog entry, adapter family not built yet
		delegate = &notImplementedExecutor{kind: kind.ExecutorKind}
	}

	return &catalogExecutor{kind: kind, delegate: delegate}, nil
}

// catalogExecutor wraps an adapter family with schema validation of the
// node config before any side effect runs.
type catalogExecutor struct {
	kind     models.ActionKind
	delegate Executor
}

func (e *catalogExecutor) Validate(config map[string]interface{}) error {
	if len(e.kind.ConfigSchema) > 0 {
		if err := validateSchema(e.kind.ConfigSchema, config); err != nil {
			return err
		}
	}
	return e.delegate.Validate(config)
}

func (e *catalogExecutor) Execute(config map[string]interface{}, ctx *Context) (Result, error) {
	return e.delegate.Execute(config, ctx)
}

// validateSchema checks config against a JSON Schema document
func validateSchema(schema, config map[string]interface{}) error {
	if config == nil {
		config = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return &ConfigValidationError{Detail: err.Error()}
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return &ConfigValidationError{Detail: strings.Join(details, "; ")}
	}

	return nil
}

// notImplementedExecutor backs catalog entries whose adapter family has no
// implementation yet. Validation passes so the config error surface stays
// schema-driven; execution always fails.
type notImplementedExecutor struct {
	kind string
}

func (e *notImplementedExecutor) Validate(config map[string]interface{}) error {
	return nil
}

func (e *notImplementedExecutor) Execute(config map[string]interface{}, ctx *Context) (Result, error) {
	return Result{}, fmt.Errorf("%w: %s", ErrExecutorNotImplemented, e.kind)
}
