package executor

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/tcmartin/triggerflow/pkg/models"
)

// TransformExecutor runs a JavaScript script against the run scope and
// stores the exported result in the bag under a node-scoped key. Only
// reachable through the dynamic catalog path.
type TransformExecutor struct{}

// Validate checks the TRANSFORM node config
func (e *TransformExecutor) Validate(config map[string]interface{}) error {
	script, ok := config["script"].(string)
	if !ok || script == "" {
		return &ConfigValidationError{Detail: "script is required and must be a string"}
	}
	return nil
}

// Execute evaluates the script with the merged scope bound as "input"
func (e *TransformExecutor) Execute(config map[string]interface{}, ctx *Context) (Result, error) {
	script, _ := config["script"].(string)

	vm := goja.New()
	if err := vm.Set("input", ctx.Scope()); err != nil {
		return Result{}, fmt.Errorf("failed to bind script input: %w", err)
	}

	// Wrap so scripts can use return statements
	value, err := vm.RunString("(function() {\n" + script + "\n})()")
	if err != nil {
		return Result{}, fmt.Errorf("transform script failed: %w", err)
	}

	ctx.Bag[fmt.Sprintf("node:%s:result", ctx.NodeID)] = value.Export()
	ctx.Emit(models.LogLevelInfo, "transform completed", nil)

	return Result{Status: StatusOK}, nil
}
