package executor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/triggerflow/pkg/models"
)

type fakeCatalog struct {
	kinds map[string]models.ActionKind
}

func (c *fakeCatalog) GetActionKind(key string) (models.ActionKind, error) {
	kind, ok := c.kinds[key]
	if !ok {
		return models.ActionKind{}, fmt.Errorf("action kind %s not found", key)
	}
	return kind, nil
}

func TestResolveBuiltin(t *testing.T) {
	registry := NewRegistry(nil, nil)

	for _, nodeType := range []string{KindIf, KindWait, KindAPICall, KindNotify, KindEmail, KindEnd} {
		exec, err := registry.Resolve(nodeType)
		require.NoError(t, err, nodeType)
		assert.NotNil(t, exec, nodeType)
	}
}

func TestResolveUnknownTypeNoCatalog(t *testing.T) {
	registry := NewRegistry(nil, nil)

	_, err := registry.Resolve("SLACK_POST")
	assert.ErrorIs(t, err, ErrUnknownNodeType)
}

func TestResolveUnknownTypeCatalogMiss(t *testing.T) {
	registry := NewRegistry(nil, &fakeCatalog{kinds: map[string]models.ActionKind{}})

	_, err := registry.Resolve("SLACK_POST")
	assert.ErrorIs(t, err, ErrUnknownNodeType)
}

func TestResolveCatalogEntrySelectsFamily(t *testing.T) {
	catalog := &fakeCatalog{kinds: map[string]models.ActionKind{
		"CUSTOM_TRANSFORM": {
			Key:          "CUSTOM_TRANSFORM",
			Name:         "Custom transform",
			ExecutorKind: "TRANSFORM",
		},
	}}
	registry := NewRegistry(nil, catalog)

	exec, err := registry.Resolve("CUSTOM_TRANSFORM")
	require.NoError(t, err)

	ctx, _ := newTestContext(map[string]interface{}{"x": int64(2)}, nil)
	result, err := exec.Execute(map[string]interface{}{"script": "return input.x + 1;"}, ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, int64(3), ctx.Bag["node:node-1:result"])
}

func TestResolveCatalogSchemaValidation(t *testing.T) {
	catalog := &fakeCatalog{kinds: map[string]models.ActionKind{
		"SLACK_POST": {
			Key:          "SLACK_POST",
			ExecutorKind: "NOTIFY",
			ConfigSchema: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"message", "channel"},
				"properties": map[string]interface{}{
					"message": map[string]interface{}{"type": "string"},
					"channel": map[string]interface{}{"type": "string"},
				},
			},
		},
	}}
	registry := NewRegistry(nil, catalog)

	exec, err := registry.Resolve("SLACK_POST")
	require.NoError(t, err)

	err = exec.Validate(map[string]interface{}{"message": "hi"})
	var cfgErr *ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Detail, "channel")

	assert.NoError(t, exec.Validate(map[string]interface{}{
		"message": "hi",
		"channel": "ops",
	}))
}

func TestResolveCatalogEmptyExecutorKind(t *testing.T) {
	catalog := &fakeCatalog{kinds: map[string]models.ActionKind{
		"BROKEN": {Key: "BROKEN"},
	}}
	registry := NewRegistry(nil, catalog)

	_, err := registry.Resolve("BROKEN")
	assert.ErrorIs(t, err, ErrUnsupportedExecutorKind)
}

func TestResolveCatalogUnimplementedFamily(t *testing.T) {
	catalog := &fakeCatalog{kinds: map[string]models.ActionKind{
		"SMS_SEND": {Key: "SMS_SEND", ExecutorKind: "SMS"},
	}}
	registry := NewRegistry(nil, catalog)

	exec, err := registry.Resolve("SMS_SEND")
	require.NoError(t, err)

	assert.NoError(t, exec.Validate(map[string]interface{}{}))

	ctx, _ := newTestContext(nil, nil)
	_, err = exec.Execute(map[string]interface{}{}, ctx)
	assert.ErrorIs(t, err, ErrExecutorNotImplemented)
}

func TestBuiltinWinsOverCatalog(t *testing.T) {
	// A catalog entry reusing a built-in key never shadows the built-in
	catalog := &fakeCatalog{kinds: map[string]models.ActionKind{
		KindNotify: {Key: KindNotify, ExecutorKind: "TRANSFORM"},
	}}
	registry := NewRegistry(nil, catalog)

	exec, err := registry.Resolve(KindNotify)
	require.NoError(t, err)

	_, isNotify := exec.(*NotifyExecutor)
	assert.True(t, isNotify)
}
