package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/tcmartin/triggerflow/pkg/models"
	"github.com/tcmartin/triggerflow/pkg/template"
	"github.com/tcmartin/triggerflow/pkg/utils"
)

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
}

// APICallExecutor issues an outbound HTTP request. The body template is
// rendered against the run scope; a 2xx response stores the body into the
// bag under a node-scoped key, anything else fails the node with an
// HTTP_<status> error.
type APICallExecutor struct {
	client *utils.HTTPClient
}

// NewAPICallExecutor creates an API_CALL executor backed by the given client
func NewAPICallExecutor(client *utils.HTTPClient) *APICallExecutor {
	return &APICallExecutor{client: client}
}

// Validate checks the API_CALL node config
func (e *APICallExecutor) Validate(config map[string]interface{}) error {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return &ConfigValidationError{Detail: "url is required and must be a string"}
	}

	if method, ok := config["method"]; ok {
		s, isString := method.(string)
		if !isString || !allowedMethods[s] {
			return &ConfigValidationError{Detail: "method must be one of GET, POST, PUT, DELETE"}
		}
	}

	if tpl, ok := config["body_template"]; ok {
		if _, isString := tpl.(string); !isString {
			return &ConfigValidationError{Detail: "body_template must be a string"}
		}
	}

	if timeout, ok := config["timeout_ms"]; ok {
		if _, isNumber := numberValue(timeout); !isNumber {
			return &ConfigValidationError{Detail: "timeout_ms must be a number"}
		}
	}

	return nil
}

// Execute renders the body, issues the call, and interprets the status
func (e *APICallExecutor) Execute(config map[string]interface{}, ctx *Context) (Result, error) {
	url, _ := config["url"].(string)
	method, _ := config["method"].(string)
	bodyTemplate, _ := config["body_template"].(string)

	var timeout time.Duration
	if ms, ok := numberValue(config["timeout_ms"]); ok {
		timeout = time.Duration(ms) * time.Millisecond
	}

	headers := make(map[string]string)
	if raw, ok := config["headers"].(map[string]interface{}); ok {
		for key, value := range raw {
			if s, ok := value.(string); ok {
				headers[key] = s
			}
		}
	}

	body := template.Render(bodyTemplate, ctx.Scope())

	resp, err := e.client.Do(context.Background(), &utils.HTTPRequest{
		URL:     url,
		Method:  method,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	})
	if err != nil {
		return Result{}, err
	}

	ctx.Emit(models.LogLevelInfo, "API response", map[string]interface{}{"status": resp.StatusCode})

	if !resp.Success() {
		return Result{}, fmt.Errorf("HTTP_%d", resp.StatusCode)
	}

	ctx.Bag[fmt.Sprintf("node:%s:response", ctx.NodeID)] = resp.Body
	return Result{Status: StatusOK}, nil
}
