package executor

import (
	"fmt"
	"time"

	"github.com/tcmartin/triggerflow/pkg/models"
	"github.com/tcmartin/triggerflow/pkg/rule"
	"github.com/tcmartin/triggerflow/pkg/template"
)

// Built-in node kind identifiers
const (
	KindIf      = "IF"
	KindWait    = "WAIT"
	KindAPICall = "API_CALL"
	KindNotify  = "NOTIFY"
	KindEmail   = "EMAIL"
	KindEnd     = "END"
)

// IfExecutor evaluates a rule against the run scope and routes execution
// down the "then" or "else" edges.
type IfExecutor struct{}

// Validate checks the IF node config
func (e *IfExecutor) Validate(config map[string]interface{}) error {
	if _, ok := config["rule"]; !ok {
		return &ConfigValidationError{Detail: "rule is required"}
	}
	return nil
}

// Execute evaluates the rule and selects the matching branch
func (e *IfExecutor) Execute(config map[string]interface{}, ctx *Context) (Result, error) {
	result := rule.Evaluate(config["rule"], ctx.Scope())

	ctx.Emit(models.LogLevelInfo, "IF evaluated", map[string]interface{}{"result": result})

	predicate := "else"
	if result {
		predicate = "then"
	}
	return Result{Status: StatusOK, Next: ctx.NextEdges(predicate)}, nil
}

// WaitExecutor computes a resume instant from a relative duration or an
// absolute timestamp. It does not pick the next node; the engine does.
type WaitExecutor struct{}

// Validate checks the WAIT node config
func (e *WaitExecutor) Validate(config map[string]interface{}) error {
	if until, ok := config["until"]; ok {
		s, ok := until.(string)
		if !ok {
			return &ConfigValidationError{Detail: "until must be an RFC3339 timestamp string"}
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return &ConfigValidationError{Detail: fmt.Sprintf("invalid until timestamp: %v", err)}
		}
		return nil
	}

	found := false
	for _, field := range []string{"ms", "seconds", "minutes", "hours"} {
		v, ok := config[field]
		if !ok {
			continue
		}
		if _, ok := numberValue(v); !ok {
			return &ConfigValidationError{Detail: field + " must be a number"}
		}
		found = true
	}
	if !found {
		return &ConfigValidationError{Detail: "one of ms, seconds, minutes, hours or until is required"}
	}
	return nil
}

// Execute returns a WAIT result with the computed resume instant
func (e *WaitExecutor) Execute(config map[string]interface{}, ctx *Context) (Result, error) {
	if until, ok := config["until"].(string); ok {
		resumeAt, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return Result{}, &ConfigValidationError{Detail: fmt.Sprintf("invalid until timestamp: %v", err)}
		}
		return Result{Status: StatusWait, ResumeAt: resumeAt}, nil
	}

	var delay time.Duration
	for field, unit := range map[string]time.Duration{
		"ms":      time.Millisecond,
		"seconds": time.Second,
		"minutes": time.Minute,
		"hours":   time.Hour,
	} {
		if n, ok := numberValue(config[field]); ok {
			delay += time.Duration(n * float64(unit))
		}
	}

	return Result{Status: StatusWait, ResumeAt: time.Now().Add(delay)}, nil
}

// NotifyExecutor renders a message template and records the notification
// as an INFO log entry.
type NotifyExecutor struct{}

// Validate checks the NOTIFY node config
func (e *NotifyExecutor) Validate(config map[string]interface{}) error {
	if _, ok := config["message"].(string); !ok {
		return &ConfigValidationError{Detail: "message is required and must be a string"}
	}
	return nil
}

// Execute renders and emits the notification
func (e *NotifyExecutor) Execute(config map[string]interface{}, ctx *Context) (Result, error) {
	channel, _ := config["channel"].(string)
	if channel == "" {
		channel = "console"
	}
	message, _ := config["message"].(string)
	rendered := template.Render(message, ctx.Scope())

	ctx.Emit(models.LogLevelInfo, fmt.Sprintf("NOTIFY %s: %s", channel, rendered), nil)

	return Result{Status: StatusOK}, nil
}

// EmailExecutor records an email send as an INFO log entry. The built-in
// kind is a stub: no network effect.
type EmailExecutor struct{}

// Validate checks the EMAIL node config
func (e *EmailExecutor) Validate(config map[string]interface{}) error {
	if _, ok := config["to"].(string); !ok {
		return &ConfigValidationError{Detail: "to is required and must be a string"}
	}
	return nil
}

// Execute renders the recipient and emits the send record
func (e *EmailExecutor) Execute(config map[string]interface{}, ctx *Context) (Result, error) {
	to, _ := config["to"].(string)
	subject, _ := config["subject"].(string)

	scope := ctx.Scope()
	rendered := template.Render(to, scope)

	ctx.Emit(models.LogLevelInfo, fmt.Sprintf("EMAIL queued to %s", rendered), map[string]interface{}{
		"subject": template.Render(subject, scope),
	})

	return Result{Status: StatusOK}, nil
}

// EndExecutor forces the owning run to immediate success, discarding any
// remaining outgoing edges.
type EndExecutor struct{}

// Validate accepts any config; END carries none
func (e *EndExecutor) Validate(config map[string]interface{}) error {
	return nil
}

// Execute terminates the run
func (e *EndExecutor) Execute(config map[string]interface{}, ctx *Context) (Result, error) {
	return Result{Status: StatusEnd}, nil
}

// numberValue extracts a numeric config value. JSON decoding yields
// float64 but callers constructing graphs in Go hand us native ints.
func numberValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
