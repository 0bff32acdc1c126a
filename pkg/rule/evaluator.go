// Package rule evaluates json-logic style boolean expressions over a
// variable context. Evaluation is total: malformed rules and runtime type
// mismatches degrade to false instead of propagating an error.
package rule

import (
	"reflect"
	"strings"
)

// Evaluate applies a rule expression to the given context and reports
// whether it passed. It never panics past its boundary; any failure inside
// the evaluator counts as "rule did not pass".
func Evaluate(expr interface{}, context map[string]interface{}) (passed bool) {
	defer func() {
		if recover() != nil {
			passed = false
		}
	}()
	return truthy(apply(expr, context))
}

// apply evaluates a single expression node and returns its value. Literals
// evaluate to themselves; an operator node is a single-key map whose value
// holds the operands.
func apply(expr interface{}, context map[string]interface{}) interface{} {
	node, ok := expr.(map[string]interface{})
	if !ok || len(node) != 1 {
		return expr
	}

	var op string
	var rawArgs interface{}
	for k, v := range node {
		op, rawArgs = k, v
	}

	args, ok := rawArgs.([]interface{})
	if !ok {
		args = []interface{}{rawArgs}
	}

	switch op {
	case "var":
		if len(args) == 0 {
			return nil
		}
		path, ok := apply(args[0], context).(string)
		if !ok {
			return nil
		}
		return resolvePath(context, path)

	case "==", "===":
		if len(args) < 2 {
			return nil
		}
		return looseEqual(apply(args[0], context), apply(args[1], context))

	case "!=", "!==":
		if len(args) < 2 {
			return nil
		}
		return !looseEqual(apply(args[0], context), apply(args[1], context))

	case ">", "<", ">=", "<=":
		if len(args) < 2 {
			return nil
		}
		a, aok := toNumber(apply(args[0], context))
		b, bok := toNumber(apply(args[1], context))
		if !aok || !bok {
			return nil
		}
		switch op {
		case ">":
			return a > b
		case "<":
			return a < b
		case ">=":
			return a >= b
		default:
			return a <= b
		}

	case "and":
		for _, arg := range args {
			if !truthy(apply(arg, context)) {
				return false
			}
		}
		return len(args) > 0

	case "or":
		for _, arg := range args {
			if truthy(apply(arg, context)) {
				return true
			}
		}
		return false

	case "!":
		if len(args) == 0 {
			return nil
		}
		return !truthy(apply(args[0], context))

	case "in":
		if len(args) < 2 {
			return nil
		}
		needle := apply(args[0], context)
		haystack := apply(args[1], context)
		switch h := haystack.(type) {
		case []interface{}:
			for _, item := range h {
				if looseEqual(needle, item) {
					return true
				}
			}
			return false
		case string:
			s, ok := needle.(string)
			if !ok {
				return false
			}
			return strings.Contains(h, s)
		default:
			return nil
		}

	default:
		// Unknown operator: malformed rule, degrades to absent value
		return nil
	}
}

// resolvePath walks a dotted path through nested maps. A missing path
// yields nil, not an error.
func resolvePath(context map[string]interface{}, path string) interface{} {
	var current interface{} = context
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// looseEqual compares two values the way json-logic equality does for the
// types that appear in event payloads: numbers compare numerically across
// int/float representations, everything else by deep equality.
func looseEqual(a, b interface{}) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		if n, ok := toNumber(v); ok {
			return n != 0
		}
		return true
	}
}
