package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateComparison(t *testing.T) {
	expr := map[string]interface{}{
		">": []interface{}{map[string]interface{}{"var": "x"}, float64(10)},
	}

	assert.True(t, Evaluate(expr, map[string]interface{}{"x": float64(20)}))
	assert.False(t, Evaluate(expr, map[string]interface{}{"x": float64(5)}))
}

func TestEvaluateMixedNumericTypes(t *testing.T) {
	expr := map[string]interface{}{
		"==": []interface{}{map[string]interface{}{"var": "count"}, float64(3)},
	}

	// Callers may hand the evaluator native ints as well as decoded JSON floats
	assert.True(t, Evaluate(expr, map[string]interface{}{"count": 3}))
	assert.True(t, Evaluate(expr, map[string]interface{}{"count": float64(3)}))
	assert.False(t, Evaluate(expr, map[string]interface{}{"count": 4}))
}

func TestEvaluateAnd(t *testing.T) {
	expr := map[string]interface{}{
		"and": []interface{}{
			map[string]interface{}{"==": []interface{}{map[string]interface{}{"var": "source"}, "LinkedIn"}},
			map[string]interface{}{">": []interface{}{map[string]interface{}{"var": "score"}, float64(75)}},
		},
	}

	assert.True(t, Evaluate(expr, map[string]interface{}{"source": "LinkedIn", "score": float64(80)}))
	assert.False(t, Evaluate(expr, map[string]interface{}{"source": "Web", "score": float64(80)}))
	assert.False(t, Evaluate(expr, map[string]interface{}{"source": "LinkedIn", "score": float64(50)}))
}

func TestEvaluateOr(t *testing.T) {
	expr := map[string]interface{}{
		"or": []interface{}{
			map[string]interface{}{"==": []interface{}{map[string]interface{}{"var": "a"}, float64(1)}},
			map[string]interface{}{"==": []interface{}{map[string]interface{}{"var": "b"}, float64(2)}},
		},
	}

	assert.True(t, Evaluate(expr, map[string]interface{}{"a": float64(0), "b": float64(2)}))
	assert.False(t, Evaluate(expr, map[string]interface{}{"a": float64(0), "b": float64(0)}))
}

func TestEvaluateIn(t *testing.T) {
	listExpr := map[string]interface{}{
		"in": []interface{}{
			map[string]interface{}{"var": "channel"},
			[]interface{}{"email", "sms"},
		},
	}
	assert.True(t, Evaluate(listExpr, map[string]interface{}{"channel": "sms"}))
	assert.False(t, Evaluate(listExpr, map[string]interface{}{"channel": "push"}))

	substrExpr := map[string]interface{}{
		"in": []interface{}{"Linked", map[string]interface{}{"var": "source"}},
	}
	assert.True(t, Evaluate(substrExpr, map[string]interface{}{"source": "LinkedIn"}))
}

func TestEvaluateDottedPath(t *testing.T) {
	expr := map[string]interface{}{
		"==": []interface{}{map[string]interface{}{"var": "lead.region"}, "EU"},
	}
	ctx := map[string]interface{}{
		"lead": map[string]interface{}{"region": "EU"},
	}
	assert.True(t, Evaluate(expr, ctx))
}

func TestEvaluateMissingPathIsNull(t *testing.T) {
	expr := map[string]interface{}{
		"==": []interface{}{map[string]interface{}{"var": "missing.path"}, "x"},
	}
	assert.False(t, Evaluate(expr, map[string]interface{}{}))
}

func TestEvaluateNeverPropagatesErrors(t *testing.T) {
	cases := []interface{}{
		nil,
		map[string]interface{}{"bogus_op": []interface{}{1, 2}},
		map[string]interface{}{">": "not operands"},
		map[string]interface{}{">": []interface{}{"string", map[string]interface{}{"var": "x"}}},
		map[string]interface{}{"var": float64(42)},
		map[string]interface{}{"in": []interface{}{"a", float64(7)}},
	}

	for _, expr := range cases {
		assert.False(t, Evaluate(expr, map[string]interface{}{"x": float64(1)}), "expr %#v should degrade to false", expr)
	}
}

func TestEvaluateLiteralRule(t *testing.T) {
	assert.True(t, Evaluate(true, nil))
	assert.False(t, Evaluate(false, nil))

	// Bare strings are literals, not malformed rules: non-empty is truthy
	assert.True(t, Evaluate("nonempty", nil))
	assert.True(t, Evaluate("not a rule at all", nil))
	assert.False(t, Evaluate("", nil))
}

func TestEvaluateNot(t *testing.T) {
	expr := map[string]interface{}{
		"!": []interface{}{map[string]interface{}{"var": "flag"}},
	}
	assert.True(t, Evaluate(expr, map[string]interface{}{"flag": false}))
	assert.False(t, Evaluate(expr, map[string]interface{}{"flag": true}))
}
