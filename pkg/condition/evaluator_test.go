package condition

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluator() *Evaluator {
	return NewEvaluator(slog.Default())
}

func TestEvaluate_EmptyExpressionIsTrue(t *testing.T) {
	result, err := newEvaluator().Evaluate("", nil)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_Comparisons(t *testing.T) {
	vars := map[string]any{
		"amount": 150,
		"status": "approved",
		"ratio":  0.5,
	}

	cases := []struct {
		expr     string
		expected bool
	}{
		{"amount > 100", true},
		{"amount < 100", false},
		{"amount >= 150", true},
		{"amount <= 149", false},
		{"amount == 150", true},
		{"amount != 150", false},
		{`status == "approved"`, true},
		{`status != "rejected"`, true},
		{"ratio < 1", true},
	}

	for _, tc := range cases {
		result, err := newEvaluator().Evaluate(tc.expr, vars)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.expected, result, tc.expr)
	}
}

func TestEvaluate_BooleanConnectives(t *testing.T) {
	vars := map[string]any{"a": 1, "b": 2}

	result, err := newEvaluator().Evaluate("a == 1 && b == 2", vars)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = newEvaluator().Evaluate("a == 2 || b == 2", vars)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = newEvaluator().Evaluate("a == 2 && b == 2", vars)
	require.NoError(t, err)
	assert.False(t, result)

	result, err = newEvaluator().Evaluate("!(a == 1)", vars)
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluate_DottedPath(t *testing.T) {
	vars := map[string]any{
		"order": map[string]any{
			"total": 250.0,
			"customer": map[string]any{
				"tier": "gold",
			},
		},
	}

	result, err := newEvaluator().Evaluate("order.total > 200", vars)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = newEvaluator().Evaluate(`order.customer.tier == "gold"`, vars)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_MissingVariableComparesToNil(t *testing.T) {
	result, err := newEvaluator().Evaluate("missing == nil", map[string]any{})
	require.NoError(t, err)
	assert.True(t, result)

	result, err = newEvaluator().Evaluate("missing", map[string]any{})
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluate_ParseErrorReturnsFalse(t *testing.T) {
	result, err := newEvaluator().Evaluate("amount >", map[string]any{"amount": 1})
	require.Error(t, err)
	assert.False(t, result)
}

// An interpolated string is never executed as code; operands are looked up
// as variables only.
func TestEvaluate_NoCodeExecution(t *testing.T) {
	result, err := newEvaluator().Evaluate(`name == "x"`, map[string]any{
		"name": `"; deleteEverything(); "`,
	})
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluate_NumericTypeCoercion(t *testing.T) {
	result, err := newEvaluator().Evaluate("count == 3", map[string]any{"count": 3.0})
	require.NoError(t, err)
	assert.True(t, result)

	result, err = newEvaluator().Evaluate("count == 3", map[string]any{"count": int64(3)})
	require.NoError(t, err)
	assert.True(t, result)
}
