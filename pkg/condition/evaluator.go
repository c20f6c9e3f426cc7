package condition

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Evaluator evaluates boolean expressions against variable bags. The zero
// value is usable; Logger defaults to slog.Default.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates an evaluator logging through the given logger.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate parses and evaluates the expression against the variables. An
// empty expression is always true. Errors (parse or evaluation) are logged
// and reported as false together with the error, never panicked or
// propagated as hard failures by callers following the gateway contract.
func (e *Evaluator) Evaluate(expression string, vars map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	tree, err := Parse(expression)
	if err != nil {
		e.log().Warn("condition parse failed, treating as false",
			"expression", expression, "error", err)

		return false, fmt.Errorf("failed to parse condition %q: %w", expression, err)
	}

	value, err := tree.eval(vars)
	if err != nil {
		e.log().Warn("condition evaluation failed, treating as false",
			"expression", expression, "error", err)

		return false, fmt.Errorf("failed to evaluate condition %q: %w", expression, err)
	}

	return truthy(value), nil
}

func (e *Evaluator) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}

	return slog.Default()
}

// truthy follows the loose-typing contract of workflow variables: nil and
// zero values are false, everything else is true.
func truthy(v any) bool {
	switch typed := v.(type) {
	case nil:
		return false
	case bool:
		return typed
	case string:
		return typed != ""
	case float64:
		return typed != 0
	case int:
		return typed != 0
	case int64:
		return typed != 0
	default:
		return true
	}
}

// looseEqual compares values after numeric normalization, so a variable
// decoded as int compares equal to a literal parsed as float64.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}

	return a == b
}

func compareOrdered(op string, a, b any) (any, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		switch op {
		case "<":
			return af < bf, nil
		case ">":
			return af > bf, nil
		case "<=":
			return af <= bf, nil
		case ">=":
			return af >= bf, nil
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)

	if aok && bok {
		switch op {
		case "<":
			return as < bs, nil
		case ">":
			return as > bs, nil
		case "<=":
			return as <= bs, nil
		case ">=":
			return as >= bs, nil
		}
	}

	return nil, fmt.Errorf("cannot order %T against %T", a, b)
}

func toFloat(v any) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		f, err := typed.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}
