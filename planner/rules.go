package planner

import "fmt"

// IsTaskActive evaluates a task's eligibility rule against the facts.
// A task without an eligibility rule is always active.
func IsTaskActive(task map[string]any, facts map[string]any) (bool, error) {
	eligibility, ok := task["eligibility"]
	if !ok {
		return true, nil
	}
	return EvalRule(eligibility, facts)
}

// EvalRule evaluates a boolean rule tree against the facts.
//
// A rule is either a combinator ({"all": [...]}, {"any": [...]}, {"not": ...})
// or a predicate ({"fact": ..., "op": ..., "value": ...}). An empty "all" is
// true, an empty "any" is false. A null rule is an error, not false.
func EvalRule(rule any, facts map[string]any) (bool, error) {
	if rule == nil {
		return false, fmt.Errorf("%w: eligibility cannot be null", ErrRule)
	}
	node, ok := rule.(map[string]any)
	if !ok {
		return false, fmt.Errorf("%w: rule must be an object", ErrRule)
	}

	if clauses, ok := node["all"]; ok {
		list, ok := clauses.([]any)
		if !ok {
			return false, fmt.Errorf("%w: rule.all must be a list", ErrRule)
		}
		for _, clause := range list {
			active, err := EvalRule(clause, facts)
			if err != nil {
				return false, err
			}
			if !active {
				return false, nil
			}
		}
		return true, nil
	}

	if clauses, ok := node["any"]; ok {
		list, ok := clauses.([]any)
		if !ok {
			return false, fmt.Errorf("%w: rule.any must be a list", ErrRule)
		}
		for _, clause := range list {
			active, err := EvalRule(clause, facts)
			if err != nil {
				return false, err
			}
			if active {
				return true, nil
			}
		}
		return false, nil
	}

	if inner, ok := node["not"]; ok {
		active, err := EvalRule(inner, facts)
		if err != nil {
			return false, err
		}
		return !active, nil
	}

	return evalPredicate(node, facts)
}

func evalPredicate(pred map[string]any, facts map[string]any) (bool, error) {
	factKey, keyOK := pred["fact"].(string)
	op, opOK := pred["op"].(string)
	if !keyOK || !opOK {
		return false, fmt.Errorf("%w: invalid predicate shape: %v", ErrRule, pred)
	}

	left, present := facts[factKey]
	if op != "exists" && !present {
		return false, nil
	}

	right := pred["value"]

	switch op {
	case "exists":
		return present, nil
	case "=":
		return jsonEqual(left, right), nil
	case "!=":
		return !jsonEqual(left, right), nil
	case "in":
		members, ok := right.([]any)
		if !ok {
			return false, nil
		}
		for _, member := range members {
			if jsonEqual(left, member) {
				return true, nil
			}
		}
		return false, nil
	case ">":
		return compareNumeric(left, right, func(a, b float64) bool { return a > b }), nil
	case ">=":
		return compareNumeric(left, right, func(a, b float64) bool { return a >= b }), nil
	case "<":
		return compareNumeric(left, right, func(a, b float64) bool { return a < b }), nil
	case "<=":
		return compareNumeric(left, right, func(a, b float64) bool { return a <= b }), nil
	}

	return false, fmt.Errorf("%w: unsupported predicate op: %s", ErrRule, op)
}

func compareNumeric(left, right any, fn func(a, b float64) bool) bool {
	a, ok := asNumber(left)
	if !ok {
		return false
	}
	b, ok := asNumber(right)
	if !ok {
		return false
	}
	return fn(a, b)
}

// asNumber accepts JSON numbers however a decoder produced them. Booleans
// are never numbers.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// jsonEqual compares two decoded JSON values structurally. Numbers compare
// by value regardless of decoded Go type; booleans only equal booleans.
func jsonEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !jsonEqual(v, other) {
				return false
			}
		}
		return true
	}

	return false
}
