// Package condition evaluates a step's send and skip rule sets against a
// recipient's attributes at dispatch time.
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ignite/drip-engine/internal/domain"
)

// Operator is a comparison between an attribute and a rule value.
type Operator string

const (
	// String operators (case-insensitive)
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"

	// Numeric operators
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"

	// List operators
	OpIn    Operator = "in"
	OpNotIn Operator = "not_in"

	// Boolean operators
	OpIsTrue  Operator = "is_true"
	OpIsFalse Operator = "is_false"
)

// Decision is the outcome of evaluating a step for one recipient.
type Decision struct {
	Send   bool
	Reason string
}

// Decide applies a step's rule sets in a fixed order: a matching skip set
// skips the step, then a non-matching send set skips it. Empty sets never
// skip.
func Decide(step domain.Step, attrs map[string]any) Decision {
	if !step.SkipConditions.IsEmpty() && Matches(step.SkipConditions, attrs) {
		return Decision{Send: false, Reason: "skip conditions matched"}
	}
	if !step.SendConditions.IsEmpty() && !Matches(step.SendConditions, attrs) {
		return Decision{Send: false, Reason: "send conditions not met"}
	}
	return Decision{Send: true}
}

// Matches evaluates rs against attrs. An empty set matches. Match "any"
// requires one passing rule; anything else requires all of them.
func Matches(rs domain.RuleSet, attrs map[string]any) bool {
	if rs.IsEmpty() {
		return true
	}
	if rs.Match == domain.MatchAny {
		for _, r := range rs.Rules {
			if evaluate(r, attrs) {
				return true
			}
		}
		return false
	}
	for _, r := range rs.Rules {
		if !evaluate(r, attrs) {
			return false
		}
	}
	return true
}

func evaluate(r domain.Rule, attrs map[string]any) bool {
	val, present := lookup(attrs, r.Field)
	actual := ""
	if present && val != nil {
		actual = fmt.Sprintf("%v", val)
	}
	want := ""
	if r.Value != nil {
		want = fmt.Sprintf("%v", r.Value)
	}
	la, lw := strings.ToLower(actual), strings.ToLower(want)

	switch Operator(r.Operator) {
	case OpEquals:
		if a, b, ok := bothNumbers(val, r.Value); ok {
			return a == b
		}
		return present && la == lw
	case OpNotEquals:
		if a, b, ok := bothNumbers(val, r.Value); ok {
			return a != b
		}
		return !present || la != lw
	case OpContains:
		return present && strings.Contains(la, lw)
	case OpNotContains:
		return !strings.Contains(la, lw)
	case OpStartsWith:
		return present && strings.HasPrefix(la, lw)
	case OpEndsWith:
		return present && strings.HasSuffix(la, lw)
	case OpIsEmpty:
		return strings.TrimSpace(actual) == ""
	case OpIsNotEmpty:
		return strings.TrimSpace(actual) != ""
	case OpGt, OpGte, OpLt, OpLte:
		a, b, ok := bothNumbers(val, r.Value)
		if !ok {
			return false
		}
		switch Operator(r.Operator) {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn:
		return present && inList(la, r.Value)
	case OpNotIn:
		return !present || !inList(la, r.Value)
	case OpIsTrue:
		b, ok := toBool(val)
		return ok && b
	case OpIsFalse:
		b, ok := toBool(val)
		return !ok || !b
	default:
		return false
	}
}

// lookup resolves a dotted field path through nested maps.
func lookup(attrs map[string]any, field string) (any, bool) {
	if v, ok := attrs[field]; ok {
		return v, true
	}
	parts := strings.Split(field, ".")
	var cur any = attrs
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func bothNumbers(a, b any) (float64, float64, bool) {
	x, ok := toFloat(a)
	if !ok {
		return 0, 0, false
	}
	y, ok := toFloat(b)
	if !ok {
		return 0, 0, false
	}
	return x, y, true
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	default:
		return false, false
	}
}

// inList accepts a JSON array or a comma-separated string.
func inList(needle string, list any) bool {
	var items []string
	switch l := list.(type) {
	case []any:
		for _, it := range l {
			items = append(items, fmt.Sprintf("%v", it))
		}
	case []string:
		items = l
	case string:
		items = strings.Split(l, ",")
	default:
		return false
	}
	for _, it := range items {
		if strings.ToLower(strings.TrimSpace(it)) == needle {
			return true
		}
	}
	return false
}
