package autorule

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"

	"sentinelops/internal/domain"
)

// evaluateClauses applies every clause of a condition against the activity
// document. Clauses are AND-combined: all must hold for the rule to fire.
func (e *Engine) evaluateClauses(clauses []domain.ConditionClause, doc string) (bool, error) {
	for _, clause := range clauses {
		ok, err := e.evaluateClause(clause, doc)
		if err != nil {
			return false, fmt.Errorf("clause %q %s: %w", clause.Field, clause.Operator, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) evaluateClause(clause domain.ConditionClause, doc string) (bool, error) {
	field := gjson.Get(doc, clause.Field)

	switch clause.Operator {
	case domain.OpEq:
		return looseEqual(field, clause.Value), nil
	case domain.OpNe:
		return !looseEqual(field, clause.Value), nil
	case domain.OpGt, domain.OpLt, domain.OpGte, domain.OpLte:
		if !field.Exists() {
			return false, nil
		}
		want, err := toFloat(clause.Value)
		if err != nil {
			return false, err
		}
		got := field.Float()
		switch clause.Operator {
		case domain.OpGt:
			return got > want, nil
		case domain.OpLt:
			return got < want, nil
		case domain.OpGte:
			return got >= want, nil
		default:
			return got <= want, nil
		}
	case domain.OpIn, domain.OpNotIn:
		values, err := toSlice(clause.Value)
		if err != nil {
			return false, err
		}
		found := false
		for _, v := range values {
			if looseEqual(field, v) {
				found = true
				break
			}
		}
		if clause.Operator == domain.OpIn {
			return found, nil
		}
		return !found, nil
	case domain.OpContains:
		want, ok := clause.Value.(string)
		if !ok {
			return false, fmt.Errorf("contains requires a string value, got %T", clause.Value)
		}
		if field.IsArray() {
			for _, item := range field.Array() {
				if strings.EqualFold(item.String(), want) {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(strings.ToLower(field.String()), strings.ToLower(want)), nil
	case domain.OpRegex:
		pattern, ok := clause.Value.(string)
		if !ok {
			return false, fmt.Errorf("regex requires a string pattern, got %T", clause.Value)
		}
		re, err := e.compileRegex(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(field.String()), nil
	default:
		return false, fmt.Errorf("unknown operator %q", clause.Operator)
	}
}

// compileRegex compiles a pattern, memoizing the program so hot rules do not
// recompile on every activity.
func (e *Engine) compileRegex(pattern string) (*regexp.Regexp, error) {
	if cached, ok := e.regexCache.Get(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	e.regexCache.Set(pattern, re, gocache.DefaultExpiration)
	return re, nil
}

func looseEqual(field gjson.Result, want any) bool {
	switch v := want.(type) {
	case nil:
		return !field.Exists() || field.Type == gjson.Null
	case bool:
		return field.Type == gjson.True == v || field.Type == gjson.False == !v
	case string:
		return strings.EqualFold(field.String(), v)
	default:
		if f, err := toFloat(v); err == nil {
			return field.Exists() && field.Float() == f
		}
		return field.String() == fmt.Sprintf("%v", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

func toSlice(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("in/not_in requires a list value, got %T", v)
	}
}
