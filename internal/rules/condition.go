package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// EvaluateConditions reports whether every condition holds against the event
// fields. Any evaluation problem (missing field, type mismatch, unknown
// operator) returns an error; callers treat an error as "did not fire".
func EvaluateConditions(conds []Condition, fields map[string]any) (bool, error) {
	for i := range conds {
		ok, err := evaluateCondition(&conds[i], fields)
		if err != nil {
			return false, fmt.Errorf("condition %d (%s %s): %w", i, conds[i].Field, conds[i].Op, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluateCondition(c *Condition, fields map[string]any) (bool, error) {
	val, ok := fields[c.Field]
	if !ok {
		return false, fmt.Errorf("field %q not present", c.Field)
	}

	switch c.Op {
	case OpEq:
		return strings.EqualFold(fmt.Sprintf("%v", val), c.Value), nil
	case OpNe:
		return !strings.EqualFold(fmt.Sprintf("%v", val), c.Value), nil
	case OpContains:
		return strings.Contains(strings.ToLower(fmt.Sprintf("%v", val)), strings.ToLower(c.Value)), nil
	case OpGt, OpLt, OpGe, OpLe:
		f, err := toFloat64(val)
		if err != nil {
			return false, err
		}
		threshold, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return false, fmt.Errorf("non-numeric condition value %q", c.Value)
		}
		return compareFloat(f, c.Op, threshold), nil
	case OpPctDropGt, OpPctRiseGt:
		return evaluatePercent(c, fields, val)
	default:
		return false, fmt.Errorf("unknown operator %q", c.Op)
	}
}

// evaluatePercent compares Field against RefField by relative change.
func evaluatePercent(c *Condition, fields map[string]any, val any) (bool, error) {
	if c.RefField == "" {
		return false, fmt.Errorf("operator %q requires ref_field", c.Op)
	}
	refVal, ok := fields[c.RefField]
	if !ok {
		return false, fmt.Errorf("ref_field %q not present", c.RefField)
	}
	f, err := toFloat64(val)
	if err != nil {
		return false, err
	}
	ref, err := toFloat64(refVal)
	if err != nil {
		return false, err
	}
	if ref == 0 {
		return false, fmt.Errorf("ref_field %q is zero", c.RefField)
	}
	pct, err := strconv.ParseFloat(c.Value, 64)
	if err != nil {
		return false, fmt.Errorf("non-numeric condition value %q", c.Value)
	}
	change := (f - ref) / ref * 100
	if c.Op == OpPctDropGt {
		return -change > pct, nil
	}
	return change > pct, nil
}

func compareFloat(value float64, op string, threshold float64) bool {
	switch op {
	case OpGt:
		return value > threshold
	case OpLt:
		return value < threshold
	case OpGe:
		return value >= threshold
	case OpLe:
		return value <= threshold
	default:
		return false
	}
}

func toFloat64(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", val)
	}
}
