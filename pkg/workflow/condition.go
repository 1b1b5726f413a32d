package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/convoflow/convoflow/pkg/models"
)

// EvaluateCondition resolves the condition's field against the execution
// context and applies the operator. Fields use dotted paths rooted at
// trigger_data, variables, or step_results; bare fields resolve inside
// trigger_data.
func EvaluateCondition(condition *models.ConditionConfig, executionCtx *models.ExecutionContext) (bool, error) {
	value, found := resolveField(condition.Field, executionCtx)

	switch condition.Operator {
	case models.OperatorExists:
		return found, nil
	case models.OperatorEquals:
		return found && looseEqual(value, condition.Value), nil
	case models.OperatorNotEquals:
		return !found || !looseEqual(value, condition.Value), nil
	case models.OperatorGreaterThan, models.OperatorLessThan:
		if !found {
			return false, nil
		}

		left, okLeft := toFloat(value)
		right, okRight := toFloat(condition.Value)

		if !okLeft || !okRight {
			return false, fmt.Errorf("condition field %q is not numeric", condition.Field)
		}

		if condition.Operator == models.OperatorGreaterThan {
			return left > right, nil
		}

		return left < right, nil
	case models.OperatorContains:
		if !found {
			return false, nil
		}

		return contains(value, condition.Value), nil
	default:
		return false, fmt.Errorf("unknown condition operator %q", condition.Operator)
	}
}

func resolveField(field string, executionCtx *models.ExecutionContext) (any, bool) {
	parts := strings.Split(field, ".")

	var root map[string]any

	switch parts[0] {
	case "trigger_data":
		root = executionCtx.TriggerData
		parts = parts[1:]
	case "variables":
		root = executionCtx.Variables
		parts = parts[1:]
	case "step_results":
		root = executionCtx.StepResults
		parts = parts[1:]
	default:
		root = executionCtx.TriggerData
	}

	if len(parts) == 0 {
		return root, root != nil
	}

	var current any = root

	for _, part := range parts {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func looseEqual(left, right any) bool {
	if leftNum, ok := toFloat(left); ok {
		if rightNum, ok := toFloat(right); ok {
			return leftNum == rightNum
		}
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range h {
			if item == fmt.Sprintf("%v", needle) {
				return true
			}
		}

		return false
	default:
		return false
	}
}
