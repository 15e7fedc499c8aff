package nodes

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/shaiso/Conveyor/internal/engine"
)

// Exec-порты условных и циклических nodes.
const (
	PortTrue      = "true"
	PortFalse     = "false"
	PortLoop      = "loop"
	PortCompleted = "completed"
)

// IfNode — node типа "if": направляет поток в порт "true" или "false".
//
// Два режима:
//   - condition (string): отрендеренная движком строка трактуется как
//     булево значение ("true"/"false"/"0"/пусто);
//   - operator + operand: сравнение значения входного порта "value"
//     (или config value) с операндом.
//
// Операторы: eq, ne, gt, gte, lt, lte, contains, empty, not_empty.
//
// Outputs:
//   - result (bool): итог проверки
type IfNode struct{}

// NewIfNode создаёт if node.
func NewIfNode() *IfNode { return &IfNode{} }

// Type возвращает тип node.
func (n *IfNode) Type() string { return "if" }

// Execute вычисляет условие и выбирает порт.
func (n *IfNode) Execute(_ context.Context, req engine.Request) (engine.Result, error) {
	var (
		result bool
		err    error
	)

	if cond, ok := req.Config["condition"]; ok {
		result = truthy(cond)
	} else {
		left := req.Inputs["value"]
		if v, ok := req.Config["value"]; ok {
			left = v
		}
		op := GetConfigString(req.Config, "operator", "not_empty")
		result, err = compare(left, op, req.Config["operand"])
		if err != nil {
			return engine.Result{}, err
		}
	}

	port := PortFalse
	if result {
		port = PortTrue
	}
	return engine.Result{
		Success:   true,
		Outputs:   map[string]any{"result": result},
		NextPorts: []string{port},
	}, nil
}

// truthy трактует произвольное значение как булево.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "", "false", "0", "no", "<nil>", "<no value>":
			return false
		default:
			return true
		}
	case int, int64, float64:
		f, _ := toFloat(val)
		return f != 0
	default:
		return true
	}
}

// compare сравнивает значение с операндом.
func compare(left any, operator string, operand any) (bool, error) {
	switch operator {
	case "empty":
		return isEmpty(left), nil
	case "not_empty":
		return !isEmpty(left), nil
	case "eq":
		return valuesEqual(left, operand), nil
	case "ne":
		return !valuesEqual(left, operand), nil
	case "contains":
		return containsValue(left, operand), nil
	case "gt", "gte", "lt", "lte":
		lf, lok := toFloat(left)
		rf, rok := toFloat(operand)
		if !lok || !rok {
			return false, fmt.Errorf("%w: operator %q needs numeric values, got %T and %T",
				ErrInvalidConfig, operator, left, operand)
		}
		switch operator {
		case "gt":
			return lf > rf, nil
		case "gte":
			return lf >= rf, nil
		case "lt":
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidConfig, operator)
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// valuesEqual сравнивает значения; числа приводятся к float64,
// чтобы 3 и 3.0 из JSON считались равными.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func containsValue(container, item any) bool {
	switch c := container.(type) {
	case string:
		if s, ok := item.(string); ok {
			return strings.Contains(c, s)
		}
		return false
	case []any:
		for _, it := range c {
			if valuesEqual(it, item) {
				return true
			}
		}
		return false
	case []string:
		if s, ok := item.(string); ok {
			for _, it := range c {
				if it == s {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
