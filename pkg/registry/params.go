package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ParamType names the wire type of an operation parameter or result.
type ParamType string

const (
	TypeReal       ParamType = "double"
	TypeInteger    ParamType = "int"
	TypeString     ParamType = "string"
	TypeStringList ParamType = "string[]"
	TypeBool       ParamType = "bool"
)

// aliases lists the param_types spellings a client may declare for each type.
var aliases = map[ParamType][]string{
	TypeReal:       {"double", "float", "number", "real", "int", "integer"},
	TypeInteger:    {"int", "integer"},
	TypeString:     {"string", "str"},
	TypeStringList: {"string[]", "list", "array", "str[]"},
	TypeBool:       {"bool", "boolean"},
}

// Accepts reports whether a client-declared type name is compatible with p.
func (p ParamType) Accepts(declared string) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	for _, alias := range aliases[p] {
		if alias == declared {
			return true
		}
	}
	return false
}

// Coerce converts a decoded JSON value to the Go type backing p:
// float64, int, string, []string or bool.
func (p ParamType) Coerce(v any) (any, error) {
	switch p {
	case TypeReal:
		return toReal(v)
	case TypeInteger:
		return toInteger(v)
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %s", describe(v))
		}
		return s, nil
	case TypeStringList:
		return toStringList(v)
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %s", describe(v))
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", p)
	}
}

func toReal(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n.String())
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %s", describe(v))
	}
}

func toInteger(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		if int64(int(n)) != n {
			return 0, fmt.Errorf("integer %d overflows int", n)
		}
		return int(n), nil
	case uint32:
		return int(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return toInteger(i)
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", n.String())
		}
		return integralFloat(f)
	case float64:
		return integralFloat(n)
	case float32:
		return integralFloat(float64(n))
	default:
		return 0, fmt.Errorf("expected integer, got %s", describe(v))
	}
}

func integralFloat(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	if f < math.MinInt || f >= -math.MinInt {
		return 0, fmt.Errorf("integer %v overflows int", f)
	}
	return int(f), nil
}

func toStringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: expected string, got %s", i, describe(item))
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected array of strings, got %s", describe(v))
	}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return "number"
	case []any, []string:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
