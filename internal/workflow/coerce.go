package workflow

import (
	"strconv"
	"strings"

	"server/internal/provider"
)

// CoerceParams shapes a merged parameter map against the target model's
// declared schema: arrays get wrapped or unwrapped, scalars get coerced from
// alternate representations, and parameters without a declared type pass
// through unchanged.
func CoerceParams(params map[string]any, schema map[string]provider.ParamSpec) map[string]any {
	if len(schema) == 0 {
		return params
	}
	out := make(map[string]any, len(params))
	for name, value := range params {
		spec, ok := schema[name]
		if !ok {
			out[name] = value
			continue
		}
		out[name] = coerceValue(value, spec)
	}
	return out
}

func coerceValue(value any, spec provider.ParamSpec) any {
	if spec.Type == provider.ParamArray {
		if _, ok := value.([]any); ok {
			return value
		}
		return []any{value}
	}
	// A single-element array collapses to its element for scalar specs.
	if list, ok := value.([]any); ok && len(list) == 1 {
		value = list[0]
	}
	switch spec.Type {
	case provider.ParamString:
		return coerceString(value)
	case provider.ParamNumber:
		return coerceNumber(value)
	case provider.ParamBoolean:
		return coerceBool(value)
	default:
		return value
	}
}

func coerceString(value any) any {
	switch t := value.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return value
	}
}

func coerceNumber(value any) any {
	switch t := value.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return n
		}
	}
	return value
}

func coerceBool(value any) any {
	switch t := value.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	case float64:
		if t == 1 {
			return true
		}
		if t == 0 {
			return false
		}
	}
	return value
}
