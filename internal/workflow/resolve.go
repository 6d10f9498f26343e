package workflow

import (
	"regexp"
	"strconv"
	"strings"

	"server/internal/domain"
)

// The resolution context is an immutable snapshot taken at the start of each
// step's resolution: user inputs under "user" plus every accumulated step
// output map under its "stepN" key. It is never mutated mid-resolution.
func resolutionContext(exec *domain.WorkflowExecution) map[string]any {
	ctx := make(map[string]any, len(exec.StepOutputs)+1)
	ctx["user"] = exec.UserInputs
	for key, outputs := range exec.StepOutputs {
		m := make(map[string]any, len(outputs))
		for k, v := range outputs {
			m[k] = v
		}
		ctx[key] = m
	}
	return ctx
}

// Two historical naming conventions address the user inputs: "user." and
// "input.". A miss under one prefix retries under the other.
var namespaceAliases = map[string]string{
	"user.":  "input.",
	"input.": "user.",
}

// lookupPath resolves a dotted path against the context, applying the
// user-namespace alias fallback when the primary lookup misses.
func lookupPath(ctx map[string]any, path string) (any, bool) {
	if v, ok := lookupExact(ctx, path); ok {
		return v, true
	}
	for prefix, alias := range namespaceAliases {
		if strings.HasPrefix(path, prefix) {
			return lookupExact(ctx, alias+strings.TrimPrefix(path, prefix))
		}
	}
	return nil, false
}

func lookupExact(ctx map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = ctx
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

var templateToken = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// ResolveTemplate substitutes every {{dotted.path}} token from the context.
// Unresolved tokens are left intact so a misconfigured mapping is visible in
// the submitted prompt rather than silently blanked.
func ResolveTemplate(tpl string, ctx map[string]any) string {
	return templateToken.ReplaceAllStringFunc(tpl, func(match string) string {
		path := templateToken.FindStringSubmatch(match)[1]
		v, ok := lookupPath(ctx, path)
		if !ok {
			return match
		}
		if s, ok := stringify(v); ok {
			return s
		}
		return match
	})
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}
