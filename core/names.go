package core

import (
	"strings"
)

// EvalMarker separates a literal prefix from an expression in a name part,
// e.g. "lr_eval:0.1*2" resolves to "lr_0.2".
const EvalMarker = "eval:"

// EvalValue resolves a single name part. Everything after the first
// EvalMarker is evaluated and appended to the literal prefix.
func EvalValue(val string) (string, error) {
	idx := strings.Index(val, EvalMarker)
	if idx < 0 {
		return val, nil
	}
	result, err := EvalExpr(val[idx+len(EvalMarker):])
	if err != nil {
		return "", err
	}
	return val[:idx] + result, nil
}

// ResolveName resolves each part and joins them with underscores.
func ResolveName(parts []string) (string, error) {
	resolved := make([]string, 0, len(parts))
	for _, part := range parts {
		v, err := EvalValue(part)
		if err != nil {
			return "", err
		}
		resolved = append(resolved, v)
	}
	return strings.Join(resolved, "_"), nil
}
