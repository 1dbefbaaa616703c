package capability

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// String returns params[name] as a string. Non-string scalars are formatted.
func String(params map[string]any, name string) string {
	switch v := params[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// RequireString is String, failing with ErrInvalidParams when the value is
// blank.
func RequireString(params map[string]any, name string) (string, error) {
	s := strings.TrimSpace(String(params, name))
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParams, name)
	}
	return s, nil
}

// Int returns params[name] as an int, or def when absent or not numeric.
func Int(params map[string]any, name string, def int) int {
	switch v := params[name].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
