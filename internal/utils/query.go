// Package utils holds small parsing helpers shared by the HTTP handlers.
package utils

import (
	"strconv"
	"strings"
)

// ParseLimit reads a "limit" query value. Blank or non-numeric input means
// def; the result is always within [1, hi].
func ParseLimit(raw string, def, hi int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		n = def
	}
	return min(max(n, 1), hi)
}
