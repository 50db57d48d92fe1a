package core

import (
	"strings"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// ContainsAny reports whether s contains any of the substrings, ignoring case.
func ContainsAny(s string, substrs []string) bool {
	ls := strings.ToLower(s)
	for _, sub := range substrs {
		if sub != "" && strings.Contains(ls, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
