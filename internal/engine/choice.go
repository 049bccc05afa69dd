package engine

import (
	"strconv"
	"strings"
)

// resolveChoice maps input onto one of options. An exact case-insensitive
// text match wins over a 1-based index so that numeric-looking options stay
// reachable by name.
func resolveChoice(input string, options []string) (string, bool) {
	in := strings.TrimSpace(input)
	if in == "" {
		return "", false
	}
	for _, o := range options {
		if strings.EqualFold(in, o) {
			return o, true
		}
	}
	if n, ok := parseIndex(in, len(options)); ok {
		return options[n-1], true
	}
	return "", false
}

// parseIndex parses a 1-based position in a list of size n.
func parseIndex(input string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i, true
}
