// Package utils holds the query and path parsing helpers shared by the HTTP
// handlers and the router. They report malformed input instead of guessing.
package utils

import (
	"math"
	"strconv"
	"strings"
)

// ParseID parses a positive decimal identifier such as a pharmacy or
// prescription id. Zero, signs and surrounding spaces are rejected.
func ParseID(s string) (uint64, bool) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// OptionalFloat parses s as a finite float. An empty string yields (nil, true).
func OptionalFloat(s string) (*float64, bool) {
	if s == "" {
		return nil, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return &f, true
}

// OptionalInt parses s as an int, returning def for an empty string.
// Unlike AtoiDefault, garbage input is reported instead of defaulted.
func OptionalInt(s string, def int) (int, bool) {
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// AtoiDefault is the lenient sibling of OptionalInt used for pagination:
// empty or malformed input falls back to def.
func AtoiDefault(s string, def int) int {
	if n, ok := OptionalInt(s, def); ok {
		return n
	}
	return def
}

// SplitList flattens repeated and comma-separated query values, trimming
// blanks: ["a,b", " c "] -> [a b c].
func SplitList(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
