// Package utils provides small, generic helper functions shared across
// layers. Nothing here knows about scheduling domain types.
package utils

import "strconv"

// AtoiDefault converts a string to an int, falling back to def when the
// string is empty or not a valid integer.
//
// Example:
//
//	n := utils.AtoiDefault("25", 20) // returns 25
//	n = utils.AtoiDefault("", 20)    // returns 20
//	n = utils.AtoiDefault("x", 20)   // returns 20
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
