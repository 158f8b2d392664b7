package util

import "strings"

// NormalizeKey trims whitespace around a license key; keys are otherwise case
// and character sensitive.
func NormalizeKey(raw string) string {
	return strings.TrimSpace(raw)
}

// StrPtr returns nil for empty strings.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Truncate cuts s to at most n bytes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
