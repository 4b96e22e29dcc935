package util

import (
	"regexp"
	"strings"
)

var nonPhone = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone normalizes user input into an E.164-like string.
// Returns "" when the input has no usable digits.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = nonPhone.ReplaceAllString(s, "")

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	if s == "" || s == "+" {
		return ""
	}

	return s
}

// ValidPhone reports whether a normalized phone looks addressable:
// optional leading +, then 7 to 15 digits.
func ValidPhone(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if len(s) < 7 || len(s) > 15 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
