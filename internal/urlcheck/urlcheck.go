// Package urlcheck gates user-submitted URLs before they reach the
// remote shortening service.
package urlcheck

import (
	"net/url"
	"regexp"
	"strings"
)

// Tokens whose presence anywhere in the URL rejects it outright.
var injectionPattern = regexp.MustCompile(`\b(javascript|vbscript|eval|onerror|onload|onclick)\b`)

// IsValid reports whether raw parses as an absolute HTTP or HTTPS URL
// and carries none of the script-injection tokens (case-insensitively).
func IsValid(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}

	return !injectionPattern.MatchString(strings.ToLower(raw))
}
