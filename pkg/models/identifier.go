package models

import "regexp"

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidIdentifier reports whether s is acceptable as a workflow id or tenant key
// in a tool endpoint path.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
