package middleware

import (
	"regexp"
	"strings"
)

// Asterisk channel ids are unique ids like "1697040000.42" or, when the
// originator chooses them, uuid-like strings.
var channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9._\-]{1,128}$`)

// ValidChannelID reports whether id is safe to place in an exchange URL path.
func ValidChannelID(id string) bool {
	return channelIDPattern.MatchString(id)
}

// SanitizeString removes potentially dangerous characters from strings
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}
