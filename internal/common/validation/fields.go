package validation

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	emailPattern       = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	displayNamePattern = regexp.MustCompile(`^[A-Za-z0-9 ]+$`)
	usernamePattern    = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,60}$`)

	strictPolicy = bluemonday.StrictPolicy()
)

// SanitizeText strips all markup from s and trims surrounding whitespace.
// bluemonday escapes what it keeps, so entities are decoded afterwards to
// give back plain text.
func SanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidateDisplayName accepts letters, digits and spaces only.
func ValidateDisplayName(name string) bool {
	return displayNamePattern.MatchString(name)
}

func ValidateUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// ValidateHTTPURL requires an absolute http or https URL with a host.
func ValidateHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
