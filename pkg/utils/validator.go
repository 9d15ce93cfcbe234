package utils

import (
	"fmt"
	"net/url"
	"regexp"
)

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	controlRegex = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// ValidateEmail validates an agency contact address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// ValidatePortalURL validates an agency portal address. Only http(s) URLs
// with a host are accepted; portal automation refuses anything else.
func ValidatePortalURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid portal URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("portal URL must be http or https: %s", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("portal URL has no host: %s", raw)
	}
	return nil
}

// SanitizeString removes control characters before text is stored or displayed
func SanitizeString(s string) string {
	return controlRegex.ReplaceAllString(s, "")
}
