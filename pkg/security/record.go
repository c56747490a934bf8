package security

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	hostnamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
	countryPattern  = regexp.MustCompile(`^[A-Z]{2}$`)
)

// ValidateHostname accepts a single RFC 1123 label.
func ValidateHostname(name string) error {
	if !hostnamePattern.MatchString(strings.ToLower(name)) {
		return fmt.Errorf("invalid hostname %q: use 1-63 letters, digits or hyphens, not starting or ending with a hyphen", name)
	}
	return nil
}

// ValidateUsername accepts a lowercase POSIX login name other than root.
func ValidateUsername(name string) error {
	if name == "root" {
		return fmt.Errorf("username root is not allowed")
	}
	if !usernamePattern.MatchString(name) {
		return fmt.Errorf("invalid username %q: use lowercase letters, digits, '_' or '-'", name)
	}
	return nil
}

// ValidateCountry accepts an ISO 3166-1 alpha-2 code.
func ValidateCountry(cc string) error {
	if !countryPattern.MatchString(cc) {
		return fmt.Errorf("invalid wlan country %q: expected two uppercase letters", cc)
	}
	return nil
}

// ValidateQuoted rejects values that cannot be embedded in a single-line TOML
// string.
func ValidateQuoted(field, value string) error {
	if strings.ContainsAny(value, "\n\r\x00") {
		return fmt.Errorf("%s contains control characters", field)
	}
	return nil
}
