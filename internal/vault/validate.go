package vault

import (
	"fmt"
	"regexp"
	"strings"
)

// ParameterType identifies the kind of MFA parameter supplied by an end user.
type ParameterType string

const (
	// ParameterNumericCode is a one-time numeric code.
	ParameterNumericCode ParameterType = "numeric_code"
	// ParameterPassword is a password or passphrase.
	ParameterPassword ParameterType = "password"
	// ParameterUsername is an email or username.
	ParameterUsername ParameterType = "username"
)

var (
	numericCodeRe = regexp.MustCompile(`^[0-9]{4,10}$`)
	usernameRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+@-]{3,254}$`)

	// Known-invalid placeholder values users paste in when guessing.
	denylist = map[string]struct{}{
		"123456":    {},
		"000000":    {},
		"password":  {},
		"senha":     {},
		"test":      {},
		"null":      {},
		"undefined": {},
	}

	// Substrings that indicate injection attempts rather than credentials.
	// This is input hygiene, not a security boundary.
	injectionMarkers = []string{
		"<script",
		"</",
		"javascript:",
		"';--",
		"\";--",
		" or 1=1",
		"${",
		"{{",
	}
)

// ValidateParameter checks an MFA parameter value before encryption.
func ValidateParameter(paramType ParameterType, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("parameter value cannot be empty")
	}

	if _, denied := denylist[strings.ToLower(trimmed)]; denied {
		return fmt.Errorf("parameter value is a known placeholder")
	}

	lowered := strings.ToLower(trimmed)
	for _, marker := range injectionMarkers {
		if strings.Contains(lowered, marker) {
			return fmt.Errorf("parameter value contains invalid sequence")
		}
	}

	switch paramType {
	case ParameterNumericCode:
		if !numericCodeRe.MatchString(trimmed) {
			return fmt.Errorf("numeric code must be 4-10 digits")
		}
	case ParameterPassword:
		if len(trimmed) < 4 || len(trimmed) > 128 {
			return fmt.Errorf("password must be between 4 and 128 characters")
		}
	case ParameterUsername:
		if !usernameRe.MatchString(trimmed) {
			return fmt.Errorf("username format is invalid")
		}
	default:
		return fmt.Errorf("unknown parameter type %q", paramType)
	}

	return nil
}
