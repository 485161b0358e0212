package middleware

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrInvalidID is wrapped by the tenant and session validators.
var ErrInvalidID = errors.New("invalid identifier")

var (
	// tenants appear in redis keys and object paths
	tenantPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	// session ids come from chat channels, e.g. "wa:905551112233.1"
	sessionPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]{1,128}$`)
)

// SanitizeString cleans a user message before injection scanning: invalid
// UTF-8 is dropped, control characters other than tab and newline are
// removed, and the ends are trimmed.
func SanitizeString(input string) string {
	input = strings.ToValidUTF8(input, "")
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, input))
}

func ValidateTenantID(tenant string) error {
	if !tenantPattern.MatchString(tenant) {
		return fmt.Errorf("%w: tenant %q (letters, digits, dash, underscore; max 64)", ErrInvalidID, tenant)
	}
	return nil
}

func ValidateSessionID(sessionID string) error {
	if !sessionPattern.MatchString(sessionID) {
		return fmt.Errorf("%w: session %q (letters, digits, . _ : -; max 128)", ErrInvalidID, sessionID)
	}
	return nil
}
