package leak

import (
	"regexp"
	"strings"

	"github.com/bryanwahyu/support-guardrail/internal/domain/textnorm"
)

// Masked shapes produced by this package and well-known test fixtures.
var allowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\+90\*{4}\d{4}$`),
	regexp.MustCompile(`^\p{L}\*{3}@[A-Za-z0-9.-]+$`),
	regexp.MustCompile(`^\*{10,11}$`),
	regexp.MustCompile(`^\*{4} \*{4} \*{4} \d{4}$`),
	regexp.MustCompile(`(?i)@(?:example\.(?:com|org|net)|test\.com)$`),
}

var fixtureDigits = map[string]bool{
	"05555555555":      true,
	"5555555555":       true,
	"905555555555":     true,
	"11111111110":      true,
	"4111111111111111": true,
}

func isAllowlisted(v string) bool {
	for _, p := range allowPatterns {
		if p.MatchString(v) {
			return true
		}
	}
	return fixtureDigits[textnorm.Digits(v)] && strings.Trim(v, "0123456789 -+") == ""
}

// isKnownSafe compares by digits for numeric values and by folded text
// otherwise.
func (c Context) isKnownSafe(v string) bool {
	if len(c.KnownSafe) == 0 {
		return false
	}
	vd := textnorm.Digits(v)
	vf := strings.TrimSpace(textnorm.Fold(v))
	for _, k := range c.KnownSafe {
		kd := textnorm.Digits(k)
		if len(vd) >= 4 && len(vd) == len(kd) && vd == kd {
			return true
		}
		if kf := strings.TrimSpace(textnorm.Fold(k)); kf != "" && kf == vf {
			return true
		}
	}
	return false
}
