package guardrail

import (
	"regexp"

	"github.com/bryanwahyu/support-guardrail/internal/domain/textnorm"
)

// Prompt-injection phrases, matched over folded text. A hit is reported as
// telemetry only and never changes the reply.
var injectionPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"ignore_instructions", regexp.MustCompile(`\bignore\s+(?:all\s+)?(?:the\s+)?(?:previous|above|prior)\s+instructions?\b`)},
	{"disregard_above", regexp.MustCompile(`\bdisregard\s+(?:the\s+)?(?:above|previous)\b`)},
	{"override_instructions", regexp.MustCompile(`\boverride\s+(?:your\s+)?instructions?\b`)},
	{"role_reassignment", regexp.MustCompile(`\b(?:you\s+are\s+now\s+a|from\s+now\s+on\s+you\s+(?:are|will))\b`)},
	{"system_prompt", regexp.MustCompile(`\b(?:new\s+)?system\s+prompt\b|\bsistem\s+(?:istemi|mesaji|talimati)`)},
	{"developer_mode", regexp.MustCompile(`\b(?:developer|debug|admin)\s+mode\b|\bjailbreak\b`)},
	{"tr_ignore_instructions", regexp.MustCompile(`\b(?:onceki|yukaridaki)\s+(?:tum\s+)?(?:talimatlari|kurallari|komutlari)\s+(?:yok\s+say|unut|gormezden\s+gel)`)},
	{"tr_role_reassignment", regexp.MustCompile(`\bartik\s+(?:sen\s+)?bir\s+\S+\s+(?:gibi\s+davran|oldugunu\s+varsay)`)},
	{"chat_markup", regexp.MustCompile(`<\|im_start\|>|\[inst\]|<<sys>>|</?system>`)},
}

// DetectInjection returns the names of injection patterns found in msg.
func DetectInjection(msg string) []string {
	if msg == "" {
		return nil
	}
	folded := textnorm.Fold(msg)
	var hits []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(folded) {
			hits = append(hits, p.name)
		}
	}
	return hits
}
