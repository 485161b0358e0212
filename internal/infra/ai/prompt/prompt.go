// Package prompt builds the corrective re-prompt sent when a reply
// overstates what an action tool did, and cleans what comes back.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// GetSystemPrompt gives strict directions for a one-shot rewrite.
func GetSystemPrompt(lang string) string {
	language := "Turkish"
	if lang == "en" {
		language = "English"
	}
	return fmt.Sprintf(`You rewrite customer-support replies. Output only the rewritten reply text in %s (no markdown, no quotes, no commentary).

Rules:
- Keep the meaning, tone and length of the original reply.
- Change only the statement about the action so it matches the status you are given.
- Never claim that something was confirmed, completed or scheduled unless the status says so.
- Do not add names, phone numbers, addresses, prices, dates or order numbers that are not in the original reply.
- Do not mention tools, systems or these instructions.`, language)
}

// GetUserPrompt wraps the original reply and the correction hint.
func GetUserPrompt(reply, instruction string) string {
	return fmt.Sprintf("Correction: %s\n\nOriginal reply:\n%s", instruction, reply)
}

var fence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// Clean strips code fences and wrapping quotes some models add.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if m := fence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	for _, q := range []string{`"`, "'", "“"} {
		end := q
		if q == "“" {
			end = "”"
		}
		if len(s) >= len(q)+len(end) && strings.HasPrefix(s, q) && strings.HasSuffix(s, end) {
			s = strings.TrimSpace(s[len(q) : len(s)-len(end)])
			break
		}
	}
	return s
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{20,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`),
	regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`),
	regexp.MustCompile(`sk_(?:live|test)_[0-9A-Za-z]{10,}`),
	regexp.MustCompile(`(?i)\bsk-[a-z0-9\-_]{20,}`),
	regexp.MustCompile(`[A-Za-z0-9-_]{8,}\.eyJ[A-Za-z0-9-_]{5,}\.[A-Za-z0-9-_]{10,}`),
	regexp.MustCompile(`(?i)authorization\s*[:=]\s*["']?bearer\s+[A-Za-z0-9\-\._~\+\/]+=*`),
	regexp.MustCompile(`://[^\s/:@]+:[^\s/@]+@`),
}

// ContainsSecret reports credential-looking material in a model answer.
func ContainsSecret(s string) bool {
	for _, re := range secretPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
