package leak

import (
	"regexp"
	"unicode/utf8"
)

type blockRule struct {
	typ     Type
	pattern *regexp.Regexp
}

// Credentials never reach a user, masked or not.
var secretRules = []blockRule{
	{TypeJWT, regexp.MustCompile(`eyJ[A-Za-z0-9_-]{5,}\.eyJ[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]{10,}`)},
	{TypeJWT, regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{20,}=*`)},
	{TypeAPIKey, regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
	{TypeAPIKey, regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{TypeAPIKey, regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{20,}`)},
	{TypeAPIKey, regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`)},
	{TypeAPIKey, regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{TypeAPIKey, regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`)},
	{TypeAPIKey, regexp.MustCompile(`sk_(?:live|test)_[0-9A-Za-z]{10,}`)},
	{TypeAPIKey, regexp.MustCompile(`(?i)sk-[a-z0-9\-_]{20,}`)},
	{TypeAPIKey, regexp.MustCompile(`(?i)(?:api[_-]?key|client[_-]?secret|access[_-]?token)\s*[:=]\s*["']?[^\s"']{12,}`)},
	{TypeAPIKey, regexp.MustCompile(`://[^\s/:@]+:[^\s/@]+@`)},
}

// Serialized internals and active markup. Matching any of these blocks the
// reply regardless of PII content.
var dumpRules = []blockRule{
	{TypeDump, regexp.MustCompile(`(?i)"(?:tool_name|tool_call|tool_calls|function_call|parameters|arguments|system_prompt|business_id|customer_id|password_hash|api_key|_disclosurelevel)"\s*:`)},
	{TypeDump, regexp.MustCompile(`(?i)\{\s*"(?:customer_name|customername|phone|email|address|tc_no|tckn|vkn|order_number|ordernumber)"\s*:\s*["\d{\[]`)},
	{TypeMarkup, regexp.MustCompile(`(?i)<\s*(?:script|iframe|object|embed)\b`)},
	{TypeMarkup, regexp.MustCompile(`(?i)<\s*svg\b[^>]*\son[a-z]+\s*=`)},
	{TypeMarkup, regexp.MustCompile(`(?i)javascript\s*:`)},
}

func scanSecrets(text string) []Finding { return scanBlockRules(text, secretRules) }

func scanDumps(text string) []Finding { return scanBlockRules(text, dumpRules) }

// Values are truncated so the raw secret never lands in audit records.
func scanBlockRules(text string, rules []blockRule) []Finding {
	var out []Finding
	for _, r := range rules {
		for _, loc := range r.pattern.FindAllStringIndex(text, -1) {
			out = append(out, Finding{
				Type:     r.typ,
				Severity: SeverityCritical,
				Value:    redactPrefix(text[loc[0]:loc[1]], 4),
				Start:    utf8.RuneCountInString(text[:loc[0]]),
				End:      utf8.RuneCountInString(text[:loc[1]]),
			})
		}
	}
	return out
}

func redactPrefix(s string, keep int) string {
	rs := []rune(s)
	if len(rs) <= keep {
		return s
	}
	return string(rs[:keep]) + "…"
}
