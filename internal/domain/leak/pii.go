package leak

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bryanwahyu/support-guardrail/internal/domain/messages"
	"github.com/bryanwahyu/support-guardrail/internal/domain/textnorm"
)

// piiRule is one row of the always-mask table. accept validates a raw match
// and picks its severity; mask renders the replacement.
type piiRule struct {
	typ     Type
	pattern *regexp.Regexp
	bounded func(text string, start, end int) bool
	accept  func(text string, start, end int) (Severity, bool)
	mask    func(match string, lang messages.Language) string
}

// Rules are listed by priority: an earlier rule claims its span first.
var piiRules = []piiRule{
	{
		typ:     TypeCreditCard,
		pattern: regexp.MustCompile(`\d(?:[ -]?\d){12,18}`),
		bounded: digitBounded,
		accept: func(text string, start, end int) (Severity, bool) {
			d := textnorm.Digits(text[start:end])
			if len(d) < 13 || len(d) > 19 || !luhn(d) {
				return "", false
			}
			return SeverityCritical, true
		},
		mask: func(m string, _ messages.Language) string {
			d := textnorm.Digits(m)
			return "**** **** **** " + d[len(d)-4:]
		},
	},
	{
		typ:     TypeTCNo,
		pattern: regexp.MustCompile(`[1-9]\d{10}`),
		bounded: digitBounded,
		accept: func(text string, start, end int) (Severity, bool) {
			// Unverifiable 11-digit values still fail closed.
			if tcChecksum(text[start:end]) {
				return SeverityCritical, true
			}
			return SeverityHigh, true
		},
		mask: func(string, messages.Language) string { return strings.Repeat("*", 11) },
	},
	{
		// mobile (prefix optional) or landline; "(532)", "532." and "532-" all count
		typ:     TypePhone,
		pattern: regexp.MustCompile(`(?:(?:\+90|0)[\s.-]?)?\(?5\d{2}\)?[\s.-]?\d{3}[\s.-]?\d{2}[\s.-]?\d{2}|(?:\+90|0)[\s.-]?\(?[2-4]\d{2}\)?[\s.-]?\d{3}[\s.-]?\d{2}[\s.-]?\d{2}`),
		bounded: digitBounded,
		accept:  func(string, int, int) (Severity, bool) { return SeverityHigh, true },
		mask: func(m string, _ messages.Language) string {
			d := textnorm.Digits(m)
			return "+90****" + d[len(d)-4:]
		},
	},
	{
		typ:     TypeVKN,
		pattern: regexp.MustCompile(`\d{10}`),
		bounded: digitBounded,
		accept: func(text string, start, end int) (Severity, bool) {
			if vknChecksum(text[start:end]) || vknKeywordBefore(text, start) {
				return SeverityHigh, true
			}
			return "", false
		},
		mask: func(string, messages.Language) string { return strings.Repeat("*", 10) },
	},
	{
		typ:     TypeEmail,
		pattern: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		bounded: func(string, int, int) bool { return true },
		accept:  func(string, int, int) (Severity, bool) { return SeverityHigh, true },
		mask: func(m string, _ messages.Language) string {
			at := strings.LastIndexByte(m, '@')
			r, _ := utf8.DecodeRuneInString(m)
			return string(r) + "***" + m[at:]
		},
	},
	{
		typ:     TypeAddress,
		pattern: regexp.MustCompile(`(?i)[\p{L}0-9]+\s+(?:mahallesi|mah\.|mh\.|caddesi|cad\.|cd\.|sokağı|sokak|sok\.|sk\.|bulvarı|blv\.|street|st\.|avenue|ave\.)(?:\s*no\s*[:.]?\s*\d+(?:/\d+)?)?`),
		bounded: letterBounded,
		accept:  func(string, int, int) (Severity, bool) { return SeverityHigh, true },
		mask: func(_ string, lang messages.Language) string {
			if lang == messages.EN {
				return "[ADDRESS]"
			}
			return "[ADRES]"
		},
	},
}

type span struct {
	start, end int
	rule       *piiRule
	sev        Severity
}

// maskPII replaces every accepted PII match with its masked form. Matches
// that are already masked, test fixtures or known-safe values are skipped,
// which keeps masking idempotent.
func maskPII(text string, lang messages.Language, lc Context) (string, []Finding) {
	var spans []span
	taken := func(s, e int) bool {
		for _, sp := range spans {
			if s < sp.end && e > sp.start {
				return true
			}
		}
		return false
	}
	for i := range piiRules {
		rule := &piiRules[i]
		for _, loc := range rule.pattern.FindAllStringIndex(text, -1) {
			s, e := loc[0], loc[1]
			if taken(s, e) || !rule.bounded(text, s, e) {
				continue
			}
			m := text[s:e]
			if isAllowlisted(m) || lc.isKnownSafe(m) {
				continue
			}
			sev, ok := rule.accept(text, s, e)
			if !ok {
				continue
			}
			spans = append(spans, span{start: s, end: e, rule: rule, sev: sev})
		}
	}
	if len(spans) == 0 {
		return text, nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	findings := make([]Finding, 0, len(spans))
	last := 0
	for _, sp := range spans {
		b.WriteString(text[last:sp.start])
		masked := sp.rule.mask(text[sp.start:sp.end], lang)
		startRune := utf8.RuneCountInString(b.String())
		b.WriteString(masked)
		findings = append(findings, Finding{
			Type:     sp.rule.typ,
			Severity: sp.sev,
			Value:    masked,
			Start:    startRune,
			End:      startRune + utf8.RuneCountInString(masked),
		})
		last = sp.end
	}
	b.WriteString(text[last:])
	return b.String(), findings
}

func digitBounded(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func letterBounded(text string, start, end int) bool {
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(r) {
			return false
		}
	}
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// luhn validates a digit string with the Luhn checksum.
func luhn(d string) bool {
	sum := 0
	for i := 0; i < len(d); i++ {
		n := int(d[len(d)-1-i] - '0')
		if i%2 == 1 {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
	}
	return sum%10 == 0
}

// tcChecksum validates an 11-digit national id.
func tcChecksum(s string) bool {
	if len(s) != 11 || s[0] == '0' {
		return false
	}
	d := make([]int, 11)
	for i := range s {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
		d[i] = int(s[i] - '0')
	}
	odd := d[0] + d[2] + d[4] + d[6] + d[8]
	even := d[1] + d[3] + d[5] + d[7]
	if ((odd*7-even)%10+10)%10 != d[9] {
		return false
	}
	sum := 0
	for _, v := range d[:10] {
		sum += v
	}
	return sum%10 == d[10]
}

// vknChecksum validates a 10-digit tax id.
func vknChecksum(s string) bool {
	if len(s) != 10 {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		v1 := (int(s[i]-'0') + 9 - i) % 10
		v2 := (v1 << (9 - i)) % 9
		if v1 != 0 && v2 == 0 {
			v2 = 9
		}
		sum += v2
	}
	return (10-sum%10)%10 == int(s[9]-'0')
}

func vknKeywordBefore(text string, start int) bool {
	from := start - 40
	if from < 0 {
		from = 0
	}
	window := textnorm.Fold(text[from:start])
	return strings.Contains(window, "vkn") || strings.Contains(window, "vergi") || strings.Contains(window, "tax id")
}
