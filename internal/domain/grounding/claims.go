// Package grounding checks that concrete claims in a reply are backed by
// data from a tool call that actually ran.
package grounding

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/bryanwahyu/support-guardrail/internal/domain/textnorm"
)

// Category of a claim.
type Category string

const (
	CategoryStatus   Category = "status"
	CategoryTracking Category = "tracking"
	CategoryAmount   Category = "amount"
	CategoryAddress  Category = "address"
	CategoryDate     Category = "date"
)

// Severity of a mismatch.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
)

// Claim is one concrete assertion found in a reply. Class is the status
// equivalence class for status claims and the normalized value otherwise.
type Claim struct {
	Category Category `json:"category"`
	Text     string   `json:"text"`
	Class    string   `json:"class,omitempty"`
	Negative bool     `json:"negative,omitempty"`
}

// statusClass groups wordings that assert the same order status. Terms are
// folded phrases matched on word boundaries.
type statusClass struct {
	name     string
	negative bool
	pattern  *regexp.Regexp
}

func classPattern(terms ...string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + strings.Join(terms, "|") + `)\b`)
}

var statusClasses = []statusClass{
	{"shipped", false, classPattern(
		"shipped", "kargoya verildi", "kargoya verilmistir", "kargoda", "gonderildi", "gonderilmistir",
		"sevk edildi", "yolda", "in transit", "dispatched", "on its way", "out for delivery", "dagitimda")},
	{"delivered", false, classPattern(
		"delivered", "teslim edildi", "teslim edilmistir", "teslim alindi", "ulasti")},
	{"preparing", false, classPattern(
		"preparing", "processing", "hazirlaniyor", "hazirlanmaktadir", "isleniyor", "paketleniyor")},
	{"pending", false, classPattern(
		"pending", "awaiting", "onay bekliyor", "beklemede", "odeme bekleniyor")},
	{"cancelled", true, classPattern(
		"cancelled", "canceled", "iptal edildi", "iptal edilmistir", "iptal oldu")},
	{"refunded", true, classPattern(
		"refunded", "iade edildi", "iade edilmistir", "ucret iadesi yapildi", "para iadesi yapildi")},
	{"returned", true, classPattern(
		"returned", "iade alindi", "geri gonderildi")},
}

var trackingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z]{2}\d{9}[A-Z]{2}\b`),
	regexp.MustCompile(`\b1Z[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\b\d{12,22}\b`),
	regexp.MustCompile(`\b[A-Z0-9]{10,24}\b`),
}

var hex24 = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

var amountPattern = regexp.MustCompile(`(?i)(?:₺|\$|€|£)\s?\d{1,3}(?:[.,\s]\d{3})*(?:[.,]\d{1,2})?|\b\d{1,3}(?:[.,]\d{3})*(?:[.,]\d{1,2})?\s?(?:₺|\$|€|tl\b|try\b|usd\b|eur\b|lira\b|dolar\b|euro\b)|\b\d+(?:[.,]\d{1,2})?\s?(?:₺|tl\b|try\b|usd\b|eur\b|lira\b)`)

var addressPattern = regexp.MustCompile(`(?i)([\p{L}0-9]+)\s+(mahallesi|mah\.|mh\.|caddesi|cad\.|cd\.|sokağı|sokak|sok\.|sk\.|bulvarı|blv\.|street|st\.|avenue|ave\.|road)`)

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}[./]\d{1,2}[./]\d{2,4}\b`),
	regexp.MustCompile(`\b\d{1,2}:\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}\s+(?:ocak|subat|mart|nisan|mayis|haziran|temmuz|agustos|eylul|ekim|kasim|aralik|january|february|march|april|may|june|july|august|september|october|november|december)\b`),
}

// DetectClaims finds every concrete claim in reply.
func DetectClaims(reply string) []Claim {
	folded := textnorm.Fold(reply)
	var claims []Claim

	for _, sc := range statusClasses {
		for _, m := range sc.pattern.FindAllString(folded, -1) {
			claims = append(claims, Claim{Category: CategoryStatus, Text: m, Class: sc.name, Negative: sc.negative})
		}
	}
	for _, tok := range trackingTokens(reply) {
		claims = append(claims, Claim{Category: CategoryTracking, Text: tok, Class: tok})
	}
	for _, m := range amountPattern.FindAllString(reply, -1) {
		if n, ok := normalizeAmount(m); ok {
			claims = append(claims, Claim{Category: CategoryAmount, Text: strings.TrimSpace(m), Class: n})
		}
	}
	for _, m := range addressPattern.FindAllStringSubmatch(reply, -1) {
		claims = append(claims, Claim{Category: CategoryAddress, Text: m[0], Class: textnorm.Fold(m[1])})
	}
	for _, p := range datePatterns {
		for _, m := range p.FindAllString(folded, -1) {
			claims = append(claims, Claim{Category: CategoryDate, Text: m})
		}
	}
	return claims
}

// trackingTokens returns tracking-shaped tokens, excluding 24-hex ids and
// mixed tokens without both letters and digits.
func trackingTokens(s string) []string {
	seen := map[string]bool{}
	var out []string
	for i, p := range trackingPatterns {
		for _, m := range p.FindAllString(s, -1) {
			if seen[m] || hex24.MatchString(m) {
				continue
			}
			if i == len(trackingPatterns)-1 && !hasLetterAndDigit(m) {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

func hasLetterAndDigit(s string) bool {
	var l, d bool
	for _, r := range s {
		if unicode.IsLetter(r) {
			l = true
		}
		if unicode.IsDigit(r) {
			d = true
		}
	}
	return l && d
}

// normalizeAmount strips grouping separators and fixes two decimals. A final
// separator followed by one or two digits is the decimal mark.
func normalizeAmount(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	num := strings.Trim(b.String(), ".,")
	if num == "" {
		return "", false
	}
	intPart, dec := num, ""
	if i := strings.LastIndexAny(num, ".,"); i >= 0 {
		if tail := num[i+1:]; len(tail) == 1 || len(tail) == 2 {
			intPart, dec = num[:i], tail
		}
	}
	intPart = textnorm.Digits(intPart)
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	for len(dec) < 2 {
		dec += "0"
	}
	return intPart + "." + dec, true
}
