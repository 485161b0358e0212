// Package actionclaim stops replies from claiming actions that no tool
// actually performed.
package actionclaim

import (
	"regexp"

	"github.com/bryanwahyu/support-guardrail/internal/domain/textnorm"
)

// Kind of side-effecting action.
type Kind string

const (
	KindAppointment  Kind = "appointment"
	KindCallback     Kind = "callback"
	KindCancellation Kind = "cancellation"
	KindReturn       Kind = "return"
	KindTicket       Kind = "ticket"
)

// Status an action tool reports on success.
type Status string

const (
	StatusRequested Status = "requested"
	StatusConfirmed Status = "confirmed"
)

func (s Status) rank() int {
	switch s {
	case StatusRequested:
		return 1
	case StatusConfirmed:
		return 2
	}
	return 0
}

// Execution is what an action tool did during the turn.
type Execution struct {
	Kind      Kind   `json:"kind"`
	ToolName  string `json:"toolName"`
	Attempted bool   `json:"attempted"`
	Succeeded bool   `json:"succeeded"`
	Status    Status `json:"status,omitempty"`
}

func (e Execution) effectiveStatus() Status {
	if e.Status == "" && e.Succeeded {
		return StatusConfirmed
	}
	return e.Status
}

// Claim is a completion statement found in a reply.
type Claim struct {
	Kind     Kind   `json:"kind"`
	Strength Status `json:"strength"`
	Text     string `json:"text"`
}

type claimRule struct {
	kind     Kind
	strength Status
	pattern  *regexp.Regexp
}

func rule(k Kind, s Status, expr string) claimRule {
	return claimRule{kind: k, strength: s, pattern: regexp.MustCompile(expr)}
}

// Patterns run over folded text and only match past or settled tense, so
// offers ("olusturabilirim") and refusals ("olusturulamadi") never match.
var claimRules = []claimRule{
	rule(KindAppointment, StatusRequested, `\brandevu talebiniz (?:alindi|olusturuldu|iletildi)\b`),
	rule(KindAppointment, StatusRequested, `\bappointment request (?:has been|was) (?:received|submitted|created)\b`),
	rule(KindAppointment, StatusConfirmed, `\brandevunuz (?:olusturuldu|onaylandi|alindi|kesinlesti|ayarlandi)\b`),
	rule(KindAppointment, StatusConfirmed, `\bappointment (?:is|has been|was) (?:booked|confirmed|scheduled)\b`),
	rule(KindAppointment, StatusConfirmed, `\b(?:i|we)(?: have|'ve)? (?:booked|scheduled|confirmed) (?:your|an|the) appointment\b`),

	rule(KindCallback, StatusRequested, `\bgeri arama talebiniz (?:alindi|olusturuldu|iletildi)\b`),
	rule(KindCallback, StatusRequested, `\bcallback request (?:has been|was) (?:received|submitted|created)\b`),
	rule(KindCallback, StatusConfirmed, `\bgeri aramaniz (?:planlandi|ayarlandi|onaylandi)\b`),
	rule(KindCallback, StatusConfirmed, `\bcallback (?:is|has been|was) (?:scheduled|confirmed|booked)\b`),

	rule(KindCancellation, StatusRequested, `\biptal talebiniz (?:alindi|olusturuldu|iletildi)\b`),
	rule(KindCancellation, StatusRequested, `\bcancellation request (?:has been|was) (?:received|submitted|created)\b`),
	rule(KindCancellation, StatusConfirmed, `\bsiparisiniz iptal edildi\b`),
	rule(KindCancellation, StatusConfirmed, `\biptal (?:islemi |isleminiz )?(?:tamamlandi|gerceklesti)\b`),
	rule(KindCancellation, StatusConfirmed, `\b(?:order|it) (?:has been|was|is) cancel+ed\b`),

	rule(KindReturn, StatusRequested, `\biade talebiniz (?:alindi|olusturuldu|iletildi)\b`),
	rule(KindReturn, StatusRequested, `\breturn request (?:has been|was) (?:received|submitted|created)\b`),
	rule(KindReturn, StatusConfirmed, `\biadeniz (?:onaylandi|tamamlandi|gerceklesti)\b`),
	rule(KindReturn, StatusConfirmed, `\biade (?:islemi |isleminiz )?(?:tamamlandi|onaylandi)\b`),
	rule(KindReturn, StatusConfirmed, `\b(?:return|refund) (?:has been|was|is) (?:approved|completed|processed|issued)\b`),

	rule(KindTicket, StatusRequested, `\bdestek (?:kaydiniz|talebiniz) (?:olusturuldu|acildi)\b`),
	rule(KindTicket, StatusRequested, `\b(?:support )?ticket (?:has been|was) (?:created|opened)\b`),
}

// DetectClaims returns completion claims in text, strongest first per kind.
func DetectClaims(text string) []Claim {
	folded := textnorm.Fold(text)
	best := map[Kind]Claim{}
	var order []Kind
	for _, r := range claimRules {
		m := r.pattern.FindString(folded)
		if m == "" {
			continue
		}
		prev, seen := best[r.kind]
		if !seen {
			order = append(order, r.kind)
		}
		if !seen || r.strength.rank() > prev.Strength.rank() {
			best[r.kind] = Claim{Kind: r.kind, Strength: r.strength, Text: m}
		}
	}
	out := make([]Claim, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}
