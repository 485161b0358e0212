package grounding

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/bryanwahyu/support-guardrail/internal/domain/textnorm"
)

// ToolOutput is the data one executed tool returned.
type ToolOutput struct {
	Name string `json:"name"`
	Data any    `json:"data"`
}

// Options tunes the field check.
type Options struct {
	// Strict makes high severity mismatches fail instead of warn.
	Strict bool
	// UserProvided values were typed by the user and are not claims.
	UserProvided []string
}

// Mismatch is a claim with no support in the tool output.
type Mismatch struct {
	Category Category `json:"category"`
	Claim    string   `json:"claim"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason"`
}

// Result of a grounding check.
type Result struct {
	Passed     bool       `json:"passed"`
	Mismatches []Mismatch `json:"mismatches"`
	Warnings   []Mismatch `json:"warnings,omitempty"`
	Claims     []Claim    `json:"claims,omitempty"`
}

// Mismatch reasons.
const (
	ReasonNoToolCalled   = "no_tool_called"
	ReasonStatusAbsent   = "status_not_in_output"
	ReasonTrackingAbsent = "tracking_not_in_output"
	ReasonAmountAbsent   = "amount_not_in_output"
	ReasonAddressAbsent  = "address_not_in_output"
)

func severityOf(c Claim) Severity {
	if c.Category == CategoryTracking || (c.Category == CategoryStatus && c.Negative) {
		return SeverityCritical
	}
	return SeverityHigh
}

// AssertNoUngroundedClaims fails on any claim when no tool was called.
// With at least one tool call it passes; AssertFieldGrounded covers that
// case.
func AssertNoUngroundedClaims(reply string, toolsCalled []string, opts Options) Result {
	res := Result{Passed: true, Mismatches: []Mismatch{}}
	if len(toolsCalled) > 0 {
		return res
	}
	for _, c := range withoutUserProvided(DetectClaims(reply), opts.UserProvided) {
		res.Claims = append(res.Claims, c)
		res.Mismatches = append(res.Mismatches, Mismatch{
			Category: c.Category,
			Claim:    c.Text,
			Severity: severityOf(c),
			Reason:   ReasonNoToolCalled,
		})
	}
	res.Passed = len(res.Mismatches) == 0
	return res
}

// AssertFieldGrounded checks every claim in reply against the serialized
// tool outputs. Critical mismatches always fail; high ones fail only in
// strict mode and are otherwise returned as warnings. Dates are only
// checked by AssertNoUngroundedClaims.
func AssertFieldGrounded(reply string, outputs []ToolOutput, opts Options) (Result, error) {
	if len(outputs) == 0 {
		return AssertNoUngroundedClaims(reply, nil, opts), nil
	}
	ev, err := newEvidence(outputs)
	if err != nil {
		return Result{}, err
	}

	res := Result{Passed: true, Mismatches: []Mismatch{}}
	for _, c := range withoutUserProvided(DetectClaims(reply), opts.UserProvided) {
		res.Claims = append(res.Claims, c)
		reason := ""
		switch c.Category {
		case CategoryStatus:
			if !ev.hasStatus(c.Class) {
				reason = ReasonStatusAbsent
			}
		case CategoryTracking:
			if !strings.Contains(ev.raw, c.Text) {
				reason = ReasonTrackingAbsent
			}
		case CategoryAmount:
			if !ev.amounts[c.Class] {
				reason = ReasonAmountAbsent
			}
		case CategoryAddress:
			if !ev.hasAddress(c) {
				reason = ReasonAddressAbsent
			}
		}
		if reason == "" {
			continue
		}
		m := Mismatch{Category: c.Category, Claim: c.Text, Severity: severityOf(c), Reason: reason}
		if m.Severity == SeverityHigh && !opts.Strict {
			res.Warnings = append(res.Warnings, m)
			continue
		}
		res.Mismatches = append(res.Mismatches, m)
	}
	res.Passed = len(res.Mismatches) == 0
	return res, nil
}

// evidence is the searchable form of all tool outputs of one turn.
type evidence struct {
	raw     string
	folded  string
	amounts map[string]bool
}

var numberToken = regexp.MustCompile(`\d[\d.,]*`)

func newEvidence(outputs []ToolOutput) (evidence, error) {
	var parts []string
	for _, o := range outputs {
		b, err := json.Marshal(o.Data)
		if err != nil {
			return evidence{}, fmt.Errorf("grounding: serialize output of %s: %w", o.Name, err)
		}
		parts = append(parts, string(b))
	}
	raw := strings.Join(parts, "\n")
	ev := evidence{
		raw:     raw,
		folded:  strings.ReplaceAll(textnorm.Fold(raw), "_", " "),
		amounts: map[string]bool{},
	}
	for _, n := range numberToken.FindAllString(raw, -1) {
		if a, ok := normalizeAmount(n); ok {
			ev.amounts[a] = true
		}
	}
	return ev, nil
}

func (e evidence) hasStatus(class string) bool {
	for _, sc := range statusClasses {
		if sc.name == class {
			return sc.pattern.MatchString(e.folded)
		}
	}
	return false
}

func (e evidence) hasAddress(c Claim) bool {
	if strings.Contains(e.folded, textnorm.Fold(c.Text)) {
		return true
	}
	return c.Class != "" && strings.Contains(e.folded, c.Class)
}

func withoutUserProvided(claims []Claim, provided []string) []Claim {
	if len(provided) == 0 {
		return claims
	}
	skip := map[string]bool{}
	for _, p := range provided {
		skip[strings.TrimSpace(p)] = true
	}
	out := claims[:0]
	for _, c := range claims {
		if skip[c.Text] {
			continue
		}
		out = append(out, c)
	}
	return out
}
