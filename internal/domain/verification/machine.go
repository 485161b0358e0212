package verification

import (
	"strings"

	"github.com/bryanwahyu/support-guardrail/internal/domain/disclosure"
	"github.com/bryanwahyu/support-guardrail/internal/domain/messages"
	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
	"github.com/bryanwahyu/support-guardrail/internal/domain/textnorm"
)

// QueryType classifies what a tool call looks up.
type QueryType string

const (
	QueryOrderStatus QueryType = "order_status"
	QueryOrderDetail QueryType = "order_detail"
	QueryTicket      QueryType = "ticket"
	QueryFinancial   QueryType = "financial"
	QueryAddress     QueryType = "address"
	QueryAccount     QueryType = "account"
	QueryProductInfo QueryType = "product_info"
	QueryStock       QueryType = "stock"
	QueryGeneral     QueryType = "general"
)

var lowSensitivity = map[QueryType]bool{
	QueryProductInfo: true,
	QueryStock:       true,
	QueryGeneral:     true,
}

// RequiresVerification reports whether q touches personal data. Unknown
// query types require verification.
func RequiresVerification(q QueryType) bool {
	return !lowSensitivity[QueryType(strings.ToLower(strings.TrimSpace(string(q))))]
}

// AskFor names the proof requested from the user.
type AskFor string

const (
	AskFullName   AskFor = "full_name"
	AskPhoneLast4 AskFor = "phone_last4"
)

// Valid reports whether a is a supported proof kind.
func (a AskFor) Valid() bool { return a == AskFullName || a == AskPhoneLast4 }

// DecisionAction enum
type DecisionAction string

const (
	ActionRequestVerification DecisionAction = "REQUEST_VERIFICATION"
	ActionVerificationFailed  DecisionAction = "VERIFICATION_FAILED"
	ActionVerified            DecisionAction = "VERIFIED"
	ActionNotRequired         DecisionAction = "NOT_REQUIRED"
)

// Decision is the outcome of one proof check.
type Decision struct {
	Action   DecisionAction `json:"action"`
	Verified bool           `json:"verified"`
	Message  string         `json:"message"`
	AskFor   AskFor         `json:"askFor,omitempty"`
	Anchor   *Anchor        `json:"anchor,omitempty"`
	// Partial is set when the proof was a strict subset of the name.
	Partial bool `json:"-"`
}

// DefaultMaxAttempts is the number of failed proofs before lockout.
const DefaultMaxAttempts = 3

// Machine holds deployment policy for proof checks. The zero value asks
// for the full name and uses the embedded catalog.
type Machine struct {
	Catalog     *messages.Catalog
	AskFor      AskFor
	MaxAttempts int
}

func (m *Machine) catalog() *messages.Catalog {
	if m.Catalog == nil {
		return messages.Default()
	}
	return m.Catalog
}

func (m *Machine) askFor() AskFor {
	if !m.AskFor.Valid() {
		return AskFullName
	}
	return m.AskFor
}

func (m *Machine) maxAttempts() int {
	if m.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return m.MaxAttempts
}

// CheckVerification compares provided against anchor. A missing or partial
// proof asks again; a wrong proof fails without revealing anything about
// the record.
func (m *Machine) CheckVerification(anchor *Anchor, provided string, q QueryType, lang messages.Language) Decision {
	c := m.catalog()
	if !RequiresVerification(q) {
		return Decision{Action: ActionNotRequired, Verified: true, Anchor: anchor}
	}
	ask := m.askFor()
	request := Decision{
		Action:  ActionRequestVerification,
		Message: c.Get(lang, messages.VerificationRequestKey(string(ask))),
		AskFor:  ask,
	}
	if anchor == nil || strings.TrimSpace(provided) == "" {
		return request
	}

	var match matchResult
	if ask == AskPhoneLast4 {
		match = matchPhoneLast4(anchor.PhoneLast4, provided)
	} else {
		match = matchName(anchor.Name, provided)
	}
	switch match {
	case matchFull:
		return Decision{Action: ActionVerified, Verified: true, Message: c.Get(lang, messages.KeyVerificationVerified), Anchor: anchor}
	case matchPartial:
		request.Partial = true
		return request
	}
	return Decision{Action: ActionVerificationFailed, Message: c.Get(lang, messages.KeyVerificationFailed), AskFor: ask}
}

type matchResult int

const (
	matchNone matchResult = iota
	matchPartial
	matchFull
)

// matchName folds both names and requires every token of the anchor name to
// appear in the provided name. Extra provided tokens are allowed. A provided
// name whose tokens all belong to the anchor name but do not cover it is
// partial. An anchor name without tokens never matches.
func matchName(anchorName, provided string) matchResult {
	want := textnorm.Tokens(anchorName)
	got := textnorm.Tokens(provided)
	if len(want) == 0 || len(got) == 0 {
		return matchNone
	}
	have := make(map[string]bool, len(got))
	for _, t := range got {
		have[t] = true
	}
	covered := 0
	for _, t := range want {
		if have[t] {
			covered++
		}
	}
	if covered == len(want) {
		return matchFull
	}
	if covered == 0 {
		return matchNone
	}
	wantSet := make(map[string]bool, len(want))
	for _, t := range want {
		wantSet[t] = true
	}
	for _, t := range got {
		if !wantSet[t] {
			return matchNone
		}
	}
	return matchPartial
}

// NameVerifies reports whether provided fully proves anchorName.
func NameVerifies(anchorName, provided string) bool {
	return matchName(anchorName, provided) == matchFull
}

func matchPhoneLast4(want, provided string) matchResult {
	if len(want) != 4 {
		return matchNone
	}
	d := textnorm.Digits(provided)
	switch {
	case len(d) >= 4 && d[len(d)-4:] == want:
		return matchFull
	case len(d) > 0 && len(d) < 4 && strings.HasSuffix(want, d):
		return matchPartial
	}
	return matchNone
}

// minimalFields may be shown before ownership is proven.
var minimalFields = []string{
	"product_name", "sku", "category", "brand", "availability", "price",
	"currency", "estimated_restock", "store_name", "business_hours",
}

// RecordResult is data plus a user-facing message.
type RecordResult struct {
	Data    map[string]any `json:"data"`
	Message string         `json:"message"`
}

// GetMinimalResult keeps only non-identifying fields.
func (m *Machine) GetMinimalResult(record map[string]any, q QueryType, lang messages.Language) RecordResult {
	data := make(map[string]any)
	for _, k := range minimalFields {
		if v, ok := record[k]; ok {
			data[k] = v
		}
	}
	data[disclosure.LevelKey] = disclosure.LevelCustomer
	return RecordResult{Data: data, Message: m.catalog().ForOutcome(lang, outcome.OK, string(q))}
}

// GetFullResult returns the record passed through the disclosure policy.
func (m *Machine) GetFullResult(record map[string]any, q QueryType, lang messages.Language, opts disclosure.Options) RecordResult {
	return RecordResult{
		Data:    disclosure.FilterRecord(record, opts),
		Message: m.catalog().ForOutcome(lang, outcome.OK, string(q)),
	}
}
