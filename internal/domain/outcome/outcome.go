package outcome

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOutcome indicates a value outside the closed Outcome set.
var ErrInvalidOutcome = errors.New("outcome: value outside closed set")

// ErrContractViolation indicates a response whose fields break a cross-field
// invariant of the outcome contract.
var ErrContractViolation = errors.New("outcome: contract violation")

// Outcome enum, closed set
type Outcome string

const (
	OK                   Outcome = "OK"
	NotFound             Outcome = "NOT_FOUND"
	ValidationError      Outcome = "VALIDATION_ERROR"
	VerificationRequired Outcome = "VERIFICATION_REQUIRED"
	Denied               Outcome = "DENIED"
	NeedMoreInfo         Outcome = "NEED_MORE_INFO"
	SystemError          Outcome = "SYSTEM_ERROR"
)

var all = []Outcome{OK, NotFound, ValidationError, VerificationRequired, Denied, NeedMoreInfo, SystemError}

// All returns every member of the closed set in declaration order.
func All() []Outcome {
	out := make([]Outcome, len(all))
	copy(out, all)
	return out
}

// Valid reports whether o is a member of the closed set.
func (o Outcome) Valid() bool {
	for _, v := range all {
		if o == v {
			return true
		}
	}
	return false
}

// IsValidOutcome reports whether s names a member of the closed set.
// Matching is exact; "ok" is not "OK".
func IsValidOutcome(s string) bool { return Outcome(s).Valid() }

// Parse converts s into an Outcome or returns ErrInvalidOutcome.
func Parse(s string) (Outcome, error) {
	o := Outcome(strings.TrimSpace(s))
	if !o.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
	return o, nil
}

// IsClarification reports whether o asks the user for something instead of
// asserting a fact.
func (o Outcome) IsClarification() bool {
	return o == VerificationRequired || o == NeedMoreInfo
}

// MessageTypeFor returns the message type an outcome must carry.
func MessageTypeFor(o Outcome) MessageType {
	if o.IsClarification() {
		return MessageTypeClarification
	}
	return MessageTypeAssistantClaim
}

// MessageType enum
type MessageType string

const (
	MessageTypeAssistantClaim MessageType = "assistant_claim"
	MessageTypeClarification  MessageType = "clarification"
)

// GuardrailAction is the engine's verdict on a reply.
type GuardrailAction string

const (
	ActionPass     GuardrailAction = "PASS"
	ActionSanitize GuardrailAction = "SANITIZE"
	ActionBlock    GuardrailAction = "BLOCK"
	ActionRewrite  GuardrailAction = "REWRITE"
)

// Valid reports whether a is one of the four guardrail actions.
func (a GuardrailAction) Valid() bool {
	switch a {
	case ActionPass, ActionSanitize, ActionBlock, ActionRewrite:
		return true
	}
	return false
}

// Rank orders actions by strictness so the pipeline can keep the strongest.
func (a GuardrailAction) Rank() int {
	switch a {
	case ActionPass:
		return 0
	case ActionSanitize:
		return 1
	case ActionRewrite:
		return 2
	case ActionBlock:
		return 3
	}
	return -1
}

// Stronger returns whichever of a and b is stricter.
func Stronger(a, b GuardrailAction) GuardrailAction {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// VerificationStatus is the lifecycle status of a conversation's identity proof.
type VerificationStatus string

const (
	StatusNone     VerificationStatus = "none"
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusFailed   VerificationStatus = "failed"
)

// Valid reports whether s is a known verification status.
func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusVerified, StatusFailed:
		return true
	}
	return false
}
