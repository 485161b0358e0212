package verification

import (
	"context"
	"errors"
	"time"

	"github.com/bryanwahyu/support-guardrail/internal/domain/disclosure"
	"github.com/bryanwahyu/support-guardrail/internal/domain/messages"
	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
)

// StateStore persists one State per session. Get returns NewState() for an
// unknown session.
type StateStore interface {
	Get(ctx context.Context, sessionID string) (State, error)
	Set(ctx context.Context, sessionID string, st State) error
}

// GateInput is one tool-side request to open a resolved record.
type GateInput struct {
	Record       map[string]any
	AnchorType   AnchorType
	AnchorValue  string
	ProvidedName string
	QueryType    QueryType
	Language     messages.Language
	Disclosure   disclosure.Options
}

// Step is the result of Gate. State is the next state to commit; the caller
// decides whether to persist it.
type Step struct {
	State          State
	Result         outcome.ToolResult
	Decision       Decision
	IdentitySwitch bool
	Locked         bool
}

// Guardrail reasons set on gate results.
const (
	ReasonVerificationPending = "verification_pending"
	ReasonVerificationFailed  = "verification_failed"
	ReasonVerificationLocked  = "verification_locked"
	ReasonNoCanonicalName     = "no_canonical_name"
)

// Gate runs one verification step against st and returns the result the
// tool should hand to the LLM. Record content is only included once the
// session is verified for this exact anchor.
func (m *Machine) Gate(st State, in GateInput, now time.Time) (Step, error) {
	if err := st.Validate(); err != nil {
		return Step{}, err
	}
	c := m.catalog()
	lang := in.Language

	if !RequiresVerification(in.QueryType) {
		res := m.GetMinimalResult(in.Record, in.QueryType, lang)
		if st.Anchor != nil && st.Status == outcome.StatusVerified {
			if a, err := CreateAnchor(in.Record, in.AnchorType, in.AnchorValue); err == nil && st.IsVerifiedFor(a) {
				res = m.GetFullResult(in.Record, in.QueryType, lang, in.Disclosure)
			}
		}
		return Step{
			State:    st,
			Result:   outcome.OKResult(res.Data, res.Message),
			Decision: Decision{Action: ActionNotRequired, Verified: true},
		}, nil
	}

	anchor, err := CreateAnchor(in.Record, in.AnchorType, in.AnchorValue)
	switch {
	case errors.Is(err, ErrNoCanonicalName):
		return Step{
			State:  st,
			Result: outcome.DeniedResult(ReasonNoCanonicalName, c.ForOutcome(lang, outcome.Denied, "")),
		}, nil
	case err != nil:
		return Step{}, err
	}

	next, switched := st.Bind(anchor, now)
	step := Step{IdentitySwitch: switched}

	if next.IsVerifiedFor(anchor) {
		full := m.GetFullResult(in.Record, in.QueryType, lang, in.Disclosure)
		step.State = next
		step.Decision = Decision{Action: ActionVerified, Verified: true, Anchor: next.Anchor}
		step.Result = outcome.OKResult(full.Data, full.Message)
		return step, nil
	}

	if next.Locked(m.maxAttempts()) {
		step.State = next
		step.Locked = true
		step.Result = outcome.DeniedResult(ReasonVerificationLocked, c.Get(lang, messages.KeyVerificationLocked))
		return step, nil
	}

	d := m.CheckVerification(next.Anchor, in.ProvidedName, in.QueryType, lang)
	step.Decision = d
	switch d.Action {
	case ActionVerified:
		step.State = next.Verify(now)
		full := m.GetFullResult(in.Record, in.QueryType, lang, in.Disclosure)
		step.Result = outcome.OKResult(full.Data, full.Message)
	case ActionVerificationFailed:
		step.State = next.Fail(now)
		if step.State.Locked(m.maxAttempts()) {
			step.Locked = true
			step.Result = outcome.DeniedResult(ReasonVerificationLocked, c.Get(lang, messages.KeyVerificationLocked))
			break
		}
		r := outcome.VerificationRequiredResult(string(d.AskFor), d.Message)
		r.Metadata.GuardrailReason = ReasonVerificationFailed
		step.Result = r
	default:
		step.State = next.Retry(now)
		r := outcome.VerificationRequiredResult(string(d.AskFor), d.Message)
		r.Metadata.GuardrailReason = ReasonVerificationPending
		step.Result = r
	}
	return step, nil
}
