package guardrail

import "github.com/bryanwahyu/support-guardrail/internal/domain/outcome"

// Pipeline stages reported to the Observer.
const (
	StageLeak         = "leak"
	StageGrounding    = "grounding"
	StageVerification = "verification"
	StageActionClaim  = "action_claim"
	StageTenant       = "tenant"
)

// Observer receives guardrail decisions, e.g. for metrics.
type Observer interface {
	ObserveDecision(stage string, action outcome.GuardrailAction, reason string)
	ObserveOutcome(o outcome.Outcome)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) ObserveDecision(string, outcome.GuardrailAction, string) {}
func (NopObserver) ObserveOutcome(outcome.Outcome)                          {}
