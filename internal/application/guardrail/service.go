// Package guardrail runs one conversational turn through the leak filter,
// the grounding validator, the verification gate and the action-claim
// policy, and commits verification state only when the whole pipeline
// finished.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bryanwahyu/support-guardrail/internal/application"
	"github.com/bryanwahyu/support-guardrail/internal/domain/actionclaim"
	"github.com/bryanwahyu/support-guardrail/internal/domain/audit"
	"github.com/bryanwahyu/support-guardrail/internal/domain/disclosure"
	"github.com/bryanwahyu/support-guardrail/internal/domain/grounding"
	"github.com/bryanwahyu/support-guardrail/internal/domain/leak"
	"github.com/bryanwahyu/support-guardrail/internal/domain/messages"
	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
	"github.com/bryanwahyu/support-guardrail/internal/domain/session"
	"github.com/bryanwahyu/support-guardrail/internal/domain/verification"
)

// ErrInvalidRequest marks a request the pipeline cannot evaluate.
var ErrInvalidRequest = errors.New("guardrail: invalid request")

// Guardrail reasons set by the pipeline itself.
const (
	ReasonCrossTenant        = "cross_tenant"
	ReasonActionClaimBlocked = "action_claim_blocked"
	ReasonActionCorrected    = "action_claim_corrected"
)

// Service implements the guardrail use-cases. It is safe for concurrent use;
// turns of one session are serialized through Locks.
type Service struct {
	Catalog  *messages.Catalog
	Leak     *leak.Filter
	Verifier *verification.Machine
	Claims   *actionclaim.Policy
	States   verification.StateStore
	Locks    session.Locker
	Audit    *audit.Recorder
	Observer Observer
	Clock    application.Clock
	Logger   *slog.Logger

	StrictGrounding   bool
	DefaultLanguage   messages.Language
	LowStockThreshold int
}

// VerificationInput opens a resolved record during a turn.
type VerificationInput struct {
	Record       map[string]any          `json:"record"`
	AnchorType   verification.AnchorType `json:"anchorType"`
	AnchorValue  string                  `json:"anchorValue"`
	ProvidedName string                  `json:"providedName,omitempty"`
	QueryType    verification.QueryType  `json:"queryType"`
	RequestedQty int                     `json:"requestedQty,omitempty"`
}

// TurnRequest is one LLM reply plus everything the turn produced.
type TurnRequest struct {
	BusinessID      string                  `json:"businessId"`
	SessionID       string                  `json:"sessionId"`
	Language        string                  `json:"language,omitempty"`
	UserRole        string                  `json:"userRole,omitempty"`
	Reply           string                  `json:"reply"`
	UserMessage     string                  `json:"userMessage,omitempty"`
	Outcome         outcome.Outcome         `json:"outcome,omitempty"`
	ValidationError *outcome.FieldError     `json:"validationError,omitempty"`
	ToolsCalled     []string                `json:"toolsCalled,omitempty"`
	ToolOutputs     []grounding.ToolOutput  `json:"toolOutputs,omitempty"`
	Actions         []actionclaim.Execution `json:"actions,omitempty"`
	UserProvided    []string                `json:"userProvided,omitempty"`
	Verification    *VerificationInput      `json:"verification,omitempty"`
}

func (r TurnRequest) validate() error {
	if strings.TrimSpace(r.BusinessID) == "" {
		return fmt.Errorf("%w: businessId is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	}
	if r.Outcome != "" && !r.Outcome.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidRequest, outcome.ErrInvalidOutcome, r.Outcome)
	}
	if v := r.Verification; v != nil && !v.AnchorType.Valid() {
		return fmt.Errorf("%w: unknown anchorType %q", ErrInvalidRequest, v.AnchorType)
	}
	return nil
}

// turn accumulates the pipeline's verdict.
type turn struct {
	text       string
	outcome    outcome.Outcome
	action     outcome.GuardrailAction
	reason     string
	status     outcome.VerificationStatus
	missing    []string
	warnings   []string
	claimBlock string
	corrected  bool
	events     []audit.SecurityEvent
	final      bool
}

func (t *turn) apply(action outcome.GuardrailAction, reason, text string) {
	if action.Rank() >= t.action.Rank() {
		t.reason = reason
	}
	t.action = outcome.Stronger(t.action, action)
	t.text = text
}

// EvaluateTurn runs the full pipeline over req.Reply.
func (s *Service) EvaluateTurn(ctx context.Context, req TurnRequest) (outcome.Response, error) {
	if err := req.validate(); err != nil {
		return outcome.Response{}, err
	}
	lang := s.language(req.Language)
	now := s.clock().Now()

	unlock, err := s.Locks.Lock(ctx, sessionKey(req.BusinessID, req.SessionID))
	if err != nil {
		return outcome.Response{}, fmt.Errorf("guardrail: lock session: %w", err)
	}
	defer unlock()

	st, err := s.States.Get(ctx, sessionKey(req.BusinessID, req.SessionID))
	if err != nil {
		return outcome.Response{}, fmt.Errorf("guardrail: load verification state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return outcome.Response{}, err
	}

	base := req.Outcome
	if base == "" {
		base = outcome.OK
	}
	t := &turn{text: req.Reply, outcome: base, action: outcome.ActionPass, status: st.Status}
	emit := func(et audit.EventType, details map[string]any) {
		t.events = append(t.events, audit.NewEvent(et, req.BusinessID, req.SessionID, details, now))
	}

	if hits := DetectInjection(req.UserMessage); len(hits) > 0 {
		s.logger().Warn("prompt injection attempt", "business_id", req.BusinessID, "session_id", req.SessionID, "patterns", hits)
		emit(audit.EventInjectionAttempt, map[string]any{"patterns": hits})
	}

	outputs := req.ToolOutputs
	next := st
	var gate *verification.Step

	if foreign := foreignTenant(req.BusinessID, outputs, req.Verification); foreign != "" {
		emit(audit.EventCrossTenant, map[string]any{"foreign_business_id": foreign})
		s.observer().ObserveDecision(StageTenant, outcome.ActionBlock, ReasonCrossTenant)
		t.apply(outcome.ActionBlock, ReasonCrossTenant, s.catalog().Get(lang, messages.KeyCrossTenant))
		t.outcome = outcome.Denied
		t.final = true
	} else if v := req.Verification; v != nil {
		step, err := s.verifier().Gate(st, s.gateInput(*v, req.UserRole, lang), now)
		if err != nil {
			return outcome.Response{}, err
		}
		gate = &step
		next = step.State
		t.status = next.Status
		s.noteGate(step, emit)
		if step.Result.Outcome == outcome.OK {
			outputs = append(outputs[:len(outputs):len(outputs)], grounding.ToolOutput{Name: "verification_gate", Data: step.Result.Data})
		}
	}

	if !t.final {
		s.leakStage(t, req, lang, emit)
	}
	if !t.final {
		if err := s.groundingStage(t, req, outputs, lang, emit); err != nil {
			return outcome.Response{}, err
		}
	}
	if gate != nil && gate.Result.Outcome != outcome.OK && t.outcome != outcome.Denied {
		s.gateOverride(t, *gate)
	}
	if !t.final {
		s.actionClaimStage(ctx, t, req, outputs, lang, emit)
	}

	// cancelled turns never commit
	if err := ctx.Err(); err != nil {
		return outcome.Response{}, fmt.Errorf("guardrail: turn aborted: %w", err)
	}

	if strings.TrimSpace(t.text) == "" {
		t.text = s.catalog().ForOutcome(lang, t.outcome, "")
	}
	meta := outcome.ResponseMetadata{
		Outcome:                t.outcome,
		GuardrailAction:        t.action,
		GuardrailReason:        t.reason,
		MessageType:            outcome.MessageTypeFor(t.outcome),
		VerificationStatus:     t.status,
		GuardrailMissingFields: t.missing,
		ActionClaimBlocked:     t.claimBlock != "",
		BlockType:              t.claimBlock,
		ActionClaimCorrected:   t.corrected,
		Warnings:               t.warnings,
	}
	if fe := req.ValidationError; fe != nil && t.outcome == outcome.ValidationError {
		meta.ValidationErrorField = fe.Field
		meta.ValidationErrorExpectedFormat = fe.ExpectedFormat
	}
	if err := meta.Validate(); err != nil {
		return outcome.Response{}, err
	}

	if gate != nil {
		if err := s.States.Set(ctx, sessionKey(req.BusinessID, req.SessionID), next); err != nil {
			return outcome.Response{}, fmt.Errorf("guardrail: save verification state: %w", err)
		}
	}

	for _, e := range t.events {
		s.Audit.Record(e)
	}
	s.observer().ObserveOutcome(t.outcome)
	s.logger().Info("guardrail decision",
		"business_id", req.BusinessID,
		"session_id", req.SessionID,
		"outcome", t.outcome,
		"action", t.action,
		"reason", t.reason,
		"verification_status", t.status,
	)
	return outcome.Response{Text: t.text, Metadata: meta}, nil
}

func (s *Service) leakStage(t *turn, req TurnRequest, lang messages.Language, emit func(audit.EventType, map[string]any)) {
	lc := leak.Context{KnownSafe: knownSafe(req.UserProvided)}
	lr := s.Leak.Apply(t.text, t.status, lang, lc)
	s.observer().ObserveDecision(StageLeak, lr.Action, lr.Reason)
	if lr.Action == outcome.ActionPass {
		return
	}
	t.apply(lr.Action, lr.Reason, lr.Text)
	if lr.Action != outcome.ActionBlock {
		return
	}
	t.final = true
	types := make([]string, 0, len(lr.Leaks))
	for _, f := range lr.Leaks {
		types = append(types, string(f.Type))
	}
	emit(audit.EventPIILeakBlocked, map[string]any{"reason": lr.Reason, "types": types})
	if lr.Reason == leak.ReasonTopic && t.outcome != outcome.Denied {
		t.outcome = outcome.VerificationRequired
		t.missing = []string{string(s.askFor())}
	}
}

func (s *Service) groundingStage(t *turn, req TurnRequest, outputs []grounding.ToolOutput, lang messages.Language, emit func(audit.EventType, map[string]any)) error {
	opts := grounding.Options{Strict: s.StrictGrounding, UserProvided: req.UserProvided}
	called := toolsCalled(req.ToolsCalled, outputs)

	var res grounding.Result
	if len(outputs) == 0 {
		res = grounding.AssertNoUngroundedClaims(t.text, called, opts)
	} else {
		var err error
		if res, err = grounding.AssertFieldGrounded(t.text, outputs, opts); err != nil {
			return fmt.Errorf("guardrail: %w", err)
		}
	}
	for _, w := range res.Warnings {
		t.warnings = append(t.warnings, "grounding:"+w.Reason)
	}
	if res.Passed {
		s.observer().ObserveDecision(StageGrounding, outcome.ActionPass, "")
		return nil
	}

	m := res.Mismatches[0]
	s.observer().ObserveDecision(StageGrounding, outcome.ActionBlock, m.Reason)
	emit(audit.EventGroundingViolation, map[string]any{
		"reason":     m.Reason,
		"category":   string(m.Category),
		"severity":   string(m.Severity),
		"mismatches": len(res.Mismatches),
	})
	if len(called) == 0 {
		t.apply(outcome.ActionBlock, m.Reason, s.catalog().Get(lang, messages.KeyGroundingUnverified))
		t.outcome = outcome.NeedMoreInfo
	} else {
		t.apply(outcome.ActionBlock, m.Reason, s.catalog().Get(lang, messages.KeyFallback))
	}
	t.final = true
	return nil
}

// grounded reports whether text passes the grounding check on its own.
func (s *Service) grounded(text string, req TurnRequest, outputs []grounding.ToolOutput) bool {
	opts := grounding.Options{Strict: s.StrictGrounding, UserProvided: req.UserProvided}
	if len(outputs) == 0 {
		return grounding.AssertNoUngroundedClaims(text, toolsCalled(req.ToolsCalled, nil), opts).Passed
	}
	res, err := grounding.AssertFieldGrounded(text, outputs, opts)
	return err == nil && res.Passed
}

// gateOverride replaces the draft with the gate's message: a record that is
// not unlocked must not be described, whatever the draft says.
func (s *Service) gateOverride(t *turn, step verification.Step) {
	r := step.Result
	reason := ""
	if r.Metadata != nil {
		reason = r.Metadata.GuardrailReason
		t.missing = r.Metadata.GuardrailMissingFields
	}
	if t.text != r.Message {
		t.apply(outcome.ActionRewrite, reason, r.Message)
	}
	t.outcome = r.Outcome
	t.final = true
}

func (s *Service) actionClaimStage(ctx context.Context, t *turn, req TurnRequest, outputs []grounding.ToolOutput, lang messages.Language, emit func(audit.EventType, map[string]any)) {
	p := *s.claims()
	if p.Logger == nil {
		p.Logger = s.logger()
	}
	lc := leak.Context{KnownSafe: knownSafe(req.UserProvided)}
	p.Accept = func(text string) bool {
		if s.Leak.Apply(text, t.status, lang, lc).Action != outcome.ActionPass {
			return false
		}
		return s.grounded(text, req, outputs)
	}

	res := p.Enforce(ctx, t.text, req.Actions, lang)
	if res.Warning != "" {
		t.warnings = append(t.warnings, "action_claim:"+res.Warning)
	}
	switch {
	case res.Blocked:
		s.observer().ObserveDecision(StageActionClaim, outcome.ActionBlock, res.BlockType)
		emit(audit.EventActionClaimBlocked, map[string]any{"kind": string(res.Kind), "block_type": res.BlockType})
		t.apply(outcome.ActionBlock, ReasonActionClaimBlocked, res.Text)
		t.claimBlock = res.BlockType
	case res.Corrected:
		s.observer().ObserveDecision(StageActionClaim, outcome.ActionRewrite, ReasonActionCorrected)
		t.apply(outcome.ActionRewrite, ReasonActionCorrected, res.Text)
		t.corrected = true
	default:
		s.observer().ObserveDecision(StageActionClaim, outcome.ActionPass, res.Warning)
	}
}

func (s *Service) noteGate(step verification.Step, emit func(audit.EventType, map[string]any)) {
	reason := ""
	if step.Result.Metadata != nil {
		reason = step.Result.Metadata.GuardrailReason
	}
	action := outcome.ActionPass
	if step.Result.Outcome != outcome.OK {
		action = outcome.ActionBlock
	}
	s.observer().ObserveDecision(StageVerification, action, reason)

	if step.IdentitySwitch {
		emit(audit.EventIdentitySwitch, map[string]any{"anchor_type": string(step.State.Anchor.Type)})
	}
	if step.Decision.Action == verification.ActionVerificationFailed {
		emit(audit.EventVerificationFailed, map[string]any{
			"attempts": step.State.Attempts,
			"locked":   step.Locked,
		})
	}
}

func (s *Service) gateInput(v VerificationInput, role string, lang messages.Language) verification.GateInput {
	return verification.GateInput{
		Record:       v.Record,
		AnchorType:   v.AnchorType,
		AnchorValue:  v.AnchorValue,
		ProvidedName: v.ProvidedName,
		QueryType:    v.QueryType,
		Language:     lang,
		Disclosure: disclosure.Options{
			UserRole:          role,
			RequestedQty:      v.RequestedQty,
			LowStockThreshold: s.LowStockThreshold,
		},
	}
}

func (s *Service) language(tag string) messages.Language {
	if strings.TrimSpace(tag) == "" && s.DefaultLanguage != "" {
		return s.DefaultLanguage
	}
	return messages.ParseLanguage(tag)
}

func (s *Service) askFor() verification.AskFor {
	if s.Verifier != nil && s.Verifier.AskFor.Valid() {
		return s.Verifier.AskFor
	}
	return verification.AskFullName
}

func (s *Service) catalog() *messages.Catalog {
	if s.Catalog == nil {
		return messages.Default()
	}
	return s.Catalog
}

func (s *Service) verifier() *verification.Machine {
	if s.Verifier == nil {
		return &verification.Machine{Catalog: s.Catalog}
	}
	return s.Verifier
}

func (s *Service) claims() *actionclaim.Policy {
	if s.Claims == nil {
		return &actionclaim.Policy{Catalog: s.Catalog}
	}
	return s.Claims
}

func (s *Service) observer() Observer {
	if s.Observer == nil {
		return NopObserver{}
	}
	return s.Observer
}

func (s *Service) clock() application.Clock {
	if s.Clock == nil {
		return application.SystemClock{}
	}
	return s.Clock
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// toolsCalled merges explicit tool names with the names of outputs.
// sessionKey scopes state and locks to the tenant so one business can
// never read or lock another's session.
func sessionKey(businessID, sessionID string) string {
	return businessID + "/" + sessionID
}

func toolsCalled(names []string, outputs []grounding.ToolOutput) []string {
	out := append([]string(nil), names...)
	for _, o := range outputs {
		if o.Name != "" {
			out = append(out, o.Name)
		}
	}
	return out
}

// foreignTenant returns a business_id in the turn's data that is not the
// caller's.
func foreignTenant(businessID string, outputs []grounding.ToolOutput, v *VerificationInput) string {
	check := func(data any) string {
		m, ok := data.(map[string]any)
		if !ok {
			return ""
		}
		raw, ok := m["business_id"]
		if !ok || raw == nil {
			return ""
		}
		if id := fmt.Sprint(raw); id != businessID {
			return id
		}
		return ""
	}
	for _, o := range outputs {
		if id := check(o.Data); id != "" {
			return id
		}
	}
	if v != nil {
		return check(v.Record)
	}
	return ""
}

// knownSafe lists values the leak filter must not flag: what the user typed
// themselves. Tool output never qualifies, PII from records is always masked.
func knownSafe(userProvided []string) []string {
	out := make([]string, 0, len(userProvided))
	for _, v := range userProvided {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
