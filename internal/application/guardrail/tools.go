package guardrail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/support-guardrail/internal/domain/audit"
	"github.com/bryanwahyu/support-guardrail/internal/domain/disclosure"
	"github.com/bryanwahyu/support-guardrail/internal/domain/grounding"
	"github.com/bryanwahyu/support-guardrail/internal/domain/leak"
	"github.com/bryanwahyu/support-guardrail/internal/domain/messages"
	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
	"github.com/bryanwahyu/support-guardrail/internal/domain/verification"
)

// GateRequest is the tool-side request to open a resolved record.
type GateRequest struct {
	BusinessID string `json:"businessId"`
	SessionID  string `json:"sessionId"`
	Language   string `json:"language,omitempty"`
	UserRole   string `json:"userRole,omitempty"`
	VerificationInput
}

// GateRecord runs the verification gate for one record and commits the
// resulting state. The returned ToolResult is what the tool hands to the LLM.
func (s *Service) GateRecord(ctx context.Context, req GateRequest) (outcome.ToolResult, error) {
	if strings.TrimSpace(req.BusinessID) == "" || strings.TrimSpace(req.SessionID) == "" {
		return outcome.ToolResult{}, fmt.Errorf("%w: businessId and sessionId are required", ErrInvalidRequest)
	}
	if !req.AnchorType.Valid() {
		return outcome.ToolResult{}, fmt.Errorf("%w: unknown anchorType %q", ErrInvalidRequest, req.AnchorType)
	}
	lang := s.language(req.Language)
	now := s.clock().Now()

	if foreign := foreignTenant(req.BusinessID, nil, &req.VerificationInput); foreign != "" {
		s.observer().ObserveDecision(StageTenant, outcome.ActionBlock, ReasonCrossTenant)
		s.Audit.Record(audit.NewEvent(audit.EventCrossTenant, req.BusinessID, req.SessionID,
			map[string]any{"foreign_business_id": foreign}, now))
		return outcome.DeniedResult(ReasonCrossTenant, s.catalog().Get(lang, messages.KeyCrossTenant)), nil
	}

	unlock, err := s.Locks.Lock(ctx, sessionKey(req.BusinessID, req.SessionID))
	if err != nil {
		return outcome.ToolResult{}, fmt.Errorf("guardrail: lock session: %w", err)
	}
	defer unlock()

	st, err := s.States.Get(ctx, sessionKey(req.BusinessID, req.SessionID))
	if err != nil {
		return outcome.ToolResult{}, fmt.Errorf("guardrail: load verification state: %w", err)
	}
	step, err := s.verifier().Gate(st, s.gateInput(req.VerificationInput, req.UserRole, lang), now)
	if err != nil {
		return outcome.ToolResult{}, err
	}
	if err := step.Result.Validate(); err != nil {
		return outcome.ToolResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return outcome.ToolResult{}, fmt.Errorf("guardrail: gate aborted: %w", err)
	}
	if err := s.States.Set(ctx, sessionKey(req.BusinessID, req.SessionID), step.State); err != nil {
		return outcome.ToolResult{}, fmt.Errorf("guardrail: save verification state: %w", err)
	}

	var events []audit.SecurityEvent
	s.noteGate(step, func(t audit.EventType, d map[string]any) {
		events = append(events, audit.NewEvent(t, req.BusinessID, req.SessionID, d, now))
	})
	for _, e := range events {
		s.Audit.Record(e)
	}
	s.observer().ObserveOutcome(step.Result.Outcome)
	return step.Result, nil
}

// StatusView is the externally visible part of a session's state. It never
// carries the anchor value or name.
type StatusView struct {
	SessionID  string                     `json:"sessionId"`
	Status     outcome.VerificationStatus `json:"status"`
	AnchorType verification.AnchorType    `json:"anchorType,omitempty"`
	Attempts   int                        `json:"attempts"`
	UpdatedAt  *time.Time                 `json:"updatedAt,omitempty"`
}

// VerificationStatus reads the current state of a session.
func (s *Service) VerificationStatus(ctx context.Context, businessID, sessionID string) (StatusView, error) {
	if strings.TrimSpace(businessID) == "" || strings.TrimSpace(sessionID) == "" {
		return StatusView{}, fmt.Errorf("%w: businessId and sessionId are required", ErrInvalidRequest)
	}
	st, err := s.States.Get(ctx, sessionKey(businessID, sessionID))
	if err != nil {
		return StatusView{}, fmt.Errorf("guardrail: load verification state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return StatusView{}, err
	}
	v := StatusView{SessionID: sessionID, Status: st.Status, Attempts: st.Attempts}
	if st.Anchor != nil {
		v.AnchorType = st.Anchor.Type
	}
	if !st.UpdatedAt.IsZero() {
		u := st.UpdatedAt
		v.UpdatedAt = &u
	}
	return v, nil
}

// ScanLeak runs the leak filter alone.
func (s *Service) ScanLeak(text string, status outcome.VerificationStatus, lang string, knownSafeValues []string) (leak.Result, error) {
	if status == "" {
		status = outcome.StatusNone
	}
	if !status.Valid() {
		return leak.Result{}, fmt.Errorf("%w: unknown verification status %q", ErrInvalidRequest, status)
	}
	res := s.Leak.Apply(text, status, s.language(lang), leak.Context{KnownSafe: knownSafe(knownSafeValues)})
	s.observer().ObserveDecision(StageLeak, res.Action, res.Reason)
	return res, nil
}

// GroundingRequest checks one reply against tool outputs.
type GroundingRequest struct {
	Reply        string                 `json:"reply"`
	ToolsCalled  []string               `json:"toolsCalled,omitempty"`
	ToolOutputs  []grounding.ToolOutput `json:"toolOutputs,omitempty"`
	Strict       *bool                  `json:"strict,omitempty"`
	UserProvided []string               `json:"userProvided,omitempty"`
}

// CheckGrounding runs the grounding validator alone. Strict defaults to the
// service setting.
func (s *Service) CheckGrounding(req GroundingRequest) (grounding.Result, error) {
	opts := grounding.Options{Strict: s.StrictGrounding, UserProvided: req.UserProvided}
	if req.Strict != nil {
		opts.Strict = *req.Strict
	}
	var (
		res grounding.Result
		err error
	)
	if len(req.ToolOutputs) == 0 {
		res = grounding.AssertNoUngroundedClaims(req.Reply, req.ToolsCalled, opts)
	} else if res, err = grounding.AssertFieldGrounded(req.Reply, req.ToolOutputs, opts); err != nil {
		return grounding.Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	action, reason := outcome.ActionPass, ""
	if !res.Passed {
		action, reason = outcome.ActionBlock, res.Mismatches[0].Reason
	}
	s.observer().ObserveDecision(StageGrounding, action, reason)
	return res, nil
}

// DiscloseStock applies the disclosure policy with the service threshold.
func (s *Service) DiscloseStock(r disclosure.StockRecord, role string, requestedQty int) map[string]any {
	return disclosure.ApplyDisclosurePolicy(r, s.disclosureOptions(role, requestedQty))
}

// DiscloseCandidates summarizes an ambiguous match without stock numbers.
func (s *Service) DiscloseCandidates(cs []disclosure.StockRecord, role string, requestedQty int) disclosure.CandidateSummary {
	return disclosure.ApplyDisclosureToCandidates(cs, s.disclosureOptions(role, requestedQty))
}

func (s *Service) disclosureOptions(role string, qty int) disclosure.Options {
	return disclosure.Options{UserRole: role, RequestedQty: qty, LowStockThreshold: s.LowStockThreshold}
}

// ReportTenantMismatch records an API key used against another tenant's
// routes.
func (s *Service) ReportTenantMismatch(authTenant, urlTenant string) {
	s.observer().ObserveDecision(StageTenant, outcome.ActionBlock, ReasonCrossTenant)
	s.Audit.Record(audit.NewEvent(audit.EventCrossTenant, authTenant, "",
		map[string]any{"foreign_business_id": urlTenant, "source": "http"}, s.clock().Now()))
}
