package outcome

import "fmt"

// FieldError describes which input field failed validation and how the user
// should be re-prompted for it.
type FieldError struct {
	Field          string `json:"field"`
	ExpectedFormat string `json:"expectedFormat"`
	PromptStyle    string `json:"promptStyle,omitempty"`
}

// Metadata is guardrail telemetry attached to a ToolResult.
type Metadata struct {
	GuardrailAction        GuardrailAction `json:"guardrailAction,omitempty"`
	GuardrailReason        string          `json:"guardrailReason,omitempty"`
	MessageType            MessageType     `json:"messageType"`
	GuidanceAdded          []string        `json:"guidanceAdded,omitempty"`
	GuardrailMissingFields []string        `json:"guardrailMissingFields,omitempty"`
}

// ToolResult is produced once per tool call and treated as immutable after
// construction. Use the constructors so messageType always matches outcome.
type ToolResult struct {
	Outcome         Outcome        `json:"outcome"`
	Success         bool           `json:"success"`
	Data            map[string]any `json:"data"`
	Message         string         `json:"message"`
	ValidationError *FieldError    `json:"validationError,omitempty"`
	Metadata        *Metadata      `json:"metadata,omitempty"`
}

func newResult(o Outcome, success bool, data map[string]any, message string) ToolResult {
	return ToolResult{
		Outcome: o,
		Success: success,
		Data:    data,
		Message: message,
		Metadata: &Metadata{
			MessageType: MessageTypeFor(o),
		},
	}
}

// OKResult wraps data returned by a successful tool call.
func OKResult(data map[string]any, message string) ToolResult {
	return newResult(OK, true, data, message)
}

// NotFoundResult reports that the lookup matched nothing.
func NotFoundResult(message string) ToolResult {
	return newResult(NotFound, false, nil, message)
}

// ValidationErrorResult reports malformed user input for one field.
func ValidationErrorResult(field, expectedFormat, message string) ToolResult {
	r := newResult(ValidationError, false, nil, message)
	r.ValidationError = &FieldError{Field: field, ExpectedFormat: expectedFormat, PromptStyle: "inline"}
	return r
}

// VerificationRequiredResult asks the user to prove ownership. data must not
// carry record fields.
func VerificationRequiredResult(askFor, message string) ToolResult {
	r := newResult(VerificationRequired, false, map[string]any{"askFor": askFor}, message)
	r.Metadata.GuardrailMissingFields = []string{askFor}
	return r
}

// DeniedResult refuses the request without revealing why beyond message.
func DeniedResult(reason, message string) ToolResult {
	r := newResult(Denied, false, nil, message)
	r.Metadata.GuardrailReason = reason
	return r
}

// NeedMoreInfoResult asks for the listed fields before the tool can run.
func NeedMoreInfoResult(missing []string, message string) ToolResult {
	r := newResult(NeedMoreInfo, false, nil, message)
	r.Metadata.GuardrailMissingFields = missing
	return r
}

// SystemErrorResult reports an infrastructure fault in user-safe terms.
func SystemErrorResult(message string) ToolResult {
	return newResult(SystemError, false, nil, message)
}

// Validate checks the result against the outcome contract.
func (r ToolResult) Validate() error {
	if !r.Outcome.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, r.Outcome)
	}
	if r.Outcome == OK && !r.Success {
		return fmt.Errorf("%w: outcome OK with success=false", ErrContractViolation)
	}
	if r.Outcome == SystemError && r.Success {
		return fmt.Errorf("%w: outcome SYSTEM_ERROR with success=true", ErrContractViolation)
	}
	if r.Metadata != nil && r.Outcome.IsClarification() && r.Metadata.MessageType != MessageTypeClarification {
		return fmt.Errorf("%w: outcome %s requires messageType=clarification", ErrContractViolation, r.Outcome)
	}
	return nil
}

// ResponseMetadata accompanies every reply surfaced to the orchestrator.
type ResponseMetadata struct {
	Outcome                       Outcome            `json:"outcome"`
	GuardrailAction               GuardrailAction    `json:"guardrailAction"`
	GuardrailReason               string             `json:"guardrailReason,omitempty"`
	MessageType                   MessageType        `json:"messageType"`
	VerificationStatus            VerificationStatus `json:"verificationStatus,omitempty"`
	ValidationErrorField          string             `json:"validationErrorField,omitempty"`
	ValidationErrorExpectedFormat string             `json:"validationErrorExpectedFormat,omitempty"`
	GuidanceAdded                 []string           `json:"guidanceAdded,omitempty"`
	GuardrailMissingFields        []string           `json:"guardrailMissingFields,omitempty"`
	ActionClaimBlocked            bool               `json:"actionClaimBlocked,omitempty"`
	BlockType                     string             `json:"blockType,omitempty"`
	ActionClaimCorrected          bool               `json:"actionClaimCorrected,omitempty"`
	Warnings                      []string           `json:"warnings,omitempty"`
}

// Validate checks the metadata against the outcome contract. A verified
// session paired with VERIFICATION_REQUIRED is a defect, not a state.
func (m ResponseMetadata) Validate() error {
	if !m.Outcome.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, m.Outcome)
	}
	if !m.GuardrailAction.Valid() {
		return fmt.Errorf("%w: unknown guardrail action %q", ErrContractViolation, m.GuardrailAction)
	}
	if m.VerificationStatus == StatusVerified && m.Outcome == VerificationRequired {
		return fmt.Errorf("%w: verified session with outcome VERIFICATION_REQUIRED", ErrContractViolation)
	}
	if m.Outcome.IsClarification() && m.MessageType != MessageTypeClarification {
		return fmt.Errorf("%w: outcome %s requires messageType=clarification", ErrContractViolation, m.Outcome)
	}
	return nil
}

// Response is the final text plus metadata handed to the chat layer.
type Response struct {
	Text     string           `json:"text"`
	Metadata ResponseMetadata `json:"metadata"`
}
