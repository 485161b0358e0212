package outcome

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidOutcome(t *testing.T) {
	for _, o := range All() {
		assert.True(t, IsValidOutcome(string(o)), o)
	}
	for _, s := range []string{"", "ok", "SUCCESS", "NOT FOUND", "ERROR"} {
		assert.False(t, IsValidOutcome(s), s)
	}
}

func TestParse(t *testing.T) {
	o, err := Parse(" DENIED ")
	require.NoError(t, err)
	assert.Equal(t, Denied, o)

	_, err = Parse("MAYBE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOutcome))
}

func TestConstructorsSetMessageType(t *testing.T) {
	cases := []struct {
		name string
		r    ToolResult
		want MessageType
	}{
		{"ok", OKResult(map[string]any{"a": 1}, "fine"), MessageTypeAssistantClaim},
		{"not found", NotFoundResult("none"), MessageTypeAssistantClaim},
		{"validation", ValidationErrorResult("order_number", "8-12 digits", "bad"), MessageTypeAssistantClaim},
		{"verification", VerificationRequiredResult("full_name", "who are you"), MessageTypeClarification},
		{"denied", DeniedResult("locked", "no"), MessageTypeAssistantClaim},
		{"need more", NeedMoreInfoResult([]string{"sku"}, "which one"), MessageTypeClarification},
		{"system", SystemErrorResult("oops"), MessageTypeAssistantClaim},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NotNil(t, tc.r.Metadata)
			assert.Equal(t, tc.want, tc.r.Metadata.MessageType)
			assert.NoError(t, tc.r.Validate())
		})
	}
}

func TestVerificationRequiredResultCarriesNoRecordFields(t *testing.T) {
	r := VerificationRequiredResult("full_name", "msg")
	assert.Equal(t, map[string]any{"askFor": "full_name"}, r.Data)
	assert.Equal(t, []string{"full_name"}, r.Metadata.GuardrailMissingFields)
}

func TestToolResultValidate(t *testing.T) {
	bad := ToolResult{Outcome: "WHATEVER"}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidOutcome)

	missing := ToolResult{}
	assert.ErrorIs(t, missing.Validate(), ErrInvalidOutcome)

	okFalse := ToolResult{Outcome: OK, Success: false}
	assert.ErrorIs(t, okFalse.Validate(), ErrContractViolation)

	clar := VerificationRequiredResult("full_name", "x")
	clar.Metadata.MessageType = MessageTypeAssistantClaim
	assert.ErrorIs(t, clar.Validate(), ErrContractViolation)
}

func TestResponseMetadataValidate(t *testing.T) {
	m := ResponseMetadata{
		Outcome:            VerificationRequired,
		GuardrailAction:    ActionPass,
		MessageType:        MessageTypeClarification,
		VerificationStatus: StatusVerified,
	}
	assert.ErrorIs(t, m.Validate(), ErrContractViolation)

	m.VerificationStatus = StatusPending
	assert.NoError(t, m.Validate())

	m.MessageType = MessageTypeAssistantClaim
	assert.ErrorIs(t, m.Validate(), ErrContractViolation)

	m = ResponseMetadata{Outcome: OK, GuardrailAction: "MAYBE", MessageType: MessageTypeAssistantClaim}
	assert.ErrorIs(t, m.Validate(), ErrContractViolation)
}

func TestStronger(t *testing.T) {
	assert.Equal(t, ActionBlock, Stronger(ActionSanitize, ActionBlock))
	assert.Equal(t, ActionRewrite, Stronger(ActionRewrite, ActionSanitize))
	assert.Equal(t, ActionPass, Stronger(ActionPass, ActionPass))
}
