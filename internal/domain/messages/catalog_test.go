package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
)

func TestEmbeddedCatalogLoads(t *testing.T) {
	c, err := Load(catalogYAML)
	require.NoError(t, err)
	for _, k := range []Key{
		KeyFallback, KeyVerificationFailed, KeyVerificationLocked, KeyLeakBlocked,
		KeyLeakTopicRequiresVerify, KeyLeakUnreadable, KeyGroundingUnverified,
		KeyActionClaimToolFailed, KeyActionClaimToolNotCalled, KeyActionClaimCorrectionHint,
		KeyCrossTenant, VerificationRequestKey("full_name"), VerificationRequestKey("phone_last4"),
	} {
		assert.True(t, c.Has(k), k)
	}
}

func TestEveryOutcomeHasMessageInBothLanguages(t *testing.T) {
	c := Default()
	for _, o := range outcome.All() {
		if o == outcome.VerificationRequired {
			continue // resolved through verification.request.*
		}
		for _, lang := range []Language{TR, EN} {
			msg := c.ForOutcome(lang, o, "")
			assert.NotEmpty(t, msg, "%s/%s", o, lang)
			assert.NotEqual(t, c.Get(lang, KeyFallback), msg, "%s/%s resolved to fallback", o, lang)
		}
	}
}

func TestScenarioFallsBackToBase(t *testing.T) {
	c := Default()
	assert.Equal(t, c.Get(EN, "outcome.not_found.order"), c.ForOutcome(EN, outcome.NotFound, "order"))
	assert.Equal(t, c.Get(EN, "outcome.not_found"), c.ForOutcome(EN, outcome.NotFound, "ticket"))
}

func TestGetNeverEmpty(t *testing.T) {
	c := Default()
	assert.Equal(t, c.Get(TR, KeyFallback), c.Get(TR, "no.such.key"))
	assert.Equal(t, c.Get(EN, KeyFallback), c.Get("de", "no.such.key"))
}

func TestRender(t *testing.T) {
	c := Default()
	s := c.Render(EN, KeyActionClaimCorrectionHint, map[string]string{"action": "appointment", "status": "requested"})
	assert.Contains(t, s, "appointment")
	assert.Contains(t, s, "requested")
	assert.NotContains(t, s, "{{")
}

func TestLoadRejectsMissingLanguage(t *testing.T) {
	_, err := Load([]byte("messages:\n  generic.fallback:\n    tr: merhaba\n"))
	require.Error(t, err)
}

func TestParseLanguage(t *testing.T) {
	assert.Equal(t, EN, ParseLanguage("en"))
	assert.Equal(t, EN, ParseLanguage("en-US"))
	assert.Equal(t, TR, ParseLanguage("tr"))
	assert.Equal(t, TR, ParseLanguage(""))
	assert.Equal(t, TR, ParseLanguage("de"))
}
