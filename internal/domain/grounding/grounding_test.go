package grounding

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectClaims(t *testing.T) {
	claims := DetectClaims("Siparişiniz kargoya verildi. Takip no: AB123456789TR, tutar 1.250,00 TL, Atatürk Mahallesi adresine 12.05.2024 tarihinde.")
	byCat := map[Category][]Claim{}
	for _, c := range claims {
		byCat[c.Category] = append(byCat[c.Category], c)
	}
	require.Len(t, byCat[CategoryStatus], 1)
	assert.Equal(t, "shipped", byCat[CategoryStatus][0].Class)
	require.Len(t, byCat[CategoryTracking], 1)
	assert.Equal(t, "AB123456789TR", byCat[CategoryTracking][0].Text)
	require.Len(t, byCat[CategoryAmount], 1)
	assert.Equal(t, "1250.00", byCat[CategoryAmount][0].Class)
	require.Len(t, byCat[CategoryAddress], 1)
	assert.NotEmpty(t, byCat[CategoryDate])
}

func TestNormalizeAmount(t *testing.T) {
	cases := map[string]string{
		"1.250,00 TL": "1250.00",
		"₺1,250.50":   "1250.50",
		"1250 TL":     "1250.00",
		"1.250":       "1250.00",
		"99,9":        "99.90",
		"0,50 TL":     "0.50",
	}
	for in, want := range cases {
		got, ok := normalizeAmount(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
}

func TestTrackingExcludesHexIDs(t *testing.T) {
	assert.Empty(t, trackingTokens("Kayıt 5f8d0d55b54764421b7156c3 oluşturuldu"))
	assert.Equal(t, []string{"1Z999AA10123456784"}, trackingTokens("UPS 1Z999AA10123456784"))
}

func TestNoToolNoClaim(t *testing.T) {
	res := AssertNoUngroundedClaims("Siparişiniz kargoya verildi.", nil, Options{})
	assert.False(t, res.Passed)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, ReasonNoToolCalled, res.Mismatches[0].Reason)

	res = AssertNoUngroundedClaims("Size nasıl yardımcı olabilirim?", nil, Options{})
	assert.True(t, res.Passed)

	res = AssertNoUngroundedClaims("Siparişiniz kargoya verildi.", []string{"get_order"}, Options{})
	assert.True(t, res.Passed)
}

func TestNoToolNoClaimProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	claimsGen := gen.OneConstOf(
		"Siparişiniz kargoya verildi.",
		"Your order was delivered.",
		"Takip numaranız AB123456789TR.",
		"Toplam tutar 499,90 TL.",
		"Adres: Cumhuriyet Caddesi No: 4",
		"Teslimat 12.06.2024 tarihinde.",
		"Order cancelled.",
		"Tracking 123456789012",
	)
	properties.Property("any claim without a tool call fails", prop.ForAll(
		func(prefix, claim string) bool {
			return !AssertNoUngroundedClaims(prefix+" "+claim, nil, Options{}).Passed
		},
		gen.OneConstOf("", "Merhaba!", "Hello,", "Bilginize:"),
		claimsGen,
	))

	properties.TestingRun(t)
}

func TestStatusEquivalenceClass(t *testing.T) {
	out := []ToolOutput{{Name: "get_order", Data: map[string]any{"status": "in_transit"}}}
	res, err := AssertFieldGrounded("Siparişiniz kargoya verildi, yolda.", out, Options{Strict: true})
	require.NoError(t, err)
	assert.True(t, res.Passed, "%+v", res.Mismatches)

	res, err = AssertFieldGrounded("Siparişiniz teslim edildi.", out, Options{})
	require.NoError(t, err)
	assert.True(t, res.Passed, "high mismatch only warns outside strict mode")
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, ReasonStatusAbsent, res.Warnings[0].Reason)

	res, err = AssertFieldGrounded("Siparişiniz teslim edildi.", out, Options{Strict: true})
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestNegativeStatusIsCritical(t *testing.T) {
	out := []ToolOutput{{Name: "get_order", Data: map[string]any{"status": "shipped"}}}
	res, err := AssertFieldGrounded("Siparişiniz iptal edildi.", out, Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, SeverityCritical, res.Mismatches[0].Severity)
}

func TestFabricatedTrackingAlwaysFails(t *testing.T) {
	out := []ToolOutput{{Name: "get_order", Data: map[string]any{"status": "shipped", "tracking_number": "AB123456789TR"}}}
	res, err := AssertFieldGrounded("Takip numaranız AB123456789TR.", out, Options{})
	require.NoError(t, err)
	assert.True(t, res.Passed)

	res, err = AssertFieldGrounded("Takip numaranız XY987654321TR.", out, Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, SeverityCritical, res.Mismatches[0].Severity)
	assert.Equal(t, ReasonTrackingAbsent, res.Mismatches[0].Reason)
}

func TestAmountAndAddress(t *testing.T) {
	out := []ToolOutput{{Name: "get_order", Data: map[string]any{
		"total":   1250.5,
		"address": "Atatürk Mahallesi, Kadıköy",
	}}}
	res, err := AssertFieldGrounded("Tutar 1.250,50 TL olup Atatürk Mahallesi adresine gönderilecek.", out, Options{Strict: true})
	require.NoError(t, err)
	assert.True(t, res.Passed, "%+v", res.Mismatches)

	res, err = AssertFieldGrounded("Tutar 999,00 TL olup Cumhuriyet Caddesi adresine gönderilecek.", out, Options{Strict: true})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	reasons := map[string]bool{}
	for _, m := range res.Mismatches {
		reasons[m.Reason] = true
		assert.Equal(t, SeverityHigh, m.Severity)
	}
	assert.True(t, reasons[ReasonAmountAbsent])
	assert.True(t, reasons[ReasonAddressAbsent])
}

func TestUserProvidedValuesAreNotClaims(t *testing.T) {
	res := AssertNoUngroundedClaims("123456789012 numaralı siparişinizi kontrol ediyorum.", nil,
		Options{UserProvided: []string{"123456789012"}})
	assert.True(t, res.Passed)
}

func TestGroundedReplyPasses(t *testing.T) {
	out := []ToolOutput{{Name: "get_order", Data: map[string]any{
		"status":          "delivered",
		"tracking_number": "1Z999AA10123456784",
		"total":           "349,99 TL",
	}}}
	for _, reply := range []string{
		"Siparişiniz teslim edildi.",
		"Your order was delivered. Tracking: 1Z999AA10123456784",
		fmt.Sprintf("Toplam %s ödendi.", "349,99 TL"),
	} {
		res, err := AssertFieldGrounded(reply, out, Options{Strict: true})
		require.NoError(t, err)
		assert.True(t, res.Passed, "%s: %+v", reply, res.Mismatches)
	}
}
