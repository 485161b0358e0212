package verification

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/support-guardrail/internal/domain/disclosure"
	"github.com/bryanwahyu/support-guardrail/internal/domain/messages"
	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
)

var now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func orderRecord() map[string]any {
	return map[string]any{
		"order_number":   "123456",
		"customer_name":  "Ahmet Yılmaz",
		"customer_phone": "0554 260 11 64",
		"status":         "shipped",
		"total":          "1.250,00 TL",
		"cost_price":     900.0,
		"_internal_ref":  "x",
	}
}

func TestRequiresVerification(t *testing.T) {
	for _, q := range []QueryType{QueryOrderStatus, QueryOrderDetail, QueryTicket, QueryFinancial, QueryAddress, "something_new"} {
		assert.True(t, RequiresVerification(q), q)
	}
	for _, q := range []QueryType{QueryProductInfo, QueryStock, QueryGeneral, " Stock "} {
		assert.False(t, RequiresVerification(q), q)
	}
}

func TestCreateAnchor(t *testing.T) {
	a, err := CreateAnchor(orderRecord(), AnchorOrder, " 123456 ")
	require.NoError(t, err)
	assert.Equal(t, "123456", a.Value)
	assert.Equal(t, "Ahmet Yılmaz", a.Name)
	assert.Equal(t, "1164", a.PhoneLast4)
	assert.Equal(t, "123456", a.RecordRef)

	a, err = CreateAnchor(map[string]any{"first_name": "Ayşe", "last_name": "Kaya"}, AnchorTC, "10000000146")
	require.NoError(t, err)
	assert.Equal(t, "Ayşe Kaya", a.Name)

	_, err = CreateAnchor(map[string]any{"status": "shipped"}, AnchorOrder, "1")
	assert.ErrorIs(t, err, ErrNoCanonicalName)

	_, err = CreateAnchor(orderRecord(), "passport", "1")
	assert.ErrorIs(t, err, ErrInvalidAnchor)
	_, err = CreateAnchor(orderRecord(), AnchorPhone, "abc")
	assert.ErrorIs(t, err, ErrInvalidAnchor)
}

func TestAnchorSameNormalizesValue(t *testing.T) {
	a := Anchor{Type: AnchorPhone, Value: "+90 554 260 11 64"}
	b := Anchor{Type: AnchorPhone, Value: "05542601164"}
	assert.True(t, a.Same(b))
	assert.False(t, a.Same(Anchor{Type: AnchorOrder, Value: "05542601164"}))
}

func TestCheckVerificationNameRule(t *testing.T) {
	m := &Machine{}
	anchor := &Anchor{Type: AnchorOrder, Value: "123456", Name: "Ahmet Yılmaz"}

	cases := []struct {
		provided string
		want     DecisionAction
	}{
		{"", ActionRequestVerification},
		{"Ahmet", ActionRequestVerification},
		{"Yılmaz", ActionRequestVerification},
		{"Ahmet Yılmaz", ActionVerified},
		{"AHMET YILMAZ", ActionVerified},
		{"ahmet yilmaz", ActionVerified},
		{"Benim adım Ahmet Yılmaz", ActionVerified},
		{"Mehmet Demir", ActionVerificationFailed},
		{"Ahmet Demir", ActionVerificationFailed},
	}
	for _, tc := range cases {
		d := m.CheckVerification(anchor, tc.provided, QueryOrderStatus, messages.TR)
		assert.Equal(t, tc.want, d.Action, tc.provided)
		assert.NotEmpty(t, d.Message, tc.provided)
		if tc.want == ActionRequestVerification {
			assert.Equal(t, AskFullName, d.AskFor)
		}
	}
}

func TestCheckVerificationEdgeNames(t *testing.T) {
	m := &Machine{}
	hyphen := &Anchor{Type: AnchorOrder, Value: "1", Name: "Ayşe-Nur Kaya"}
	assert.True(t, m.CheckVerification(hyphen, "Ayşe Nur Kaya", QueryOrderStatus, messages.TR).Verified)
	assert.False(t, m.CheckVerification(hyphen, "Ayşe Kaya", QueryOrderStatus, messages.TR).Verified)

	three := &Anchor{Type: AnchorOrder, Value: "1", Name: "Mehmet Ali Öztürk"}
	assert.True(t, m.CheckVerification(three, "mehmet ali ozturk", QueryOrderStatus, messages.TR).Verified)
	assert.Equal(t, ActionRequestVerification, m.CheckVerification(three, "Mehmet Öztürk", QueryOrderStatus, messages.TR).Action)

	blank := &Anchor{Type: AnchorOrder, Value: "1", Name: "  "}
	assert.Equal(t, ActionVerificationFailed, m.CheckVerification(blank, "Ahmet", QueryOrderStatus, messages.TR).Action)
}

func TestNameRuleProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	pool := []string{"ahmet", "yilmaz", "ayse", "kaya", "mehmet", "ali", "demir", "zeynep"}
	pick := func(mask uint8) []string {
		var out []string
		for i, n := range pool {
			if mask&(1<<uint(i)) != 0 {
				out = append(out, n)
			}
		}
		return out
	}

	properties.Property("verifies iff every anchor token is provided", prop.ForAll(
		func(anchorMask, providedMask uint8) bool {
			want, got := pick(anchorMask), pick(providedMask)
			if len(want) == 0 {
				return true
			}
			expected := len(got) > 0 && anchorMask&providedMask == anchorMask
			return NameVerifies(strings.Join(want, " "), strings.Join(got, " ")) == expected
		},
		gen.UInt8(),
		gen.UInt8(),
	))

	properties.Property("a strict subset never verifies", prop.ForAll(
		func(anchorMask uint8, drop int) bool {
			want := pick(anchorMask)
			if len(want) < 2 {
				return true
			}
			i := drop % len(want)
			subset := append(append([]string{}, want[:i]...), want[i+1:]...)
			return !NameVerifies(strings.Join(want, " "), strings.Join(subset, " "))
		},
		gen.UInt8(),
		gen.IntRange(0, 7),
	))

	properties.TestingRun(t)
}

func TestPhoneLast4Policy(t *testing.T) {
	m := &Machine{AskFor: AskPhoneLast4}
	anchor := &Anchor{Type: AnchorOrder, Value: "1", Name: "Ahmet Yılmaz", PhoneLast4: "1164"}
	assert.True(t, m.CheckVerification(anchor, "1164", QueryOrderStatus, messages.EN).Verified)
	assert.True(t, m.CheckVerification(anchor, "son dört hane: 11 64", QueryOrderStatus, messages.EN).Verified)
	d := m.CheckVerification(anchor, "", QueryOrderStatus, messages.EN)
	assert.Equal(t, AskPhoneLast4, d.AskFor)
	assert.Equal(t, ActionVerificationFailed, m.CheckVerification(anchor, "9999", QueryOrderStatus, messages.EN).Action)

	noPhone := &Anchor{Type: AnchorOrder, Value: "1", Name: "Ahmet"}
	assert.False(t, m.CheckVerification(noPhone, "1164", QueryOrderStatus, messages.EN).Verified)
}

func TestStateValidate(t *testing.T) {
	assert.NoError(t, NewState().Validate())
	anchor := &Anchor{Type: AnchorOrder, Value: "1", Name: "A"}
	assert.NoError(t, State{Status: outcome.StatusPending, Anchor: anchor}.Validate())

	bad := []State{
		{},
		{Status: "weird"},
		{Status: outcome.StatusVerified},
		{Status: outcome.StatusNone, Anchor: anchor},
		{Status: outcome.StatusPending, Anchor: anchor, Attempts: -1},
		{Status: outcome.StatusPending, Anchor: &Anchor{Type: "x", Value: "1"}},
	}
	for _, s := range bad {
		assert.ErrorIs(t, s.Validate(), ErrCorruptedState, "%+v", s)
	}
}

func TestIdentitySwitchResetsToPending(t *testing.T) {
	a := Anchor{Type: AnchorOrder, Value: "111111", Name: "Ahmet Yılmaz"}
	b := Anchor{Type: AnchorOrder, Value: "222222", Name: "Ahmet Yılmaz"}

	st, switched := NewState().Bind(a, now)
	assert.False(t, switched)
	st = st.Verify(now)
	require.True(t, st.IsVerifiedFor(a))

	again, switched := st.Bind(a, now)
	assert.False(t, switched)
	assert.Equal(t, outcome.StatusVerified, again.Status)

	next, switched := st.Bind(b, now)
	assert.True(t, switched)
	assert.Equal(t, outcome.StatusPending, next.Status)
	assert.Equal(t, 0, next.Attempts)
	assert.False(t, next.IsVerifiedFor(b))
	assert.False(t, next.IsVerifiedFor(a))
}

func TestIdentitySwitchProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("binding another anchor value is always pending", prop.ForAll(
		func(v1, v2 string, attempts int, status int) bool {
			if v1 == v2 {
				return true
			}
			statuses := []outcome.VerificationStatus{outcome.StatusPending, outcome.StatusVerified, outcome.StatusFailed}
			st := State{
				Status:   statuses[status%len(statuses)],
				Anchor:   &Anchor{Type: AnchorOrder, Value: v1, Name: "A B"},
				Attempts: attempts,
			}
			next, _ := st.Bind(Anchor{Type: AnchorOrder, Value: v2, Name: "A B"}, now)
			return next.Status == outcome.StatusPending && next.Attempts == 0 && next.Anchor.Value == v2
		},
		gen.RegexMatch(`[0-9]{6}`),
		gen.RegexMatch(`[0-9]{6}`),
		gen.IntRange(0, 5),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

func gateInput(name string) GateInput {
	return GateInput{
		Record:       orderRecord(),
		AnchorType:   AnchorOrder,
		AnchorValue:  "123456",
		ProvidedName: name,
		QueryType:    QueryOrderStatus,
		Language:     messages.TR,
		Disclosure:   disclosure.Options{UserRole: "customer"},
	}
}

func TestGateEndToEnd(t *testing.T) {
	m := &Machine{}

	step, err := m.Gate(NewState(), gateInput(""), now)
	require.NoError(t, err)
	assert.Equal(t, outcome.VerificationRequired, step.Result.Outcome)
	assert.Equal(t, map[string]any{"askFor": "full_name"}, step.Result.Data)
	assert.Equal(t, outcome.MessageTypeClarification, step.Result.Metadata.MessageType)
	assert.Equal(t, outcome.StatusPending, step.State.Status)
	require.NoError(t, step.Result.Validate())

	partial, err := m.Gate(step.State, gateInput("Ahmet"), now)
	require.NoError(t, err)
	assert.Equal(t, outcome.VerificationRequired, partial.Result.Outcome)
	assert.NotContains(t, partial.Result.Data, "status")
	assert.Equal(t, 0, partial.State.Attempts)

	full, err := m.Gate(partial.State, gateInput("Ahmet Yılmaz"), now)
	require.NoError(t, err)
	assert.Equal(t, outcome.OK, full.Result.Outcome)
	assert.True(t, full.Result.Success)
	assert.Equal(t, "shipped", full.Result.Data["status"])
	assert.NotContains(t, full.Result.Data, "cost_price")
	assert.NotContains(t, full.Result.Data, "_internal_ref")
	assert.Equal(t, outcome.StatusVerified, full.State.Status)

	// verified sessions do not re-prove the same anchor
	again, err := m.Gate(full.State, gateInput(""), now)
	require.NoError(t, err)
	assert.Equal(t, outcome.OK, again.Result.Outcome)
}

func TestGateIdentitySwitch(t *testing.T) {
	m := &Machine{}
	step, err := m.Gate(NewState(), gateInput("Ahmet Yılmaz"), now)
	require.NoError(t, err)
	require.Equal(t, outcome.StatusVerified, step.State.Status)

	other := gateInput("")
	other.AnchorValue = "654321"
	other.Record = map[string]any{"order_number": "654321", "customer_name": "Zeynep Kaya", "status": "delivered"}
	next, err := m.Gate(step.State, other, now)
	require.NoError(t, err)
	assert.True(t, next.IdentitySwitch)
	assert.Equal(t, outcome.VerificationRequired, next.Result.Outcome)
	assert.Equal(t, outcome.StatusPending, next.State.Status)
	assert.NotContains(t, next.Result.Data, "status")
}

func TestGateLockout(t *testing.T) {
	m := &Machine{MaxAttempts: 2}
	st := NewState()

	step, err := m.Gate(st, gateInput("Mehmet Demir"), now)
	require.NoError(t, err)
	assert.Equal(t, outcome.VerificationRequired, step.Result.Outcome)
	assert.Equal(t, ReasonVerificationFailed, step.Result.Metadata.GuardrailReason)
	assert.Equal(t, outcome.StatusFailed, step.State.Status)
	assert.Nil(t, step.Result.Data["status"])

	step, err = m.Gate(step.State, gateInput("Mehmet Demir"), now)
	require.NoError(t, err)
	assert.True(t, step.Locked)
	assert.Equal(t, outcome.Denied, step.Result.Outcome)

	// even the right name is refused once locked
	step, err = m.Gate(step.State, gateInput("Ahmet Yılmaz"), now)
	require.NoError(t, err)
	assert.Equal(t, outcome.Denied, step.Result.Outcome)
	assert.Equal(t, ReasonVerificationLocked, step.Result.Metadata.GuardrailReason)
}

func TestGateLowSensitivity(t *testing.T) {
	m := &Machine{}
	in := gateInput("")
	in.QueryType = QueryProductInfo
	in.Record = map[string]any{"product_name": "Kulaklık", "availability": "IN_STOCK", "customer_name": "Ahmet Yılmaz"}
	step, err := m.Gate(NewState(), in, now)
	require.NoError(t, err)
	assert.Equal(t, outcome.OK, step.Result.Outcome)
	assert.Equal(t, "Kulaklık", step.Result.Data["product_name"])
	assert.NotContains(t, step.Result.Data, "customer_name")
	assert.Equal(t, outcome.StatusNone, step.State.Status)
}

func TestGateRejectsCorruptedState(t *testing.T) {
	m := &Machine{}
	_, err := m.Gate(State{Status: outcome.StatusVerified}, gateInput(""), now)
	assert.ErrorIs(t, err, ErrCorruptedState)
}

func TestGateWithoutCanonicalNameDenies(t *testing.T) {
	m := &Machine{}
	in := gateInput("Ahmet")
	in.Record = map[string]any{"order_number": "123456", "status": "shipped"}
	step, err := m.Gate(NewState(), in, now)
	require.NoError(t, err)
	assert.Equal(t, outcome.Denied, step.Result.Outcome)
	assert.Equal(t, outcome.StatusNone, step.State.Status)
}
