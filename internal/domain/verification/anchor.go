package verification

import (
	"fmt"
	"strings"

	"github.com/bryanwahyu/support-guardrail/internal/domain/textnorm"
)

// AnchorType enum
type AnchorType string

const (
	AnchorOrder AnchorType = "order"
	AnchorPhone AnchorType = "phone"
	AnchorVKN   AnchorType = "vkn"
	AnchorTC    AnchorType = "tc"
)

// Valid reports whether t is a known anchor type.
func (t AnchorType) Valid() bool {
	switch t {
	case AnchorOrder, AnchorPhone, AnchorVKN, AnchorTC:
		return true
	}
	return false
}

// Anchor identifies the record a turn is about and the owner proof that
// unlocks it.
type Anchor struct {
	Type       AnchorType `json:"anchorType"`
	Value      string     `json:"anchorValue"`
	Name       string     `json:"name"`
	PhoneLast4 string     `json:"phoneLast4,omitempty"`
	RecordRef  string     `json:"recordRef,omitempty"`
}

// Same reports whether a and b point at the same record.
func (a Anchor) Same(b Anchor) bool {
	return a.Type == b.Type && normalizeValue(a.Type, a.Value) == normalizeValue(b.Type, b.Value)
}

func normalizeValue(t AnchorType, v string) string {
	switch t {
	case AnchorPhone, AnchorVKN, AnchorTC:
		d := textnorm.Digits(v)
		if t == AnchorPhone && len(d) > 10 {
			d = d[len(d)-10:]
		}
		return d
	}
	return strings.ToUpper(strings.Join(strings.Fields(v), ""))
}

var nameKeys = []string{"customer_name", "customerName", "full_name", "fullName", "name", "ad_soyad"}

var phoneKeys = []string{"customer_phone", "customerPhone", "phone", "phone_number", "phoneNumber", "telefon"}

var refKeys = []string{"id", "order_id", "orderId", "order_number", "orderNumber", "record_ref"}

// CreateAnchor extracts the canonical owner name and phone suffix from a
// resolved record.
func CreateAnchor(record map[string]any, t AnchorType, value string) (Anchor, error) {
	if !t.Valid() {
		return Anchor{}, fmt.Errorf("%w: type %q", ErrInvalidAnchor, t)
	}
	v := normalizeValue(t, value)
	if v == "" {
		return Anchor{}, fmt.Errorf("%w: empty value", ErrInvalidAnchor)
	}
	a := Anchor{Type: t, Value: v}

	a.Name = firstString(record, nameKeys)
	if a.Name == "" {
		first := firstString(record, []string{"first_name", "firstName", "ad"})
		last := firstString(record, []string{"last_name", "lastName", "soyad"})
		a.Name = strings.TrimSpace(first + " " + last)
	}
	if len(textnorm.Tokens(a.Name)) == 0 {
		return Anchor{}, ErrNoCanonicalName
	}

	if d := textnorm.Digits(firstString(record, phoneKeys)); len(d) >= 4 {
		a.PhoneLast4 = d[len(d)-4:]
	}
	a.RecordRef = firstString(record, refKeys)
	return a, nil
}

func firstString(record map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := record[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case fmt.Stringer:
			return v.String()
		case float64:
			return fmt.Sprintf("%.0f", v)
		case int, int64:
			return fmt.Sprintf("%d", v)
		}
	}
	return ""
}
