// Package leak scans reply text for personal data, internal dumps and
// shipping-topic disclosures before it reaches a user.
//
// Two tracks run on every call. PII is always masked, whatever the
// verification status. Carrier, delivery and tracking mentions are only
// findings when a candidate token and a context keyword for the same topic
// occur within the configured window of each other.
package leak

import (
	"errors"
	"unicode/utf8"

	"github.com/bryanwahyu/support-guardrail/internal/domain/messages"
	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
)

// ErrOverStripped is returned when HTML stripping leaves nothing readable.
var ErrOverStripped = errors.New("leak: html stripping left no readable text")

const (
	// DefaultWindow is the context window in runes on each side of a
	// candidate token.
	DefaultWindow = 80
	// MaxInputRunes bounds the text the filter accepts.
	MaxInputRunes = 8000
)

// Type names what a finding leaked.
type Type string

const (
	TypePhone      Type = "phone"
	TypeEmail      Type = "email"
	TypeTCNo       Type = "tcNo"
	TypeVKN        Type = "vkn"
	TypeCreditCard Type = "creditCard"
	TypeAddress    Type = "address"
	TypeJWT        Type = "jwt"
	TypeAPIKey     Type = "apiKey"
	TypeShipping   Type = "shipping"
	TypeDelivery   Type = "delivery"
	TypeTracking   Type = "tracking"
	TypeDump       Type = "dump"
	TypeMarkup     Type = "markup"
)

// Severity of a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
)

// TriggerType records which signal pair produced a topic finding.
type TriggerType string

const (
	TriggerCarrierContext  TriggerType = "carrier_context"
	TriggerDeliveryContext TriggerType = "delivery_context"
	TriggerShippingSelf    TriggerType = "shipping_self_contextual"
	TriggerTracking        TriggerType = "tracking"
)

// Reasons reported in Result.Reason.
const (
	ReasonMalformedInput = "malformed_input"
	ReasonSecret         = "secret_detected"
	ReasonDump           = "dump_detected"
	ReasonOverStripped   = "over_stripped"
	ReasonTopic          = "topic_requires_verification"
	ReasonPIIMasked      = "pii_masked"
	ReasonHTMLStripped   = "html_stripped"
)

// Finding is one detected leak. For PII types Value holds the masked
// rendering, never the raw value. Start and End are rune offsets.
type Finding struct {
	Type           Type        `json:"type"`
	Severity       Severity    `json:"severity"`
	Value          string      `json:"value"`
	TriggerType    TriggerType `json:"triggerType,omitempty"`
	CandidateToken string      `json:"candidateToken,omitempty"`
	ContextHit     string      `json:"contextHit,omitempty"`
	Start          int         `json:"-"`
	End            int         `json:"-"`
}

// Result of one filter pass. Text is always safe to emit: the masked reply
// on PASS or SANITIZE, a catalog message on BLOCK.
type Result struct {
	Action     outcome.GuardrailAction `json:"action"`
	Reason     string                  `json:"reason,omitempty"`
	Leaks      []Finding               `json:"leaks"`
	Suppressed []Finding               `json:"suppressed,omitempty"`
	Text       string                  `json:"text"`
}

// Context carries per-call allowances.
type Context struct {
	// KnownSafe lists values the user supplied or owns, such as the order
	// number they typed. Matching values are never flagged.
	KnownSafe []string
}

// Filter is immutable after construction and safe for concurrent use.
type Filter struct {
	window  int
	rules   []topicRule
	catalog *messages.Catalog
}

// Option configures a Filter.
type Option func(*Filter)

// WithWindow overrides the context window. Non-positive values are ignored.
func WithWindow(n int) Option {
	return func(f *Filter) {
		if n > 0 {
			f.window = n
		}
	}
}

// WithCatalog sets the catalog used for block messages.
func WithCatalog(c *messages.Catalog) Option {
	return func(f *Filter) {
		if c != nil {
			f.catalog = c
		}
	}
}

// NewFilter builds a filter from the embedded topic rules.
func NewFilter(opts ...Option) (*Filter, error) {
	tf, err := loadTopics(topicsYAML)
	if err != nil {
		return nil, err
	}
	f := &Filter{window: tf.window, rules: tf.rules}
	if f.window <= 0 {
		f.window = DefaultWindow
	}
	for _, o := range opts {
		o(f)
	}
	if f.catalog == nil {
		f.catalog = messages.Default()
	}
	return f, nil
}

// Window returns the configured context window in runes.
func (f *Filter) Window() int { return f.window }

// Apply runs both detection tracks over text.
func (f *Filter) Apply(text string, status outcome.VerificationStatus, lang messages.Language, lc Context) Result {
	if !utf8.ValidString(text) || utf8.RuneCountInString(text) > MaxInputRunes {
		return f.block(lang, ReasonMalformedInput, messages.KeyLeakUnreadable, nil)
	}

	if fs := scanSecrets(text); len(fs) > 0 {
		return f.block(lang, ReasonSecret, messages.KeyLeakBlocked, fs)
	}
	if fs := scanDumps(text); len(fs) > 0 {
		return f.block(lang, ReasonDump, messages.KeyLeakBlocked, fs)
	}

	work, stripped := text, false
	if looksLikeHTML(text) {
		s, err := StripHTML(text)
		if err != nil {
			return f.block(lang, ReasonOverStripped, messages.KeyLeakUnreadable, nil)
		}
		work, stripped = s, s != text
	}

	masked, pii := maskPII(work, lang, lc)
	res := Result{Action: outcome.ActionPass, Text: masked, Leaks: pii}

	if topics := f.detectTopics(masked, lc); len(topics) > 0 {
		if status == outcome.StatusVerified {
			res.Suppressed = topics
		} else {
			return f.block(lang, ReasonTopic, messages.KeyLeakTopicRequiresVerify, append(pii, topics...))
		}
	}

	switch {
	case len(pii) > 0:
		res.Action, res.Reason = outcome.ActionSanitize, ReasonPIIMasked
	case stripped:
		res.Action, res.Reason = outcome.ActionSanitize, ReasonHTMLStripped
	}
	if res.Leaks == nil {
		res.Leaks = []Finding{}
	}
	return res
}

func (f *Filter) block(lang messages.Language, reason string, key messages.Key, fs []Finding) Result {
	if fs == nil {
		fs = []Finding{}
	}
	return Result{
		Action: outcome.ActionBlock,
		Reason: reason,
		Leaks:  fs,
		Text:   f.catalog.Get(lang, key),
	}
}
