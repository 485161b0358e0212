// Package messages resolves every user-facing string through one TR/EN
// catalog keyed by outcome and scenario.
package messages

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Language is one of the two supported locales.
type Language string

const (
	TR Language = "tr"
	EN Language = "en"
)

// ParseLanguage maps a locale tag to a supported language. Anything that is
// not English resolves to Turkish.
func ParseLanguage(s string) Language {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "en" || strings.HasPrefix(s, "en-") || strings.HasPrefix(s, "en_") {
		return EN
	}
	return TR
}

// Key identifies a catalog entry.
type Key string

const (
	KeyFallback                  Key = "generic.fallback"
	KeyVerificationFailed        Key = "verification.failed"
	KeyVerificationLocked        Key = "verification.locked"
	KeyVerificationVerified      Key = "verification.verified"
	KeyLeakBlocked               Key = "leak.blocked"
	KeyLeakTopicRequiresVerify   Key = "leak.topic_requires_verification"
	KeyLeakUnreadable            Key = "leak.unreadable"
	KeyGroundingUnverified       Key = "grounding.unverified_claim"
	KeyActionClaimToolFailed     Key = "actionclaim.tool_failed"
	KeyActionClaimToolNotCalled  Key = "actionclaim.tool_not_called"
	KeyActionClaimCorrectionHint Key = "actionclaim.correction_instruction"
	KeyCrossTenant               Key = "tenant.cross_tenant"
)

// VerificationRequestKey returns the prompt key for the configured proof.
func VerificationRequestKey(askFor string) Key {
	return Key("verification.request." + askFor)
}

type catalogFile struct {
	Messages map[string]map[Language]string `yaml:"messages"`
}

// Catalog is read-only after construction and safe for concurrent use.
type Catalog struct {
	entries  map[Key]map[Language]string
	fallback Language
}

// Load parses a catalog document. Every entry must define both languages.
func Load(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("messages: parse catalog: %w", err)
	}
	c := &Catalog{entries: make(map[Key]map[Language]string, len(f.Messages)), fallback: TR}
	for k, v := range f.Messages {
		if strings.TrimSpace(v[TR]) == "" || strings.TrimSpace(v[EN]) == "" {
			return nil, fmt.Errorf("messages: key %q must define tr and en", k)
		}
		c.entries[Key(k)] = v
	}
	if _, ok := c.entries[KeyFallback]; !ok {
		return nil, fmt.Errorf("messages: catalog lacks %q", KeyFallback)
	}
	return c, nil
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded catalog, parsed once. It panics if the
// embedded file is broken, which a test guards against.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(catalogYAML)
		if err != nil {
			panic(err)
		}
		defaultCat = c
	})
	return defaultCat
}

// Has reports whether key exists.
func (c *Catalog) Has(key Key) bool {
	_, ok := c.entries[key]
	return ok
}

// Get resolves key in lang. It never returns an empty string: unknown keys
// resolve to the generic fallback message.
func (c *Catalog) Get(lang Language, key Key) string {
	if e, ok := c.entries[key]; ok {
		if s := e[lang]; s != "" {
			return s
		}
		return e[c.fallback]
	}
	e := c.entries[KeyFallback]
	if s := e[lang]; s != "" {
		return s
	}
	return e[c.fallback]
}

// Scenario resolves "<base>.<scenario>" and falls back to base.
func (c *Catalog) Scenario(lang Language, base Key, scenario string) string {
	if scenario != "" {
		if k := Key(string(base) + "." + scenario); c.Has(k) {
			return c.Get(lang, k)
		}
	}
	return c.Get(lang, base)
}

// ForOutcome returns the message for an outcome, refined by scenario when the
// catalog has a specific entry for it.
func (c *Catalog) ForOutcome(lang Language, o outcome.Outcome, scenario string) string {
	return c.Scenario(lang, Key("outcome."+strings.ToLower(string(o))), scenario)
}

// Render resolves key and substitutes {{name}} placeholders.
func (c *Catalog) Render(lang Language, key Key, vars map[string]string) string {
	s := c.Get(lang, key)
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}
