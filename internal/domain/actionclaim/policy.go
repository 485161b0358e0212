package actionclaim

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bryanwahyu/support-guardrail/internal/domain/messages"
)

// ErrEmptyCorrection is returned by correctors that produced no text.
var ErrEmptyCorrection = errors.New("actionclaim: empty correction")

// ErrCorrectorQuota is returned by correctors whose provider rejected the
// call for rate or quota limits.
var ErrCorrectorQuota = errors.New("actionclaim: corrector quota exceeded")

// DefaultCorrectionTimeout bounds the corrective re-prompt when no timeout
// is configured.
const DefaultCorrectionTimeout = 3 * time.Second

// Block types reported in response metadata.
const (
	BlockToolFailed    = "tool_failed"
	BlockToolNotCalled = "tool_not_called"
)

// CorrectionRequest is one corrective re-prompt.
type CorrectionRequest struct {
	Text        string
	Instruction string
	Language    messages.Language
}

// Corrector rewrites a reply that overstates what was done.
type Corrector interface {
	Correct(ctx context.Context, req CorrectionRequest) (string, error)
}

// CorrectorFunc adapts a function to Corrector.
type CorrectorFunc func(ctx context.Context, req CorrectionRequest) (string, error)

// Correct calls f.
func (f CorrectorFunc) Correct(ctx context.Context, req CorrectionRequest) (string, error) {
	return f(ctx, req)
}

// Result of enforcing the policy over one reply.
type Result struct {
	Text      string `json:"text"`
	Blocked   bool   `json:"actionClaimBlocked,omitempty"`
	BlockType string `json:"blockType,omitempty"`
	Corrected bool   `json:"actionClaimCorrected,omitempty"`
	Kind      Kind   `json:"kind,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// Policy enforces action claims in two layers: a hard block when the
// responsible tool failed or never ran, then an optional one-shot correction
// when the reply overstates a successful action.
type Policy struct {
	Catalog           *messages.Catalog
	Corrector         Corrector
	CorrectionEnabled bool
	CorrectionTimeout time.Duration
	// Accept vets corrected text, e.g. by re-running the leak filter.
	// Rejected corrections fall back to the original text.
	Accept func(text string) bool
	Logger *slog.Logger
}

func (p *Policy) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Policy) catalog() *messages.Catalog {
	if p.Catalog == nil {
		return messages.Default()
	}
	return p.Catalog
}

// Enforce checks text against what the turn's action tools did.
func (p *Policy) Enforce(ctx context.Context, text string, execs []Execution, lang messages.Language) Result {
	claims := DetectClaims(text)
	if len(claims) == 0 {
		return Result{Text: text}
	}

	if c, blockType, ok := hardBlock(claims, execs); ok {
		p.logger().Error("action claim blocked",
			"severity", "CRITICAL",
			"kind", c.Kind,
			"block_type", blockType,
			"claim", c.Text,
		)
		key := messages.KeyActionClaimToolFailed
		if blockType == BlockToolNotCalled {
			key = messages.KeyActionClaimToolNotCalled
		}
		return Result{
			Text:      p.catalog().Scenario(lang, key, string(c.Kind)),
			Blocked:   true,
			BlockType: blockType,
			Kind:      c.Kind,
		}
	}

	if !p.CorrectionEnabled || p.Corrector == nil {
		return Result{Text: text}
	}
	c, ex, ok := overstated(claims, execs)
	if !ok {
		return Result{Text: text}
	}
	return p.correct(ctx, text, c, ex, lang)
}

func (p *Policy) correct(ctx context.Context, text string, c Claim, ex Execution, lang messages.Language) Result {
	timeout := p.CorrectionTimeout
	if timeout <= 0 {
		timeout = DefaultCorrectionTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	instruction := p.catalog().Render(lang, messages.KeyActionClaimCorrectionHint, map[string]string{
		"action": string(ex.Kind),
		"status": string(ex.effectiveStatus()),
	})
	corrected, err := p.Corrector.Correct(cctx, CorrectionRequest{Text: text, Instruction: instruction, Language: lang})
	if err == nil && strings.TrimSpace(corrected) == "" {
		err = ErrEmptyCorrection
	}
	if errors.Is(err, ErrCorrectorQuota) {
		p.logger().Warn("action claim corrector over quota, keeping original", "kind", c.Kind)
		return Result{Text: text, Kind: c.Kind, Warning: "correction_quota"}
	}
	if err != nil {
		p.logger().Warn("action claim correction failed, keeping original", "kind", c.Kind, "error", err)
		return Result{Text: text, Kind: c.Kind, Warning: "correction_failed"}
	}

	again := DetectClaims(corrected)
	if _, _, blocked := hardBlock(again, []Execution{ex}); blocked {
		p.logger().Warn("action claim correction introduced an unbacked claim, keeping original", "kind", c.Kind)
		return Result{Text: text, Kind: c.Kind, Warning: "correction_rejected"}
	}
	if p.Accept != nil && !p.Accept(corrected) {
		p.logger().Warn("action claim correction rejected by filter, keeping original", "kind", c.Kind)
		return Result{Text: text, Kind: c.Kind, Warning: "correction_rejected"}
	}
	return Result{Text: corrected, Corrected: true, Kind: c.Kind}
}

// hardBlock finds a claim whose tool failed or never ran.
func hardBlock(claims []Claim, execs []Execution) (Claim, string, bool) {
	for _, c := range claims {
		ex, ok := lookup(execs, c.Kind)
		switch {
		case !ok || !ex.Attempted:
			return c, BlockToolNotCalled, true
		case !ex.Succeeded:
			return c, BlockToolFailed, true
		}
	}
	return Claim{}, "", false
}

// overstated finds a claim stronger than what its successful tool reported.
func overstated(claims []Claim, execs []Execution) (Claim, Execution, bool) {
	for _, c := range claims {
		ex, ok := lookup(execs, c.Kind)
		if ok && ex.Succeeded && c.Strength.rank() > ex.effectiveStatus().rank() {
			return c, ex, true
		}
	}
	return Claim{}, Execution{}, false
}

// lookup prefers a successful execution of kind over a failed one.
func lookup(execs []Execution, kind Kind) (Execution, bool) {
	var found Execution
	ok := false
	for _, e := range execs {
		if e.Kind != kind {
			continue
		}
		if !ok || (e.Succeeded && !found.Succeeded) {
			found, ok = e, true
		}
	}
	return found, ok
}
