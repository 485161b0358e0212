package leak

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/support-guardrail/internal/domain/textnorm"
)

//go:embed topics.yaml
var topicsYAML []byte

type topicFile struct {
	Window int `yaml:"window"`
	Rules  []struct {
		Name           string      `yaml:"name"`
		Type           Type        `yaml:"type"`
		Trigger        TriggerType `yaml:"trigger"`
		SelfContextual bool        `yaml:"selfContextual"`
		Candidates     []string    `yaml:"candidates"`
		Patterns       []string    `yaml:"patterns"`
		Context        []string    `yaml:"context"`
	} `yaml:"rules"`
}

type candToken struct {
	text   string
	prefix bool
}

type topicRule struct {
	name       string
	typ        Type
	trigger    TriggerType
	self       bool
	candidates [][]candToken
	patterns   []*regexp.Regexp
	context    []string
}

type compiledTopics struct {
	window int
	rules  []topicRule
}

func loadTopics(data []byte) (compiledTopics, error) {
	var tf topicFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return compiledTopics{}, fmt.Errorf("leak: parse topic rules: %w", err)
	}
	out := compiledTopics{window: tf.Window}
	for _, r := range tf.Rules {
		tr := topicRule{name: r.Name, typ: r.Type, trigger: r.Trigger, self: r.SelfContextual}
		for _, c := range r.Candidates {
			prefix := strings.HasSuffix(c, "*")
			toks := textnorm.Tokens(strings.TrimSuffix(c, "*"))
			if len(toks) == 0 {
				return compiledTopics{}, fmt.Errorf("leak: rule %s: empty candidate", r.Name)
			}
			if tr.self && len(toks) < 2 {
				return compiledTopics{}, fmt.Errorf("leak: rule %s: self-contextual candidate %q needs two tokens", r.Name, c)
			}
			seq := make([]candToken, len(toks))
			for i, t := range toks {
				seq[i] = candToken{text: t}
			}
			seq[len(seq)-1].prefix = prefix
			tr.candidates = append(tr.candidates, seq)
		}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return compiledTopics{}, fmt.Errorf("leak: rule %s: %w", r.Name, err)
			}
			tr.patterns = append(tr.patterns, re)
		}
		for _, k := range r.Context {
			tr.context = append(tr.context, textnorm.Fold(k))
		}
		if !tr.self && len(tr.context) == 0 {
			return compiledTopics{}, fmt.Errorf("leak: rule %s: context keywords required", r.Name)
		}
		out.rules = append(out.rules, tr)
	}
	return out, nil
}

// token is a word in folded text with rune offsets [start, end).
type token struct {
	text       string
	start, end int
}

func tokenize(folded []rune) []token {
	var toks []token
	start := -1
	for i, r := range folded {
		if textnorm.IsWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			toks = append(toks, token{text: string(folded[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		toks = append(toks, token{text: string(folded[start:]), start: start, end: len(folded)})
	}
	return toks
}

type candidateHit struct {
	start, end int
	token      string
}

func (r topicRule) findCandidates(folded []rune, toks []token) []candidateHit {
	var hits []candidateHit
	for _, seq := range r.candidates {
		for i := 0; i+len(seq) <= len(toks); i++ {
			if matchSeq(seq, toks[i:i+len(seq)]) {
				first, last := toks[i], toks[i+len(seq)-1]
				hits = append(hits, candidateHit{start: first.start, end: last.end, token: string(folded[first.start:last.end])})
			}
		}
	}
	if len(r.patterns) > 0 {
		s := string(folded)
		offsets := runeOffsets(s)
		for _, re := range r.patterns {
			for _, loc := range re.FindAllStringIndex(s, -1) {
				hits = append(hits, candidateHit{start: offsets[loc[0]], end: offsets[loc[1]], token: s[loc[0]:loc[1]]})
			}
		}
	}
	return hits
}

func matchSeq(seq []candToken, toks []token) bool {
	for j, ct := range seq {
		if ct.prefix {
			if !strings.HasPrefix(toks[j].text, ct.text) {
				return false
			}
		} else if toks[j].text != ct.text {
			return false
		}
	}
	return true
}

// runeOffsets maps every byte offset of s (plus len(s)) to a rune offset.
func runeOffsets(s string) map[int]int {
	m := make(map[int]int, len(s)+1)
	n := 0
	for i := range s {
		m[i] = n
		n++
	}
	m[len(s)] = n
	return m
}

// nearestContext returns the closest context keyword hit within window runes
// of the candidate, ignoring tokens inside the candidate.
func (r topicRule) nearestContext(toks []token, c candidateHit, window int) string {
	best, bestDist := "", -1
	for _, t := range toks {
		if t.end > c.start && t.start < c.end {
			continue
		}
		var dist int
		if t.end <= c.start {
			dist = c.start - t.end
		} else {
			dist = t.start - c.end
		}
		if dist > window {
			continue
		}
		for _, kw := range r.context {
			if strings.HasPrefix(t.text, kw) && (bestDist < 0 || dist < bestDist) {
				best, bestDist = t.text, dist
			}
		}
	}
	return best
}

// detectTopics reports candidate tokens corroborated by a context keyword.
func (f *Filter) detectTopics(text string, lc Context) []Finding {
	orig := []rune(text)
	folded := textnorm.FoldRunes(text)
	toks := tokenize(folded)

	var out []Finding
	seen := map[[2]int]bool{}
	for _, r := range f.rules {
		for _, c := range r.findCandidates(folded, toks) {
			value := string(orig[c.start:c.end])
			if lc.isKnownSafe(value) {
				continue
			}
			hit := c.token
			if !r.self {
				hit = r.nearestContext(toks, c, f.window)
				if hit == "" {
					continue
				}
			}
			key := [2]int{c.start, c.end}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Finding{
				Type:           r.typ,
				Severity:       SeverityHigh,
				Value:          value,
				TriggerType:    r.trigger,
				CandidateToken: c.token,
				ContextHit:     hit,
				Start:          c.start,
				End:            c.end,
			})
		}
	}
	return out
}
