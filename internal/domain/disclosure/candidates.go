package disclosure

import (
	"regexp"
	"strconv"

	"github.com/bryanwahyu/support-guardrail/internal/domain/textnorm"
)

// MaxTopOptions caps how many candidates a disambiguation summary lists.
const MaxTopOptions = 5

// Dimension names a way in which matching products differ.
type Dimension string

const (
	DimStorage Dimension = "storage"
	DimColor   Dimension = "color"
	DimModel   Dimension = "model"
	DimSize    Dimension = "size"
	DimCarrier Dimension = "carrier"
)

type dimensionRule struct {
	dim     Dimension
	pattern *regexp.Regexp
}

// Patterns run over folded names, so they only need ASCII forms.
var dimensionRules = []dimensionRule{
	{DimStorage, regexp.MustCompile(`\b\d{1,4}\s?(?:gb|tb)\b`)},
	{DimColor, regexp.MustCompile(`\b(?:siyah|beyaz|kirmizi|mavi|yesil|sari|gri|pembe|mor|lacivert|turuncu|altin|gumus|black|white|red|blue|green|yellow|gray|grey|pink|purple|navy|orange|gold|silver|midnight|starlight)\b`)},
	{DimModel, regexp.MustCompile(`\b(?:pro|max|plus|mini|ultra|lite|se|fe|air|neo)\b`)},
	{DimSize, regexp.MustCompile(`\b(?:xxs|xs|s|m|l|xl|xxl|xxxl|\d{2}(?:[.,]\d)?\s?(?:cm|mm|inc|inch|numara|beden))\b`)},
	{DimCarrier, regexp.MustCompile(`\b(?:turkcell|vodafone|turk telekom|unlocked|kilitsiz)\b`)},
}

// Option is one labelled entry of a disambiguation summary. It never carries
// stock counts.
type Option struct {
	Label       string `json:"label"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku,omitempty"`
}

// CandidateSummary describes an ambiguous multi-match result.
type CandidateSummary struct {
	Count      int         `json:"count"`
	Dimensions []Dimension `json:"dimensions"`
	TopOptions []Option    `json:"top_options"`
	Level      Level       `json:"_disclosureLevel"`
}

// ApplyDisclosureToCandidates summarises candidates for disambiguation:
// how many matched, which dimensions vary, and up to MaxTopOptions labels.
// No per-candidate stock numbers are included for any role.
func ApplyDisclosureToCandidates(candidates []StockRecord, opts Options) CandidateSummary {
	s := CandidateSummary{
		Count:      len(candidates),
		Dimensions: []Dimension{},
		TopOptions: []Option{},
		Level:      LevelCustomer,
	}
	if IsPrivileged(opts.UserRole) {
		s.Level = LevelFull
	}
	if len(candidates) == 0 {
		return s
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = textnorm.Fold(c.ProductName)
	}
	s.Dimensions = detectDimensions(names)
	if len(s.Dimensions) == 0 && len(candidates) > 1 {
		s.Dimensions = []Dimension{DimModel}
	}

	for i, c := range candidates {
		if i >= MaxTopOptions {
			break
		}
		s.TopOptions = append(s.TopOptions, Option{
			Label:       strconv.Itoa(i + 1),
			ProductName: c.ProductName,
			SKU:         c.SKU,
		})
	}
	return s
}

// detectDimensions returns the dimensions whose matched values differ
// between candidates. A dimension matched by some names but not others also
// counts as varying.
func detectDimensions(names []string) []Dimension {
	var out []Dimension
	if len(names) < 2 {
		return out
	}
	for _, rule := range dimensionRules {
		values := map[string]bool{}
		for _, n := range names {
			values[rule.pattern.FindString(n)] = true
		}
		if len(values) > 1 {
			out = append(out, rule.dim)
		}
	}
	return out
}
