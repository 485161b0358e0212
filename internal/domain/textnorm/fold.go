// Package textnorm folds Turkish and English text into a comparable form.
// Folding is rune-for-rune so rune offsets in folded text line up with the
// original text.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// FoldRune lower-cases r with Turkish rules and strips its diacritic:
// "İ" and "I" both become "i", "Ş" becomes "s".
func FoldRune(r rune) rune {
	r = unicode.TurkishCase.ToLower(r)
	if r == 'ı' {
		return 'i'
	}
	if r < utf8.RuneSelf {
		return r
	}
	d := norm.NFD.String(string(r))
	base, _ := utf8.DecodeRuneInString(d)
	if base == utf8.RuneError {
		return r
	}
	return base
}

// Fold applies FoldRune to every rune of s. The result has the same rune
// count as s.
func Fold(s string) string {
	return strings.Map(FoldRune, s)
}

// FoldRunes folds s into a rune slice so callers can index by rune offset.
func FoldRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = FoldRune(r)
	}
	return rs
}

// Tokens folds s and splits it on anything that is not a letter or digit.
// Hyphens and apostrophes separate tokens: "Ayşe-Nur" yields ["ayse" "nur"].
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// IsWordRune reports whether r continues a word.
func IsWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
