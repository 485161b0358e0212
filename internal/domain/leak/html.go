package leak

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	// Placeholder stands in for embedded media removed by StripHTML.
	Placeholder = "[…]"
	// MinStrippedRunes is the shortest stripped text still worth sending.
	MinStrippedRunes = 3
	// MaxPlaceholders caps media placeholders in stripped text.
	MaxPlaceholders = 3
)

var htmlTag = regexp.MustCompile(`<(?:[a-zA-Z][a-zA-Z0-9-]*|/[a-zA-Z][a-zA-Z0-9-]*|!--)[^>]*>`)

func looksLikeHTML(s string) bool { return htmlTag.MatchString(s) }

// StripHTML reduces markup to readable text. Script and style bodies are
// dropped and media elements become Placeholder. It returns ErrOverStripped
// when the result is empty, shorter than MinStrippedRunes, or carries more
// than MaxPlaceholders placeholders.
func StripHTML(s string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip, placeholders := 0, 0

loop:
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				break loop
			}
			return "", fmt.Errorf("%w: %v", ErrOverStripped, z.Err())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if tt == html.StartTagToken {
					skip++
				}
			case "img", "video", "audio", "iframe", "object", "embed", "svg", "canvas":
				b.WriteString(" " + Placeholder + " ")
				placeholders++
			case "br", "p", "div", "li", "tr", "td", "h1", "h2", "h3":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "tr", "td", "h1", "h2", "h3":
				b.WriteByte(' ')
			}
		}
	}

	out := strings.Join(strings.Fields(b.String()), " ")
	switch {
	case out == "":
		return "", fmt.Errorf("%w: empty", ErrOverStripped)
	case utf8.RuneCountInString(out) < MinStrippedRunes:
		return "", fmt.Errorf("%w: %d runes", ErrOverStripped, utf8.RuneCountInString(out))
	case placeholders > MaxPlaceholders:
		return "", fmt.Errorf("%w: %d placeholders", ErrOverStripped, placeholders)
	}
	return out, nil
}
