// Package geometry maps text-space entity spans onto OCR word boxes.
//
// A page's recognized words are laid end to end with one space between
// consecutive words. That joined string is the buffer handed to detection,
// so entity offsets and token offsets always agree.
package geometry

import (
	"fmt"
	"sort"
	"strings"

	"pii-redactor/internal/pii"
)

// Separator joins consecutive tokens in the layout text.
const Separator = " "

// Box is a pixel rectangle given by its top-left corner and size.
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Right is the exclusive right edge.
func (b Box) Right() int { return b.Left + b.Width }

// Bottom is the exclusive bottom edge.
func (b Box) Bottom() int { return b.Top + b.Height }

// Token is one recognized word.
type Token struct {
	Text       string  `json:"text"`
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"` // 0..1
}

// span records where a kept token sits in the layout text.
type span struct {
	token int // index into Layout.tokens
	start int
	end   int
}

// Layout is the character-offset table for one page.
type Layout struct {
	tokens []Token
	spans  []span
	text   string
}

// NewLayout drops tokens below minConfidence, validates the rest and lays them
// out. A malformed token fails the whole page with pii.ErrInvalidToken.
func NewLayout(tokens []Token, minConfidence float64) (*Layout, error) {
	l := &Layout{}
	var b strings.Builder
	for i, t := range tokens {
		if t.Confidence < minConfidence {
			continue
		}
		if err := validate(t); err != nil {
			return nil, fmt.Errorf("%w: token %d: %v", pii.ErrInvalidToken, i, err)
		}
		if len(l.tokens) > 0 {
			b.WriteString(Separator)
		}
		start := b.Len()
		b.WriteString(t.Text)
		l.spans = append(l.spans, span{token: len(l.tokens), start: start, end: b.Len()})
		l.tokens = append(l.tokens, t)
	}
	l.text = b.String()
	return l, nil
}

func validate(t Token) error {
	switch {
	case t.Text == "":
		return fmt.Errorf("empty text")
	case t.Box.Width < 0 || t.Box.Height < 0:
		return fmt.Errorf("negative size %dx%d", t.Box.Width, t.Box.Height)
	case t.Box.Left < 0 || t.Box.Top < 0:
		return fmt.Errorf("negative origin (%d,%d)", t.Box.Left, t.Box.Top)
	}
	return nil
}

// Text is the detection buffer for this page.
func (l *Layout) Text() string { return l.text }

// Len is the number of tokens that survived the confidence filter.
func (l *Layout) Len() int { return len(l.tokens) }

// Tokens returns the kept tokens in layout order.
func (l *Layout) Tokens() []Token {
	out := make([]Token, len(l.tokens))
	copy(out, l.tokens)
	return out
}

// overlapping returns the kept token indexes whose span intersects
// [start, end).
func (l *Layout) overlapping(start, end int) []int {
	// First token whose end lies past start.
	i := sort.Search(len(l.spans), func(i int) bool { return l.spans[i].end > start })
	var out []int
	for ; i < len(l.spans) && l.spans[i].start < end; i++ {
		out = append(out, l.spans[i].token)
	}
	return out
}
