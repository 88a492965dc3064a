// Package ocr turns uploaded files into page images, recognizes positioned
// words on them and paints redaction regions back onto the pixels.
//
// The recognizer itself sits behind Engine; the Tesseract binding lives in
// the tesseract subpackage so this package builds and tests without cgo.
package ocr

import (
	"context"
	"image"
	"strings"

	"pii-redactor/internal/geometry"
)

// Engine recognizes the words on one page image.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) ([]geometry.Token, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, img image.Image) ([]geometry.Token, error)

func (f EngineFunc) Recognize(ctx context.Context, img image.Image) ([]geometry.Token, error) {
	return f(ctx, img)
}

// Word is one recognizer result before normalization. Confidence is on the
// recognizer's 0..100 scale.
type Word struct {
	Text       string
	Rect       image.Rectangle
	Confidence float64
}

// Tokens normalizes recognizer words: whitespace-only words are dropped,
// surrounding whitespace trimmed, confidence scaled to 0..1. Boxes are passed
// through as reported; geometry.NewLayout rejects malformed ones.
func Tokens(words []Word) []geometry.Token {
	out := make([]geometry.Token, 0, len(words))
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		conf := w.Confidence / 100
		switch {
		case conf < 0:
			conf = 0
		case conf > 1:
			conf = 1
		}
		r := w.Rect
		out = append(out, geometry.Token{
			Text: text,
			Box: geometry.Box{
				Left:   r.Min.X,
				Top:    r.Min.Y,
				Width:  r.Dx(),
				Height: r.Dy(),
			},
			Confidence: conf,
		})
	}
	return out
}
