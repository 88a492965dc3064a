// Package tesseract implements ocr.Engine with the gosseract binding.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"

	"pii-redactor/internal/geometry"
	"pii-redactor/internal/ocr"
)

// Engine recognizes words with Tesseract. A fresh client is created per call
// because gosseract clients are not safe for concurrent use.
type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// New returns an engine for the given Tesseract language codes ("eng" when
// none are given).
func New(languages ...string) *Engine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Engine{languages: languages, clientFactory: gosseract.NewClient}
}

// Recognize returns the page's words with their boxes. The page is treated
// as a single uniform block of text.
func (e *Engine) Recognize(ctx context.Context, img image.Image) ([]geometry.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}

	c := e.clientFactory()
	defer c.Close() //nolint:errcheck // best-effort release of the tesseract handle

	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if err := c.SetLanguage(e.languages...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return nil, fmt.Errorf("set page segmentation: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("recognize words: %w", err)
	}

	words := make([]ocr.Word, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, ocr.Word{Text: b.Word, Rect: b.Box, Confidence: b.Confidence})
	}
	return ocr.Tokens(words), nil
}
