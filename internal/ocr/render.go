package ocr

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"pii-redactor/internal/geometry"
)

// RedactionColor fills every region.
var RedactionColor = color.Black

// Render returns a copy of img with each region filled solid. Regions are
// clipped to the image bounds.
func Render(img image.Image, regions []geometry.Region) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Copy(out, b.Min, img, b, draw.Src, nil)

	fill := image.NewUniform(RedactionColor)
	for _, r := range regions {
		rect := r.Rect().Intersect(b)
		if rect.Empty() {
			continue
		}
		draw.Draw(out, rect, fill, image.Point{}, draw.Src)
	}
	return out
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}
