package ocr

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// blurSigma gives a Gaussian roughly the width of a 5x5 kernel.
const blurSigma = 1.0

// Binarize prepares a page for recognition: grayscale, Gaussian blur, then a
// global Otsu threshold. The result has the same bounds as img, so word
// boxes found on it apply to the source pixels unchanged.
func Binarize(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	if b.Empty() {
		return out
	}
	// imaging results are anchored at (0,0).
	blurred := imaging.Blur(imaging.Grayscale(img), blurSigma)
	t := OtsuThreshold(histogram(blurred))

	for y := 0; y < b.Dy(); y++ {
		row := blurred.Pix[y*blurred.Stride:]
		for x := 0; x < b.Dx(); x++ {
			if row[x*4] > t {
				out.SetGray(b.Min.X+x, b.Min.Y+y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

// histogram counts the red channel of a grayscale NRGBA image.
func histogram(g *image.NRGBA) [256]int {
	var h [256]int
	w, ht := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < ht; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < w; x++ {
			h[row[x*4]]++
		}
	}
	return h
}

// OtsuThreshold returns the gray level that maximizes between-class variance.
// Pixels above the threshold are foreground (white).
func OtsuThreshold(hist [256]int) uint8 {
	total := 0
	sumAll := 0.0
	for i, n := range hist {
		total += n
		sumAll += float64(i * n)
	}
	if total == 0 {
		return 0
	}

	var best uint8
	bestVar := -1.0
	weightB, sumB := 0, 0.0
	for t := 0; t < 256; t++ {
		weightB += hist[t]
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		meanB := sumB / float64(weightB)
		meanF := (sumAll - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) * (meanB - meanF) * (meanB - meanF)
		if between > bestVar {
			bestVar = between
			best = uint8(t)
		}
	}
	return best
}
