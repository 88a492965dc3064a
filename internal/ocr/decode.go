package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"pii-redactor/internal/pii"
)

var pdfMagic = []byte("%PDF")

// IsPDF reports whether data starts with the PDF signature.
func IsPDF(data []byte) bool { return bytes.HasPrefix(data, pdfMagic) }

// Rasterizer renders every page of a PDF to an image.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([]image.Image, error)
}

// DecodePages returns the page images of an upload: one per PDF page, or the
// single decoded image. Anything else is pii.ErrUnsupportedInput. A nil
// rasterizer makes PDFs unsupported.
func DecodePages(ctx context.Context, data []byte, r Rasterizer) ([]image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty file", pii.ErrUnsupportedInput)
	}
	if IsPDF(data) {
		if r == nil {
			return nil, "pdf", fmt.Errorf("%w: no PDF rasterizer configured", pii.ErrUnsupportedInput)
		}
		pages, err := r.Rasterize(ctx, data)
		if err != nil {
			return nil, "pdf", fmt.Errorf("%w: rasterize pdf: %v", pii.ErrUnsupportedInput, err)
		}
		if len(pages) == 0 {
			return nil, "pdf", fmt.Errorf("%w: pdf has no pages", pii.ErrUnsupportedInput)
		}
		return pages, "pdf", nil
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", pii.ErrUnsupportedInput, err)
	}
	return []image.Image{img}, format, nil
}

// Poppler rasterizes with the pdftoppm command-line tool.
type Poppler struct {
	Binary string // default "pdftoppm"
	DPI    int    // default 200
}

// Rasterize writes the PDF to a temporary directory, runs pdftoppm over it
// and decodes the resulting PNGs in page order.
func (p Poppler) Rasterize(ctx context.Context, pdf []byte) ([]image.Image, error) {
	bin := p.Binary
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = 200
	}

	dir, err := os.MkdirTemp("", "redactor-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir) //nolint:errcheck // best-effort temp cleanup

	in := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, bin, "-png", "-r", strconv.Itoa(dpi), in, prefix) // #nosec G204 -- binary from trusted config
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", bin, err, bytes.TrimSpace(out))
	}

	files, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	sortPageFiles(files)
	pages := make([]image.Image, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(f), err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}

// sortPageFiles orders pdftoppm outputs (page-1.png, page-2.png, ... or
// zero-padded page-01.png) by page number.
func sortPageFiles(files []string) {
	num := func(f string) int {
		base := filepath.Base(f)
		var n int
		for i := len("page-"); i < len(base) && base[i] >= '0' && base[i] <= '9'; i++ {
			n = n*10 + int(base[i]-'0')
		}
		return n
	}
	sort.SliceStable(files, func(i, j int) bool { return num(files[i]) < num(files[j]) })
}
