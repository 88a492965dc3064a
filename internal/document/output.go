package document

import (
	"fmt"
	"os"
	"path/filepath"

	"pii-redactor/internal/ocr"
)

// PageFile names the PNG written for page index of document id.
func PageFile(id string, index int) string {
	return fmt.Sprintf("redacted_%s_p%d.png", id, index+1)
}

// WritePages stores every rendered page under dir and returns the file
// names in page order. Failed pages have no image and are skipped.
func (r *Result) WritePages(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	files := []string{}
	for _, p := range r.Pages {
		if p.Image == nil {
			continue
		}
		name := PageFile(r.ID, p.Index)
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		err = ocr.EncodePNG(f, p.Image)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", p.Index+1, err)
		}
		files = append(files, name)
	}
	return files, nil
}
