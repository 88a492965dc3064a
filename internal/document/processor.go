// Package document runs the upload path: OCR every page, detect PII over the
// recognized text, reconcile and filter it, then redact both the text and
// the page pixels.
//
// Pages are recognized and scanned in parallel. Their results are drained
// through one channel into a single accumulating pass, in page order, which
// owns the document-wide (type, text) deduplication.
package document

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"pii-redactor/internal/detector"
	"pii-redactor/internal/geometry"
	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
	"pii-redactor/internal/ocr"
	"pii-redactor/internal/pii"
)

// Options tunes a Processor.
type Options struct {
	Workers       int     // concurrent pages, default 4
	MinConfidence float64 // OCR token acceptance threshold (0..1)
	Placeholder   string  // default pii.DefaultPlaceholder
	// Propagate searches every page for values detected on any page.
	Propagate bool
	// Binarize runs ocr.Binarize before recognition.
	Binarize bool
}

// Processor is safe for concurrent use; each Process call is independent.
type Processor struct {
	engine   ocr.Engine
	pipeline *detector.Pipeline
	opts     Options
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewProcessor wires a processor. m may be nil.
func NewProcessor(engine ocr.Engine, pipeline *detector.Pipeline, opts Options, m *metrics.Metrics, log *logger.Logger) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Placeholder == "" {
		opts.Placeholder = pii.DefaultPlaceholder
	}
	return &Processor{engine: engine, pipeline: pipeline, opts: opts, metrics: m, log: log}
}

// PageResult is the outcome for one page. Err is set when the page could not
// be recognized or laid out; such a page has no text and no image.
type PageResult struct {
	Index        int               `json:"page"`
	Text         string            `json:"-"`
	RedactedText string            `json:"-"`
	Entities     pii.List          `json:"-"`
	Regions      []geometry.Region `json:"regions"`
	Unprojected  []int             `json:"unprojected"`
	Image        *image.RGBA       `json:"-"`
	Err          error             `json:"-"`
	Error        string            `json:"error,omitempty"`
}

// Failed reports whether the page was excluded.
func (p PageResult) Failed() bool { return p.Err != nil }

// Result is the document-level outcome. It is returned even when some pages
// failed; those pages carry their error.
type Result struct {
	ID           string       `json:"id"`
	Tier         pii.Tier     `json:"tier"`
	FullText     string       `json:"text"`
	RedactedText string       `json:"redacted_text"`
	Entities     pii.List     `json:"entities"` // one per distinct value; offsets index FullText
	Pages        []PageResult `json:"pages"`
	Degraded     bool         `json:"degraded"`
}

// FailedPages lists the indexes of failed pages.
func (r *Result) FailedPages() []int {
	var out []int
	for _, p := range r.Pages {
		if p.Failed() {
			out = append(out, p.Index)
		}
	}
	return out
}

// pageScan is one worker's output.
type pageScan struct {
	index    int
	layout   *geometry.Layout
	entities pii.List // reconciled, unfiltered
	semErr   error
	err      error
}

// Process redacts every page at the given tier.
func (p *Processor) Process(ctx context.Context, pages []image.Image, tier pii.Tier) *Result {
	res := &Result{
		ID:       uuid.NewString(),
		Tier:     tier,
		Entities: pii.List{},
		Pages:    make([]PageResult, len(pages)),
	}
	log := p.log.With("doc", res.ID)
	log.Infof("process_start", "pages=%d tier=%s", len(pages), tier)

	scans := p.scanPages(ctx, pages)

	// Single accumulating pass, page order.
	acc := pii.NewAccumulator()
	for i := range scans {
		s := &scans[i]
		if s.err != nil {
			continue
		}
		for j := range s.entities {
			s.entities[j].Page = s.index
		}
		acc.Add(s.entities)
		if s.semErr != nil {
			res.Degraded = true
		}
	}
	seen := acc.List()

	texts := make([]string, 0, len(pages))
	redacted := make([]string, 0, len(pages))
	offsets := make(map[int]int, len(pages)) // page index -> start of its text in FullText
	pos := 0
	for i, s := range scans {
		pr := &res.Pages[i]
		pr.Index = s.index
		if s.err != nil {
			pr.Err = s.err
			pr.Error = s.err.Error()
			pr.Regions = []geometry.Region{}
			pr.Unprojected = []int{}
			log.Warnf("page_failed", "page=%d: %v", s.index, s.err)
			if p.metrics != nil {
				p.metrics.PagesFailed.Add(1)
			}
			continue
		}

		list := s.entities
		if p.opts.Propagate {
			list = pii.Reconcile(p.pipeline.Registry().Rank, list, propagate(s.layout.Text(), s.index, seen))
		}
		kept := pii.Filter(list, p.pipeline.Registry().Tiers(), tier)

		text := s.layout.Text()
		out, err := pii.Redact(text, kept, p.opts.Placeholder)
		if err != nil {
			// Reconcile output never overlaps; reaching this is a bug.
			pr.Err = err
			pr.Error = err.Error()
			log.Errorf("page_redact", "page=%d: %v", s.index, err)
			continue
		}
		proj := s.layout.Project(kept)

		pr.Text = text
		pr.RedactedText = out
		pr.Entities = kept
		pr.Regions = proj.Regions
		pr.Unprojected = proj.Unprojected
		pr.Image = ocr.Render(pages[s.index], proj.Regions)

		if len(texts) > 0 {
			pos++ // page separator
		}
		offsets[s.index] = pos
		pos += len(text)
		texts = append(texts, text)
		redacted = append(redacted, out)

		if len(proj.Unprojected) > 0 {
			log.Warnf("unprojected", "page=%d entities=%v touched no OCR token", s.index, proj.Unprojected)
		}
		if p.metrics != nil {
			p.metrics.PagesProcessed.Add(1)
			p.metrics.RegionsDrawn.Add(int64(len(proj.Regions)))
			p.metrics.Unprojected.Add(int64(len(proj.Unprojected)))
			for typ, n := range kept.CountByType() {
				p.metrics.RecordRedacted(string(typ), n)
			}
		}
	}

	res.FullText = strings.Join(texts, "\n")
	res.RedactedText = strings.Join(redacted, "\n")
	res.Entities = inFullText(pii.Filter(seen, p.pipeline.Registry().Tiers(), tier), offsets)

	if p.metrics != nil {
		p.metrics.DocumentsProcessed.Add(1)
		if res.Degraded {
			p.metrics.DocumentsDegraded.Add(1)
		}
	}
	log.Infof("process_done", "entities=%d failed_pages=%v degraded=%v", len(res.Entities), res.FailedPages(), res.Degraded)
	return res
}

// scanPages runs OCR and detection on a bounded pool and returns the scans
// indexed by page.
func (p *Processor) scanPages(ctx context.Context, pages []image.Image) []pageScan {
	results := make(chan pageScan)
	sem := make(chan struct{}, p.opts.Workers)
	var wg sync.WaitGroup

	for i, img := range pages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- pageScan{index: i, err: ctx.Err()}
				return
			}
			results <- p.scanPage(ctx, i, img)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	scans := make([]pageScan, len(pages))
	for s := range results {
		scans[s.index] = s
	}
	return scans
}

func (p *Processor) scanPage(ctx context.Context, index int, img image.Image) pageScan {
	s := pageScan{index: index}
	if err := ctx.Err(); err != nil {
		s.err = err
		return s
	}
	if img == nil {
		s.err = fmt.Errorf("%w: page %d has no image", pii.ErrUnsupportedInput, index)
		return s
	}

	src := img
	if p.opts.Binarize {
		src = ocr.Binarize(img)
	}
	start := time.Now()
	tokens, err := p.engine.Recognize(ctx, src)
	if p.metrics != nil {
		p.metrics.RecordOCR(time.Since(start))
	}
	if err != nil {
		s.err = fmt.Errorf("recognize page %d: %w", index, err)
		return s
	}
	s.layout, err = geometry.NewLayout(tokens, p.opts.MinConfidence)
	if err != nil {
		s.err = fmt.Errorf("page %d: %w", index, err)
		return s
	}

	s.entities, err = p.pipeline.Detect(ctx, s.layout.Text())
	if err != nil {
		if !errors.Is(err, pii.ErrDetectionUnavailable) {
			s.err = fmt.Errorf("detect page %d: %w", index, err)
			return s
		}
		s.semErr = err
	}
	return s
}

// inFullText shifts page-relative offsets into FullText coordinates. Entities
// of pages missing from FullText are dropped.
func inFullText(l pii.List, offsets map[int]int) pii.List {
	out := make(pii.List, 0, len(l))
	for _, e := range l {
		off, ok := offsets[e.Page]
		if !ok {
			continue
		}
		e.Start += off
		e.End += off
		out = append(out, e)
	}
	return out
}

// propagate returns an entity for every whole-word occurrence in text of a
// value already detected anywhere in the document.
func propagate(text string, page int, seen pii.List) pii.List {
	out := pii.List{}
	for _, v := range seen {
		if v.Text == "" {
			continue
		}
		from := 0
		for {
			i := strings.Index(text[from:], v.Text)
			if i < 0 {
				break
			}
			start, end := from+i, from+i+len(v.Text)
			from = end
			if !wordBoundary(text, start, end) {
				continue
			}
			e, err := pii.NewEntity(text, v.Type, start, end, v.Confidence, pii.SourcePattern)
			if err == nil {
				e.Page = page
				out = append(out, e)
			}
		}
	}
	return out
}

// wordBoundary reports whether text[start:end] is not glued to a letter or
// digit on either side.
func wordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
