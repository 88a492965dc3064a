package document

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"reflect"
	"strings"
	"testing"

	"pii-redactor/internal/detector"
	"pii-redactor/internal/geometry"
	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
	"pii-redactor/internal/ocr"
	"pii-redactor/internal/pii"
)

// line lays words out left to right on one 20px-high row.
func line(words ...string) []geometry.Token {
	out := make([]geometry.Token, 0, len(words))
	x := 0
	for _, w := range words {
		width := 10 * len(w)
		out = append(out, geometry.Token{
			Text:       w,
			Box:        geometry.Box{Left: x, Top: 0, Width: width, Height: 20},
			Confidence: 0.9,
		})
		x += width + 5
	}
	return out
}

// page returns a white page whose width encodes its index, so the fake
// engine can tell pages apart.
func page(i int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 400+i, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 400+i; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func pages(n int) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		out[i] = page(i)
	}
	return out
}

// engine serves tokens (or an error) per page index.
func engine(tokens map[int][]geometry.Token, failures map[int]error) ocr.Engine {
	return ocr.EngineFunc(func(_ context.Context, img image.Image) ([]geometry.Token, error) {
		i := img.Bounds().Dx() - 400
		if err := failures[i]; err != nil {
			return nil, err
		}
		return tokens[i], nil
	})
}

// nameSemantic reports the word following "Name:" as a PERSON.
type nameSemantic struct{}

func (nameSemantic) Detect(_ context.Context, text string) (pii.List, error) {
	const marker = "Name: "
	i := strings.Index(text, marker)
	if i < 0 {
		return pii.List{}, nil
	}
	start := i + len(marker)
	end := start + strings.IndexByte(text[start:]+" ", ' ')
	e, err := pii.NewEntity(text, pii.TypePerson, start, end, 0.85, pii.SourceSemantic)
	if err != nil {
		return nil, err
	}
	return pii.List{e}, nil
}

type downSemantic struct{}

func (downSemantic) Detect(context.Context, string) (pii.List, error) {
	return nil, fmt.Errorf("%w: connection refused", pii.ErrDetectionUnavailable)
}

func newProcessor(t *testing.T, e ocr.Engine, sem detector.Semantic, opts Options, m *metrics.Metrics) *Processor {
	t.Helper()
	reg, err := detector.DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	log := logger.Discard()
	return NewProcessor(e, detector.NewPipeline(reg, sem, m, log), opts, m, log)
}

func twoPageTokens() map[int][]geometry.Token {
	return map[int][]geometry.Token{
		0: line("Name:", "Ravi", "phone", "9876543210"),
		1: line("Ravi", "paid", "9876543210", "again"),
	}
}

func TestProcessAccumulatesAndPropagates(t *testing.T) {
	m := metrics.New(nil)
	p := newProcessor(t, engine(twoPageTokens(), nil), nameSemantic{}, Options{MinConfidence: 0.3, Propagate: true}, m)

	res := p.Process(context.Background(), pages(2), pii.TierBasic)

	if res.ID == "" {
		t.Error("missing document id")
	}
	if res.Degraded {
		t.Error("unexpected degraded result")
	}
	if len(res.Entities) != 2 {
		t.Fatalf("document entities: got %d (%+v), want 2 deduplicated", len(res.Entities), res.Entities)
	}
	types := map[pii.Type]string{}
	for _, e := range res.Entities {
		types[e.Type] = e.Text
	}
	if types[pii.TypePerson] != "Ravi" || types[pii.TypePhone] != "9876543210" {
		t.Errorf("document entities: %v", types)
	}

	wantText := "Name: Ravi phone 9876543210\nRavi paid 9876543210 again"
	if res.FullText != wantText {
		t.Errorf("FullText: got %q", res.FullText)
	}
	wantRedacted := "Name: [REDACTED] phone [REDACTED]\n[REDACTED] paid [REDACTED] again"
	if res.RedactedText != wantRedacted {
		t.Errorf("RedactedText: got %q, want %q", res.RedactedText, wantRedacted)
	}

	p1 := res.Pages[1]
	if p1.Failed() || len(p1.Regions) != 2 {
		t.Fatalf("page 1: failed=%v regions=%+v", p1.Failed(), p1.Regions)
	}
	// "Ravi" is the first token on page 1: box (0,0)-(40,20).
	if r := p1.Regions[0]; r.Type != pii.TypePerson || r.XMin != 0 || r.XMax != 40 || r.YMax != 20 {
		t.Errorf("propagated region: %+v", r)
	}
	for _, e := range p1.Entities {
		if e.Page != 1 {
			t.Errorf("page 1 entity tagged with page %d", e.Page)
		}
	}

	if got := m.PagesProcessed.Load(); got != 2 {
		t.Errorf("PagesProcessed = %d, want 2", got)
	}
	if got := m.DocumentsProcessed.Load(); got != 1 {
		t.Errorf("DocumentsProcessed = %d, want 1", got)
	}
}

func TestProcessWithoutPropagation(t *testing.T) {
	p := newProcessor(t, engine(twoPageTokens(), nil), nameSemantic{}, Options{MinConfidence: 0.3}, nil)
	res := p.Process(context.Background(), pages(2), pii.TierBasic)
	if got := res.Pages[1].RedactedText; got != "Ravi paid [REDACTED] again" {
		t.Errorf("page 1: got %q", got)
	}
	// The document-level list still knows the name.
	if len(res.Entities) != 2 {
		t.Errorf("document entities: got %d, want 2", len(res.Entities))
	}
}

func TestProcessEntityOffsetsIndexFullText(t *testing.T) {
	tokens := map[int][]geometry.Token{
		1: line("call", "9876543210"),
		2: line("Name:", "Ravi"),
	}
	failures := map[int]error{0: errors.New("scanner jam")}
	p := newProcessor(t, engine(tokens, failures), nameSemantic{}, Options{MinConfidence: 0.3}, nil)

	res := p.Process(context.Background(), pages(3), pii.TierBasic)

	if res.FullText != "call 9876543210\nName: Ravi" {
		t.Fatalf("FullText: got %q", res.FullText)
	}
	if len(res.Entities) != 2 {
		t.Fatalf("document entities: got %+v", res.Entities)
	}
	for _, e := range res.Entities {
		if e.Start < 0 || e.End > len(res.FullText) || res.FullText[e.Start:e.End] != e.Text {
			t.Errorf("%s %q: offsets [%d,%d) do not index FullText", e.Type, e.Text, e.Start, e.End)
		}
		if e.Type == pii.TypePerson && (e.Page != 2 || e.Start != 22) {
			t.Errorf("person: page %d start %d, want page 2 start 22", e.Page, e.Start)
		}
	}
	// Page lists keep page-relative offsets.
	if got := res.Pages[2].Entities; len(got) != 1 || got[0].Start != 6 {
		t.Errorf("page 2 entities: %+v", got)
	}
}

func TestProcessRendersRegions(t *testing.T) {
	p := newProcessor(t, engine(twoPageTokens(), nil), nameSemantic{}, Options{}, nil)
	res := p.Process(context.Background(), pages(2), pii.TierBasic)

	img := res.Pages[0].Image
	if img == nil {
		t.Fatal("page 0 has no rendered image")
	}
	black := color.RGBAModel.Convert(color.Black)
	white := color.RGBAModel.Convert(color.White)
	// "Name:" spans x 0..50, "Ravi" spans x 55..95.
	if got := img.At(10, 10); got != white {
		t.Errorf("label pixel: got %v, want white", got)
	}
	if got := img.At(70, 10); got != black {
		t.Errorf("name pixel: got %v, want black", got)
	}
	if got := img.At(70, 30); got != white {
		t.Errorf("below the line: got %v, want white", got)
	}
}

func TestProcessFailedPageDoesNotStopOthers(t *testing.T) {
	tokens := map[int][]geometry.Token{
		0: line("call", "9876543210"),
		2: line("mail", "ravi@example.com"),
	}
	failures := map[int]error{1: errors.New("tesseract crashed")}
	m := metrics.New(nil)
	p := newProcessor(t, engine(tokens, failures), nil, Options{Workers: 2}, m)

	res := p.Process(context.Background(), pages(3), pii.TierBasic)

	if got := res.FailedPages(); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("FailedPages = %v, want [1]", got)
	}
	failed := res.Pages[1]
	if failed.Image != nil || failed.Error == "" || failed.Index != 1 {
		t.Errorf("failed page: %+v", failed)
	}
	if failed.Regions == nil || failed.Unprojected == nil {
		t.Error("failed page should carry empty, non-nil region lists")
	}
	if res.RedactedText != "call [REDACTED]\nmail [REDACTED]" {
		t.Errorf("RedactedText: got %q", res.RedactedText)
	}
	if res.Pages[0].Image == nil || res.Pages[2].Image == nil {
		t.Error("surviving pages must be rendered")
	}
	if got := m.PagesFailed.Load(); got != 1 {
		t.Errorf("PagesFailed = %d, want 1", got)
	}
}

func TestProcessInvalidTokenFailsPage(t *testing.T) {
	tokens := map[int][]geometry.Token{
		0: {{Text: "", Box: geometry.Box{Width: 5, Height: 5}, Confidence: 0.9}},
	}
	p := newProcessor(t, engine(tokens, nil), nil, Options{}, nil)
	res := p.Process(context.Background(), pages(1), pii.TierBasic)
	if !errors.Is(res.Pages[0].Err, pii.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", res.Pages[0].Err)
	}
}

func TestProcessNilPage(t *testing.T) {
	p := newProcessor(t, engine(nil, nil), nil, Options{}, nil)
	res := p.Process(context.Background(), []image.Image{nil}, pii.TierBasic)
	if !errors.Is(res.Pages[0].Err, pii.ErrUnsupportedInput) {
		t.Errorf("expected ErrUnsupportedInput, got %v", res.Pages[0].Err)
	}
}

func TestProcessDegradedWhenSemanticDown(t *testing.T) {
	tokens := map[int][]geometry.Token{0: line("Name:", "Ravi", "phone", "9876543210")}
	m := metrics.New(nil)
	p := newProcessor(t, engine(tokens, nil), downSemantic{}, Options{}, m)

	res := p.Process(context.Background(), pages(1), pii.TierBasic)

	if !res.Degraded {
		t.Error("expected degraded result")
	}
	if res.RedactedText != "Name: Ravi phone [REDACTED]" {
		t.Errorf("pattern entities must still be redacted, got %q", res.RedactedText)
	}
	if got := m.DocumentsDegraded.Load(); got != 1 {
		t.Errorf("DocumentsDegraded = %d, want 1", got)
	}
}

func TestProcessTierFilter(t *testing.T) {
	tokens := map[int][]geometry.Token{0: line("pan", "ABCDE1234F", "phone", "9876543210")}
	p := newProcessor(t, engine(tokens, nil), nil, Options{}, nil)

	cases := []struct {
		tier pii.Tier
		want string
	}{
		{pii.TierBasic, "pan ABCDE1234F phone [REDACTED]"},
		{pii.TierIntermediate, "pan [REDACTED] phone [REDACTED]"},
		{pii.TierCritical, "pan [REDACTED] phone [REDACTED]"},
	}
	for _, c := range cases {
		t.Run(c.tier.String(), func(t *testing.T) {
			res := p.Process(context.Background(), pages(1), c.tier)
			if res.RedactedText != c.want {
				t.Errorf("got %q, want %q", res.RedactedText, c.want)
			}
			if len(res.Pages[0].Regions) != strings.Count(c.want, "[REDACTED]") {
				t.Errorf("regions: %+v", res.Pages[0].Regions)
			}
		})
	}
}

func TestProcessLowConfidenceTokensIgnored(t *testing.T) {
	tokens := line("phone", "9876543210")
	tokens[1].Confidence = 0.1
	p := newProcessor(t, engine(map[int][]geometry.Token{0: tokens}, nil), nil, Options{MinConfidence: 0.5}, nil)
	res := p.Process(context.Background(), pages(1), pii.TierCritical)
	if res.FullText != "phone" || len(res.Entities) != 0 {
		t.Errorf("got text %q entities %v", res.FullText, res.Entities)
	}
}

func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newProcessor(t, engine(twoPageTokens(), nil), nil, Options{}, nil)
	res := p.Process(ctx, pages(2), pii.TierBasic)
	for _, pr := range res.Pages {
		if !errors.Is(pr.Err, context.Canceled) {
			t.Errorf("page %d: expected context.Canceled, got %v", pr.Index, pr.Err)
		}
	}
}

func TestPropagateWholeWordsOnly(t *testing.T) {
	text := "Johnson met John, then John left"
	seen := pii.List{{Type: pii.TypePerson, Text: "John", Confidence: 0.8}}
	got := propagate(text, 3, seen)
	if len(got) != 2 {
		t.Fatalf("got %d matches (%+v), want 2", len(got), got)
	}
	if got[0].Start != 12 || got[1].Start != 23 {
		t.Errorf("starts: %d %d", got[0].Start, got[1].Start)
	}
	if got[0].Page != 3 || got[0].Confidence != 0.8 {
		t.Errorf("entity: %+v", got[0])
	}
}

func TestWordBoundaryUnicode(t *testing.T) {
	text := "Josévalue José"
	if wordBoundary(text, 0, len("José")) {
		t.Error("José glued to value should not be a word")
	}
	start := strings.LastIndex(text, "José")
	if !wordBoundary(text, start, len(text)) {
		t.Error("trailing José is a whole word")
	}
}
