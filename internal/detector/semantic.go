package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
	"pii-redactor/internal/pii"
)

const maxAnalyzerResponse = 10 << 20 // 10 MB

// SemanticOptions configures the analyzer client.
type SemanticOptions struct {
	Endpoint string // base URL, e.g. http://localhost:5002
	Language string
	MinScore float64
	Timeout  time.Duration
	Cache    ResultCache  // optional
	Client   *http.Client // optional, defaults to http.DefaultClient
}

// SemanticDetector is a thin adapter over an external entity recognizer that
// speaks the analyzer REST contract:
//
//	POST {endpoint}/analyze {"text": ..., "language": ...}
//	200  [{"entity_type": ..., "start": ..., "end": ..., "score": ...}, ...]
//
// Analyzer offsets count code points; Detect converts them to byte offsets.
// Every failure of the recognizer is reported as pii.ErrDetectionUnavailable.
// The detector is safe for concurrent use.
type SemanticDetector struct {
	url      string
	language string
	minScore float64
	timeout  time.Duration
	cache    ResultCache
	client   *http.Client
	reg      *Registry
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewSemanticDetector creates a client. m may be nil.
func NewSemanticDetector(reg *Registry, opts SemanticOptions, m *metrics.Metrics, log *logger.Logger) *SemanticDetector {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	return &SemanticDetector{
		url:      strings.TrimRight(opts.Endpoint, "/") + "/analyze",
		language: opts.Language,
		minScore: opts.MinScore,
		timeout:  opts.Timeout,
		cache:    opts.Cache,
		client:   client,
		reg:      reg,
		metrics:  m,
		log:      log,
	}
}

type analyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type analyzerResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Detect returns the recognizer's entities for text with their native
// scores. Results scoring below the configured minimum are dropped.
func (d *SemanticDetector) Detect(ctx context.Context, text string) (pii.List, error) {
	if strings.TrimSpace(text) == "" {
		return pii.List{}, nil
	}

	key := resultKey(d.language, text)
	results, ok := d.cached(key)
	if !ok {
		var err error
		start := time.Now()
		results, err = d.analyze(ctx, text)
		if d.metrics != nil {
			d.metrics.RecordSemantic(time.Since(start), err)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pii.ErrDetectionUnavailable, err)
		}
		if d.cache != nil {
			if raw, err := json.Marshal(results); err == nil {
				d.cache.Set(key, string(raw))
			}
		}
	}
	return d.toEntities(text, results), nil
}

func (d *SemanticDetector) cached(key string) ([]analyzerResult, bool) {
	if d.cache == nil {
		return nil, false
	}
	raw, ok := d.cache.Get(key)
	if ok {
		var results []analyzerResult
		if err := json.Unmarshal([]byte(raw), &results); err == nil {
			if d.metrics != nil {
				d.metrics.RecordCacheLookup(true)
			}
			return results, true
		}
		d.cache.Delete(key)
	}
	if d.metrics != nil {
		d.metrics.RecordCacheLookup(false)
	}
	return nil, false
}

// analyze performs one analyzer call. No retries.
func (d *SemanticDetector) analyze(ctx context.Context, text string) ([]analyzerResult, error) {
	body, err := json.Marshal(analyzeRequest{Text: text, Language: d.language})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req) // #nosec G704 -- URL from trusted config, not user input
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // drain for keep-alive
		return nil, fmt.Errorf("analyzer returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAnalyzerResponse+1))
	if err != nil {
		return nil, fmt.Errorf("read analyzer response: %w", err)
	}
	if len(raw) > maxAnalyzerResponse {
		return nil, fmt.Errorf("analyzer response exceeds %d bytes", maxAnalyzerResponse)
	}

	var results []analyzerResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("analyzer response parse error: %w", err)
	}
	return results, nil
}

// toEntities converts analyzer results into entities over text. Spans that
// do not fit the text are logged and skipped.
func (d *SemanticDetector) toEntities(text string, results []analyzerResult) pii.List {
	out := make(pii.List, 0, len(results))
	if len(results) == 0 {
		return out
	}
	offsets := byteOffsets(text)
	for _, r := range results {
		if r.Score < d.minScore {
			continue
		}
		if r.Start < 0 || r.End >= len(offsets) || r.Start >= r.End {
			d.log.Warnf("semantic_span", "dropping %s span [%d,%d): text has %d code points",
				r.EntityType, r.Start, r.End, len(offsets)-1)
			continue
		}
		e, err := pii.NewEntity(text, d.reg.Canonical(r.EntityType), offsets[r.Start], offsets[r.End], r.Score, pii.SourceSemantic)
		if err != nil {
			d.log.Warnf("semantic_span", "%v", err)
			continue
		}
		out = append(out, e)
	}
	return out
}

// byteOffsets maps code-point index i to its byte offset in s. The result
// has one extra element holding len(s).
func byteOffsets(s string) []int {
	out := make([]int, 0, utf8.RuneCountInString(s)+1)
	for i := range s {
		out = append(out, i)
	}
	return append(out, len(s))
}
