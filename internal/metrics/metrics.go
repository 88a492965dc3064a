// Package metrics provides lock-minimal counters for the redaction engine.
//
// Counters use sync/atomic so page workers and stream sessions never contend
// on a mutex. Latency statistics use one mutex per dimension and are updated
// once per detection call, OCR pass or analyzer request.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// OtherType collects entity counts for types not known at construction.
const OtherType = "OTHER"

// Metrics holds all runtime counters for one process. Use New.
type Metrics struct {
	// Upload path
	DocumentsProcessed atomic.Int64
	DocumentsRejected  atomic.Int64 // undecodable uploads
	DocumentsDegraded  atomic.Int64 // finished pattern-only
	PagesProcessed     atomic.Int64
	PagesFailed        atomic.Int64
	RegionsDrawn       atomic.Int64
	Unprojected        atomic.Int64

	// Semantic analyzer
	SemanticCalls  atomic.Int64
	SemanticErrors atomic.Int64
	CacheHits      atomic.Int64
	CacheMisses    atomic.Int64

	// Stream sessions
	SessionsStarted  atomic.Int64
	SessionsStopped  atomic.Int64
	SessionsTimedOut atomic.Int64
	SessionsFailed   atomic.Int64
	ContextAlerts    atomic.Int64
	ContentAlerts    atomic.Int64

	// Per-type redaction counts. Written only in New; reads need no lock.
	redacted map[string]*atomic.Int64

	detectMu   sync.Mutex
	detectStat latencyStats

	semanticMu   sync.Mutex
	semanticStat latencyStats

	ocrMu   sync.Mutex
	ocrStat latencyStats

	startTime time.Time
}

// New returns Metrics with per-type counters for the given entity types plus
// OtherType.
func New(types []string) *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		redacted:  make(map[string]*atomic.Int64, len(types)+1),
	}
	for _, t := range types {
		m.redacted[t] = new(atomic.Int64)
	}
	m.redacted[OtherType] = new(atomic.Int64)
	return m
}

// RecordRedacted adds n redactions of entity type typ.
func (m *Metrics) RecordRedacted(typ string, n int) {
	c, ok := m.redacted[typ]
	if !ok {
		c = m.redacted[OtherType]
	}
	if c != nil {
		c.Add(int64(n))
	}
}

// RecordDetection records the duration of one pipeline pass.
func (m *Metrics) RecordDetection(d time.Duration) {
	m.detectMu.Lock()
	m.detectStat.record(ms(d))
	m.detectMu.Unlock()
}

// RecordSemantic records one analyzer round trip and its outcome.
func (m *Metrics) RecordSemantic(d time.Duration, err error) {
	m.SemanticCalls.Add(1)
	if err != nil {
		m.SemanticErrors.Add(1)
	}
	m.semanticMu.Lock()
	m.semanticStat.record(ms(d))
	m.semanticMu.Unlock()
}

// RecordCacheLookup counts one analyzer result cache lookup.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.CacheHits.Add(1)
	} else {
		m.CacheMisses.Add(1)
	}
}

// RecordOCR records the duration of recognizing one page.
func (m *Metrics) RecordOCR(d time.Duration) {
	m.ocrMu.Lock()
	m.ocrStat.record(ms(d))
	m.ocrMu.Unlock()
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.detectMu.Lock()
	detect := m.detectStat.snapshot()
	m.detectMu.Unlock()

	m.semanticMu.Lock()
	semantic := m.semanticStat.snapshot()
	m.semanticMu.Unlock()

	m.ocrMu.Lock()
	ocr := m.ocrStat.snapshot()
	m.ocrMu.Unlock()

	byType := make(map[string]int64, len(m.redacted))
	var total int64
	for t, c := range m.redacted {
		if n := c.Load(); n > 0 {
			byType[t] = n
			total += n
		}
	}

	return Snapshot{
		Documents: DocumentSnapshot{
			Processed:      m.DocumentsProcessed.Load(),
			Rejected:       m.DocumentsRejected.Load(),
			Degraded:       m.DocumentsDegraded.Load(),
			PagesProcessed: m.PagesProcessed.Load(),
			PagesFailed:    m.PagesFailed.Load(),
			RegionsDrawn:   m.RegionsDrawn.Load(),
			Unprojected:    m.Unprojected.Load(),
		},
		Entities: EntitySnapshot{
			Redacted: total,
			ByType:   byType,
		},
		Semantic: SemanticSnapshot{
			Calls:       m.SemanticCalls.Load(),
			Errors:      m.SemanticErrors.Load(),
			CacheHits:   m.CacheHits.Load(),
			CacheMisses: m.CacheMisses.Load(),
		},
		Sessions: SessionSnapshot{
			Started:       m.SessionsStarted.Load(),
			Stopped:       m.SessionsStopped.Load(),
			TimedOut:      m.SessionsTimedOut.Load(),
			Failed:        m.SessionsFailed.Load(),
			ContextAlerts: m.ContextAlerts.Load(),
			ContentAlerts: m.ContentAlerts.Load(),
		},
		Latency: LatencyGroup{
			DetectionMs: detect,
			SemanticMs:  semantic,
			OCRMs:       ocr,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Documents  DocumentSnapshot `json:"documents"`
	Entities   EntitySnapshot   `json:"entities"`
	Semantic   SemanticSnapshot `json:"semantic"`
	Sessions   SessionSnapshot  `json:"sessions"`
	Latency    LatencyGroup     `json:"latency"`
	UptimeSecs float64          `json:"uptimeSecs"`
}

type DocumentSnapshot struct {
	Processed      int64 `json:"processed"`
	Rejected       int64 `json:"rejected"`
	Degraded       int64 `json:"degraded"`
	PagesProcessed int64 `json:"pagesProcessed"`
	PagesFailed    int64 `json:"pagesFailed"`
	RegionsDrawn   int64 `json:"regionsDrawn"`
	Unprojected    int64 `json:"unprojected"`
}

// EntitySnapshot lists only types with non-zero counts.
type EntitySnapshot struct {
	Redacted int64            `json:"redacted"`
	ByType   map[string]int64 `json:"byType,omitempty"`
}

type SemanticSnapshot struct {
	Calls       int64 `json:"calls"`
	Errors      int64 `json:"errors"`
	CacheHits   int64 `json:"cacheHits"`
	CacheMisses int64 `json:"cacheMisses"`
}

type SessionSnapshot struct {
	Started       int64 `json:"started"`
	Stopped       int64 `json:"stopped"`
	TimedOut      int64 `json:"timedOut"`
	Failed        int64 `json:"failed"`
	ContextAlerts int64 `json:"contextAlerts"`
	ContentAlerts int64 `json:"contentAlerts"`
}

// LatencyGroup groups the latency dimensions.
type LatencyGroup struct {
	DetectionMs LatencySnapshot `json:"detectionMs"`
	SemanticMs  LatencySnapshot `json:"semanticMs"`
	OCRMs       LatencySnapshot `json:"ocrMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
