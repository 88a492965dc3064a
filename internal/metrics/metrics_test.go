package metrics

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNew_StartTimeSet(t *testing.T) {
	before := time.Now()
	m := New(nil)
	after := time.Now()

	if m.startTime.Before(before) || m.startTime.After(after) {
		t.Errorf("startTime %v not in expected range [%v, %v]", m.startTime, before, after)
	}
}

func TestZeroValue_SnapshotSafe(t *testing.T) {
	var m Metrics
	m.RecordRedacted("EMAIL_ADDRESS", 1)
	s := m.Snapshot()
	if s.Documents.Processed != 0 || s.Entities.Redacted != 0 {
		t.Errorf("expected empty snapshot, got %+v", s)
	}
}

func TestDocumentCounters(t *testing.T) {
	m := New(nil)
	m.DocumentsProcessed.Add(4)
	m.DocumentsRejected.Add(1)
	m.DocumentsDegraded.Add(2)
	m.PagesProcessed.Add(9)
	m.PagesFailed.Add(1)
	m.RegionsDrawn.Add(12)
	m.Unprojected.Add(3)

	d := m.Snapshot().Documents
	if d.Processed != 4 {
		t.Errorf("Processed: got %d, want 4", d.Processed)
	}
	if d.Rejected != 1 {
		t.Errorf("Rejected: got %d, want 1", d.Rejected)
	}
	if d.Degraded != 2 {
		t.Errorf("Degraded: got %d, want 2", d.Degraded)
	}
	if d.PagesProcessed != 9 || d.PagesFailed != 1 {
		t.Errorf("pages: got %d/%d, want 9/1", d.PagesProcessed, d.PagesFailed)
	}
	if d.RegionsDrawn != 12 || d.Unprojected != 3 {
		t.Errorf("regions: got %d/%d, want 12/3", d.RegionsDrawn, d.Unprojected)
	}
}

func TestRecordRedacted_KnownAndOther(t *testing.T) {
	m := New([]string{"EMAIL_ADDRESS", "PHONE_NUMBER"})
	m.RecordRedacted("EMAIL_ADDRESS", 2)
	m.RecordRedacted("PHONE_NUMBER", 1)
	m.RecordRedacted("NRP", 5)

	e := m.Snapshot().Entities
	if e.Redacted != 8 {
		t.Errorf("Redacted: got %d, want 8", e.Redacted)
	}
	if e.ByType["EMAIL_ADDRESS"] != 2 {
		t.Errorf("EMAIL_ADDRESS: got %d, want 2", e.ByType["EMAIL_ADDRESS"])
	}
	if e.ByType[OtherType] != 5 {
		t.Errorf("%s: got %d, want 5", OtherType, e.ByType[OtherType])
	}
	if _, ok := e.ByType["NRP"]; ok {
		t.Error("unknown type should be folded into OTHER")
	}
}

func TestByType_OmitsZero(t *testing.T) {
	m := New([]string{"EMAIL_ADDRESS"})
	if n := len(m.Snapshot().Entities.ByType); n != 0 {
		t.Errorf("expected empty ByType, got %d entries", n)
	}
}

func TestRecordSemantic(t *testing.T) {
	m := New(nil)
	m.RecordSemantic(10*time.Millisecond, nil)
	m.RecordSemantic(30*time.Millisecond, errors.New("refused"))
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)

	s := m.Snapshot()
	if s.Semantic.Calls != 2 || s.Semantic.Errors != 1 {
		t.Errorf("calls/errors: got %d/%d, want 2/1", s.Semantic.Calls, s.Semantic.Errors)
	}
	if s.Semantic.CacheHits != 1 || s.Semantic.CacheMisses != 2 {
		t.Errorf("cache: got %d/%d, want 1/2", s.Semantic.CacheHits, s.Semantic.CacheMisses)
	}
	if s.Latency.SemanticMs.Count != 2 || s.Latency.SemanticMs.MeanMs != 20 {
		t.Errorf("semantic latency: %+v", s.Latency.SemanticMs)
	}
}

func TestSessionCounters(t *testing.T) {
	m := New(nil)
	m.SessionsStarted.Add(3)
	m.SessionsStopped.Add(1)
	m.SessionsTimedOut.Add(1)
	m.SessionsFailed.Add(1)
	m.ContextAlerts.Add(4)
	m.ContentAlerts.Add(6)

	s := m.Snapshot().Sessions
	if s.Started != 3 || s.Stopped != 1 || s.TimedOut != 1 || s.Failed != 1 {
		t.Errorf("sessions: %+v", s)
	}
	if s.ContextAlerts != 4 || s.ContentAlerts != 6 {
		t.Errorf("alerts: %+v", s)
	}
}

func TestLatencyStats_MinMeanMax(t *testing.T) {
	m := New(nil)
	m.RecordDetection(10 * time.Millisecond)
	m.RecordDetection(20 * time.Millisecond)
	m.RecordDetection(30 * time.Millisecond)

	l := m.Snapshot().Latency.DetectionMs
	if l.Count != 3 {
		t.Errorf("Count: got %d, want 3", l.Count)
	}
	if l.MinMs != 10 {
		t.Errorf("MinMs: got %v, want 10", l.MinMs)
	}
	if l.MeanMs != 20 {
		t.Errorf("MeanMs: got %v, want 20", l.MeanMs)
	}
	if l.MaxMs != 30 {
		t.Errorf("MaxMs: got %v, want 30", l.MaxMs)
	}
}

func TestLatencyStats_EmptyIsZero(t *testing.T) {
	m := New(nil)
	l := m.Snapshot().Latency.OCRMs
	if l.Count != 0 || l.MinMs != 0 || l.MaxMs != 0 {
		t.Errorf("expected zero latency snapshot, got %+v", l)
	}
}

func TestRecordOCR(t *testing.T) {
	m := New(nil)
	m.RecordOCR(1500 * time.Microsecond)
	if got := m.Snapshot().Latency.OCRMs.MaxMs; got != 1.5 {
		t.Errorf("MaxMs: got %v, want 1.5", got)
	}
}

func TestRound2(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{1.234, 1.23},
		{1.236, 1.24},
		{0, 0},
		{99.999, 100},
	}
	for _, c := range cases {
		if got := round2(c.in); got != c.want {
			t.Errorf("round2(%v): got %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSnapshot_JSON(t *testing.T) {
	m := New([]string{"PERSON"})
	m.RecordRedacted("PERSON", 1)
	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"documents", "entities", "semantic", "sessions", "latency", "uptimeSecs"} {
		if _, ok := back[key]; !ok {
			t.Errorf("snapshot JSON missing %q", key)
		}
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := New([]string{"PERSON"})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordRedacted("PERSON", 1)
				m.RecordDetection(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	s := m.Snapshot()
	if s.Entities.ByType["PERSON"] != 1600 {
		t.Errorf("PERSON: got %d, want 1600", s.Entities.ByType["PERSON"])
	}
	if s.Latency.DetectionMs.Count != 1600 {
		t.Errorf("detection count: got %d, want 1600", s.Latency.DetectionMs.Count)
	}
}
