package detector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pii-redactor/internal/pii"
)

// newAnalyzer starts a fake analyzer that answers every request with reply
// and counts calls.
func newAnalyzer(t *testing.T, status int, reply string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/analyze" {
			http.NotFound(w, r)
			return
		}
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Language != "en" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(reply)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestSemanticConvertsCodePointOffsets(t *testing.T) {
	srv, _ := newAnalyzer(t, http.StatusOK,
		`[{"entity_type":"PERSON","start":6,"end":16,"score":0.85},{"entity_type":"LOCATION","start":0,"end":4,"score":0.2}]`)
	d := NewSemanticDetector(mustRegistry(t), SemanticOptions{Endpoint: srv.URL, MinScore: 0.5}, nil, testLogger())

	text := "Name: José Ñúñez"
	list, err := d.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d entities, want 1 (low score dropped): %+v", len(list), list)
	}
	e := list[0]
	if e.Text != "José Ñúñez" {
		t.Errorf("text: got %q", e.Text)
	}
	if e.Start != 6 || e.End != len(text) {
		t.Errorf("span: got [%d,%d), want [6,%d)", e.Start, e.End, len(text))
	}
	if e.Source != pii.SourceSemantic || e.Confidence != 0.85 {
		t.Errorf("source/confidence: got %s %v", e.Source, e.Confidence)
	}
}

func TestSemanticAppliesAliases(t *testing.T) {
	srv, _ := newAnalyzer(t, http.StatusOK, `[{"entity_type":"IN_PAN","start":4,"end":14,"score":0.9}]`)
	d := NewSemanticDetector(mustRegistry(t), SemanticOptions{Endpoint: srv.URL}, nil, testLogger())
	list, err := d.Detect(context.Background(), "PAN ABCDE1234F")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Type != pii.TypePAN {
		t.Errorf("got %+v, want PAN_NUMBER", list)
	}
}

func TestSemanticDropsOutOfRangeSpans(t *testing.T) {
	srv, _ := newAnalyzer(t, http.StatusOK,
		`[{"entity_type":"PERSON","start":0,"end":99,"score":0.9},{"entity_type":"PERSON","start":3,"end":3,"score":0.9}]`)
	d := NewSemanticDetector(mustRegistry(t), SemanticOptions{Endpoint: srv.URL}, nil, testLogger())
	list, err := d.Detect(context.Background(), "short")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected no entities, got %+v", list)
	}
}

func TestSemanticFailuresAreUnavailable(t *testing.T) {
	cases := []struct {
		name   string
		status int
		reply  string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"garbage body", http.StatusOK, `{not json`},
		{"wrong shape", http.StatusOK, `{"entities":[]}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv, _ := newAnalyzer(t, c.status, c.reply)
			d := NewSemanticDetector(mustRegistry(t), SemanticOptions{Endpoint: srv.URL}, nil, testLogger())
			_, err := d.Detect(context.Background(), "John Doe")
			if !errors.Is(err, pii.ErrDetectionUnavailable) {
				t.Errorf("expected ErrDetectionUnavailable, got %v", err)
			}
		})
	}
}

func TestSemanticUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := NewSemanticDetector(mustRegistry(t), SemanticOptions{Endpoint: url, Timeout: time.Second}, nil, testLogger())
	if _, err := d.Detect(context.Background(), "John Doe"); !errors.Is(err, pii.ErrDetectionUnavailable) {
		t.Errorf("expected ErrDetectionUnavailable, got %v", err)
	}
}

func TestSemanticTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	d := NewSemanticDetector(mustRegistry(t), SemanticOptions{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil, testLogger())
	if _, err := d.Detect(context.Background(), "John Doe"); !errors.Is(err, pii.ErrDetectionUnavailable) {
		t.Errorf("expected ErrDetectionUnavailable, got %v", err)
	}
}

func TestSemanticCachesResults(t *testing.T) {
	srv, calls := newAnalyzer(t, http.StatusOK, `[{"entity_type":"PERSON","start":0,"end":8,"score":0.9}]`)
	cache := newS3FIFOCache(newMemoryCache(), 16, testLogger())
	d := NewSemanticDetector(mustRegistry(t), SemanticOptions{Endpoint: srv.URL, Cache: cache}, nil, testLogger())

	for i := 0; i < 3; i++ {
		list, err := d.Detect(context.Background(), "John Doe")
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 {
			t.Fatalf("call %d: got %d entities", i, len(list))
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("analyzer calls: got %d, want 1", got)
	}

	// A different language is a different key.
	d2 := NewSemanticDetector(mustRegistry(t), SemanticOptions{Endpoint: srv.URL, Cache: cache, Language: "hi"}, nil, testLogger())
	d2.Detect(context.Background(), "John Doe") //nolint:errcheck // fake rejects non-en; only the call count matters
	if got := calls.Load(); got != 2 {
		t.Errorf("analyzer calls after language change: got %d, want 2", got)
	}
}

func TestSemanticBlankTextSkipsCall(t *testing.T) {
	srv, calls := newAnalyzer(t, http.StatusOK, `[]`)
	d := NewSemanticDetector(mustRegistry(t), SemanticOptions{Endpoint: srv.URL}, nil, testLogger())
	list, err := d.Detect(context.Background(), "   ")
	if err != nil || len(list) != 0 {
		t.Errorf("got %v, %v", list, err)
	}
	if calls.Load() != 0 {
		t.Error("blank text should not reach the analyzer")
	}
}

func TestByteOffsets(t *testing.T) {
	got := byteOffsets("aé€")
	want := []int{0, 1, 3, 6}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("offset %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
