package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pii-redactor/internal/pii"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := DocumentRecord{
		ID: "doc-1", Filename: "scan.pdf", Format: "pdf", Tier: pii.TierCritical,
		Pages: 3, FailedPages: 1, Entities: 4,
		Types:     map[pii.Type]int{pii.TypeAadhaar: 1, pii.TypePhone: 3},
		Degraded:  true,
		CreatedAt: base,
	}
	newer := DocumentRecord{ID: "doc-2", Filename: "id.png", Format: "png", Pages: 1, CreatedAt: base.Add(time.Minute)}
	for _, r := range []DocumentRecord{older, newer} {
		if err := s.RecordDocument(ctx, r); err != nil {
			t.Fatalf("RecordDocument(%s): %v", r.ID, err)
		}
	}

	got, err := s.ListDocuments(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "doc-2" || got[1].ID != "doc-1" {
		t.Fatalf("order: %+v", got)
	}
	d := got[1]
	if d.Tier != pii.TierCritical || d.Pages != 3 || d.FailedPages != 1 || !d.Degraded {
		t.Errorf("fields: %+v", d)
	}
	if d.Types[pii.TypePhone] != 3 || d.Types[pii.TypeAadhaar] != 1 {
		t.Errorf("types: %v", d.Types)
	}
	if !d.CreatedAt.Equal(base) {
		t.Errorf("created_at: got %v, want %v", d.CreatedAt, base)
	}
	if got[0].Types == nil {
		t.Error("nil types should read back as an empty map")
	}
}

func TestListLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r := DocumentRecord{ID: string(rune('a' + i)), Filename: "f", Format: "png"}
		if err := s.RecordDocument(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListDocuments(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d rows, want 2", len(got))
	}
}

func TestDuplicateDocumentRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := DocumentRecord{ID: "same", Filename: "f", Format: "png"}
	if err := s.RecordDocument(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordDocument(ctx, r); err == nil {
		t.Error("expected primary key violation")
	}
}

func TestSessionsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := SessionRecord{
		ID: "sess-1", Tier: pii.TierIntermediate, Reason: "timeout",
		Chunks: 4, Timeouts: 6, Unclear: 1, ContextAlerts: 2, ContentAlerts: 3,
		Types:     map[pii.Type]int{pii.TypeEmail: 3},
		StartedAt: start,
		EndedAt:   start.Add(45 * time.Second),
	}
	if err := s.RecordSession(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSession(ctx, SessionRecord{ID: "sess-2", Reason: "stopped", Error: "transcription service error"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "sess-2" {
		t.Fatalf("order: %+v", got)
	}
	if got[0].Error == "" || got[0].StartedAt.IsZero() {
		t.Errorf("defaults: %+v", got[0])
	}
	s1 := got[1]
	if s1.Tier != pii.TierIntermediate || s1.Reason != "timeout" || s1.Timeouts != 6 || s1.ContentAlerts != 3 {
		t.Errorf("fields: %+v", s1)
	}
	if s1.EndedAt.Sub(s1.StartedAt) != 45*time.Second {
		t.Errorf("duration: %v", s1.EndedAt.Sub(s1.StartedAt))
	}
	if s1.Types[pii.TypeEmail] != 3 {
		t.Errorf("types: %v", s1.Types)
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = Nop{}
	if err := r.RecordDocument(context.Background(), DocumentRecord{}); err != nil {
		t.Error(err)
	}
	if err := r.RecordSession(context.Background(), SessionRecord{}); err != nil {
		t.Error(err)
	}
}

func TestClampLimit(t *testing.T) {
	for in, want := range map[int]int{-1: 100, 0: 100, 7: 7, 5000: maxList} {
		if got := clampLimit(in); got != want {
			t.Errorf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
