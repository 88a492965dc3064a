package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		" info ":  LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"Error":   LevelError,
		"verbose": LevelInfo,
		"":        LevelInfo,
	} {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// TestLevelGate checks every (configured, emitted) pair.
func TestLevelGate(t *testing.T) {
	emit := map[string]func(*Logger){
		"debug": func(l *Logger) { l.Debug("gate", "m") },
		"info":  func(l *Logger) { l.Info("gate", "m") },
		"warn":  func(l *Logger) { l.Warn("gate", "m") },
		"error": func(l *Logger) { l.Error("gate", "m") },
	}
	order := []string{"debug", "info", "warn", "error"}
	for ci, configured := range order {
		for ei, emitted := range order {
			var buf bytes.Buffer
			emit[emitted](NewWithWriter("gate", configured, &buf))
			if written := buf.Len() > 0; written != (ei >= ci) {
				t.Errorf("configured=%s emitted=%s: written=%v", configured, emitted, written)
			}
		}
	}
}

func TestLineLayout(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("document", "info", &buf).Warnf("page_failed", "page=%d", 3)

	cols := strings.Split(strings.TrimSpace(buf.String()), " | ")
	if len(cols) != 5 {
		t.Fatalf("expected 5 columns, got %q", buf.String())
	}
	if strings.TrimSpace(cols[1]) != "DOCUMENT" || strings.TrimSpace(cols[2]) != "page_failed" ||
		strings.TrimSpace(cols[3]) != "WARN" || cols[4] != "page=3" {
		t.Errorf("columns: %q", cols)
	}
}

func TestFormattedVariants(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("fmt", "debug", &buf)
	l.Debugf("a", "d=%d", 1)
	l.Infof("a", "i=%d", 2)
	l.Warnf("a", "w=%d", 3)
	l.Errorf("a", "e=%d", 4)
	for _, want := range []string{"d=1", "i=2", "w=3", "e=4"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("missing %q in %s", want, buf.String())
		}
	}
}

func TestSetLevelReachesChildren(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWithWriter("server", "error", &buf)
	child := parent.With("doc", 1)
	sibling := parent.Module("audit")

	child.Info("a", "hidden")
	if buf.Len() > 0 {
		t.Fatalf("info written at error level: %s", buf.String())
	}
	parent.SetLevel("info")
	child.Info("a", "from-child")
	sibling.Info("a", "from-sibling")
	if !strings.Contains(buf.String(), "from-child") || !strings.Contains(buf.String(), "from-sibling") {
		t.Errorf("derived loggers should follow SetLevel: %s", buf.String())
	}
}

func TestWith_AppendsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("stream", "info", &buf).With("session", "abc").With("tier", "basic")
	l.Info("alert", "type=PHONE_NUMBER")

	if !strings.Contains(buf.String(), "type=PHONE_NUMBER session=abc tier=basic") {
		t.Errorf("fields missing or out of order: %s", buf.String())
	}
}

func TestModule_DropsFields(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("server", "info", &buf).With("req", 7).Module("audit").Info("insert", "ok")

	if out := buf.String(); !strings.Contains(out, "AUDIT") || strings.Contains(out, "req=7") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("action", "dropped")
	if l.Enabled(LevelDebug) || l.Enabled(LevelWarn) {
		t.Error("discard logger should only enable error")
	}
}
