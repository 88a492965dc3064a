package detector

import (
	"strings"

	"pii-redactor/internal/pii"
)

// ContextWatcher flags text that announces an upcoming disclosure, such as
// "my account number is", before the value itself arrives.
type ContextWatcher struct {
	rules []ContextRule
}

// NewContextWatcher returns a watcher over the registry's phrase table.
func NewContextWatcher(reg *Registry) *ContextWatcher {
	return &ContextWatcher{rules: reg.context}
}

// Scan returns the first type, in registry order, one of whose phrases
// occurs in text (case-insensitive).
func (w *ContextWatcher) Scan(text string) (pii.Type, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, r := range w.rules {
		for _, p := range r.Phrases {
			if strings.Contains(lower, p) {
				return r.Type, true
			}
		}
	}
	return "", false
}
