package detector

import (
	"pii-redactor/internal/pii"
)

// PatternDetector applies every registry rule to a text buffer. It holds no
// mutable state and may be shared between goroutines.
type PatternDetector struct {
	rules []Rule
}

// NewPatternDetector returns a detector over the registry's rule table.
func NewPatternDetector(reg *Registry) *PatternDetector {
	return &PatternDetector{rules: reg.Rules()}
}

// Detect returns one entity per match of each rule. Matches of a single rule
// never overlap; matches of different rules may, and are left for
// pii.Reconcile. The result is in rule order, not offset order.
func (d *PatternDetector) Detect(text string) pii.List {
	out := pii.List{}
	if text == "" {
		return out
	}
	for _, r := range d.rules {
		for _, loc := range r.Pattern.FindAllStringIndex(text, -1) {
			e, err := pii.NewEntity(text, r.Type, loc[0], loc[1], pii.PatternConfidence, pii.SourcePattern)
			if err != nil {
				// Empty matches from a permissive custom rule.
				continue
			}
			out = append(out, e)
		}
	}
	return out
}
