package pii

import (
	"fmt"
	"strings"
)

// DefaultPlaceholder replaces each redacted span.
const DefaultPlaceholder = "[REDACTED]"

// Redact returns a copy of text with every entity span replaced by
// placeholder, in one left-to-right pass. Entities must be sorted and
// non-overlapping (the Reconcile invariant); a list that violates this is
// rejected with ErrInvalidEntity rather than producing shifted output.
// Bytes outside entity spans are copied unchanged.
func Redact(text string, l List, placeholder string) (string, error) {
	if len(l) == 0 {
		return text, nil
	}
	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for i, e := range l {
		if e.Start < pos || e.Start >= e.End || e.End > len(text) {
			return "", fmt.Errorf("%w: entity %d (%s) span [%d,%d) is out of order or out of range",
				ErrInvalidEntity, i, e.Type, e.Start, e.End)
		}
		b.WriteString(text[pos:e.Start])
		b.WriteString(placeholder)
		pos = e.End
	}
	b.WriteString(text[pos:])
	return b.String(), nil
}
