// Package pii holds the entity model shared by every detector and the pure
// functions that turn raw detections into a redaction plan:
//
//  1. Reconcile merges detector outputs into one non-overlapping List.
//  2. Filter drops entities whose type sits above the selected Tier.
//  3. Redact rewrites the source text, one placeholder per kept entity.
//
// All offsets are byte offsets into the Go string the entity was detected in.
// Nothing in this package keeps state between calls except Accumulator, which
// is single-owner by contract.
package pii

import (
	"fmt"
	"strings"
)

// Type classifies the kind of sensitive data found.
type Type string

// Entity types produced by the built-in pattern registry. Semantic detectors
// may report additional types (PERSON, LOCATION, ...); those are plain Type
// values and need no constant here.
const (
	TypeAadhaar        Type = "AADHAAR_NUMBER"
	TypePAN            Type = "PAN_NUMBER"
	TypePassport       Type = "PASSPORT_NUMBER"
	TypeDrivingLicense Type = "DRIVING_LICENSE"
	TypeCreditCard     Type = "CREDIT_CARD_NUMBER"
	TypeDebitCard      Type = "DEBIT_CARD_NUMBER"
	TypeBankAccount    Type = "BANK_ACCOUNT_NUMBER"
	TypeIFSC           Type = "IFSC_CODE"
	TypeUPI            Type = "UPI_ID"
	TypePhone          Type = "PHONE_NUMBER"
	TypeEmail          Type = "EMAIL_ADDRESS"
	TypePerson         Type = "PERSON"
)

// Source names the detector family that produced an entity.
type Source string

// Detector families. On identical spans a semantic match outranks a pattern match.
const (
	SourcePattern  Source = "pattern"
	SourceSemantic Source = "semantic"
)

// PatternConfidence is the fixed score given to every regex match.
const PatternConfidence = 0.9

// NoPage marks an entity that is not tied to a document page.
const NoPage = -1

// Entity is one PII occurrence inside a text buffer.
// Start and End are half-open byte offsets; Text is an owned copy of
// buffer[Start:End] taken at creation time.
type Entity struct {
	Type       Type    `json:"type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
	Page       int     `json:"page"`
}

// NewEntity builds an Entity over buffer[start:end], enforcing
// 0 <= start < end <= len(buffer). Confidence is clamped to [0, 1].
func NewEntity(buffer string, typ Type, start, end int, confidence float64, source Source) (Entity, error) {
	if typ == "" {
		return Entity{}, fmt.Errorf("%w: empty type", ErrInvalidEntity)
	}
	if start < 0 || start >= end || end > len(buffer) {
		return Entity{}, fmt.Errorf("%w: %s span [%d,%d) outside buffer of %d bytes",
			ErrInvalidEntity, typ, start, end, len(buffer))
	}
	switch {
	case confidence < 0:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}
	return Entity{
		Type:       typ,
		Start:      start,
		End:        end,
		Text:       strings.Clone(buffer[start:end]),
		Confidence: confidence,
		Source:     source,
		Page:       NoPage,
	}, nil
}

// Len returns the span length in bytes.
func (e Entity) Len() int { return e.End - e.Start }

// Overlaps reports whether the two half-open spans share at least one byte.
func (e Entity) Overlaps(o Entity) bool {
	return e.Start < o.End && o.Start < e.End
}

// List is an ordered sequence of entities: Start ascending, longer span first
// on equal starts. After Reconcile no two entries overlap.
type List []Entity

// Types returns the distinct entity types in list order.
func (l List) Types() []Type {
	seen := make(map[Type]bool, len(l))
	out := make([]Type, 0, len(l))
	for _, e := range l {
		if !seen[e.Type] {
			seen[e.Type] = true
			out = append(out, e.Type)
		}
	}
	return out
}

// CountByType returns how many entities of each type the list holds.
func (l List) CountByType() map[Type]int {
	out := make(map[Type]int)
	for _, e := range l {
		out[e.Type]++
	}
	return out
}

// Validate checks every entity against the buffer it claims to describe.
// It returns the first violation wrapped in ErrInvalidEntity.
func Validate(buffer string, l List) error {
	for i, e := range l {
		if e.Start < 0 || e.Start >= e.End || e.End > len(buffer) {
			return fmt.Errorf("%w: entity %d (%s) span [%d,%d) outside buffer of %d bytes",
				ErrInvalidEntity, i, e.Type, e.Start, e.End, len(buffer))
		}
		if buffer[e.Start:e.End] != e.Text {
			return fmt.Errorf("%w: entity %d (%s) text does not match buffer", ErrInvalidEntity, i, e.Type)
		}
	}
	return nil
}
