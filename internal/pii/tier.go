package pii

import (
	"fmt"
	"strings"
)

// Tier is an ordered sensitivity level. A caller selecting tier T redacts
// every entity whose type maps to a tier <= T.
type Tier int

// Tiers, lowest first.
const (
	TierBasic Tier = iota
	TierIntermediate
	TierCritical
)

// DefaultTier is used whenever a tier string is missing or unrecognized.
const DefaultTier = TierBasic

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierIntermediate:
		return "intermediate"
	case TierCritical:
		return "critical"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier converts a tier name (case-insensitive) to a Tier.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return TierBasic, true
	case "intermediate":
		return TierIntermediate, true
	case "critical":
		return TierCritical, true
	}
	return DefaultTier, false
}

// TierOrDefault parses s and falls back to DefaultTier on any invalid value.
func TierOrDefault(s string) Tier {
	t, _ := ParseTier(s)
	return t
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names are an error
// so configuration files fail loudly; request parameters use TierOrDefault.
func (t *Tier) UnmarshalText(b []byte) error {
	v, ok := ParseTier(string(b))
	if !ok {
		return fmt.Errorf("unknown sensitivity tier %q", string(b))
	}
	*t = v
	return nil
}

// TierMap is the static type → tier mapping. It is built once and never
// mutated, so it is safe to share between goroutines.
type TierMap struct {
	m map[Type]Tier
}

// NewTierMap copies the given mapping.
func NewTierMap(m map[Type]Tier) TierMap {
	cp := make(map[Type]Tier, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return TierMap{m: cp}
}

// Of returns the tier for typ. Unmapped types are basic, so unclassified
// detections are always redacted.
func (tm TierMap) Of(typ Type) Tier {
	if t, ok := tm.m[typ]; ok {
		return t
	}
	return TierBasic
}

// Types returns every explicitly mapped type.
func (tm TierMap) Types() []Type {
	out := make([]Type, 0, len(tm.m))
	for t := range tm.m {
		out = append(out, t)
	}
	return out
}

// Filter keeps the entities whose type tier is <= tier, preserving order.
func Filter(l List, tm TierMap, tier Tier) List {
	out := make(List, 0, len(l))
	for _, e := range l {
		if tm.Of(e.Type) <= tier {
			out = append(out, e)
		}
	}
	return out
}
