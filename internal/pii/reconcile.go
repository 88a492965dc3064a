package pii

import "sort"

// Ranker returns a precedence for a type; higher wins an exact-span tie
// between two entities from the same source. A nil Ranker ranks all types 0.
type Ranker func(Type) int

// Reconcile merges detector outputs into one List with no overlapping spans.
//
// Ordering: start ascending, span length descending, semantic before pattern,
// confidence descending, Ranker descending, type name ascending. The sweep
// keeps an entity only if it does not overlap any entity already kept; an
// overlapping entity is dropped whole, never split.
func Reconcile(rank Ranker, lists ...List) List {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	work := make(List, 0, n)
	for _, l := range lists {
		work = append(work, l...)
	}
	if len(work) == 0 {
		return List{}
	}

	sort.SliceStable(work, func(i, j int) bool {
		return less(rank, work[i], work[j])
	})

	out := make(List, 0, len(work))
	end := -1
	for _, e := range work {
		// Sorted by start, so overlap with any kept entity reduces to
		// overlap with the furthest end seen so far.
		if e.Start < end {
			continue
		}
		out = append(out, e)
		end = e.End
	}
	return out
}

func less(rank Ranker, a, b Entity) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.Len() != b.Len() {
		return a.Len() > b.Len()
	}
	if a.Source != b.Source {
		return a.Source == SourceSemantic
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if rank != nil {
		if ra, rb := rank(a.Type), rank(b.Type); ra != rb {
			return ra > rb
		}
	}
	return a.Type < b.Type
}

// dedupKey identifies one literal value of one type across pages.
type dedupKey struct {
	typ  Type
	text string
}

// Accumulator collects entities across repeated detection calls (one per
// page) and drops any later entity whose (type, text) pair was already
// collected. It is not safe for concurrent use: feed it from one goroutine.
type Accumulator struct {
	seen map[dedupKey]bool
	list List
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{seen: make(map[dedupKey]bool)}
}

// Add appends the entities of l that have not been seen, in order, and
// returns how many were new.
func (a *Accumulator) Add(l List) int {
	added := 0
	for _, e := range l {
		k := dedupKey{typ: e.Type, text: e.Text}
		if a.seen[k] {
			continue
		}
		a.seen[k] = true
		a.list = append(a.list, e)
		added++
	}
	return added
}

// List returns a copy of everything accumulated so far.
func (a *Accumulator) List() List {
	out := make(List, len(a.list))
	copy(out, a.list)
	return out
}

// Len returns the number of distinct (type, text) pairs collected.
func (a *Accumulator) Len() int { return len(a.list) }
