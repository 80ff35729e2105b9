// Package resolver classifies the current facts of a key and resolves
// conflicts at read time.
//
// Nothing in this package writes to a store. A conflict is presented as a
// first-class state and, when a caller needs a single value, resolved with a
// fixed total order so that every device holding the same facts computes the
// same answer.
package resolver

import (
	"sort"

	"github.com/shoplane/factsync/src/fact"
)

// Kind is the classification of the current facts of a key.
type Kind int

const (
	// Absent means no current fact.
	Absent Kind = iota
	// Good means exactly one current fact.
	Good
	// Conflict means two or more current facts, none obsoleting another.
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Absent:
		return "Absent"
	case Good:
		return "Good"
	case Conflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// State is the classified state of one key. Facts holds the current facts,
// ordered by Compare, so the last one is the deterministic winner.
type State struct {
	Kind  Kind
	Facts []*fact.Fact
}

// Classify builds the State of a set of current facts. The input is not
// modified.
func Classify(facts []*fact.Fact) State {
	sorted := make([]*fact.Fact, len(facts))
	copy(sorted, facts)
	sort.Slice(sorted, func(i, j int) bool {
		return Compare(sorted[i], sorted[j]) < 0
	})

	switch len(sorted) {
	case 0:
		return State{Kind: Absent, Facts: sorted}
	case 1:
		return State{Kind: Good, Facts: sorted}
	default:
		return State{Kind: Conflict, Facts: sorted}
	}
}

// Compare is the total order used to resolve conflicts: facts are ordered by
// meta timestamp, then by hash. It returns -1, 0 or +1.
//
// Devices that disagree on this order disagree on resolved values, so it must
// never change.
func Compare(a, b *fact.Fact) int {
	switch {
	case a.Meta.Timestamp < b.Meta.Timestamp:
		return -1
	case a.Meta.Timestamp > b.Meta.Timestamp:
		return 1
	case a.Hash < b.Hash:
		return -1
	case a.Hash > b.Hash:
		return 1
	default:
		return 0
	}
}

// ResolveDeterministically returns the winning fact of a set: the maximum
// under Compare. It returns nil for an empty set. The result depends only on
// the set, not on its order.
func ResolveDeterministically(facts []*fact.Fact) *fact.Fact {
	var winner *fact.Fact
	for _, f := range facts {
		if winner == nil || Compare(f, winner) > 0 {
			winner = f
		}
	}
	return winner
}

// Value returns the resolved value of the state and false when it is Absent.
func (s State) Value() (string, bool) {
	w := s.Winner()
	if w == nil {
		return "", false
	}
	return w.Value, true
}

// Winner returns the fact whose value the state resolves to, or nil.
func (s State) Winner() *fact.Fact {
	if len(s.Facts) == 0 {
		return nil
	}
	return s.Facts[len(s.Facts)-1]
}

// Values returns the distinct values of the current facts, sorted.
func (s State) Values() []string {
	seen := make(map[string]bool)
	res := []string{}
	for _, f := range s.Facts {
		if !seen[f.Value] {
			seen[f.Value] = true
			res = append(res, f.Value)
		}
	}
	sort.Strings(res)
	return res
}

// Hashes returns the hashes of the current facts, in state order.
func (s State) Hashes() []string {
	res := make([]string, len(s.Facts))
	for i, f := range s.Facts {
		res[i] = f.Hash
	}
	return res
}
