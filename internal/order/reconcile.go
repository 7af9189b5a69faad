package order

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedCollection is returned when a fetched collection is not a valid
// key -> entity mapping. Nothing is mutated when it is returned.
var ErrMalformedCollection = errors.New("malformed collection")

// Entry is one element of a fetched collection, in the order the server sent it.
// The server's order is used only to break first-seen ties within a single pass.
type Entry[E any] struct {
	Key   string
	Value E
}

// Validate checks that entries form a mapping: every key non-empty and unique.
func Validate[E any](entries []Entry[E]) error {
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			return fmt.Errorf("%w: empty key at position %d", ErrMalformedCollection, i)
		}
		if _, dup := seen[e.Key]; dup {
			return fmt.Errorf("%w: duplicate key %q", ErrMalformedCollection, e.Key)
		}
		seen[e.Key] = struct{}{}
	}
	return nil
}

// Reconcile merges a freshly fetched collection into r and returns the entities
// sorted by ascending rank.
//
// Previously seen keys keep their rank regardless of where they appear in fresh;
// unseen keys are ranked in the order they appear. Keys missing from fresh are
// pruned. Malformed input returns ErrMalformedCollection and leaves r untouched.
func Reconcile[E any](r *Ranks, fresh []Entry[E]) ([]Entry[E], error) {
	if r == nil {
		return nil, errors.New("reconcile: nil ranks")
	}
	if err := Validate(fresh); err != nil {
		return nil, err
	}

	present := make(map[string]struct{}, len(fresh))
	ranked := make([]rankedEntry[E], 0, len(fresh))
	for _, e := range fresh {
		present[e.Key] = struct{}{}
		ranked = append(ranked, rankedEntry[E]{rank: r.Ensure(e.Key), entry: e})
	}
	r.Prune(present)

	// Ranks are unique within a store, so no tie-break is needed.
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].rank < ranked[j].rank })

	out := make([]Entry[E], len(ranked))
	for i := range ranked {
		out[i] = ranked[i].entry
	}
	return out, nil
}

type rankedEntry[E any] struct {
	rank  int64
	entry Entry[E]
}

// Keys returns the keys of entries in order.
func Keys[E any](entries []Entry[E]) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

// Values returns the values of entries in order.
func Values[E any](entries []Entry[E]) []E {
	out := make([]E, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}
