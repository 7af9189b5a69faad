package order

import (
	"errors"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// View presents server-sourced keyed collections, one per parent, in an order
// that stays stable across refetches.
//
// View owns one Ranks per parent. Callers never touch the stores directly; they go
// through Ordered, RefreshAll, Forget and Retain. View is safe for concurrent use.
type View[E any] struct {
	mu     sync.Mutex
	stores map[string]*Ranks
	memos  map[string]memo[E]
	equal  func(a, b E) bool
	log    *zap.Logger
}

type memo[E any] struct {
	in  []Entry[E]
	out []Entry[E]
}

type Option[E any] func(*View[E])

// WithEqual sets the entity comparison used to detect an unchanged refetch.
// The default is reflect.DeepEqual.
func WithEqual[E any](fn func(a, b E) bool) Option[E] {
	return func(v *View[E]) {
		if fn != nil {
			v.equal = fn
		}
	}
}

func WithLogger[E any](l *zap.Logger) Option[E] {
	return func(v *View[E]) {
		if l != nil {
			v.log = l
		}
	}
}

func NewView[E any](opts ...Option[E]) *View[E] {
	v := &View[E]{
		stores: map[string]*Ranks{},
		memos:  map[string]memo[E]{},
		equal:  func(a, b E) bool { return reflect.DeepEqual(a, b) },
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Ordered returns fresh ordered for parentID. A store is created the first time a
// parent is seen. Repeating a call with an unchanged collection returns the
// previous result without reconciling again.
func (v *View[E]) Ordered(parentID string, fresh []Entry[E]) ([]Entry[E], error) {
	if parentID == "" {
		return nil, errors.New("ordered view: missing parent id")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if m, ok := v.memos[parentID]; ok && v.sameInput(m.in, fresh) {
		return cloneEntries(m.out), nil
	}

	r := v.stores[parentID]
	created := r == nil
	if created {
		r = NewRanks()
	}
	before := r.Len()
	nextBefore := r.Next()

	out, err := Reconcile(r, fresh)
	if err != nil {
		v.log.Warn("rejecting malformed collection", zap.String("parent", parentID), zap.Error(err))
		return nil, err
	}
	if created {
		v.stores[parentID] = r
	}

	added := int(r.Next() - nextBefore)
	if removed := before + added - r.Len(); added > 0 || removed > 0 {
		v.log.Debug("reconciled collection",
			zap.String("parent", parentID),
			zap.Int("size", len(out)),
			zap.Int("added", added),
			zap.Int("removed", removed),
		)
	}

	v.memos[parentID] = memo[E]{in: cloneEntries(fresh), out: out}
	return cloneEntries(out), nil
}

func (v *View[E]) sameInput(prev, fresh []Entry[E]) bool {
	if len(prev) != len(fresh) {
		return false
	}
	for i := range prev {
		if prev[i].Key != fresh[i].Key || !v.equal(prev[i].Value, fresh[i].Value) {
			return false
		}
	}
	return true
}

// RefreshAll resets every tracked store. The next Ordered call for each parent
// adopts the order of that fetch, so positions may visibly reshuffle. This is
// meant for user-initiated full refreshes only.
func (v *View[E]) RefreshAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range v.stores {
		r.Reset()
	}
	v.memos = map[string]memo[E]{}
}

// Forget discards the store for a deleted parent.
func (v *View[E]) Forget(parentID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.stores, parentID)
	delete(v.memos, parentID)
}

// Retain discards stores for every parent not listed in parentIDs.
func (v *View[E]) Retain(parentIDs []string) {
	keep := make(map[string]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		keep[id] = struct{}{}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for id := range v.stores {
		if _, ok := keep[id]; !ok {
			delete(v.stores, id)
			delete(v.memos, id)
		}
	}
}

// Parents returns the ids of parents with a live store, sorted.
func (v *View[E]) Parents() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.stores))
	for id := range v.stores {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Rank reports the current rank of key under parentID.
func (v *View[E]) Rank(parentID, key string) (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := v.stores[parentID]
	if r == nil {
		return 0, false
	}
	return r.Rank(key)
}

func cloneEntries[E any](in []Entry[E]) []Entry[E] {
	if in == nil {
		return nil
	}
	out := make([]Entry[E], len(in))
	copy(out, in)
	return out
}
