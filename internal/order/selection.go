package order

import "sync"

// Selection holds local UI state per (parent, key), independent of the entity's
// server-side attributes. Sync drops state for keys that vanished and leaves
// present keys untouched, so an in-progress edit survives background refreshes.
type Selection[S any] struct {
	mu      sync.Mutex
	parents map[string]map[string]S
}

func NewSelection[S any]() *Selection[S] {
	return &Selection[S]{parents: map[string]map[string]S{}}
}

func (s *Selection[S]) Get(parentID, key string) (S, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.parents[parentID][key]
	return st, ok
}

func (s *Selection[S]) Set(parentID, key string, st S) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.parents[parentID]
	if m == nil {
		m = map[string]S{}
		s.parents[parentID] = m
	}
	m[key] = st
}

// Update applies fn to the current state (the zero value when absent) and stores the result.
func (s *Selection[S]) Update(parentID, key string, fn func(S) S) S {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.parents[parentID]
	if m == nil {
		m = map[string]S{}
		s.parents[parentID] = m
	}
	st := fn(m[key])
	m[key] = st
	return st
}

// UpdateExisting is Update for state that is already present; it never
// creates an entry.
func (s *Selection[S]) UpdateExisting(parentID, key string, fn func(S) S) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.parents[parentID][key]
	if !ok {
		return false
	}
	s.parents[parentID][key] = fn(st)
	return true
}

func (s *Selection[S]) Delete(parentID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.parents[parentID]
	if m == nil {
		return
	}
	delete(m, key)
	if len(m) == 0 {
		delete(s.parents, parentID)
	}
}

// Sync drops entries under parentID whose key is not in present and returns the
// dropped keys.
func (s *Selection[S]) Sync(parentID string, present []string) []string {
	keep := make(map[string]struct{}, len(present))
	for _, k := range present {
		keep[k] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.parents[parentID]
	var dropped []string
	for k := range m {
		if _, ok := keep[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k)
		}
	}
	if m != nil && len(m) == 0 {
		delete(s.parents, parentID)
	}
	return dropped
}

func (s *Selection[S]) ForgetParent(parentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parents, parentID)
}

// RetainParents drops state for every parent not listed.
func (s *Selection[S]) RetainParents(parentIDs []string) {
	keep := make(map[string]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		keep[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.parents {
		if _, ok := keep[id]; !ok {
			delete(s.parents, id)
		}
	}
}

// Snapshot returns a copy of the state tracked under parentID.
func (s *Selection[S]) Snapshot(parentID string) map[string]S {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]S, len(s.parents[parentID]))
	for k, v := range s.parents[parentID] {
		out[k] = v
	}
	return out
}
