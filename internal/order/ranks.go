package order

// Ranks assigns each key a monotonic integer rank the first time it is seen.
//
// Ranks are never handed out twice for the lifetime of a Ranks value (excluding
// Reset): a key that is pruned and later reappears gets a fresh, higher rank, so
// a different entity reusing an old key does not inherit a stale position.
//
// Ranks is not safe for concurrent use; View serializes access.
type Ranks struct {
	byKey map[string]int64
	next  int64
}

func NewRanks() *Ranks {
	return &Ranks{byKey: map[string]int64{}}
}

// Ensure returns the rank for key, allocating the next rank if key is untracked.
func (r *Ranks) Ensure(key string) int64 {
	if rank, ok := r.byKey[key]; ok {
		return rank
	}
	rank := r.next
	r.next++
	r.byKey[key] = rank
	return rank
}

// Rank returns the tracked rank for key without allocating.
func (r *Ranks) Rank(key string) (int64, bool) {
	rank, ok := r.byKey[key]
	return rank, ok
}

// Prune forgets every tracked key not in present. Call it after Ensure has been
// applied to all present keys of a pass.
func (r *Ranks) Prune(present map[string]struct{}) {
	for k := range r.byKey {
		if _, ok := present[k]; !ok {
			delete(r.byKey, k)
		}
	}
}

// Reset forgets all keys and restarts numbering at zero.
func (r *Ranks) Reset() {
	r.byKey = map[string]int64{}
	r.next = 0
}

func (r *Ranks) Len() int { return len(r.byKey) }

// Next is the rank the next unseen key will receive.
func (r *Ranks) Next() int64 { return r.next }
