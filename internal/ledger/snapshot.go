package ledger

// Snapshot is an immutable view of the ledger mapping. The zero value is an
// empty ledger.
type Snapshot struct {
	entries map[string]Entry
}

// NewSnapshot copies entries into a new Snapshot.
func NewSnapshot(entries map[string]Entry) Snapshot {
	return Snapshot{entries: clone(entries, 0)}
}

// Contains reports whether the fingerprint has been published.
func (s Snapshot) Contains(fingerprint string) bool {
	_, ok := s.entries[fingerprint]
	return ok
}

// Get returns the entry for a fingerprint.
func (s Snapshot) Get(fingerprint string) (Entry, bool) {
	e, ok := s.entries[fingerprint]
	return e, ok
}

// Len returns the number of fingerprints.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// With returns a new Snapshot that also contains e, keyed by e.Hash.
func (s Snapshot) With(e Entry) Snapshot {
	next := clone(s.entries, 1)
	next[e.Hash] = e
	return Snapshot{entries: next}
}

// Entries returns a copy of the mapping.
func (s Snapshot) Entries() map[string]Entry {
	return clone(s.entries, 0)
}

func clone(src map[string]Entry, extra int) map[string]Entry {
	dst := make(map[string]Entry, len(src)+extra)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
