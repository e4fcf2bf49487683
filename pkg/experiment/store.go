package experiment

import "sync"

// entry pairs one experiment's durable record with its volatile progress
// state under a single lock. All reads and writes of either go through that
// lock, so concurrent parser updates, API reads, and lifecycle transitions
// serialize per experiment without a global bottleneck.
type entry struct {
	mu  sync.Mutex
	rec *Record
	vol *Volatile
}

// StateStore is the in-memory registry of experiments. The outer RWMutex
// guards only the map structure; per-experiment state is guarded by each
// entry's own lock.
type StateStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStateStore returns an empty store.
func NewStateStore() *StateStore {
	return &StateStore{entries: make(map[string]*entry)}
}

// Register adds a record to the store. The store takes ownership of rec;
// callers must not retain and mutate it afterwards. Registering an id twice
// replaces the previous entry.
func (s *StateStore) Register(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[rec.ID] = &entry{rec: rec, vol: &Volatile{}}
}

func (s *StateStore) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// WithLock runs fn with exclusive access to the experiment's record and
// volatile state. Returns ErrNotFound for unknown ids; otherwise fn's error.
func (s *StateStore) WithLock(id string, fn func(rec *Record, vol *Volatile) error) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.rec, e.vol)
}

// Snapshot returns a consistent copy of one experiment's record and
// progress.
func (s *StateStore) Snapshot(id string) (Snapshot, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Experiment: *e.rec.Clone(),
		Progress:   buildProgress(e.rec, e.vol),
	}, nil
}

// List returns cloned records for every registered experiment, in no
// particular order.
func (s *StateStore) List() []*Record {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec.Clone())
		e.mu.Unlock()
	}
	return out
}

// Remove deletes the experiment from the store. Returns false for unknown
// ids.
func (s *StateStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// Has reports whether the id is registered.
func (s *StateStore) Has(id string) bool {
	_, ok := s.lookup(id)
	return ok
}

// NameTaken reports whether any registered experiment already uses the
// name.
func (s *StateStore) NameTaken(name string) bool {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		match := e.rec.Name == name
		e.mu.Unlock()
		if match {
			return true
		}
	}
	return false
}

// Len returns the number of registered experiments.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
