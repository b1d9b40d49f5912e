// Package symbol implements the process-wide string<->dense-id
// mapping shared by the normalizer, distributor, publisher, and
// replayer. Ids are gap-free, immutable once assigned, and id 0 is
// reserved as invalid.
//
// Grounded on _examples/original_source/src/common/symbol_registry.{hpp,cpp};
// the double-checked-locking shape mirrors the RWMutex pattern used
// throughout the teacher's registries and caches.
package symbol

import "sync"

// Registry is safe for concurrent use by many readers and occasional
// writers.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]uint32
	byID     []string // index 0 unused (invalid id)
	nextID   uint32
}

// New returns an empty registry with id 0 reserved.
func New() *Registry {
	return &Registry{
		byName: make(map[string]uint32),
		byID:   []string{""}, // placeholder for id 0
		nextID: 1,
	}
}

// GetOrAdd returns the id for name, assigning the next id in
// first-seen order if it hasn't been seen before. Concurrent callers
// racing on the same new name are guaranteed the winner assigns once
// and everyone observes the same id.
func (r *Registry) GetOrAdd(name string) uint32 {
	r.mu.RLock()
	if id, ok := r.byName[name]; ok {
		r.mu.RUnlock()
		return id
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byName[name]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	r.byName[name] = id
	r.byID = append(r.byID, name)
	return id
}

// ByID returns the name for id, or "" if id is 0 or out of range.
func (r *Registry) ByID(id uint32) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == 0 || int(id) >= len(r.byID) {
		return ""
	}
	return r.byID[id]
}

// Entry is one (id, name) pair returned by Snapshot.
type Entry struct {
	ID   uint32
	Name string
}

// Snapshot returns every registered mapping in id order.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.byID)-1)
	for id := 1; id < len(r.byID); id++ {
		out = append(out, Entry{ID: uint32(id), Name: r.byID[id]})
	}
	return out
}

// Len returns the number of distinct symbols registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID) - 1
}
