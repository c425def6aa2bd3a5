package oscipc

import (
	"sort"
	"sync"
)

// registry maps live connection IDs to connections. One mutex guards the
// map, the ID counter and the closed flag, and it is never held across I/O.
type registry struct {
	mu     sync.Mutex
	nextID ConnID
	conns  map[ConnID]Connection
	closed bool
	limit  int
}

func newRegistry(limit int) *registry {
	return &registry{
		conns: make(map[ConnID]Connection),
		limit: limit,
	}
}

// insert allocates the next ID, builds the connection for it and stores it,
// all under the lock. build must not block.
func (r *registry) insert(build func(id ConnID) Connection) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrServerClosed
	}
	if r.limit > 0 && len(r.conns) >= r.limit {
		return nil, ErrTooManyConnections
	}

	id := r.nextID
	r.nextID++

	c := build(id)
	r.conns[id] = c
	return c, nil
}

// remove deletes id and reports whether it was present.
func (r *registry) remove(id ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

func (r *registry) lookup(id ConnID) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	return c, ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// ids returns the registered IDs in ascending order.
func (r *registry) ids() []ConnID {
	r.mu.Lock()
	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *registry) snapshot() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// drain empties the registry, refuses further inserts and returns what was in it.
func (r *registry) drain() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	conns := make([]Connection, 0, len(r.conns))
	for id, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, id)
	}
	return conns
}
