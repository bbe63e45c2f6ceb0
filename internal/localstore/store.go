// Package localstore holds one client's replicated copy of a collection,
// together with the replication bookkeeping that must survive restarts: the
// pull checkpoint, the set of locally pending (not yet acknowledged)
// document ids, and the dead set of rejected ids.
package localstore

import (
	"sort"
	"sync"

	"github.com/ohboy/herosync/internal/document"
)

// Store is owned by exactly one replication engine instance per collection.
type Store interface {
	// Apply upserts a document delivered by a pull. Idempotent: applying
	// the same document twice is a no-op.
	Apply(doc document.Document) error
	// Put upserts a local edit and marks it pending for the next push.
	Put(doc document.Document) error
	Get(id string) (document.Document, bool, error)
	// All returns every stored document, tombstones included.
	All() ([]document.Document, error)

	Checkpoint() (document.Checkpoint, error)
	SetCheckpoint(cp document.Checkpoint) error

	// Pending returns the current content of every not-yet-acknowledged
	// document.
	Pending() ([]document.Document, error)
	// Ack clears the pending mark after the server accepted the push.
	Ack(id string) error
	// Reject moves a pending id to the dead set so a poison document is
	// never retried.
	Reject(id string) error
	Dead() ([]string, error)

	// AddListener registers a callback fired after every Apply and Put.
	// The reactive view recomputes from it.
	AddListener(fn func(document.Document))

	Close() error
}

// Memory is an ephemeral Store for tests and throwaway clients.
type Memory struct {
	mu       sync.RWMutex
	docs     map[string]document.Document
	pending  map[string]struct{}
	dead     map[string]struct{}
	cp       document.Checkpoint
	listener listenerSet
}

func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string]document.Document),
		pending: make(map[string]struct{}),
		dead:    make(map[string]struct{}),
	}
}

func (m *Memory) Apply(doc document.Document) error {
	m.mu.Lock()
	m.docs[doc.ID] = doc
	m.mu.Unlock()
	m.listener.fire(doc)
	return nil
}

func (m *Memory) Put(doc document.Document) error {
	m.mu.Lock()
	m.docs[doc.ID] = doc
	m.pending[doc.ID] = struct{}{}
	m.mu.Unlock()
	m.listener.fire(doc)
	return nil
}

func (m *Memory) Get(id string) (document.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	return d, ok, nil
}

func (m *Memory) All() ([]document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]document.Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	return out, nil
}

func (m *Memory) Checkpoint() (document.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cp, nil
}

func (m *Memory) SetCheckpoint(cp document.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cp = cp
	return nil
}

func (m *Memory) Pending() ([]document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]document.Document, 0, len(m.pending))
	for id := range m.pending {
		if d, ok := m.docs[id]; ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Ack(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

func (m *Memory) Reject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	m.dead[id] = struct{}{}
	return nil
}

func (m *Memory) Dead() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.dead))
	for id := range m.dead {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) AddListener(fn func(document.Document)) {
	m.listener.add(fn)
}

func (m *Memory) Close() error { return nil }

// listenerSet is shared by the Store implementations; callbacks run on the
// mutating goroutine, outside the store lock.
type listenerSet struct {
	mu  sync.RWMutex
	fns []func(document.Document)
}

func (l *listenerSet) add(fn func(document.Document)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = append(l.fns, fn)
}

func (l *listenerSet) fire(doc document.Document) {
	l.mu.RLock()
	fns := l.fns
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(doc)
	}
}
