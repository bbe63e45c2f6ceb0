package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ohboy/herosync/internal/document"
)

// MemoryRepo is a mutex-guarded in-memory repository, used for unit tests
// and for running the server without a configured MongoDB.
type MemoryRepo struct {
	mu   sync.RWMutex
	docs map[string]document.Document
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{docs: make(map[string]document.Document)}
}

func (m *MemoryRepo) Get(ctx context.Context, id string) (document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return document.Document{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryRepo) Set(ctx context.Context, doc document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *MemoryRepo) Feed(ctx context.Context, since document.Checkpoint, limit int) ([]document.Document, error) {
	m.mu.RLock()
	out := make([]document.Document, 0, len(m.docs))
	for _, d := range m.docs {
		if since.Admits(d) {
			out = append(out, d)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return document.Less(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
