// Package view maintains the client's live read projection over the locally
// replicated collection.
package view

import (
	"sort"
	"sync"

	"github.com/ohboy/herosync/internal/document"
	"github.com/ohboy/herosync/internal/localstore"
)

// View is a sorted, filtered snapshot of the local store: name ascending,
// tombstones excluded. It recomputes synchronously whenever the replication
// engine (or a local edit) applies a document; the underlying store keeps
// the tombstones for replication bookkeeping.
type View struct {
	local localstore.Store

	mu       sync.RWMutex
	docs     []document.Document
	watchers []chan struct{}
}

func New(local localstore.Store) *View {
	v := &View{local: local}
	local.AddListener(func(document.Document) { v.refresh() })
	v.refresh()
	return v
}

// Docs returns the current projection.
func (v *View) Docs() []document.Document {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]document.Document, len(v.docs))
	copy(out, v.docs)
	return out
}

// Watch returns a channel that receives a signal after every recompute.
// Signals are collapsed: a slow reader sees at least one.
func (v *View) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)
	v.mu.Lock()
	v.watchers = append(v.watchers, ch)
	v.mu.Unlock()
	return ch
}

func (v *View) refresh() {
	all, err := v.local.All()
	if err != nil {
		// keep showing the last good projection
		return
	}

	out := all[:0]
	for _, d := range all {
		if !d.Deleted {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})

	v.mu.Lock()
	v.docs = out
	watchers := v.watchers
	v.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
