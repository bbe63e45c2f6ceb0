package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ohboy/herosync/internal/document"
	"github.com/ohboy/herosync/pkg/logger"
	"github.com/ohboy/herosync/pkg/metrics"
)

var (
	ErrNotFound = errors.New("document not found")

	// ErrUnavailable marks a transient persistence failure; callers retry.
	ErrUnavailable = errors.New("store unavailable")
)

// DefaultFeedLimit bounds feed batches when the caller passes no limit.
const DefaultFeedLimit = 50

// Repository is the persistence abstraction underneath the Store. Feed must
// return documents strictly past the checkpoint in (updatedAt, id) order;
// Set is an atomic upsert by id.
type Repository interface {
	Feed(ctx context.Context, since document.Checkpoint, limit int) ([]document.Document, error)
	Get(ctx context.Context, id string) (document.Document, error)
	Set(ctx context.Context, doc document.Document) error
}

// Notifier receives the id of every accepted write.
type Notifier interface {
	Publish(id string)
}

// Store is the authoritative source of truth for one collection. It owns
// version-stamp assignment and serializes writes, so the (updatedAt, id)
// total order used by feeds is stable.
//
// Conflict policy is last-write-wins by arrival order: Set wholly replaces
// any existing document with the same id, no field-level merge. Two clients
// racing from stale bases both succeed; the later write wins and the loser
// observes the overwrite on its next pull.
type Store struct {
	repo     Repository
	notifier Notifier

	mu        sync.Mutex
	lastStamp int64
	now       func() int64
}

func New(repo Repository, notifier Notifier) *Store {
	return &Store{
		repo:     repo,
		notifier: notifier,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Set validates, version-stamps and persists doc, then announces the change.
// The stored copy is returned. CreatedAt is immutable: an existing
// document's value is preserved, a new document without one gets the stamp.
func (s *Store) Set(ctx context.Context, doc document.Document) (document.Document, error) {
	if err := doc.Validate(); err != nil {
		return document.Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := s.clock()

	prev, err := s.repo.Get(ctx, doc.ID)
	switch {
	case err == nil:
		doc.CreatedAt = prev.CreatedAt
		// an overwrite must move the document's (updatedAt, id) order
		// key forward, or clients already past it would never observe
		// the new version
		if stamp <= prev.UpdatedAt {
			stamp = prev.UpdatedAt + 1
			s.lastStamp = stamp
		}
	case errors.Is(err, ErrNotFound):
		if doc.CreatedAt == 0 {
			doc.CreatedAt = stamp
		}
	default:
		return document.Document{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	doc.UpdatedAt = stamp

	if err := s.repo.Set(ctx, doc); err != nil {
		return document.Document{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	metrics.DocumentsSet.Inc()
	logger.Debugf("set %s updatedAt=%d deleted=%v", doc.ID, doc.UpdatedAt, doc.Deleted)

	if s.notifier != nil {
		s.notifier.Publish(doc.ID)
	}
	return doc, nil
}

// Feed returns up to limit documents strictly past since, ascending by
// (updatedAt, id). A short batch means the checkpoint is exhausted.
func (s *Store) Feed(ctx context.Context, since document.Checkpoint, limit int) ([]document.Document, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	docs, err := s.repo.Feed(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	metrics.FeedBatches.Inc()
	return docs, nil
}

// clock returns unix seconds, forced non-decreasing so a wall-clock step
// backwards cannot reorder the feed. Two writes in the same second share a
// stamp and are disambiguated by id. Callers hold s.mu.
func (s *Store) clock() int64 {
	t := s.now()
	if t < s.lastStamp {
		t = s.lastStamp
	}
	s.lastStamp = t
	return t
}
