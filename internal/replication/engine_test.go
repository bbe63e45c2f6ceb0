package replication

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/ohboy/herosync/handlers"
	"github.com/ohboy/herosync/internal/document"
	"github.com/ohboy/herosync/internal/localstore"
	"github.com/ohboy/herosync/internal/notify"
	"github.com/ohboy/herosync/internal/store"
	"github.com/ohboy/herosync/internal/view"
)

type syncServer struct {
	srv       *httptest.Server
	store     *store.Store
	hub       *notify.Hub
	feedCalls atomic.Int64
	gate      chan struct{} // non-nil: feed requests wait here first
	gateMu    sync.Mutex
}

func newSyncServer(t *testing.T) *syncServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &syncServer{hub: notify.NewHub()}
	t.Cleanup(s.hub.Close)
	s.store = store.New(store.NewMemoryRepo(), s.hub)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/feed") {
			s.feedCalls.Add(1)
			s.gateMu.Lock()
			gate := s.gate
			s.gateMu.Unlock()
			if gate != nil {
				<-gate
			}
		}
		c.Next()
	})
	handlers.RegisterSyncRoutes(r, s.store, s.hub)

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *syncServer) seed(t *testing.T, ids ...string) []document.Document {
	t.Helper()
	out := make([]document.Document, 0, len(ids))
	for _, id := range ids {
		d, err := s.store.Set(context.Background(), document.Document{ID: id, Name: "name-" + id})
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func (s *syncServer) changedURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/changed"
}

func newEngine(t *testing.T, s *syncServer, local localstore.Store, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Endpoint:     s.srv.URL,
		BatchSize:    2,
		LiveInterval: time.Hour, // polling must not interfere with tests
		MaxRetries:   2,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e := New(cfg, local)
	t.Cleanup(e.Stop)
	return e
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return !e.inFlight && !e.pendingRun
	}, 5*time.Second, 5*time.Millisecond)
}

func TestInitialPullDrains(t *testing.T) {
	s := newSyncServer(t)
	seeded := s.seed(t, "h1", "h2", "h3")

	local := localstore.NewMemory()
	e := newEngine(t, s, local, func(c *Config) { c.Initial = true })
	require.NoError(t, e.Start(context.Background()))

	all, err := local.All()
	require.NoError(t, err)
	require.Len(t, all, 3)

	cp, err := local.Checkpoint()
	require.NoError(t, err)
	require.Equal(t, seeded[2].Key(), cp)
}

func TestAwaitInitialReplicationHonorsContext(t *testing.T) {
	local := localstore.NewMemory()
	e := New(Config{Endpoint: "http://127.0.0.1:1", MaxRetries: 1}, local)
	t.Cleanup(e.Stop)
	require.NoError(t, e.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.AwaitInitialReplication(ctx), context.DeadlineExceeded)
}

func TestPushRoundTrip(t *testing.T) {
	s := newSyncServer(t)

	local := localstore.NewMemory()
	e := newEngine(t, s, local, func(c *Config) { c.Initial = true })
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, e.Upsert(document.Document{ID: "h1", Name: "Bob", Color: "red"}))
	waitIdle(t, e)

	// the server holds the stamped copy
	docs, err := s.store.Feed(context.Background(), document.Checkpoint{}, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "Bob", docs[0].Name)
	require.NotZero(t, docs[0].UpdatedAt)

	// the push was acknowledged and the echoed write pulled back
	pending, err := local.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)

	got, found, err := local.Get("h1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, docs[0], got)
}

func TestSecondClientObservesPush(t *testing.T) {
	s := newSyncServer(t)

	localA := localstore.NewMemory()
	a := newEngine(t, s, localA, func(c *Config) { c.Initial = true })
	require.NoError(t, a.Start(context.Background()))

	localB := localstore.NewMemory()
	b := newEngine(t, s, localB, func(c *Config) { c.Initial = true })
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, a.Upsert(document.Document{ID: "h1", Name: "Bob"}))
	waitIdle(t, a)

	var applied []document.Document
	var mu sync.Mutex
	localB.AddListener(func(d document.Document) {
		mu.Lock()
		applied = append(applied, d)
		mu.Unlock()
	})

	b.Run()
	waitIdle(t, b)

	// exactly once
	mu.Lock()
	require.Len(t, applied, 1)
	require.Equal(t, "h1", applied[0].ID)
	require.Equal(t, "Bob", applied[0].Name)
	mu.Unlock()

	b.Run()
	waitIdle(t, b)
	mu.Lock()
	require.Len(t, applied, 1, "drained feed must not re-deliver")
	mu.Unlock()
}

func TestTombstonePropagation(t *testing.T) {
	s := newSyncServer(t)

	localA := localstore.NewMemory()
	a := newEngine(t, s, localA, func(c *Config) { c.Initial = true })
	require.NoError(t, a.Start(context.Background()))

	localB := localstore.NewMemory()
	b := newEngine(t, s, localB, func(c *Config) { c.Initial = true })
	require.NoError(t, b.Start(context.Background()))
	viewB := view.New(localB)

	require.NoError(t, a.Upsert(document.Document{ID: "h1", Name: "Bob"}))
	waitIdle(t, a)
	b.Run()
	waitIdle(t, b)
	require.Len(t, viewB.Docs(), 1)

	require.NoError(t, a.Remove("h1"))
	waitIdle(t, a)
	b.Run()
	waitIdle(t, b)

	// view hides the tombstone, the store keeps it
	require.Empty(t, viewB.Docs())
	got, found, err := localB.Get("h1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.Deleted)
}

func TestConflictingWritersConverge(t *testing.T) {
	s := newSyncServer(t)
	s.seed(t, "h1")

	localA := localstore.NewMemory()
	a := newEngine(t, s, localA, func(c *Config) { c.Initial = true })
	require.NoError(t, a.Start(context.Background()))

	localB := localstore.NewMemory()
	b := newEngine(t, s, localB, func(c *Config) { c.Initial = true })
	require.NoError(t, b.Start(context.Background()))

	// both edit h1 from the same stale base; A pushes first, B second
	require.NoError(t, a.Upsert(document.Document{ID: "h1", Name: "from-A", Color: "red"}))
	waitIdle(t, a)
	require.NoError(t, b.Upsert(document.Document{ID: "h1", Name: "from-B"}))
	waitIdle(t, b)

	a.Run()
	waitIdle(t, a)
	b.Run()
	waitIdle(t, b)

	docA, _, err := localA.Get("h1")
	require.NoError(t, err)
	docB, _, err := localB.Get("h1")
	require.NoError(t, err)

	require.Equal(t, docB, docA, "replicas must converge")
	require.Equal(t, "from-B", docA.Name)
	require.Empty(t, docA.Color, "second write wholly overwrites the first")
}

func TestResumeFromPersistedCheckpoint(t *testing.T) {
	s := newSyncServer(t)
	seeded := s.seed(t, "h1", "h2", "h3", "h4", "h5")

	// a previous run applied documents 1-3 and persisted the checkpoint,
	// then crashed
	local := localstore.NewMemory()
	for _, d := range seeded[:3] {
		require.NoError(t, local.Apply(d))
	}
	require.NoError(t, local.SetCheckpoint(seeded[2].Key()))

	var applied []string
	var mu sync.Mutex
	local.AddListener(func(d document.Document) {
		mu.Lock()
		applied = append(applied, d.ID)
		mu.Unlock()
	})

	e := newEngine(t, s, local, func(c *Config) { c.Initial = true })
	require.NoError(t, e.Start(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"h4", "h5"}, applied, "must resume at document 4: no re-delivery, no skips")
}

func TestRunCoalescesConcurrentRequests(t *testing.T) {
	s := newSyncServer(t)

	gate := make(chan struct{})
	s.gateMu.Lock()
	s.gate = gate
	s.gateMu.Unlock()

	local := localstore.NewMemory()
	e := newEngine(t, s, local)
	require.NoError(t, e.Start(context.Background()))

	// first cycle's feed request is now blocked on the gate
	require.Eventually(t, func() bool { return s.feedCalls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	// a burst of triggers while a cycle is in flight collapses into one
	// queued cycle
	for i := 0; i < 10; i++ {
		e.Run()
	}

	s.gateMu.Lock()
	s.gate = nil
	s.gateMu.Unlock()
	close(gate)

	waitIdle(t, e)
	require.Equal(t, int64(2), s.feedCalls.Load(), "ten concurrent triggers must coalesce into one extra cycle")
}

func TestPoisonPillPushSkipped(t *testing.T) {
	s := newSyncServer(t)

	local := localstore.NewMemory()
	// bypass Upsert's validation: a schema-invalid document sits pending
	require.NoError(t, local.Put(document.Document{ID: "bad1"}))
	require.NoError(t, local.Put(document.Document{ID: "h1", Name: "Bob"}))

	e := newEngine(t, s, local, func(c *Config) { c.Initial = true })
	require.NoError(t, e.Start(context.Background()))
	waitIdle(t, e)

	// the rejected document is parked, the valid one was pushed
	dead, err := local.Dead()
	require.NoError(t, err)
	require.Equal(t, []string{"bad1"}, dead)

	pending, err := local.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)

	docs, err := s.store.Feed(context.Background(), document.Checkpoint{}, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "h1", docs[0].ID)

	// and the rejection was surfaced
	select {
	case err := <-e.Errors():
		require.Contains(t, err.Error(), "bad1")
	default:
		t.Fatal("expected a surfaced rejection on the error stream")
	}
}

func TestInvalidCheckpointHaltsPullNotPush(t *testing.T) {
	s := newSyncServer(t)
	s.seed(t, "h1")

	local := localstore.NewMemory()
	// a corrupted cursor the server will refuse to parse
	require.NoError(t, local.SetCheckpoint(document.Checkpoint{UpdatedAt: -7, ID: "x"}))

	e := newEngine(t, s, local)
	require.NoError(t, e.Start(context.Background()))
	waitIdle(t, e)

	e.pullHaltedMu.Lock()
	require.True(t, e.pullHalted)
	e.pullHaltedMu.Unlock()

	// push still works while pull is halted
	require.NoError(t, e.Upsert(document.Document{ID: "h2", Name: "Eve"}))
	waitIdle(t, e)
	docs, err := s.store.Feed(context.Background(), document.Checkpoint{}, 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// operator resets the checkpoint; pull resumes from the origin
	require.NoError(t, e.ResetCheckpoint())
	waitIdle(t, e)
	all, err := local.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestChangeEventTriggersImmediatePull(t *testing.T) {
	s := newSyncServer(t)

	local := localstore.NewMemory()
	e := newEngine(t, s, local, func(c *Config) {
		c.Initial = true
		c.ChangedURL = s.changedURL()
		c.InactivityTimeout = 5 * time.Second
	})
	require.NoError(t, e.Start(context.Background()))

	// wait for the channel subscription before writing
	require.Eventually(t, func() bool {
		return s.hub.Subscribers() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// a write from elsewhere: the event, not the hour-long poll interval,
	// must bring it over
	_, err := s.store.Set(context.Background(), document.Document{ID: "h9", Name: "Push"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, found, err := local.Get("h9")
		return err == nil && found
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStopDrainsInFlightCycle(t *testing.T) {
	s := newSyncServer(t)
	s.seed(t, "h1", "h2", "h3")

	local := localstore.NewMemory()
	e := newEngine(t, s, local, func(c *Config) { c.Initial = true })
	require.NoError(t, e.Start(context.Background()))

	e.Run()
	e.Stop() // must not panic or leave the worker running

	all, err := local.All()
	require.NoError(t, err)
	require.Len(t, all, 3)
}
