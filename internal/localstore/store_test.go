package localstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ohboy/herosync/internal/document"
)

// both implementations must behave identically
func forEachStore(t *testing.T, run func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		run(t, NewMemory())
	})
	t.Run("badger", func(t *testing.T) {
		s, err := OpenBadgerInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		run(t, s)
	})
}

func TestApplyAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		doc := document.Document{ID: "h1", Name: "Bob", UpdatedAt: 10}
		require.NoError(t, s.Apply(doc))

		got, found, err := s.Get("h1")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, doc, got)

		// idempotent re-apply
		require.NoError(t, s.Apply(doc))
		all, err := s.All()
		require.NoError(t, err)
		require.Len(t, all, 1)

		_, found, err = s.Get("missing")
		require.NoError(t, err)
		require.False(t, found)
	})
}

func TestPutMarksPendingAckClears(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		require.NoError(t, s.Put(document.Document{ID: "h1", Name: "Bob"}))
		require.NoError(t, s.Put(document.Document{ID: "h2", Name: "Eve"}))

		pending, err := s.Pending()
		require.NoError(t, err)
		require.Len(t, pending, 2)
		require.Equal(t, "h1", pending[0].ID)

		require.NoError(t, s.Ack("h1"))
		pending, err = s.Pending()
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, "h2", pending[0].ID)
	})
}

func TestRejectMovesToDeadSet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		require.NoError(t, s.Put(document.Document{ID: "h1", Name: "Bob"}))
		require.NoError(t, s.Reject("h1"))

		pending, err := s.Pending()
		require.NoError(t, err)
		require.Empty(t, pending)

		dead, err := s.Dead()
		require.NoError(t, err)
		require.Equal(t, []string{"h1"}, dead)
	})
}

func TestCheckpointRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		cp, err := s.Checkpoint()
		require.NoError(t, err)
		require.True(t, cp.IsZero())

		want := document.Checkpoint{UpdatedAt: 42, ID: "h7"}
		require.NoError(t, s.SetCheckpoint(want))

		cp, err = s.Checkpoint()
		require.NoError(t, err)
		require.Equal(t, want, cp)
	})
}

func TestListenerFires(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		var seen []string
		s.AddListener(func(d document.Document) { seen = append(seen, d.ID) })

		require.NoError(t, s.Apply(document.Document{ID: "h1", Name: "a"}))
		require.NoError(t, s.Put(document.Document{ID: "h2", Name: "b"}))
		require.Equal(t, []string{"h1", "h2"}, seen)
	})
}

func TestBadgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(document.Document{ID: "h1", Name: "Bob"}))
	require.NoError(t, s.SetCheckpoint(document.Checkpoint{UpdatedAt: 9, ID: "h1"}))
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir)
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.Get("h1")
	require.NoError(t, err)
	require.True(t, found)

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	cp, err := s.Checkpoint()
	require.NoError(t, err)
	require.Equal(t, document.Checkpoint{UpdatedAt: 9, ID: "h1"}, cp)
}
