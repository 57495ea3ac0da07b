package store

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"followup/internal/model"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, log.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSuppressAndCheck(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Suppress(ctx, model.Suppression{
		ConversationID: "c1", LatestMessageID: "m1", Owner: "Jane@Example.com", Subject: "Budget",
	}))

	ok, err := s.IsSuppressed(ctx, "c1", "m1", "jane@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsSuppressed(ctx, "c1", "m2", "jane@example.com")
	require.NoError(t, err)
	assert.False(t, ok, "new latest message reactivates the thread")

	ok, _ = s.IsSuppressed(ctx, "c1", "m1", "other@example.com")
	assert.False(t, ok)
}

func TestSuppressIsUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	first := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Suppress(ctx, model.Suppression{ConversationID: "c1", LatestMessageID: "m1", Owner: "a@x.com", Reason: "old", SuppressedAt: first}))
	require.NoError(t, s.Suppress(ctx, model.Suppression{ConversationID: "c1", LatestMessageID: "m1", Owner: "a@x.com", Reason: "new", SuppressedAt: first.Add(time.Hour)}))

	list, err := s.List(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].Reason)
	assert.True(t, list[0].SuppressedAt.Equal(first.Add(time.Hour)))
}

func TestSuppressRejectsIncompleteKey(t *testing.T) {
	s := testStore(t)
	err := s.Suppress(context.Background(), model.Suppression{ConversationID: "c1", Owner: "a@x.com"})
	assert.ErrorIs(t, err, ErrIncompleteKey)
}

func TestUnsuppress(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Suppress(ctx, model.Suppression{ConversationID: "c1", LatestMessageID: "m1", Owner: "a@x.com"}))

	removed, err := s.Unsuppress(ctx, "c1", "m1", "A@x.com")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Unsuppress(ctx, "c1", "m1", "a@x.com")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestExpire(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Suppress(ctx, model.Suppression{ConversationID: "old", LatestMessageID: "m", Owner: "a@x.com", SuppressedAt: now.AddDate(0, 0, -15)}))
	require.NoError(t, s.Suppress(ctx, model.Suppression{ConversationID: "new", LatestMessageID: "m", Owner: "a@x.com", SuppressedAt: now.AddDate(0, 0, -1)}))

	n, err := s.Expire(ctx, 14*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ok, _ := s.IsSuppressed(ctx, "old", "m", "a@x.com")
	assert.False(t, ok)
	ok, _ = s.IsSuppressed(ctx, "new", "m", "a@x.com")
	assert.True(t, ok)
}

func TestOpenWithExpiry(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "exp.db")
	s, err := Open(dbPath, log.New(io.Discard))
	require.NoError(t, err)
	require.NoError(t, s.Suppress(context.Background(), model.Suppression{
		ConversationID: "c", LatestMessageID: "m", Owner: "a@x.com", SuppressedAt: time.Now().AddDate(0, 0, -30),
	}))
	require.NoError(t, s.Close())

	s, err = Open(dbPath, log.New(io.Discard), WithExpiry(14*24*time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	list, err := s.List(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestIsSuppressedHonoursExpiry(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ttl.db")
	s, err := Open(dbPath, log.New(io.Discard), WithExpiry(14*24*time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	// The store stays open while marks age past the ttl.
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	require.NoError(t, s.Suppress(ctx, model.Suppression{ConversationID: "old", LatestMessageID: "m", Owner: "a@x.com", SuppressedAt: now.AddDate(0, 0, -15)}))
	require.NoError(t, s.Suppress(ctx, model.Suppression{ConversationID: "edge", LatestMessageID: "m", Owner: "a@x.com", SuppressedAt: now.AddDate(0, 0, -14)}))
	require.NoError(t, s.Suppress(ctx, model.Suppression{ConversationID: "new", LatestMessageID: "m", Owner: "a@x.com", SuppressedAt: now.AddDate(0, 0, -13)}))

	ok, err := s.IsSuppressed(ctx, "old", "m", "a@x.com")
	require.NoError(t, err)
	assert.False(t, ok, "older than the ttl")
	ok, err = s.IsSuppressed(ctx, "edge", "m", "a@x.com")
	require.NoError(t, err)
	assert.True(t, ok, "exactly the ttl has not expired")
	ok, err = s.IsSuppressed(ctx, "new", "m", "a@x.com")
	require.NoError(t, err)
	assert.True(t, ok)

	// Without an expiry every mark counts.
	plain := testStore(t)
	plain.now = s.now
	require.NoError(t, plain.Suppress(ctx, model.Suppression{ConversationID: "old", LatestMessageID: "m", Owner: "a@x.com", SuppressedAt: now.AddDate(0, 0, -400)}))
	ok, err = plain.IsSuppressed(ctx, "old", "m", "a@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListOrderAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, s.Suppress(ctx, model.Suppression{ConversationID: id, LatestMessageID: "m", Owner: "a@x.com", SuppressedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	list, err := s.List(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c3", "c2", "c1"}, []string{list[0].ConversationID, list[1].ConversationID, list[2].ConversationID})

	sup, ok, err := s.Get(ctx, "c2", "m", "a@x.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", sup.Owner)

	_, ok, err = s.Get(ctx, "c9", "m", "a@x.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentSuppress(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Suppress(ctx, model.Suppression{
				ConversationID: fmt.Sprintf("c%d", i%10), LatestMessageID: "m", Owner: "a@x.com", Reason: fmt.Sprint(i),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	list, err := s.List(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Len(t, list, 10)
}

func TestRunHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rep := model.Report{RunID: fmt.Sprintf("run-%d", i), Mailbox: "A@x.com", NoAction: i, TotalProcessed: 10,
			Urgent: []model.Result{{ConversationID: "c"}}}
		at := start.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.RecordRun(ctx, NewRunRecord(rep, at, at.Add(time.Minute), "file")))
	}

	runs, err := s.RecentRuns(ctx, "a@x.com", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, 1, runs[0].Urgent)
	assert.Equal(t, 2, runs[0].NoAction)
	assert.Equal(t, "file", runs[0].Delivery)
	assert.True(t, runs[0].StartedAt.Equal(start.Add(2*time.Hour)))
}

func TestPing(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Ping(context.Background()))
	s.Close()
	assert.ErrorIs(t, s.Ping(context.Background()), ErrStorage)
}
