package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

func testStore(t *testing.T) *FS {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	tick := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	return s.WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
}

func commitOne(t *testing.T, s *FS, dataset, version, body string) *Commit {
	t.Helper()
	ctx := context.Background()
	id, err := s.Put(ctx, []byte(body))
	require.NoError(t, err)
	c, err := s.Commit(ctx, CommitInput{
		Refs:    map[string]string{RefName(dataset, version): id},
		Message: fmt.Sprintf("publish %s v%s", dataset, version),
		Author:  "tester",
	})
	require.NoError(t, err)
	return c
}

func TestPutIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	b, err := s.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	require.Equal(t, a, b)

	entries, err := os.ReadDir(filepath.Join(s.root, "objects"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, err := s.Get(ctx, a)
	require.NoError(t, err)
	require.Equal(t, "same bytes", string(got))
}

func TestGetUnknownObject(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), strings.Repeat("ab", 32))
	require.True(t, contracts.IsKind(err, contracts.KindNotFound))

	_, err = s.Get(context.Background(), "short")
	require.True(t, contracts.IsKind(err, contracts.KindHistoryIO))
}

func TestCommitChainAndLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := commitOne(t, s, "orders", "1.0.0", "orders v1")
	second := commitOne(t, s, "orders", "1.1.0", "orders v1.1")

	require.Empty(t, first.Parents)
	require.Equal(t, []string{first.ID}, second.Parents)
	require.NotEqual(t, first.ID, second.ID)
	require.Len(t, first.ID, 64)

	head, err := s.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, second.ID, head)

	log, err := s.Log(ctx, 0, "")
	require.NoError(t, err)
	require.Len(t, log, 2)
	require.Equal(t, second.ID, log[0].ID, "log lists newest first")
	require.Equal(t, first.ID, log[1].ID)

	limited, err := s.Log(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, second.ID, limited[0].ID)
}

func TestLogSinceBoundsTheListing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := commitOne(t, s, "orders", "1.0.0", "orders v1")
	second := commitOne(t, s, "orders", "1.1.0", "orders v1.1")
	third := commitOne(t, s, "orders", "1.2.0", "orders v1.2")

	// Only commits made after `since`, newest first; `since` itself is
	// excluded.
	log, err := s.Log(ctx, 0, first.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	require.Equal(t, third.ID, log[0].ID)
	require.Equal(t, second.ID, log[1].ID)

	// An abbreviated id resolves like diff arguments do.
	log, err = s.Log(ctx, 0, second.Short())
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.Equal(t, third.ID, log[0].ID)

	// The limit applies after the bound.
	log, err = s.Log(ctx, 1, first.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.Equal(t, third.ID, log[0].ID)

	// Since the head excludes everything.
	log, err = s.Log(ctx, 0, third.ID)
	require.NoError(t, err)
	require.Empty(t, log)

	// An unknown bound is a not_found, not a silent full listing.
	_, err = s.Log(ctx, 0, strings.Repeat("ef", 32))
	require.True(t, contracts.IsKind(err, contracts.KindNotFound))
}

func TestCommitRequiresStoredRefs(t *testing.T) {
	s := testStore(t)
	_, err := s.Commit(context.Background(), CommitInput{
		Refs:    map[string]string{"orders_v1.0.0": strings.Repeat("00", 32)},
		Message: "dangling",
	})
	require.True(t, contracts.IsKind(err, contracts.KindHistoryIO))

	_, err = s.Commit(context.Background(), CommitInput{Message: "empty"})
	require.True(t, contracts.IsKind(err, contracts.KindHistoryIO))
}

func TestCommitExpectedHead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Pointer to the empty string asserts an empty repository.
	empty := ""
	id, err := s.Put(ctx, []byte("v1"))
	require.NoError(t, err)
	first, err := s.Commit(ctx, CommitInput{
		Refs:         map[string]string{RefName("orders", "1.0.0"): id},
		ExpectedHead: &empty,
	})
	require.NoError(t, err)

	// A stale expectation loses.
	id2, err := s.Put(ctx, []byte("v2"))
	require.NoError(t, err)
	_, err = s.Commit(ctx, CommitInput{
		Refs:         map[string]string{RefName("orders", "1.1.0"): id2},
		ExpectedHead: &empty,
	})
	require.True(t, contracts.IsKind(err, contracts.KindHistoryConflict))

	// The losing attempt wrote nothing.
	log, err := s.Log(ctx, 0, "")
	require.NoError(t, err)
	require.Len(t, log, 1)

	// The current head wins; nil skips the check entirely.
	_, err = s.Commit(ctx, CommitInput{
		Refs:         map[string]string{RefName("orders", "1.1.0"): id2},
		ExpectedHead: &first.ID,
	})
	require.NoError(t, err)
	id3, err := s.Put(ctx, []byte("v3"))
	require.NoError(t, err)
	_, err = s.Commit(ctx, CommitInput{
		Refs: map[string]string{RefName("orders", "1.2.0"): id3},
	})
	require.NoError(t, err)
}

func TestRefReadResolvesNewest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	commitOne(t, s, "orders", "1.0.0", "old body")
	want := commitOne(t, s, "orders", "1.0.0", "new body")

	blob, c, err := s.RefRead(ctx, RefName("orders", "1.0.0"))
	require.NoError(t, err)
	require.Equal(t, "new body", string(blob))
	require.Equal(t, want.ID, c.ID)

	_, _, err = s.RefRead(ctx, RefName("orders", "9.9.9"))
	require.True(t, contracts.IsKind(err, contracts.KindNotFound))
}

func TestDiscardKeepsReferencedBlobs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	staged, err := s.Put(ctx, []byte("never committed"))
	require.NoError(t, err)
	committed := commitOne(t, s, "orders", "1.0.0", "committed body")
	committedBlob := committed.Refs[RefName("orders", "1.0.0")]

	require.NoError(t, s.Discard(ctx, staged))
	_, err = s.Get(ctx, staged)
	require.True(t, contracts.IsKind(err, contracts.KindNotFound))

	require.NoError(t, s.Discard(ctx, committedBlob))
	got, err := s.Get(ctx, committedBlob)
	require.NoError(t, err)
	require.Equal(t, "committed body", string(got))
}

func TestTagSemantics(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := commitOne(t, s, "orders", "1.0.0", "v1")
	second := commitOne(t, s, "orders", "1.1.0", "v1.1")

	require.NoError(t, s.Tag(ctx, first.ID, "q2-baseline"))
	require.NoError(t, s.Tag(ctx, first.ID, "q2-baseline"), "re-tagging to the same commit is a no-op")

	err := s.Tag(ctx, second.ID, "q2-baseline")
	require.True(t, contracts.IsKind(err, contracts.KindHistoryConflict))

	err = s.Tag(ctx, strings.Repeat("ff", 32), "nowhere")
	require.True(t, contracts.IsKind(err, contracts.KindNotFound))

	err = s.Tag(ctx, first.ID, "bad/name")
	require.True(t, contracts.IsKind(err, contracts.KindHistoryIO))
}

func TestHeadHealsFromLog(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	want := commitOne(t, s, "orders", "1.0.0", "v1")

	// Simulate a crash between log append and head update.
	require.NoError(t, os.Remove(filepath.Join(dir, "refs", "heads", "main")))

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	head, err := reopened.Head(context.Background())
	require.NoError(t, err)
	require.Equal(t, want.ID, head)
}

func TestOpenRejectsForeignFormat(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "format"), []byte("something-else/9\n"), 0o644))
	_, err := Open(dir, nil)
	require.True(t, contracts.IsKind(err, contracts.KindHistoryIO))
}

func TestReopenPreservesHistory(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	first := commitOne(t, s, "orders", "1.0.0", "v1")

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	log, err := reopened.Log(context.Background(), 0, "")
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.Equal(t, first.ID, log[0].ID)

	blob, _, err := reopened.RefRead(context.Background(), RefName("orders", "1.0.0"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(blob))
}

func TestDiffByRefAndDatasetName(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := commitOne(t, s, "orders", "1.0.0", "line one\nline two\n")
	second := commitOne(t, s, "orders", "1.1.0", "line one\nline two changed\nline three\n")

	// Dataset-name resolution picks the latest human-readable ref at each end.
	out, err := s.Diff(ctx, first.ID, second.ID, "orders")
	require.NoError(t, err)
	require.Contains(t, out, "--- orders@"+first.Short())
	require.Contains(t, out, "+++ orders@"+second.Short())
	require.Contains(t, out, "-line two")
	require.Contains(t, out, "+line two changed")
	require.Contains(t, out, "+line three")

	// Exact refs pin a single version regardless of later commits.
	same, err := s.Diff(ctx, first.ID, second.ID, RefName("orders", "1.0.0"))
	require.NoError(t, err)
	require.NotContains(t, same, "+line three")

	_, err = s.Diff(ctx, "deadbeef", second.ID, "orders")
	require.True(t, contracts.IsKind(err, contracts.KindNotFound))

	_, err = s.Diff(ctx, first.ID, second.ID, "unknown_dataset")
	require.True(t, contracts.IsKind(err, contracts.KindNotFound))
}

func TestDatasetOf(t *testing.T) {
	require.Equal(t, "orders", DatasetOf("orders_v1.2.0"))
	require.Equal(t, "orders", DatasetOf("orders_v1.2.0.struct"))
	require.Equal(t, "customer_events", DatasetOf("customer_events_v2.0.0"))
	require.Equal(t, "plain", DatasetOf("plain"))
}

func TestConcurrentCommitsSingleWriterPerDataset(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Put(ctx, []byte(fmt.Sprintf("body %d", i)))
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = s.Commit(ctx, CommitInput{
				Refs:    map[string]string{RefName("orders", fmt.Sprintf("1.%d.0", i)): id},
				Message: fmt.Sprintf("writer %d", i),
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	log, err := s.Log(ctx, 0, "")
	require.NoError(t, err)
	require.Len(t, log, writers)
	// Every non-initial commit chains to exactly the commit before it.
	for i := 0; i < len(log)-1; i++ {
		require.Equal(t, []string{log[i+1].ID}, log[i].Parents)
	}
	require.Empty(t, log[len(log)-1].Parents)
}
