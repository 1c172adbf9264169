package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophstore/internal/repositories/metadata"
	"github.com/dmitrijs2005/gophstore/internal/resumable"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTracker(t *testing.T) (*Tracker, *resumable.Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := resumable.New(metadata.NewMemoryRepository())
	return New(store, WithClock(c.now)), store, c
}

type failingPaused struct {
	PausedStore
	err error
}

func (f failingPaused) SavePaused(context.Context, resumable.PausedTransfer) error { return f.err }

func TestAdd_CreatesInProgress(t *testing.T) {
	tr, _, _ := newTracker(t)

	id := tr.Add(Descriptor{Name: "a.bin", Kind: KindUpload, Keys: []string{"a.bin"}, TotalSize: 100})
	require.NotEmpty(t, id)

	got, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, "a.bin", got.Key())
	assert.Zero(t, got.Progress)
	assert.Nil(t, got.ETA)

	other := tr.Add(Descriptor{Name: "b", Kind: KindDownload})
	assert.NotEqual(t, id, other)
	assert.Len(t, tr.List(), 2)
}

func TestUpdateProgress_PercentInvariant(t *testing.T) {
	tr, _, _ := newTracker(t)
	id := tr.Add(Descriptor{Name: "f", Kind: KindUpload, TotalSize: 3})

	cases := []struct {
		loaded int64
		want   int
	}{
		{loaded: 1, want: 33},
		{loaded: 2, want: 67},
		{loaded: -5, want: 0},
		{loaded: 10, want: 100},
	}
	for _, tc := range cases {
		tr.UpdateProgress(id, tc.loaded, 3)
		got, _ := tr.Get(id)
		assert.Equal(t, tc.want, got.Progress, "loaded=%d", tc.loaded)
		assert.GreaterOrEqual(t, got.Loaded, int64(0))
		assert.LessOrEqual(t, got.Loaded, got.TotalSize)
	}
}

func TestUpdateProgress_RateIsDebounced(t *testing.T) {
	tr, _, c := newTracker(t)
	id := tr.Add(Descriptor{Name: "f", Kind: KindUpload, TotalSize: 10_000})

	c.advance(100 * time.Millisecond)
	tr.UpdateProgress(id, 1_000, 10_000)
	got, _ := tr.Get(id)
	assert.Zero(t, got.Rate, "rate must not be computed before the interval elapses")
	assert.Nil(t, got.ETA)

	c.advance(900 * time.Millisecond)
	tr.UpdateProgress(id, 2_000, 10_000)
	got, _ = tr.Get(id)
	assert.InDelta(t, 2_000, got.Rate, 0.001)
	require.NotNil(t, got.ETA)
	assert.Equal(t, 4*time.Second, *got.ETA)

	c.advance(time.Second)
	tr.UpdateProgress(id, 4_000, 10_000)
	got, _ = tr.Get(id)
	assert.InDelta(t, 2_000*0.7+2_000*0.3, got.Rate, 0.001)
}

func TestUpdateProgress_UnknownIDIsNoop(t *testing.T) {
	tr, _, _ := newTracker(t)
	assert.NotPanics(t, func() { tr.UpdateProgress("nope", 1, 2) })
	assert.Empty(t, tr.List())
}

func TestUpdateProgress_KeepsKnownTotal(t *testing.T) {
	tr, _, _ := newTracker(t)
	id := tr.Add(Descriptor{Name: "folder", Kind: KindDownload})

	tr.UpdateProgress(id, 50, 200)
	tr.UpdateProgress(id, 100, 0)
	got, _ := tr.Get(id)
	assert.Equal(t, int64(200), got.TotalSize)
	assert.Equal(t, 50, got.Progress)
}

func TestPauseResume_PreservesLoaded(t *testing.T) {
	tr, store, _ := newTracker(t)
	ctx := context.Background()

	cancelled := false
	id := tr.Add(Descriptor{
		Name: "video.mp4", Kind: KindUpload, Keys: []string{"media/video.mp4"},
		TotalSize: 100_000, Cancel: func() { cancelled = true },
	})
	tr.UpdateProgress(id, 40_000, 100_000)

	require.NoError(t, tr.Pause(ctx, id))
	assert.True(t, cancelled)

	got, _ := tr.Get(id)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Zero(t, got.Rate)
	assert.Nil(t, got.ETA)

	snap, err := store.Paused(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(40_000), snap.Loaded)
	assert.Equal(t, int64(100_000), snap.Total)
	assert.Equal(t, "media/video.mp4", snap.Key)
	assert.Equal(t, "upload", snap.Kind)

	newID, ok := tr.Resume(ctx, id)
	require.True(t, ok)
	assert.NotEqual(t, id, newID)

	resumed, ok := tr.Get(newID)
	require.True(t, ok)
	assert.Equal(t, int64(40_000), resumed.Loaded)
	assert.Equal(t, 40, resumed.Progress)
	assert.Equal(t, id, resumed.ResumeOf)
	assert.Equal(t, StatusInProgress, resumed.Status)

	_, ok = tr.Get(id)
	assert.False(t, ok, "old transfer is replaced by the resumed one")

	snap, err = store.Paused(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestResume_WithoutSnapshot(t *testing.T) {
	tr, _, _ := newTracker(t)
	id, ok := tr.Resume(context.Background(), "missing")
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestPause_IgnoresUpdatesWhilePaused(t *testing.T) {
	tr, _, _ := newTracker(t)
	id := tr.Add(Descriptor{Name: "f", Kind: KindUpload, TotalSize: 10})
	tr.UpdateProgress(id, 4, 10)
	require.NoError(t, tr.Pause(context.Background(), id))

	tr.UpdateProgress(id, 9, 10)
	got, _ := tr.Get(id)
	assert.Equal(t, int64(4), got.Loaded)
}

func TestPause_StoreFailure(t *testing.T) {
	boom := errors.New("disk full")
	tr := New(failingPaused{err: boom})
	id := tr.Add(Descriptor{Name: "f", Kind: KindUpload, TotalSize: 10})

	require.ErrorIs(t, tr.Pause(context.Background(), id), boom)
	got, _ := tr.Get(id)
	assert.Equal(t, StatusPaused, got.Status)
}

func TestComplete(t *testing.T) {
	tr, _, c := newTracker(t)
	id := tr.Add(Descriptor{Name: "f", Kind: KindUpload, TotalSize: 10})
	c.advance(time.Second)
	tr.UpdateProgress(id, 5, 10)

	tr.Complete(id)
	got, _ := tr.Get(id)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Zero(t, got.Rate)
	assert.Nil(t, got.ETA)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, c.t, *got.CompletedAt)
}

func TestFail_RecordsMessage(t *testing.T) {
	tr, _, _ := newTracker(t)
	id := tr.Add(Descriptor{Name: "f", Kind: KindDownload})

	tr.Fail(id, errors.New("network unreachable"))
	got, _ := tr.Get(id)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "network unreachable", got.Error)
	assert.NotNil(t, got.ErroredAt)
	assert.NotPanics(t, func() { tr.Fail("unknown", nil) })
}

func TestCancel_NeverBecomesCompleted(t *testing.T) {
	tr, store, _ := newTracker(t)
	ctx := context.Background()
	ctxOp, cancel := context.WithCancel(ctx)
	id := tr.Add(Descriptor{Name: "f", Kind: KindUpload, TotalSize: 10, Cancel: cancel})

	require.NoError(t, tr.Pause(ctx, id))
	tr.Cancel(ctx, id)
	assert.ErrorIs(t, ctxOp.Err(), context.Canceled)

	tr.Complete(id)
	tr.Fail(id, errors.New("late"))
	got, _ := tr.Get(id)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Empty(t, got.Error)

	snap, err := store.Paused(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestRemove(t *testing.T) {
	tr, store, _ := newTracker(t)
	ctx := context.Background()
	id := tr.Add(Descriptor{Name: "f", Kind: KindUpload, TotalSize: 10})
	require.NoError(t, tr.Pause(ctx, id))

	tr.Remove(ctx, id)
	_, ok := tr.Get(id)
	assert.False(t, ok)
	snap, err := store.Paused(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, snap)

	assert.NotPanics(t, func() { tr.Remove(ctx, "unknown") })
}

func TestMarkCompressing(t *testing.T) {
	tr, _, _ := newTracker(t)
	id := tr.Add(Descriptor{Name: "folder.zip", Kind: KindDownload})
	tr.MarkCompressing(id)
	got, _ := tr.Get(id)
	assert.Equal(t, StatusCompressing, got.Status)

	tr.Complete(id)
	tr.MarkCompressing(id)
	got, _ = tr.Get(id)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestSubscribe_LatestWinsAndClosesOnTerminal(t *testing.T) {
	tr, _, _ := newTracker(t)
	id := tr.Add(Descriptor{Name: "f", Kind: KindUpload, TotalSize: 100})

	ch, stop := tr.Subscribe(id)
	defer stop()

	first := <-ch
	assert.Zero(t, first.Loaded)

	tr.UpdateProgress(id, 10, 100)
	tr.UpdateProgress(id, 20, 100)
	tr.UpdateProgress(id, 30, 100)
	latest := <-ch
	assert.Equal(t, int64(30), latest.Loaded)

	tr.Complete(id)
	final, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, final.Status)
	_, ok = <-ch
	assert.False(t, ok)

	select {
	case <-tr.Done(id):
	default:
		t.Fatal("done must be closed after completion")
	}
}

func TestSubscribe_UnknownAndStop(t *testing.T) {
	tr, _, _ := newTracker(t)

	ch, stop := tr.Subscribe("missing")
	_, ok := <-ch
	assert.False(t, ok)
	stop()

	id := tr.Add(Descriptor{Name: "f", Kind: KindUpload})
	ch, stop = tr.Subscribe(id)
	<-ch
	stop()
	stop()
	_, ok = <-ch
	assert.False(t, ok)

	select {
	case <-tr.Done("missing"):
	default:
		t.Fatal("done of unknown id must be closed")
	}
}

func TestDone_ClosedOnRemove(t *testing.T) {
	tr, _, _ := newTracker(t)
	id := tr.Add(Descriptor{Name: "f", Kind: KindRestore})
	done := tr.Done(id)

	select {
	case <-done:
		t.Fatal("done closed too early")
	default:
	}
	tr.Remove(context.Background(), id)
	<-done
}
