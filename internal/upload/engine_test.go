package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophstore/internal/activity"
	"github.com/dmitrijs2005/gophstore/internal/chunking"
	"github.com/dmitrijs2005/gophstore/internal/common"
	"github.com/dmitrijs2005/gophstore/internal/objstore"
	"github.com/dmitrijs2005/gophstore/internal/objstore/memstore"
	"github.com/dmitrijs2005/gophstore/internal/repositories/metadata"
	"github.com/dmitrijs2005/gophstore/internal/resumable"
	"github.com/dmitrijs2005/gophstore/internal/retry"
	"github.com/dmitrijs2005/gophstore/internal/tracker"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, BackoffFactor: 2}

type activityRecorder struct {
	mu      sync.Mutex
	records []activity.Record
	err     error
}

func (a *activityRecorder) Log(_ context.Context, r activity.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
	return a.err
}

func (a *activityRecorder) all() []activity.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]activity.Record(nil), a.records...)
}

type fixture struct {
	store    *memstore.Store
	tracker  *tracker.Tracker
	state    *resumable.Store
	activity *activityRecorder
	engine   *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		state:    resumable.New(metadata.NewMemoryRepository()),
		activity: &activityRecorder{},
	}
	f.tracker = tracker.New(f.state)
	opts = append([]Option{WithRetryPolicy(fastPolicy), WithActivity(f.activity)}, opts...)
	f.engine = New(f.store, f.tracker, f.state, opts...)
	return f
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/4096)
	}
	return b
}

func source(name string, data []byte) Source {
	return Source{Name: name, Size: int64(len(data)), Reader: bytes.NewReader(data)}
}

func (f *fixture) onlyTransfer(t *testing.T) tracker.Transfer {
	t.Helper()
	list := f.tracker.List()
	require.Len(t, list, 1)
	return list[0]
}

func TestUpload_SmallFileSinglePut(t *testing.T) {
	f := newFixture(t)
	data := payload(1024)

	res, err := f.engine.Upload(context.Background(), source("notes.txt", data), "./docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "docs/notes.txt", res.Key)
	assert.Equal(t, chunking.SinglePut, res.Strategy)

	got, ok := f.store.Object("docs/notes.txt")
	require.True(t, ok)
	assert.Equal(t, data, got)
	assert.Equal(t, 1, f.store.Count(memstore.OpPut))
	assert.Zero(t, f.store.Count(memstore.OpCreateMultipart))

	tr := f.onlyTransfer(t)
	assert.Equal(t, tracker.StatusCompleted, tr.Status)
	assert.Equal(t, 100, tr.Progress)

	recs := f.activity.all()
	require.Len(t, recs, 1)
	assert.Equal(t, activity.Record{
		Action: activity.ActionUpload, ItemName: "notes.txt", Size: 1024, FileCount: 1, FolderPath: "docs",
	}, recs[0])
}

func TestUpload_NormalizesKeyBeforeAnyCall(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Upload(context.Background(), source("a.txt", payload(10)), `.\dir\sub\a.txt\`)
	require.NoError(t, err)
	assert.Equal(t, "dir/sub/a.txt", res.Key)
	for _, c := range f.store.Calls() {
		assert.Equal(t, "dir/sub/a.txt", c.Key)
	}
}

func TestUpload_InvalidKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Upload(context.Background(), source("a.txt", payload(10)), "./")
	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.ErrorIs(t, err, common.ErrInvalidKey)
	assert.Empty(t, f.store.Calls())
	assert.Empty(t, f.tracker.List())
}

func TestUpload_SinglePutFallsBackWhenMemoryIsLow(t *testing.T) {
	f := newFixture(t, WithMemoryProbe(func(int64) bool { return false }))
	data := payload(3 * 1024)

	res, err := f.engine.Upload(context.Background(), source("a.bin", data), "a.bin")
	require.NoError(t, err)
	assert.Equal(t, chunking.ManualMultipart, res.Strategy)
	assert.Zero(t, f.store.Count(memstore.OpPut))
	assert.Equal(t, 1, f.store.Count(memstore.OpCreateMultipart))

	got, _ := f.store.Object("a.bin")
	assert.Equal(t, data, got)
}

type failingReaderAt struct{ err error }

func (r failingReaderAt) ReadAt([]byte, int64) (int, error) { return 0, r.err }

func TestUpload_UnreadableSourceFailsAfterFallback(t *testing.T) {
	f := newFixture(t)
	src := Source{Name: "bad.bin", Size: 100, Reader: failingReaderAt{err: errors.New("io error")}}

	_, err := f.engine.Upload(context.Background(), src, "bad.bin")
	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "bad.bin", uerr.Key)
	assert.Equal(t, 1, f.store.Count(memstore.OpAbortMultipart))
	assert.Zero(t, f.store.OpenUploads())
	assert.Equal(t, tracker.StatusError, f.onlyTransfer(t).Status)
}

// 30 MiB goes through the buffered multipart path in six 5 MiB parts.
func TestUpload_InMemoryMultipartPartThreeFailsPermanently(t *testing.T) {
	f := newFixture(t)
	data := payload(30 * int(common.MiB))
	f.store.SetFault(func(op memstore.Op, _ string, part int32) error {
		if op == memstore.OpUploadPart && part == 3 {
			return errors.New("throttled")
		}
		return nil
	})

	res, err := f.engine.Upload(context.Background(), source("video.mp4", data), "media/video.mp4")
	require.Error(t, err)
	assert.Equal(t, chunking.InMemoryMultipart, res.Strategy)

	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Contains(t, err.Error(), "throttled")

	part3 := 0
	for _, c := range f.store.Calls() {
		if c.Op == memstore.OpUploadPart && c.PartNumber == 3 {
			part3++
		}
	}
	assert.Equal(t, 3, part3)
	assert.Equal(t, 1, f.store.Count(memstore.OpAbortMultipart))
	assert.Zero(t, f.store.Count(memstore.OpCompleteMultipart))
	assert.Zero(t, f.store.OpenUploads())

	tr := f.onlyTransfer(t)
	assert.Equal(t, tracker.StatusError, tr.Status)
	assert.Contains(t, tr.Error, "throttled")
	assert.Empty(t, f.activity.all())
}

func TestUpload_InMemoryMultipartRecoversAfterRetries(t *testing.T) {
	f := newFixture(t)
	data := payload(30 * int(common.MiB))
	var mu sync.Mutex
	failures := 0
	f.store.SetFault(func(op memstore.Op, _ string, part int32) error {
		mu.Lock()
		defer mu.Unlock()
		if op == memstore.OpUploadPart && part == 3 && failures < 2 {
			failures++
			return errors.New("connection reset")
		}
		return nil
	})

	_, err := f.engine.Upload(context.Background(), source("video.mp4", data), "media/video.mp4")
	require.NoError(t, err)

	got, _ := f.store.Object("media/video.mp4")
	assert.Equal(t, data, got)

	parts := f.store.CompletedParts("media/video.mp4")
	require.Len(t, parts, 6)
	for i, p := range parts {
		assert.Equal(t, int32(i+1), p.PartNumber)
	}

	recs := f.activity.all()
	require.Len(t, recs, 1)
	assert.Equal(t, activity.ActionUpload, recs[0].Action)
	assert.Equal(t, int64(len(data)), recs[0].Size)
}

func TestUpload_ManagedPathReportsProgress(t *testing.T) {
	f := newFixture(t)
	f.engine.strategyFor = func(int64) chunking.Strategy { return chunking.Managed }
	data := payload(2 * int(common.MiB))

	res, err := f.engine.Upload(context.Background(), source("disk.img", data), "images/disk.img")
	require.NoError(t, err)
	assert.Equal(t, chunking.Managed, res.Strategy)
	assert.Equal(t, 1, f.store.Count(memstore.OpManagedUpload))

	got, _ := f.store.Object("images/disk.img")
	assert.Equal(t, data, got)
	tr := f.onlyTransfer(t)
	assert.Equal(t, int64(len(data)), tr.Loaded)
	assert.Equal(t, tracker.StatusCompleted, tr.Status)
}

func TestUpload_ManagedFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.engine.strategyFor = func(int64) chunking.Strategy { return chunking.Managed }
	f.store.SetFault(func(op memstore.Op, _ string, _ int32) error {
		if op == memstore.OpManagedUpload {
			return errors.New("access denied")
		}
		return nil
	})

	_, err := f.engine.Upload(context.Background(), source("disk.img", payload(128)), "disk.img")
	require.ErrorContains(t, err, "access denied")
	assert.Equal(t, tracker.StatusError, f.onlyTransfer(t).Status)
}

func manualFixture(t *testing.T) *fixture {
	f := newFixture(t)
	f.engine.strategyFor = func(int64) chunking.Strategy { return chunking.ManualMultipart }
	return f
}

func TestUpload_ManualMultipartSavesAndClearsState(t *testing.T) {
	f := manualFixture(t)
	ctx := context.Background()
	data := payload(12 * int(common.MiB))

	var sawState bool
	f.store.SetFault(func(op memstore.Op, key string, part int32) error {
		if op == memstore.OpUploadPart && part == 1 {
			st, err := f.state.GetSavedUploadState(ctx, key)
			sawState = err == nil && st != nil && st.Size == int64(len(data))
		}
		return nil
	})

	_, err := f.engine.Upload(ctx, source("big.iso", data), "big.iso")
	require.NoError(t, err)
	assert.True(t, sawState, "state must be saved right after the session is created")

	parts := f.store.CompletedParts("big.iso")
	require.Len(t, parts, 3)
	got, _ := f.store.Object("big.iso")
	assert.Equal(t, data, got)

	st, err := f.state.GetSavedUploadState(ctx, "big.iso")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestUpload_ManualMultipartPauseThenResume(t *testing.T) {
	f := manualFixture(t)
	ctx := context.Background()
	data := payload(12 * int(common.MiB))

	var pausedID string
	f.store.SetFault(func(op memstore.Op, _ string, part int32) error {
		if op == memstore.OpUploadPart && part == 3 && pausedID == "" {
			pausedID = f.tracker.List()[0].ID
			require.NoError(t, f.tracker.Pause(ctx, pausedID))
			return context.Canceled
		}
		return nil
	})

	_, err := f.engine.Upload(ctx, source("big.iso", data), "big.iso")
	require.ErrorIs(t, err, common.ErrPaused)
	assert.Zero(t, f.store.Count(memstore.OpAbortMultipart))
	assert.Equal(t, 1, f.store.OpenUploads())

	tr, ok := f.tracker.Get(pausedID)
	require.True(t, ok)
	assert.Equal(t, tracker.StatusPaused, tr.Status)
	assert.Equal(t, 10*common.MiB, tr.Loaded)

	st, err := f.state.GetSavedUploadState(ctx, "big.iso")
	require.NoError(t, err)
	require.NotNil(t, st)

	newID, ok := f.tracker.Resume(ctx, pausedID)
	require.True(t, ok)
	resumed, _ := f.tracker.Get(newID)
	assert.Equal(t, 10*common.MiB, resumed.Loaded)

	res, err := f.engine.Upload(ctx, source("big.iso", data), "big.iso", ResumeOf(newID))
	require.NoError(t, err)
	assert.Equal(t, newID, res.TransferID)
	assert.Equal(t, 1, f.store.Count(memstore.OpCreateMultipart))
	assert.Equal(t, 1, f.store.Count(memstore.OpListParts))

	perPart := map[int32]int{}
	for _, c := range f.store.Calls() {
		if c.Op == memstore.OpUploadPart {
			perPart[c.PartNumber]++
		}
	}
	assert.Equal(t, map[int32]int{1: 1, 2: 1, 3: 2}, perPart)

	got, _ := f.store.Object("big.iso")
	assert.Equal(t, data, got)
	done, _ := f.tracker.Get(newID)
	assert.Equal(t, tracker.StatusCompleted, done.Status)
}

func TestUpload_ManualMultipartStaleSessionStartsOver(t *testing.T) {
	f := manualFixture(t)
	ctx := context.Background()
	data := payload(6 * int(common.MiB))
	require.NoError(t, f.state.SaveUploadState(ctx, "big.iso", "vanished", int64(len(data)), "big.iso"))

	_, err := f.engine.Upload(ctx, source("big.iso", data), "big.iso")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Count(memstore.OpListParts))
	assert.Equal(t, 1, f.store.Count(memstore.OpCreateMultipart))

	got, _ := f.store.Object("big.iso")
	assert.Equal(t, data, got)
}

func TestUpload_ManualMultipartSizeMismatchStartsOver(t *testing.T) {
	f := manualFixture(t)
	ctx := context.Background()
	oldID, err := f.store.CreateMultipart(ctx, "big.iso", "application/octet-stream")
	require.NoError(t, err)
	require.NoError(t, f.state.SaveUploadState(ctx, "big.iso", oldID, 999, "big.iso"))

	_, err = f.engine.Upload(ctx, source("big.iso", payload(1024)), "big.iso")
	require.NoError(t, err)
	assert.Zero(t, f.store.Count(memstore.OpListParts))
	assert.Equal(t, 1, f.store.Count(memstore.OpAbortMultipart))
	assert.Zero(t, f.store.OpenUploads())
}

func TestUpload_CancelAbortsSession(t *testing.T) {
	f := manualFixture(t)
	ctx := context.Background()
	data := payload(12 * int(common.MiB))

	f.store.SetFault(func(op memstore.Op, _ string, part int32) error {
		if op == memstore.OpUploadPart && part == 2 {
			f.tracker.Cancel(ctx, f.tracker.List()[0].ID)
			return context.Canceled
		}
		return nil
	})

	_, err := f.engine.Upload(ctx, source("big.iso", data), "big.iso")
	require.ErrorIs(t, err, common.ErrCancelled)
	assert.Equal(t, 1, f.store.Count(memstore.OpAbortMultipart))
	assert.Zero(t, f.store.OpenUploads())

	st, err := f.state.GetSavedUploadState(ctx, "big.iso")
	require.NoError(t, err)
	assert.Nil(t, st)

	tr := f.onlyTransfer(t)
	assert.Equal(t, tracker.StatusCancelled, tr.Status)
	assert.Empty(t, f.activity.all())
}

func TestUpload_CallerContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.store.SetFault(func(op memstore.Op, _ string, _ int32) error {
		if op == memstore.OpPut {
			cancel()
			return context.Canceled
		}
		return nil
	})

	_, err := f.engine.Upload(ctx, source("a.txt", payload(10)), "a.txt")
	require.ErrorIs(t, err, common.ErrCancelled)
	assert.Equal(t, tracker.StatusCancelled, f.onlyTransfer(t).Status)
}

func TestUpload_ActivityFailureDoesNotFailUpload(t *testing.T) {
	f := newFixture(t)
	f.activity.err = errors.New("activity table locked")

	_, err := f.engine.Upload(context.Background(), source("a.txt", payload(10)), "a.txt")
	require.NoError(t, err)
	assert.Len(t, f.activity.all(), 1)
}

func TestSortParts(t *testing.T) {
	parts := []objstore.CompletedPart{{PartNumber: 3}, {PartNumber: 1}, {PartNumber: 2}}
	got := sortParts(parts)
	assert.Equal(t, []int32{1, 2, 3}, []int32{got[0].PartNumber, got[1].PartNumber, got[2].PartNumber})
}

func TestSource_ContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", Source{Name: "a.pdf"}.contentType())
	assert.Equal(t, "application/octet-stream", Source{Name: "noext"}.contentType())
	assert.Equal(t, "x/custom", Source{Name: "a.pdf", ContentType: "x/custom"}.contentType())
}

func TestCountingReader(t *testing.T) {
	var last int64
	r := &countingReader{r: bytes.NewReader(payload(100)), report: func(n int64) { last = n }}
	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Equal(t, int64(100), last)
}
