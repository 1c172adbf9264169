package resumable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophstore/internal/repositories/metadata"
)

// plainKV hides Update so the non-atomic path is exercised.
type plainKV struct {
	repo *metadata.MemoryRepository
	err  error
}

func (p *plainKV) Get(ctx context.Context, key string) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.repo.Get(ctx, key)
}

func (p *plainKV) Set(ctx context.Context, key string, value []byte) error {
	return p.repo.Set(ctx, key, value)
}

func (p *plainKV) Delete(ctx context.Context, key string) error {
	return p.repo.Delete(ctx, key)
}

func backends() map[string]func() KV {
	return map[string]func() KV{
		"updater": func() KV { return metadata.NewMemoryRepository() },
		"plain":   func() KV { return &plainKV{repo: metadata.NewMemoryRepository()} },
	}
}

func TestUploadState_Lifecycle(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(mk())

			st, err := s.GetSavedUploadState(ctx, "videos/a.mp4")
			require.NoError(t, err)
			assert.Nil(t, st)

			require.NoError(t, s.SaveUploadState(ctx, "videos/a.mp4", "up-1", 2<<30, "a.mp4"))
			require.NoError(t, s.SaveUploadState(ctx, "videos/b.mp4", "up-2", 3<<30, "b.mp4"))

			st, err = s.GetSavedUploadState(ctx, "videos/a.mp4")
			require.NoError(t, err)
			require.NotNil(t, st)
			assert.Equal(t, "up-1", st.UploadID)
			assert.Equal(t, int64(2<<30), st.Size)
			assert.Equal(t, "a.mp4", st.Name)
			assert.False(t, st.Timestamp.IsZero())

			list, err := s.ListUploads(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "videos/a.mp4", list[0].Key)

			require.NoError(t, s.ClearUploadState(ctx, "videos/a.mp4"))
			require.NoError(t, s.ClearUploadState(ctx, "videos/a.mp4"))
			st, err = s.GetSavedUploadState(ctx, "videos/a.mp4")
			require.NoError(t, err)
			assert.Nil(t, st)

			st, err = s.GetSavedUploadState(ctx, "videos/b.mp4")
			require.NoError(t, err)
			require.NotNil(t, st)
		})
	}
}

func TestDownloadState_Overwrites(t *testing.T) {
	ctx := context.Background()
	s := New(metadata.NewMemoryRepository())

	require.NoError(t, s.SaveDownloadState(ctx, "big.iso", 10, 100, "big.iso"))
	require.NoError(t, s.SaveDownloadState(ctx, "big.iso", 60, 100, "big.iso"))

	st, err := s.GetSavedDownloadState(ctx, "big.iso")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, int64(60), st.Offset)

	require.NoError(t, s.ClearDownloadState(ctx, "big.iso"))
	st, err = s.GetSavedDownloadState(ctx, "big.iso")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestPaused_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(metadata.NewMemoryRepository())

	p := PausedTransfer{ID: "t1", Key: "k", Name: "n", Kind: "upload", Loaded: 5, Total: 10}
	require.NoError(t, s.SavePaused(ctx, p))

	got, err := s.Paused(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(5), got.Loaded)
	assert.False(t, got.Timestamp.IsZero())

	require.NoError(t, s.ClearPaused(ctx, "t1"))
	got, err = s.Paused(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNamespacesAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := New(metadata.NewMemoryRepository())

	require.NoError(t, s.SaveUploadState(ctx, "same", "u", 1, "n"))
	require.NoError(t, s.SaveDownloadState(ctx, "same", 1, 2, "n"))
	require.NoError(t, s.ClearUploadState(ctx, "same"))

	d, err := s.GetSavedDownloadState(ctx, "same")
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestPrune_DropsStaleEntries(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(mk())
			now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

			s.now = func() time.Time { return now.Add(-48 * time.Hour) }
			require.NoError(t, s.SaveUploadState(ctx, "old", "u1", 1, "old"))
			require.NoError(t, s.SaveDownloadState(ctx, "old", 1, 2, "old"))
			require.NoError(t, s.SavePaused(ctx, PausedTransfer{ID: "p-old"}))

			s.now = func() time.Time { return now }
			require.NoError(t, s.SaveUploadState(ctx, "fresh", "u2", 1, "fresh"))

			n, err := s.Prune(ctx, 24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			list, err := s.ListUploads(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "fresh", list[0].Key)

			n, err = s.Prune(ctx, 24*time.Hour)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestCorruptDocument(t *testing.T) {
	ctx := context.Background()
	kv := metadata.NewMemoryRepository()
	require.NoError(t, kv.Set(ctx, nsUploads, []byte("{not json")))
	s := New(kv)

	_, err := s.GetSavedUploadState(ctx, "k")
	require.ErrorContains(t, err, "decode")
	require.Error(t, s.SaveUploadState(ctx, "k", "u", 1, "n"))
}

func TestBackendErrorWrapped(t *testing.T) {
	boom := errors.New("disk gone")
	s := New(&plainKV{repo: metadata.NewMemoryRepository(), err: boom})

	_, err := s.GetSavedDownloadState(context.Background(), "k")
	require.ErrorIs(t, err, boom)
}
