package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophstore/internal/activity"
	"github.com/dmitrijs2005/gophstore/internal/chunking"
	"github.com/dmitrijs2005/gophstore/internal/common"
	"github.com/dmitrijs2005/gophstore/internal/logging"
	"github.com/dmitrijs2005/gophstore/internal/netx"
	"github.com/dmitrijs2005/gophstore/internal/objstore"
	"github.com/dmitrijs2005/gophstore/internal/restore"
	"github.com/dmitrijs2005/gophstore/internal/resumable"
	"github.com/dmitrijs2005/gophstore/internal/retry"
	"github.com/dmitrijs2005/gophstore/internal/tracker"
)

const (
	// LargeThreshold is the size above which ranged GETs replace the
	// signed URL fetch.
	LargeThreshold = 50 * common.MiB

	// BatchSize bounds how many folder objects are fetched at once.
	BatchSize = 10

	// DefaultPresignTTL is the lifetime of signed GET URLs.
	DefaultPresignTTL = 15 * time.Minute
)

// StatusChecker reports the archival state of an object. *restore.Engine
// satisfies it.
type StatusChecker interface {
	CheckStatus(ctx context.Context, key string) (*restore.ArchivalStatus, error)
}

// StateStore checkpoints download offsets. *resumable.Store satisfies it.
type StateStore interface {
	SaveDownloadState(ctx context.Context, key string, offset, size int64, name string) error
	GetSavedDownloadState(ctx context.Context, key string) (*resumable.DownloadState, error)
	ClearDownloadState(ctx context.Context, key string) error
}

type Engine struct {
	client     objstore.Client
	tracker    *tracker.Tracker
	status     StatusChecker
	state      StateStore
	http       *http.Client
	activity   *activity.Safe
	actRepo    activity.Repository
	log        logging.Logger
	policy     retry.Policy
	presignTTL time.Duration

	largeThreshold int64
	batchSize      int
}

type Option func(*Engine)

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithActivity(r activity.Repository) Option {
	return func(e *Engine) { e.actRepo = r }
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.http = c }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithPresignTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.presignTTL = d
		}
	}
}

// WithLargeThreshold sets the size above which ranged GETs are used.
func WithLargeThreshold(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.largeThreshold = n
		}
	}
}

func New(client objstore.Client, tr *tracker.Tracker, status StatusChecker, state StateStore, opts ...Option) *Engine {
	e := &Engine{
		client:         client,
		tracker:        tr,
		status:         status,
		state:          state,
		http:           &http.Client{},
		log:            logging.Nop(),
		policy:         retry.DefaultPolicy,
		presignTTL:     DefaultPresignTTL,
		largeThreshold: LargeThreshold,
		batchSize:      BatchSize,
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("component", "download")
	e.activity = activity.NewSafe(e.actRepo, e.log)
	return e
}

type downloadOptions struct {
	resumeOf string
}

type DownloadOption func(*downloadOptions)

// ResumeOf continues the download under a transfer id returned by
// Tracker.Resume.
func ResumeOf(id string) DownloadOption {
	return func(o *downloadOptions) { o.resumeOf = id }
}

type Result struct {
	Key        string
	TransferID string
	Bytes      int64
	Ranged     bool
}

// DownloadObject writes the object at key into dst. A size of zero or less
// is taken from the object's metadata.
func (e *Engine) DownloadObject(ctx context.Context, key string, size int64, dst io.WriterAt, opts ...DownloadOption) (*Result, error) {
	var o downloadOptions
	for _, opt := range opts {
		opt(&o)
	}

	key, err := objstore.NormalizeKey(key)
	if err != nil {
		return nil, &DownloadError{Key: key, Err: err}
	}

	st, err := e.status.CheckStatus(ctx, key)
	if err != nil {
		return nil, &DownloadError{Key: key, Err: err}
	}
	if !st.Readable() {
		return nil, &DownloadError{Key: key, Err: common.ErrArchivedNotReady}
	}
	if size <= 0 {
		size = st.Size
	}

	id := o.resumeOf
	if _, ok := e.tracker.Get(id); id == "" || !ok {
		id = e.tracker.Add(tracker.Descriptor{
			Name:      objstore.BaseName(key),
			Kind:      tracker.KindDownload,
			Keys:      []string{key},
			TotalSize: size,
		})
	}
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.tracker.AttachCancel(id, cancel)

	res := &Result{Key: key, TransferID: id, Ranged: size > e.largeThreshold}
	report := func(loaded int64) { e.tracker.UpdateProgress(id, loaded, size) }

	if res.Ranged {
		res.Bytes, err = e.ranged(opCtx, key, size, dst, report)
	} else {
		res.Bytes, err = e.viaSignedURL(opCtx, key, dst, report)
	}
	if err != nil {
		return res, e.fail(ctx, id, key, err)
	}

	e.tracker.Complete(id)
	e.log.Info(ctx, "download completed", "key", key, "transfer", id, "bytes", res.Bytes, "ranged", res.Ranged)
	e.activity.Log(ctx, activity.Record{
		Action:       activity.ActionDownload,
		ItemName:     objstore.BaseName(key),
		Size:         res.Bytes,
		FileCount:    1,
		FolderPath:   objstore.ParentFolder(key),
		StorageClass: st.StorageClass,
	})
	return res, nil
}

func (e *Engine) fail(ctx context.Context, id, key string, err error) error {
	t, _ := e.tracker.Get(id)
	switch {
	case t.Status == tracker.StatusPaused:
		return &DownloadError{Key: key, Err: common.ErrPaused}
	case t.Status == tracker.StatusCancelled || errors.Is(err, context.Canceled):
		e.tracker.Cancel(ctx, id)
		e.clearState(ctx, key)
		return &DownloadError{Key: key, Err: common.ErrCancelled}
	}
	derr := &DownloadError{Key: key, Err: err}
	e.tracker.Fail(id, derr)
	e.log.Error(ctx, "download failed", "key", key, "transfer", id, "error", err)
	return derr
}

func (e *Engine) viaSignedURL(ctx context.Context, key string, dst io.WriterAt, report func(int64)) (int64, error) {
	u, err := e.client.PresignGet(ctx, key, e.presignTTL)
	if err != nil {
		return 0, err
	}
	pw := &progressWriter{w: io.NewOffsetWriter(dst, 0), report: report}
	return netx.Fetch(ctx, e.http, u, pw)
}

// ranged reads size bytes in chunking-policy ranges, continuing from a
// checkpoint saved for the same key and size. The checkpoint survives
// failures and is dropped on success or cancellation.
func (e *Engine) ranged(ctx context.Context, key string, size int64, dst io.WriterAt, report func(int64)) (int64, error) {
	chunk := chunking.ChunkSizeFor(size)
	name := objstore.BaseName(key)

	var offset int64
	st, err := e.state.GetSavedDownloadState(ctx, key)
	if err != nil {
		e.log.Warn(ctx, "failed to read download state", "key", key, "error", err)
	}
	if st != nil && st.Size == size && st.Offset > 0 && st.Offset <= size {
		offset = st.Offset
		e.log.Info(ctx, "resuming download", "key", key, "offset", offset)
		report(offset)
	}

	for offset < size {
		end := offset + chunk
		if end > size {
			end = size
		}
		start := offset
		err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
			body, err := e.client.Get(ctx, key, &objstore.ByteRange{Start: start, End: end - 1})
			if err != nil {
				return err
			}
			defer body.Close()

			pw := &progressWriter{w: io.NewOffsetWriter(dst, start), base: start, report: report}
			n, err := io.Copy(pw, io.LimitReader(body, end-start))
			if err != nil {
				return err
			}
			if n != end-start {
				return fmt.Errorf("range %d-%d: got %d bytes: %w", start, end-1, n, io.ErrUnexpectedEOF)
			}
			return nil
		}, func(attempt int, err error, delay time.Duration) {
			e.log.Warn(ctx, "range fetch failed, retrying", "key", key, "offset", start, "attempt", attempt, "delay", delay, "error", err)
		})
		if err != nil {
			return offset, err
		}

		offset = end
		if offset < size {
			if err := e.state.SaveDownloadState(ctx, key, offset, size, name); err != nil {
				e.log.Warn(ctx, "failed to save download state", "key", key, "error", err)
			}
		}
	}

	e.clearState(ctx, key)
	return size, nil
}

func (e *Engine) clearState(ctx context.Context, key string) {
	if err := e.state.ClearDownloadState(context.WithoutCancel(ctx), key); err != nil {
		e.log.Warn(ctx, "failed to clear download state", "key", key, "error", err)
	}
}
