package upload

import (
	"context"
	"errors"
	"math"
	"runtime"
	"runtime/debug"

	"github.com/dmitrijs2005/gophstore/internal/activity"
	"github.com/dmitrijs2005/gophstore/internal/chunking"
	"github.com/dmitrijs2005/gophstore/internal/common"
	"github.com/dmitrijs2005/gophstore/internal/logging"
	"github.com/dmitrijs2005/gophstore/internal/objstore"
	"github.com/dmitrijs2005/gophstore/internal/resumable"
	"github.com/dmitrijs2005/gophstore/internal/retry"
	"github.com/dmitrijs2005/gophstore/internal/tracker"
)

// DefaultConcurrency is the managed uploader's part concurrency.
const DefaultConcurrency = 4

// StateStore keeps open multipart sessions across runs. *resumable.Store
// satisfies it.
type StateStore interface {
	SaveUploadState(ctx context.Context, key, uploadID string, size int64, name string) error
	GetSavedUploadState(ctx context.Context, key string) (*resumable.UploadState, error)
	ClearUploadState(ctx context.Context, key string) error
}

// MemoryProbe reports whether need more bytes can be held in memory.
type MemoryProbe func(need int64) bool

type Engine struct {
	client      objstore.Client
	tracker     *tracker.Tracker
	state       StateStore
	activity    *activity.Safe
	activityLog activity.Repository
	log         logging.Logger
	policy      retry.Policy
	concurrency int
	canBuffer   MemoryProbe
	strategyFor func(size int64) chunking.Strategy
}

type Option func(*Engine)

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithActivity(r activity.Repository) Option {
	return func(e *Engine) { e.activityLog = r }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithMemoryProbe(p MemoryProbe) Option {
	return func(e *Engine) { e.canBuffer = p }
}

func New(client objstore.Client, tr *tracker.Tracker, state StateStore, opts ...Option) *Engine {
	e := &Engine{
		client:      client,
		tracker:     tr,
		state:       state,
		log:         logging.Nop(),
		policy:      retry.DefaultPolicy,
		concurrency: DefaultConcurrency,
		canBuffer:   heapHasRoom,
		strategyFor: chunking.StrategyFor,
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("component", "upload")
	e.activity = activity.NewSafe(e.activityLog, e.log)
	return e
}

// heapHasRoom checks need against the soft memory limit, if one is set.
func heapHasRoom(need int64) bool {
	limit := debug.SetMemoryLimit(-1)
	if limit == math.MaxInt64 {
		return true
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc)+need < limit
}

type uploadOptions struct {
	resumeOf string
}

type UploadOption func(*uploadOptions)

// ResumeOf continues the upload under a transfer id returned by
// Tracker.Resume.
func ResumeOf(id string) UploadOption {
	return func(o *uploadOptions) { o.resumeOf = id }
}

type Result struct {
	Key        string
	TransferID string
	Strategy   chunking.Strategy
}

// job carries the per-upload state shared by the strategy paths.
type job struct {
	id  string
	key string
	src Source
}

func (e *Engine) report(j *job, loaded int64) {
	e.tracker.UpdateProgress(j.id, loaded, j.src.Size)
}

// Upload sends src to destKey and returns the normalized key. Failures are
// recorded on the transfer and returned as *UploadError.
func (e *Engine) Upload(ctx context.Context, src Source, destKey string, opts ...UploadOption) (*Result, error) {
	var o uploadOptions
	for _, opt := range opts {
		opt(&o)
	}

	key, err := objstore.NormalizeKey(destKey)
	if err != nil {
		return nil, &UploadError{Key: destKey, Err: err}
	}

	id := o.resumeOf
	if _, ok := e.tracker.Get(id); id == "" || !ok {
		id = e.tracker.Add(tracker.Descriptor{
			Name:      src.Name,
			Kind:      tracker.KindUpload,
			Keys:      []string{key},
			TotalSize: src.Size,
		})
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.tracker.AttachCancel(id, cancel)

	j := &job{id: id, key: key, src: src}
	strategy := e.strategyFor(src.Size)
	log := e.log.With("key", key, "transfer", id)
	log.Info(ctx, "upload started", "size", src.Size, "strategy", strategy.String())

	switch strategy {
	case chunking.SinglePut:
		err = e.singlePut(opCtx, j)
	case chunking.InMemoryMultipart:
		err = e.inMemoryMultipart(opCtx, j)
	case chunking.Managed:
		err = e.managed(opCtx, j)
	default:
		err = e.manualMultipart(opCtx, j)
	}
	if errors.Is(err, errFallback) {
		log.Warn(ctx, "falling back to sequential multipart", "strategy", strategy.String(), "error", err)
		strategy = chunking.ManualMultipart
		err = e.manualMultipart(opCtx, j)
	}

	res := &Result{Key: key, TransferID: id, Strategy: strategy}
	if err != nil {
		return res, e.fail(ctx, j, err)
	}

	e.tracker.Complete(id)
	log.Info(ctx, "upload completed", "size", src.Size)
	e.activity.Log(ctx, activity.Record{
		Action:     activity.ActionUpload,
		ItemName:   src.Name,
		Size:       src.Size,
		FileCount:  1,
		FolderPath: objstore.ParentFolder(key),
	})
	return res, nil
}

// fail maps err onto the transfer's final state. A paused transfer is left
// paused.
func (e *Engine) fail(ctx context.Context, j *job, err error) error {
	t, _ := e.tracker.Get(j.id)
	switch {
	case t.Status == tracker.StatusPaused:
		e.log.Info(ctx, "upload paused", "key", j.key, "transfer", j.id, "loaded", t.Loaded)
		return &UploadError{Key: j.key, Err: common.ErrPaused}
	case t.Status == tracker.StatusCancelled || errors.Is(err, context.Canceled):
		e.tracker.Cancel(ctx, j.id)
		e.log.Info(ctx, "upload cancelled", "key", j.key, "transfer", j.id)
		return &UploadError{Key: j.key, Err: common.ErrCancelled}
	}

	uerr := &UploadError{Key: j.key, Err: err}
	e.tracker.Fail(j.id, uerr)
	e.log.Error(ctx, "upload failed", "key", j.key, "transfer", j.id, "error", err)
	return uerr
}

func (e *Engine) paused(id string) bool {
	t, ok := e.tracker.Get(id)
	return ok && t.Status == tracker.StatusPaused
}
