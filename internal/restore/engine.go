// Package restore checks the archival state of objects and requests their
// retrieval from cold storage. A requested restore is followed by a
// background poller that completes the transfer once the copy is readable.
package restore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophstore/internal/activity"
	"github.com/dmitrijs2005/gophstore/internal/common"
	"github.com/dmitrijs2005/gophstore/internal/logging"
	"github.com/dmitrijs2005/gophstore/internal/objstore"
	"github.com/dmitrijs2005/gophstore/internal/tracker"
)

// DefaultPollInterval is how often a pending restore is re-checked.
const DefaultPollInterval = 60 * time.Second

type ResultStatus string

const (
	StatusAvailable  ResultStatus = "available"
	StatusInProgress ResultStatus = "in_progress"
	StatusRequested  ResultStatus = "requested"
)

type Result struct {
	Key        string
	Status     ResultStatus
	Tier       objstore.Tier
	TransferID string
	Expiry     *time.Time
}

type BulkResult struct {
	TransferID    string
	TotalFiles    int
	RestoredFiles int
	FailedFiles   int
	// InProgress counts objects whose restore was already running; they are
	// not attempted.
	InProgress int
	Failed     []string
}

type Engine struct {
	client   objstore.Client
	tracker  *tracker.Tracker
	activity *activity.Safe
	actRepo  activity.Repository
	log      logging.Logger
	interval time.Duration
	now      func() time.Time

	base    context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Engine)

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithActivity(r activity.Repository) Option {
	return func(e *Engine) { e.actRepo = r }
}

func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(client objstore.Client, tr *tracker.Tracker, opts ...Option) *Engine {
	e := &Engine{
		client:   client,
		tracker:  tr,
		log:      logging.Nop(),
		interval: DefaultPollInterval,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("component", "restore")
	e.activity = activity.NewSafe(e.actRepo, e.log)
	e.base, e.stopAll = context.WithCancel(context.Background())
	return e
}

// Close stops every poller and waits for them to exit.
func (e *Engine) Close() {
	e.stopAll()
	e.wg.Wait()
}

// CheckStatus fetches the object's metadata once and derives its archival
// state.
func (e *Engine) CheckStatus(ctx context.Context, key string) (*ArchivalStatus, error) {
	h, err := e.client.Head(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("status of %s: %w", key, err)
	}
	st := &ArchivalStatus{
		Key:          key,
		Size:         h.Size,
		StorageClass: h.StorageClass,
		IsArchived:   objstore.IsArchivedClass(h.StorageClass, h.ArchiveStatus),
	}
	rs, err := ParseRestoreHeader(h.Restore)
	if err != nil {
		e.log.Warn(ctx, "ignoring restore header", "key", key, "error", err)
	}
	st.Restore = rs
	return st, nil
}

// RestoreObject requests a restore unless one is ongoing or the object is
// already readable. A new request starts a poller tied to the returned
// transfer.
func (e *Engine) RestoreObject(ctx context.Context, key string, tier objstore.Tier) (*Result, error) {
	key, err := objstore.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if _, ok := Info(tier); !ok {
		return nil, fmt.Errorf("unknown retrieval tier %q", tier)
	}

	st, err := e.CheckStatus(ctx, key)
	if err != nil {
		return nil, err
	}
	res := &Result{Key: key, Tier: tier}
	switch {
	case !st.IsArchived:
		res.Status = StatusAvailable
		return res, nil
	case st.Ongoing():
		res.Status = StatusInProgress
		return res, nil
	case st.Ready():
		res.Status = StatusAvailable
		res.Expiry = st.Restore.Expiry
		return res, nil
	}

	id := e.tracker.Add(tracker.Descriptor{
		Name:      objstore.BaseName(key),
		Kind:      tracker.KindRestore,
		Keys:      []string{key},
		TotalSize: st.Size,
	})
	res.TransferID = id

	if err := e.client.Restore(ctx, key, common.RestoreRetentionDays, tier); err != nil {
		err = fmt.Errorf("restore %s: %w", key, err)
		e.tracker.Fail(id, err)
		e.log.Error(ctx, "restore request failed", "key", key, "tier", string(tier), "error", err)
		return res, err
	}
	res.Status = StatusRequested
	e.log.Info(ctx, "restore requested", "key", key, "tier", string(tier), "transfer", id)

	e.activity.Log(ctx, activity.Record{
		Action:       activity.ActionRestore,
		ItemName:     objstore.BaseName(key),
		Size:         st.Size,
		FileCount:    1,
		FolderPath:   objstore.ParentFolder(key),
		StorageClass: st.StorageClass,
		Metadata:     map[string]any{"tier": string(tier), "days": common.RestoreRetentionDays},
	})

	e.startPoller(id, key, tier, st.Size)
	return res, nil
}

func (e *Engine) startPoller(id, key string, tier objstore.Tier, size int64) {
	if e.base.Err() != nil {
		return
	}
	started := e.now()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.poll(e.base, id, key, tier, size, started)
	}()
}

// poll re-checks key every interval until it is readable, the transfer
// finishes or the engine is closed. Check errors wait for the next tick.
func (e *Engine) poll(ctx context.Context, id, key string, tier objstore.Tier, size int64, started time.Time) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	done := e.tracker.Done(id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}

		st, err := e.CheckStatus(ctx, key)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			e.log.Warn(ctx, "restore status check failed", "key", key, "transfer", id, "error", err)
			continue
		}
		if st.Readable() {
			e.tracker.Complete(id)
			e.log.Info(ctx, "restore completed", "key", key, "transfer", id)
			return
		}
		frac := simulatedProgress(tier, e.now().Sub(started))
		e.tracker.UpdateProgress(id, int64(frac*float64(size)), size)
	}
}

// RestoreFolderBulk requests restores for every archived, unrestored
// object under folder, one at a time. Per-object failures are tallied and
// never returned.
func (e *Engine) RestoreFolderBulk(ctx context.Context, folder string, tier objstore.Tier) (*BulkResult, error) {
	if _, ok := Info(tier); !ok {
		return nil, fmt.Errorf("unknown retrieval tier %q", tier)
	}
	prefix := objstore.FolderPrefix(folder)

	id := e.tracker.Add(tracker.Descriptor{
		Name: folderName(prefix),
		Kind: tracker.KindBulkRestore,
		Keys: []string{prefix},
	})
	res := &BulkResult{TransferID: id}

	objects, err := objstore.ListAll(ctx, e.client, prefix)
	if err != nil {
		err = fmt.Errorf("list %s: %w", prefix, err)
		e.tracker.Fail(id, err)
		return res, err
	}

	var pending []string
	for _, o := range objects {
		if !mayBeArchived(o.StorageClass) {
			continue
		}
		st, err := e.CheckStatus(ctx, o.Key)
		if err != nil {
			e.log.Warn(ctx, "status check failed, skipping", "key", o.Key, "error", err)
			res.FailedFiles++
			res.TotalFiles++
			res.Failed = append(res.Failed, o.Key)
			continue
		}
		switch {
		case !st.IsArchived || st.Ready():
		case st.Ongoing():
			res.InProgress++
		default:
			pending = append(pending, o.Key)
		}
	}
	res.TotalFiles += len(pending)
	total := int64(res.TotalFiles)

	completed := int64(res.FailedFiles)
	e.tracker.UpdateProgress(id, completed, total)
	for _, key := range pending {
		if err := ctx.Err(); err != nil {
			e.tracker.Cancel(ctx, id)
			return res, err
		}
		if err := e.client.Restore(ctx, key, common.RestoreRetentionDays, tier); err != nil {
			e.log.Warn(ctx, "restore request failed", "key", key, "tier", string(tier), "error", err)
			res.FailedFiles++
			res.Failed = append(res.Failed, key)
		} else {
			res.RestoredFiles++
		}
		completed++
		e.tracker.UpdateProgress(id, completed, total)
	}

	e.tracker.Complete(id)
	e.log.Info(ctx, "bulk restore finished", "prefix", prefix, "total", res.TotalFiles,
		"restored", res.RestoredFiles, "failed", res.FailedFiles, "in_progress", res.InProgress)

	e.activity.Log(ctx, activity.Record{
		Action:     activity.ActionBulkRestore,
		ItemName:   folderName(prefix),
		FileCount:  res.RestoredFiles,
		FolderPath: prefix,
		Metadata: map[string]any{
			"tier":   string(tier),
			"total":  res.TotalFiles,
			"failed": res.FailedFiles,
		},
	})
	return res, nil
}

// mayBeArchived filters listing entries before the per-object status check.
// Intelligent-tiering objects only reveal their archive tier through head.
func mayBeArchived(storageClass string) bool {
	return storageClass == "INTELLIGENT_TIERING" || objstore.IsArchivedClass(storageClass, "")
}

func folderName(prefix string) string {
	if prefix == "" {
		return "root"
	}
	return objstore.BaseName(prefix)
}
