package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/gophstore/internal/activity"
	"github.com/dmitrijs2005/gophstore/internal/common"
	"github.com/dmitrijs2005/gophstore/internal/objstore"
	"github.com/dmitrijs2005/gophstore/internal/tracker"
)

// FolderResult summarizes a folder download. Skipped holds archived
// objects that were not restored; Failed holds objects whose fetch failed.
type FolderResult struct {
	TransferID  string
	ArchiveName string
	Included    []string
	Skipped     []string
	Failed      []string
	Bytes       int64
}

var errNothingFetched = errors.New("no object could be fetched")

type fetched struct {
	info objstore.ObjectInfo
	data []byte
	ok   bool
}

// DownloadFolder archives every readable object under folder and hands the
// zip to saver. Per-object failures are logged and reported in the result.
func (e *Engine) DownloadFolder(ctx context.Context, folder string, saver Saver) (*FolderResult, error) {
	prefix := objstore.FolderPrefix(folder)
	res := &FolderResult{ArchiveName: archiveName(prefix)}

	id := e.tracker.Add(tracker.Descriptor{
		Name: res.ArchiveName,
		Kind: tracker.KindDownload,
		Keys: []string{prefix},
	})
	res.TransferID = id
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.tracker.AttachCancel(id, cancel)

	objects, err := objstore.ListAll(opCtx, e.client, prefix)
	if err != nil {
		return res, e.fail(ctx, id, prefix, fmt.Errorf("list: %w", err))
	}

	eligible := e.eligible(opCtx, objects, res)
	var total int64
	for _, o := range eligible {
		total += o.Size
	}
	e.tracker.UpdateProgress(id, 0, total)

	items, err := e.fetchAll(opCtx, id, eligible, total)
	if err != nil {
		return res, e.fail(ctx, id, prefix, err)
	}
	var got []fetched
	for _, it := range items {
		if it.ok {
			got = append(got, it)
			res.Included = append(res.Included, it.info.Key)
		} else {
			res.Failed = append(res.Failed, it.info.Key)
		}
	}

	if len(got) == 0 {
		switch {
		case len(res.Skipped) > 0:
			err = common.ErrArchivedNotReady
		case len(res.Failed) > 0:
			err = errNothingFetched
		default:
			err = common.ErrorNotFound
		}
		return res, e.fail(ctx, id, prefix, err)
	}

	e.tracker.MarkCompressing(id)
	archive, err := e.compress(id, prefix, got, total)
	if err != nil {
		return res, e.fail(ctx, id, prefix, fmt.Errorf("compress: %w", err))
	}
	res.Bytes = int64(len(archive))

	if err := saver.Save(opCtx, res.ArchiveName, archive); err != nil {
		return res, e.fail(ctx, id, prefix, fmt.Errorf("save %s: %w", res.ArchiveName, err))
	}

	e.tracker.Complete(id)
	e.log.Info(ctx, "folder download completed", "prefix", prefix, "archive", res.ArchiveName,
		"included", len(res.Included), "skipped", len(res.Skipped), "failed", len(res.Failed))
	e.activity.Log(ctx, activity.Record{
		Action:     activity.ActionDownloadFolder,
		ItemName:   res.ArchiveName,
		Size:       res.Bytes,
		FileCount:  len(res.Included),
		FolderPath: prefix,
		Metadata: map[string]any{
			"skipped": len(res.Skipped),
			"failed":  len(res.Failed),
		},
	})
	return res, nil
}

// eligible drops archived objects that are not restored. Only objects whose
// storage class may hide an archive tier are checked.
func (e *Engine) eligible(ctx context.Context, objects []objstore.ObjectInfo, res *FolderResult) []objstore.ObjectInfo {
	out := make([]objstore.ObjectInfo, 0, len(objects))
	for _, o := range objects {
		if o.StorageClass != "INTELLIGENT_TIERING" && !objstore.IsArchivedClass(o.StorageClass, "") {
			out = append(out, o)
			continue
		}
		st, err := e.status.CheckStatus(ctx, o.Key)
		if err != nil {
			e.log.Warn(ctx, "status check failed, skipping", "key", o.Key, "error", err)
			res.Failed = append(res.Failed, o.Key)
			continue
		}
		if !st.Readable() {
			res.Skipped = append(res.Skipped, o.Key)
			continue
		}
		out = append(out, o)
	}
	return out
}

// fetchAll reads objects in batches of batchSize. Only cancellation fails
// the whole call.
func (e *Engine) fetchAll(ctx context.Context, id string, objects []objstore.ObjectInfo, total int64) ([]fetched, error) {
	items := make([]fetched, len(objects))
	var loaded atomic.Int64

	for start := 0; start < len(objects); start += e.batchSize {
		end := start + e.batchSize
		if end > len(objects) {
			end = len(objects)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			items[i].info = objects[i]
			g.Go(func() error {
				data, err := e.fetch(gctx, id, objects[i].Key, &loaded, total)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					e.log.Warn(ctx, "object fetch failed, skipping", "key", objects[i].Key, "error", err)
					return nil
				}
				items[i].data = data
				items[i].ok = true
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (e *Engine) fetch(ctx context.Context, id, key string, loaded *atomic.Int64, total int64) ([]byte, error) {
	body, err := e.client.Get(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var buf bytes.Buffer
	var mine int64
	pw := &progressWriter{w: &buf, report: func(n int64) {
		delta := n - mine
		mine = n
		e.tracker.UpdateProgress(id, loaded.Add(delta), total)
	}}
	if _, err := io.Copy(pw, body); err != nil {
		loaded.Add(-mine)
		return nil, err
	}
	return buf.Bytes(), nil
}

// compress packs items, keyed by their path below prefix, into a zip.
// Progress restarts from zero and counts uncompressed bytes written.
func (e *Engine) compress(id, prefix string, items []fetched, total int64) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	var written int64
	for _, it := range items {
		name := strings.TrimPrefix(it.info.Key, prefix)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: it.info.LastModified,
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(it.data); err != nil {
			return nil, err
		}
		written += int64(len(it.data))
		e.tracker.UpdateProgress(id, written, total)
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func archiveName(prefix string) string {
	if prefix == "" {
		return "bucket.zip"
	}
	return objstore.BaseName(prefix) + ".zip"
}
