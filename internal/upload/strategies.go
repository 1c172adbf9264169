package upload

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/gophstore/internal/chunking"
	"github.com/dmitrijs2005/gophstore/internal/objstore"
	"github.com/dmitrijs2005/gophstore/internal/retry"
)

// buffer reads the whole payload, or reports errFallback.
func (e *Engine) buffer(ctx context.Context, j *job) ([]byte, error) {
	if !e.canBuffer(j.src.Size) {
		return nil, fmt.Errorf("%w: %d bytes exceed available memory", errFallback, j.src.Size)
	}
	buf := make([]byte, j.src.Size)
	if len(buf) == 0 {
		return buf, nil
	}
	if err := j.src.readFull(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", errFallback, err)
	}
	return buf, nil
}

func (e *Engine) singlePut(ctx context.Context, j *job) error {
	buf, err := e.buffer(ctx, j)
	if err != nil {
		return err
	}
	if err := e.client.Put(ctx, j.key, bytes.NewReader(buf), j.src.Size, j.src.contentType()); err != nil {
		return err
	}
	e.report(j, j.src.Size)
	return nil
}

func (e *Engine) inMemoryMultipart(ctx context.Context, j *job) error {
	buf, err := e.buffer(ctx, j)
	if err != nil {
		return err
	}

	uploadID, err := e.client.CreateMultipart(ctx, j.key, j.src.contentType())
	if err != nil {
		return err
	}

	size := j.src.Size
	total := chunking.PartCount(size, chunking.InMemoryPartSize)
	parts := make([]objstore.CompletedPart, 0, total)
	var loaded int64
	for n := 1; n <= total; n++ {
		off, length := chunking.PartRange(n, size, chunking.InMemoryPartSize)
		etag, err := e.uploadPart(ctx, j, uploadID, int32(n), buf[off:off+length])
		if err != nil {
			e.abort(ctx, j, uploadID)
			return err
		}
		parts = append(parts, objstore.CompletedPart{PartNumber: int32(n), ETag: etag, Size: length})
		loaded += length
		e.report(j, loaded)
	}

	if err := e.client.CompleteMultipart(ctx, j.key, uploadID, sortParts(parts)); err != nil {
		e.abort(ctx, j, uploadID)
		return err
	}
	return nil
}

func (e *Engine) managed(ctx context.Context, j *job) error {
	body := &countingReader{
		r:      newSectionReader(j.src),
		report: func(total int64) { e.report(j, total) },
	}
	return e.client.ManagedUpload(ctx, objstore.ManagedUploadInput{
		Key:         j.key,
		Body:        body,
		Size:        j.src.Size,
		ContentType: j.src.contentType(),
		PartSize:    chunking.ChunkSizeFor(j.src.Size),
		Concurrency: e.concurrency,
	})
}

// manualMultipart uploads parts one at a time, continuing a saved session
// for the same key and size when the store still has it.
func (e *Engine) manualMultipart(ctx context.Context, j *job) error {
	size := j.src.Size
	partSize := chunking.ChunkSizeFor(size)
	total := chunking.PartCount(size, partSize)

	uploadID, done := e.resumeSession(ctx, j, partSize)
	if uploadID == "" {
		id, err := e.client.CreateMultipart(ctx, j.key, j.src.contentType())
		if err != nil {
			return err
		}
		uploadID = id
		if err := e.state.SaveUploadState(ctx, j.key, uploadID, size, j.src.Name); err != nil {
			e.log.Warn(ctx, "failed to save upload state", "key", j.key, "error", err)
		}
	}

	parts := make([]objstore.CompletedPart, 0, total)
	var loaded int64
	for _, p := range done {
		loaded += p.Size
	}
	if loaded > 0 {
		e.log.Info(ctx, "resuming multipart upload", "key", j.key, "parts_done", len(done), "loaded", loaded)
		e.report(j, loaded)
	}

	buf := make([]byte, partSize)
	for n := 1; n <= total; n++ {
		if p, ok := done[int32(n)]; ok {
			parts = append(parts, p)
			continue
		}
		if err := ctx.Err(); err != nil {
			return e.stop(ctx, j, uploadID, err)
		}

		off, length := chunking.PartRange(n, size, partSize)
		chunk := buf[:length]
		if length > 0 {
			if err := j.src.readFull(chunk, off); err != nil {
				return e.stop(ctx, j, uploadID, err)
			}
		}
		etag, err := e.uploadPart(ctx, j, uploadID, int32(n), chunk)
		if err != nil {
			return e.stop(ctx, j, uploadID, err)
		}
		parts = append(parts, objstore.CompletedPart{PartNumber: int32(n), ETag: etag, Size: length})
		loaded += length
		e.report(j, loaded)
	}

	if err := e.client.CompleteMultipart(ctx, j.key, uploadID, sortParts(parts)); err != nil {
		return e.stop(ctx, j, uploadID, err)
	}
	if err := e.state.ClearUploadState(ctx, j.key); err != nil {
		e.log.Warn(ctx, "failed to clear upload state", "key", j.key, "error", err)
	}
	return nil
}

// resumeSession returns the saved session for j and the parts the store
// already holds. It returns "" when the upload has to start fresh.
func (e *Engine) resumeSession(ctx context.Context, j *job, partSize int64) (string, map[int32]objstore.CompletedPart) {
	st, err := e.state.GetSavedUploadState(ctx, j.key)
	if err != nil {
		e.log.Warn(ctx, "failed to read upload state", "key", j.key, "error", err)
		return "", nil
	}
	if st == nil {
		return "", nil
	}
	if st.Size != j.src.Size {
		e.log.Info(ctx, "saved session is for a different payload, starting over", "key", j.key, "saved_size", st.Size)
		e.abort(ctx, j, st.UploadID)
		return "", nil
	}

	listed, err := e.client.ListParts(ctx, j.key, st.UploadID)
	if err != nil {
		e.log.Info(ctx, "saved session is gone, starting over", "key", j.key, "upload_id", st.UploadID, "error", err)
		e.clearState(ctx, j.key)
		return "", nil
	}

	done := make(map[int32]objstore.CompletedPart, len(listed))
	for _, p := range listed {
		_, want := chunking.PartRange(int(p.PartNumber), j.src.Size, partSize)
		if p.Size == want {
			done[p.PartNumber] = p
		}
	}
	return st.UploadID, done
}

// stop ends a failed sequential upload. A paused upload keeps its session
// and saved state; anything else is aborted.
func (e *Engine) stop(ctx context.Context, j *job, uploadID string, err error) error {
	if e.paused(j.id) {
		return err
	}
	e.abort(ctx, j, uploadID)
	return err
}

// abort releases a multipart session. It runs detached from ctx so that a
// cancelled upload still cleans up.
func (e *Engine) abort(ctx context.Context, j *job, uploadID string) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := e.client.AbortMultipart(actx, j.key, uploadID); err != nil {
		e.log.Warn(ctx, "failed to abort multipart upload", "key", j.key, "upload_id", uploadID, "error", err)
	}
	e.clearState(actx, j.key)
}

func (e *Engine) clearState(ctx context.Context, key string) {
	if err := e.state.ClearUploadState(ctx, key); err != nil {
		e.log.Warn(ctx, "failed to clear upload state", "key", key, "error", err)
	}
}

func (e *Engine) uploadPart(ctx context.Context, j *job, uploadID string, n int32, data []byte) (string, error) {
	var etag string
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		tag, err := e.client.UploadPart(ctx, j.key, uploadID, n, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return err
		}
		etag = tag
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		e.log.Warn(ctx, "part upload failed, retrying", "key", j.key, "part", n, "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		return "", fmt.Errorf("part %d: %w", n, err)
	}
	return etag, nil
}

// sortParts orders parts by part number in place and returns them.
func sortParts(parts []objstore.CompletedPart) []objstore.CompletedPart {
	sort.Slice(parts, func(a, b int) bool { return parts[a].PartNumber < parts[b].PartNumber })
	return parts
}
