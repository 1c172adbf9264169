// Package resumable persists the state needed to continue an interrupted
// transfer later: pending multipart uploads, confirmed download offsets and
// paused transfer snapshots.
//
// Each namespace is one JSON document in a KV backend, read and rewritten as
// a whole on every call. Backends implementing Updater make each rewrite
// atomic; plain KV backends may lose an update under concurrent writers.
package resumable

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// KV is the durable key-value surface the store needs. A missing key must
// return (nil, nil).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

const (
	nsUploads   = "resumable/uploads"
	nsDownloads = "resumable/downloads"
	nsPaused    = "resumable/paused"
)

// UploadState records an open multipart upload session for an object key.
type UploadState struct {
	Key       string    `json:"key"`
	UploadID  string    `json:"upload_id"`
	Size      int64     `json:"size"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// DownloadState records the last confirmed byte offset of a download.
type DownloadState struct {
	Key       string    `json:"key"`
	Offset    int64     `json:"offset"`
	Size      int64     `json:"size"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// PausedTransfer is the snapshot taken when a tracked transfer is paused.
type PausedTransfer struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Loaded    int64     `json:"loaded"`
	Total     int64     `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

type Store struct {
	kv  KV
	now func() time.Time
}

func New(kv KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// Updater is implemented by backends that can rewrite one key atomically.
// fn receives the current value (nil when absent); returning a nil value
// deletes the key.
type Updater interface {
	Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error
}

func decode[T any](ns string, raw []byte) (map[string]T, error) {
	doc := make(map[string]T)
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ns, err)
	}
	return doc, nil
}

func encode[T any](ns string, doc map[string]T) ([]byte, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ns, err)
	}
	return raw, nil
}

func load[T any](ctx context.Context, kv KV, ns string) (map[string]T, error) {
	raw, err := kv.Get(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ns, err)
	}
	return decode[T](ns, raw)
}

// mutate applies fn to the namespace document and writes it back when fn
// reports a change.
func mutate[T any](ctx context.Context, kv KV, ns string, fn func(doc map[string]T) bool) error {
	if u, ok := kv.(Updater); ok {
		err := u.Update(ctx, ns, func(old []byte) ([]byte, error) {
			doc, err := decode[T](ns, old)
			if err != nil {
				return nil, err
			}
			if !fn(doc) {
				return old, nil
			}
			return encode(ns, doc)
		})
		if err != nil {
			return fmt.Errorf("update %s: %w", ns, err)
		}
		return nil
	}

	doc, err := load[T](ctx, kv, ns)
	if err != nil {
		return err
	}
	if !fn(doc) {
		return nil
	}
	raw, err := encode(ns, doc)
	if err != nil {
		return err
	}
	if raw == nil {
		if err := kv.Delete(ctx, ns); err != nil {
			return fmt.Errorf("clear %s: %w", ns, err)
		}
		return nil
	}
	if err := kv.Set(ctx, ns, raw); err != nil {
		return fmt.Errorf("write %s: %w", ns, err)
	}
	return nil
}

func put[T any](ctx context.Context, kv KV, ns, key string, v T) error {
	return mutate(ctx, kv, ns, func(doc map[string]T) bool {
		doc[key] = v
		return true
	})
}

func get[T any](ctx context.Context, kv KV, ns, key string) (*T, error) {
	doc, err := load[T](ctx, kv, ns)
	if err != nil {
		return nil, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func remove[T any](ctx context.Context, kv KV, ns, key string) error {
	return mutate(ctx, kv, ns, func(doc map[string]T) bool {
		if _, ok := doc[key]; !ok {
			return false
		}
		delete(doc, key)
		return true
	})
}

func (s *Store) SaveUploadState(ctx context.Context, key, uploadID string, size int64, name string) error {
	return put(ctx, s.kv, nsUploads, key, UploadState{Key: key, UploadID: uploadID, Size: size, Name: name, Timestamp: s.now().UTC()})
}

// GetSavedUploadState returns nil when no upload is pending for key.
func (s *Store) GetSavedUploadState(ctx context.Context, key string) (*UploadState, error) {
	return get[UploadState](ctx, s.kv, nsUploads, key)
}

func (s *Store) ClearUploadState(ctx context.Context, key string) error {
	return remove[UploadState](ctx, s.kv, nsUploads, key)
}

// ListUploads returns pending uploads ordered by key.
func (s *Store) ListUploads(ctx context.Context) ([]UploadState, error) {
	doc, err := load[UploadState](ctx, s.kv, nsUploads)
	if err != nil {
		return nil, err
	}
	out := make([]UploadState, 0, len(doc))
	for _, v := range doc {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) SaveDownloadState(ctx context.Context, key string, offset, size int64, name string) error {
	return put(ctx, s.kv, nsDownloads, key, DownloadState{Key: key, Offset: offset, Size: size, Name: name, Timestamp: s.now().UTC()})
}

// GetSavedDownloadState returns nil when no download is pending for key.
func (s *Store) GetSavedDownloadState(ctx context.Context, key string) (*DownloadState, error) {
	return get[DownloadState](ctx, s.kv, nsDownloads, key)
}

func (s *Store) ClearDownloadState(ctx context.Context, key string) error {
	return remove[DownloadState](ctx, s.kv, nsDownloads, key)
}

func (s *Store) SavePaused(ctx context.Context, p PausedTransfer) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now().UTC()
	}
	return put(ctx, s.kv, nsPaused, p.ID, p)
}

// Paused returns nil when id has no snapshot.
func (s *Store) Paused(ctx context.Context, id string) (*PausedTransfer, error) {
	return get[PausedTransfer](ctx, s.kv, nsPaused, id)
}

func (s *Store) ClearPaused(ctx context.Context, id string) error {
	return remove[PausedTransfer](ctx, s.kv, nsPaused, id)
}

// Prune drops entries older than maxAge from every namespace and returns
// how many were removed.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	total := 0

	n, err := pruneNS(ctx, s.kv, nsUploads, cutoff, func(v UploadState) time.Time { return v.Timestamp })
	if err != nil {
		return total, err
	}
	total += n

	n, err = pruneNS(ctx, s.kv, nsDownloads, cutoff, func(v DownloadState) time.Time { return v.Timestamp })
	if err != nil {
		return total, err
	}
	total += n

	n, err = pruneNS(ctx, s.kv, nsPaused, cutoff, func(v PausedTransfer) time.Time { return v.Timestamp })
	total += n
	return total, err
}

func pruneNS[T any](ctx context.Context, kv KV, ns string, cutoff time.Time, ts func(T) time.Time) (int, error) {
	n := 0
	err := mutate(ctx, kv, ns, func(doc map[string]T) bool {
		n = 0
		for k, v := range doc {
			if ts(v).Before(cutoff) {
				delete(doc, k)
				n++
			}
		}
		return n > 0
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
