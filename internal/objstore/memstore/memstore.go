// Package memstore is an in-memory objstore.Client. It validates multipart
// completion the way a real store does, records every call and lets tests
// inject failures per operation.
package memstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophstore/internal/common"
	"github.com/dmitrijs2005/gophstore/internal/objstore"
	"github.com/google/uuid"
)

// Op names a Client method for call recording and fault injection.
type Op string

const (
	OpList              Op = "List"
	OpHead              Op = "Head"
	OpPut               Op = "Put"
	OpGet               Op = "Get"
	OpCopy              Op = "Copy"
	OpDelete            Op = "Delete"
	OpCreateMultipart   Op = "CreateMultipart"
	OpUploadPart        Op = "UploadPart"
	OpListParts         Op = "ListParts"
	OpCompleteMultipart Op = "CompleteMultipart"
	OpAbortMultipart    Op = "AbortMultipart"
	OpManagedUpload     Op = "ManagedUpload"
	OpRestore           Op = "Restore"
	OpPresignGet        Op = "PresignGet"
	OpPresignPut        Op = "PresignPut"
)

// Call is one recorded Client invocation.
type Call struct {
	Op         Op
	Key        string
	PartNumber int32
}

// FaultFunc is consulted before every call; a non-nil error is returned
// instead of performing the operation.
type FaultFunc func(op Op, key string, partNumber int32) error

type object struct {
	data          []byte
	contentType   string
	storageClass  string
	archiveStatus string
	restore       string
	modified      time.Time
}

type multipart struct {
	key   string
	parts map[int32][]byte
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	objects  map[string]*object
	uploads  map[string]*multipart
	calls    []Call
	fault    FaultFunc
	pageSize int

	completed map[string][]objstore.CompletedPart

	// BaseURL is the origin presigned URLs point at, see Handler.
	BaseURL string
}

var _ objstore.Client = (*Store)(nil)

func New() *Store {
	return &Store{
		objects:   make(map[string]*object),
		uploads:   make(map[string]*multipart),
		completed: make(map[string][]objstore.CompletedPart),
		pageSize:  1000,
	}
}

// SetFault installs (or clears, with nil) the fault hook.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// SetPageSize changes how many keys List returns per page.
func (s *Store) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// PutObject seeds an object directly, bypassing fault injection.
func (s *Store) PutObject(key string, data []byte, storageClass string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &object{data: append([]byte(nil), data...), storageClass: storageClass, modified: time.Now()}
}

// SetRestore sets the raw restore header of an existing object.
func (s *Store) SetRestore(key, header string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[key]; ok {
		o.restore = header
	}
}

// SetArchiveStatus sets the intelligent-tiering archive status of an object.
func (s *Store) SetArchiveStatus(key, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[key]; ok {
		o.archiveStatus = status
	}
}

// Object returns a copy of the stored bytes.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), o.data...), true
}

// Calls returns a copy of the recorded calls.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many times op was called.
func (s *Store) Count(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// CompletedParts returns the part list submitted for key's last completed upload.
func (s *Store) CompletedParts(key string) []objstore.CompletedPart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]objstore.CompletedPart(nil), s.completed[key]...)
}

// OpenUploads returns the number of multipart sessions neither completed nor aborted.
func (s *Store) OpenUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func (s *Store) enter(op Op, key string, part int32) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: op, Key: key, PartNumber: part})
	f := s.fault
	s.mu.Unlock()
	if f != nil {
		return f(op, key, part)
	}
	return nil
}

func etag(b []byte) string {
	sum := md5.Sum(b)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (s *Store) List(ctx context.Context, in objstore.ListInput) (*objstore.ListPage, error) {
	if err := s.enter(OpList, in.Prefix, 0); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, in.Prefix) && k > in.ContinuationToken {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := s.pageSize
	if in.MaxKeys > 0 && int(in.MaxKeys) < limit {
		limit = int(in.MaxKeys)
	}

	page := &objstore.ListPage{}
	seen := map[string]bool{}
	for _, k := range keys {
		if len(page.Objects) == limit {
			page.NextToken = page.Objects[len(page.Objects)-1].Key
			break
		}
		if in.Delimiter != "" {
			rest := strings.TrimPrefix(k, in.Prefix)
			if i := strings.Index(rest, in.Delimiter); i >= 0 {
				cp := in.Prefix + rest[:i+len(in.Delimiter)]
				if !seen[cp] {
					seen[cp] = true
					page.CommonPrefixes = append(page.CommonPrefixes, cp)
				}
				continue
			}
		}
		o := s.objects[k]
		page.Objects = append(page.Objects, objstore.ObjectInfo{
			Key:          k,
			Size:         int64(len(o.data)),
			StorageClass: o.storageClass,
			ETag:         etag(o.data),
			LastModified: o.modified,
		})
	}
	return page, nil
}

func (s *Store) Head(ctx context.Context, key string) (*objstore.HeadResult, error) {
	if err := s.enter(OpHead, key, 0); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("head %s: %w", key, common.ErrorNotFound)
	}
	return &objstore.HeadResult{
		Key:           key,
		Size:          int64(len(o.data)),
		ContentType:   o.contentType,
		ETag:          etag(o.data),
		StorageClass:  o.storageClass,
		ArchiveStatus: o.archiveStatus,
		Restore:       o.restore,
		LastModified:  o.modified,
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	if err := s.enter(OpPut, key, 0); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &object{data: data, contentType: contentType, storageClass: "STANDARD", modified: time.Now()}
	return nil
}

func (s *Store) readable(key string) (*object, error) {
	o, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, common.ErrorNotFound)
	}
	if objstore.IsArchivedClass(o.storageClass, o.archiveStatus) && !strings.Contains(o.restore, `ongoing-request="false"`) {
		return nil, fmt.Errorf("get %s: InvalidObjectState", key)
	}
	return o, nil
}

func (s *Store) Get(ctx context.Context, key string, rng *objstore.ByteRange) (io.ReadCloser, error) {
	if err := s.enter(OpGet, key, 0); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.readable(key)
	if err != nil {
		return nil, err
	}
	data := o.data
	if rng != nil {
		end := rng.End
		if end < 0 || end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		if rng.Start > end {
			return nil, fmt.Errorf("get %s: invalid range", key)
		}
		data = data[rng.Start : end+1]
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := s.enter(OpCopy, srcKey, 0); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.readable(srcKey)
	if err != nil {
		return err
	}
	cp := *o
	cp.data = append([]byte(nil), o.data...)
	cp.modified = time.Now()
	s.objects[dstKey] = &cp
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := s.enter(OpDelete, k, 0); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.objects, k)
	}
	return nil
}

func (s *Store) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	if err := s.enter(OpCreateMultipart, key, 0); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.uploads[id] = &multipart{key: key, parts: make(map[int32][]byte)}
	return id, nil
}

func (s *Store) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (string, error) {
	if err := s.enter(OpUploadPart, key, partNumber); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("upload part %d: body has %d bytes, want %d", partNumber, len(data), size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return "", fmt.Errorf("upload part: NoSuchUpload %s: %w", uploadID, common.ErrorNotFound)
	}
	u.parts[partNumber] = data
	return etag(data), nil
}

func (s *Store) ListParts(ctx context.Context, key, uploadID string) ([]objstore.CompletedPart, error) {
	if err := s.enter(OpListParts, key, 0); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return nil, fmt.Errorf("list parts: NoSuchUpload %s: %w", uploadID, common.ErrorNotFound)
	}
	out := make([]objstore.CompletedPart, 0, len(u.parts))
	for n, d := range u.parts {
		out = append(out, objstore.CompletedPart{PartNumber: n, ETag: etag(d), Size: int64(len(d))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out, nil
}

func (s *Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []objstore.CompletedPart) error {
	if err := s.enter(OpCompleteMultipart, key, 0); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return fmt.Errorf("complete: NoSuchUpload %s: %w", uploadID, common.ErrorNotFound)
	}
	if len(parts) == 0 {
		return fmt.Errorf("complete: empty part list")
	}
	var buf bytes.Buffer
	for i, p := range parts {
		if p.PartNumber != int32(i+1) {
			return fmt.Errorf("complete: InvalidPartOrder at index %d (part %d)", i, p.PartNumber)
		}
		d, ok := u.parts[p.PartNumber]
		if !ok || etag(d) != p.ETag {
			return fmt.Errorf("complete: InvalidPart %d", p.PartNumber)
		}
		buf.Write(d)
	}
	s.objects[key] = &object{data: buf.Bytes(), storageClass: "STANDARD", modified: time.Now()}
	s.completed[key] = append([]objstore.CompletedPart(nil), parts...)
	delete(s.uploads, uploadID)
	return nil
}

func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := s.enter(OpAbortMultipart, key, 0); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, uploadID)
	return nil
}

func (s *Store) ManagedUpload(ctx context.Context, in objstore.ManagedUploadInput) error {
	if err := s.enter(OpManagedUpload, in.Key, 0); err != nil {
		return err
	}
	partSize := in.PartSize
	if partSize <= 0 {
		partSize = 5 << 20
	}
	var buf bytes.Buffer
	chunk := make([]byte, partSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(in.Body, chunk)
		buf.Write(chunk[:n])
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[in.Key] = &object{data: buf.Bytes(), contentType: in.ContentType, storageClass: "STANDARD", modified: time.Now()}
	return nil
}

func (s *Store) Restore(ctx context.Context, key string, days int32, tier objstore.Tier) error {
	if err := s.enter(OpRestore, key, 0); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("restore %s: %w", key, common.ErrorNotFound)
	}
	if strings.Contains(o.restore, `ongoing-request="true"`) {
		return fmt.Errorf("restore %s: RestoreAlreadyInProgress", key)
	}
	o.restore = `ongoing-request="true"`
	return nil
}

func (s *Store) presign(op Op, key string, expires time.Duration) (string, error) {
	if err := s.enter(op, key, 0); err != nil {
		return "", err
	}
	base := s.BaseURL
	if base == "" {
		base = "http://memstore.invalid"
	}
	q := url.Values{}
	q.Set("X-Amz-Expires", strconv.Itoa(int(expires.Seconds())))
	return strings.TrimRight(base, "/") + "/" + key + "?" + q.Encode(), nil
}

func (s *Store) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	return s.presign(OpPresignGet, key, expires)
}

func (s *Store) PresignPut(ctx context.Context, key string, expires time.Duration) (string, error) {
	return s.presign(OpPresignPut, key, expires)
}

// Handler serves GET requests for presigned URLs produced with BaseURL set.
func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/")
		s.mu.Lock()
		o, err := s.readable(key)
		var data []byte
		if err == nil {
			data = append([]byte(nil), o.data...)
		}
		s.mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	})
}
