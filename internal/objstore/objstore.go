// Package objstore defines the object-store surface the transfer engines
// depend on. Implementations live in subpackages (s3store, memstore).
package objstore

import (
	"context"
	"io"
	"time"
)

// ObjectInfo is one entry of a listing.
type ObjectInfo struct {
	Key          string
	Size         int64
	StorageClass string
	ETag         string
	LastModified time.Time
}

// ListInput selects a page of a prefix listing.
type ListInput struct {
	Prefix            string
	Delimiter         string
	ContinuationToken string
	MaxKeys           int32
}

// ListPage is one page of a listing. NextToken is empty on the last page.
type ListPage struct {
	Objects        []ObjectInfo
	CommonPrefixes []string
	NextToken      string
}

// HeadResult is the metadata of a single object.
type HeadResult struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	StorageClass string
	// ArchiveStatus is set for intelligent-tiering archive tiers.
	ArchiveStatus string
	// Restore is the raw restore status header, empty when no restore was requested.
	Restore      string
	LastModified time.Time
}

// ByteRange is an inclusive [Start, End] range. End < 0 means "to the end".
type ByteRange struct {
	Start int64
	End   int64
}

// CompletedPart is a successfully uploaded part of a multipart upload.
type CompletedPart struct {
	PartNumber int32
	ETag       string
	Size       int64
}

// Tier is an archive retrieval tier as understood by the store.
type Tier string

const (
	TierExpedited Tier = "Expedited"
	TierStandard  Tier = "Standard"
	TierBulk      Tier = "Bulk"
)

// ManagedUploadInput configures a store-managed concurrent multipart upload.
type ManagedUploadInput struct {
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
	PartSize    int64
	Concurrency int
}

// Client is the primitive remote surface. Every call is a suspension point.
type Client interface {
	List(ctx context.Context, in ListInput) (*ListPage, error)
	Head(ctx context.Context, key string) (*HeadResult, error)
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error
	Get(ctx context.Context, key string, rng *ByteRange) (io.ReadCloser, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, keys ...string) error

	CreateMultipart(ctx context.Context, key, contentType string) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (etag string, err error)
	ListParts(ctx context.Context, key, uploadID string) ([]CompletedPart, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// ManagedUpload uploads Body with the store's own concurrent multipart
	// uploader. Parts may finish out of order; the uploader resequences them.
	ManagedUpload(ctx context.Context, in ManagedUploadInput) error

	Restore(ctx context.Context, key string, days int32, tier Tier) error

	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignPut(ctx context.Context, key string, expires time.Duration) (string, error)
}

// ListAll follows continuation tokens until the listing under prefix is
// exhausted. Folder marker keys (ending in "/") are dropped.
func ListAll(ctx context.Context, c Client, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	token := ""
	for {
		page, err := c.List(ctx, ListInput{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, o := range page.Objects {
			if o.Key == "" || o.Key[len(o.Key)-1] == '/' {
				continue
			}
			out = append(out, o)
		}
		if page.NextToken == "" {
			return out, nil
		}
		token = page.NextToken
	}
}
