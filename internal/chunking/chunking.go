// Package chunking maps file sizes to part sizes and upload strategies.
// Everything here is a pure function of the size.
package chunking

import "github.com/dmitrijs2005/gophstore/internal/common"

// Strategy is the upload path selected for a file size.
type Strategy int

const (
	// SinglePut sends the whole payload in one PUT.
	SinglePut Strategy = iota
	// InMemoryMultipart buffers the payload and sends fixed-size parts.
	InMemoryMultipart
	// Managed delegates to the store's concurrent multipart uploader.
	Managed
	// ManualMultipart sends parts sequentially, retrying each one.
	ManualMultipart
)

func (s Strategy) String() string {
	switch s {
	case SinglePut:
		return "single-put"
	case InMemoryMultipart:
		return "in-memory-multipart"
	case Managed:
		return "managed"
	case ManualMultipart:
		return "manual-multipart"
	default:
		return "unknown"
	}
}

const (
	// SinglePutLimit is the exclusive upper bound of the single-PUT tier.
	SinglePutLimit = 25 * common.MiB
	// InMemoryLimit is the exclusive upper bound of the in-memory multipart tier.
	InMemoryLimit = 100 * common.MiB
	// ManagedLimit is the exclusive upper bound of the managed uploader tier.
	ManagedLimit = common.GiB

	// InMemoryPartSize is the fixed part size used by the in-memory tier.
	InMemoryPartSize = 5 * common.MiB

	// MinPartSize is the store's minimum size for every part but the last.
	MinPartSize = 5 * common.MiB
	// MaxParts is the store's cap on parts per multipart upload.
	MaxParts = 10000
)

type tier struct {
	below int64
	chunk int64
}

var tiers = []tier{
	{below: 100 * common.MiB, chunk: 5 * common.MiB},
	{below: common.GiB, chunk: 10 * common.MiB},
	{below: 5 * common.GiB, chunk: 25 * common.MiB},
	{below: 10 * common.GiB, chunk: 50 * common.MiB},
}

const largestChunk = 100 * common.MiB

// ChunkSizeFor returns the part size for a file of the given size.
// Lower bounds are inclusive, upper bounds exclusive.
func ChunkSizeFor(size int64) int64 {
	for _, t := range tiers {
		if size < t.below {
			return t.chunk
		}
	}
	return largestChunk
}

// TierSizes returns the five possible ChunkSizeFor results in ascending order.
func TierSizes() []int64 {
	out := make([]int64, 0, len(tiers)+1)
	for _, t := range tiers {
		out = append(out, t.chunk)
	}
	return append(out, largestChunk)
}

// IsLargeFile reports whether a transfer should be confirmed by the user
// before it starts.
func IsLargeFile(size int64) bool {
	return size > common.GiB
}

// StrategyFor picks the upload path for a file size.
func StrategyFor(size int64) Strategy {
	switch {
	case size < SinglePutLimit:
		return SinglePut
	case size < InMemoryLimit:
		return InMemoryMultipart
	case size < ManagedLimit:
		return Managed
	default:
		return ManualMultipart
	}
}

// PartCount returns how many parts of partSize are needed for size bytes.
// An empty payload still takes one part.
func PartCount(size, partSize int64) int {
	if partSize <= 0 {
		return 0
	}
	if size <= 0 {
		return 1
	}
	return int((size + partSize - 1) / partSize)
}

// PartRange returns the [offset, offset+length) byte range of the 1-based part n.
func PartRange(n int, size, partSize int64) (offset, length int64) {
	offset = int64(n-1) * partSize
	length = partSize
	if offset+length > size {
		length = size - offset
	}
	if length < 0 {
		length = 0
	}
	return offset, length
}
