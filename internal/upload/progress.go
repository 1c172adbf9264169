package upload

import (
	"io"
	"sync/atomic"
)

// countingReader reports the running total of bytes read.
type countingReader struct {
	r      io.Reader
	n      atomic.Int64
	report func(total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.report(c.n.Add(int64(n)))
	}
	return n, err
}
