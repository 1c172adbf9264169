package download

import "io"

// progressWriter forwards writes and reports base plus the bytes written.
type progressWriter struct {
	w       io.Writer
	base    int64
	written int64
	report  func(total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.written += int64(n)
		p.report(p.base + p.written)
	}
	return n, err
}
