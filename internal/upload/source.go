package upload

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
)

// Source is the payload of one upload.
type Source struct {
	Name        string
	Size        int64
	Reader      io.ReaderAt
	ContentType string
}

func (s Source) contentType() string {
	if s.ContentType != "" {
		return s.ContentType
	}
	if ct := mime.TypeByExtension(path.Ext(s.Name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// readFull reads length bytes at off into buf. A short read is an error.
func (s Source) readFull(buf []byte, off int64) error {
	n, err := s.Reader.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("read %s at %d: %w", s.Name, off, err)
}

// FileSource opens a local file as a Source. The caller closes the file.
func FileSource(name string) (Source, *os.File, error) {
	f, err := os.Open(name)
	if err != nil {
		return Source{}, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Source{}, nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return Source{}, nil, fmt.Errorf("%s is a directory", name)
	}
	return Source{Name: filepath.Base(name), Size: st.Size(), Reader: f}, f, nil
}

func newSectionReader(s Source) io.Reader {
	return io.NewSectionReader(s.Reader, 0, s.Size)
}
