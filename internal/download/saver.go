package download

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophstore/internal/filex"
)

// Saver receives a finished folder archive.
type Saver interface {
	Save(ctx context.Context, name string, data []byte) error
}

type SaverFunc func(ctx context.Context, name string, data []byte) error

func (f SaverFunc) Save(ctx context.Context, name string, data []byte) error {
	return f(ctx, name, data)
}

// DirSaver writes archives into Dir, replacing files of the same name.
type DirSaver struct {
	Dir string
}

func (d DirSaver) Save(_ context.Context, name string, data []byte) error {
	if err := filex.WriteAtomic(d.Dir, name, data); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	return nil
}
