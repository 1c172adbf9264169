// Package activity records completed transfer operations in an external
// activity log. Writes are best effort: Safe wraps any Repository so that a
// failing log never fails the transfer that produced it.
package activity

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophstore/internal/logging"
)

type Action string

const (
	ActionUpload         Action = "Upload"
	ActionDownload       Action = "Download"
	ActionDownloadFolder Action = "Download Folder"
	ActionRestore        Action = "Restore"
	ActionBulkRestore    Action = "Bulk Restore"
)

type Record struct {
	Action       Action
	ItemName     string
	Size         int64
	FileCount    int
	FolderPath   string
	StorageClass string
	Metadata     map[string]any
}

type Repository interface {
	Log(ctx context.Context, r Record) error
}

type Nop struct{}

func (Nop) Log(context.Context, Record) error { return nil }

// DefaultTimeout bounds a single Safe write.
const DefaultTimeout = 5 * time.Second

type Safe struct {
	repo    Repository
	log     logging.Logger
	timeout time.Duration
}

func NewSafe(repo Repository, log logging.Logger) *Safe {
	if repo == nil {
		repo = Nop{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Safe{repo: repo, log: log, timeout: DefaultTimeout}
}

// Log writes r and swallows any failure. The write is detached from ctx
// cancellation so a record still lands after the caller returns.
func (s *Safe) Log(ctx context.Context, r Record) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.repo.Log(ctx, r); err != nil {
		s.log.Warn(ctx, "activity log write failed", "action", string(r.Action), "item", r.ItemName, "error", err)
	}
}
