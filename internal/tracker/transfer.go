package tracker

import (
	"context"
	"time"
)

type Kind string

const (
	KindUpload      Kind = "upload"
	KindDownload    Kind = "download"
	KindRestore     Kind = "restore"
	KindBulkRestore Kind = "bulk-restore"
)

type Status string

const (
	StatusInProgress  Status = "in_progress"
	StatusCompressing Status = "compressing"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Transfer is a point-in-time copy of one tracked operation.
type Transfer struct {
	ID          string
	Name        string
	Kind        Kind
	Keys        []string
	TotalSize   int64
	Loaded      int64
	Progress    int
	Status      Status
	Rate        float64        // bytes per second, smoothed
	ETA         *time.Duration // nil until a rate is known
	Error       string
	ResumeOf    string
	CreatedAt   time.Time
	CompletedAt *time.Time
	ErroredAt   *time.Time
}

// Key returns the first object key the transfer addresses.
func (t Transfer) Key() string {
	if len(t.Keys) == 0 {
		return ""
	}
	return t.Keys[0]
}

// Descriptor describes a transfer to register.
type Descriptor struct {
	Name      string
	Kind      Kind
	Keys      []string
	TotalSize int64
	Loaded    int64
	ResumeOf  string
	Cancel    context.CancelFunc
}
