// Package common defines sentinel errors shared by the transfer engines and
// their storage layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store/repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Archive errors. ErrArchivedNotReady is an expected condition: the caller
	// should offer a restore instead of reporting a failure.
	ErrArchivedNotReady = errors.New("object is archived and has not been restored")
	ErrNotArchived      = errors.New("object is not archived")

	// Transfer lifecycle errors.
	ErrCancelled = errors.New("transfer cancelled")
	ErrPaused    = errors.New("transfer paused")

	// Validation errors.
	ErrInvalidKey = errors.New("invalid object key")
)
