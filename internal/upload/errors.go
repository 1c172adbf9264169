package upload

import (
	"errors"
	"fmt"
)

// UploadError is returned for any upload that did not reach the store.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// errFallback signals that a buffered path gave up before touching the store.
var errFallback = errors.New("buffered upload not possible")
