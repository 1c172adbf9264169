// Package netx performs plain HTTP transfers against presigned object URLs.
package netx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StatusError is returned for non-200 responses. Body holds the start of the
// response body, which for S3 is usually an XML error document.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("signed GET returned %s", e.Status)
	}
	return fmt.Sprintf("signed GET returned %s; body: %s", e.Status, e.Body)
}

const maxErrorBody = 512

// Fetch GETs url with client and copies the response body into w.
func Fetch(ctx context.Context, client *http.Client, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))}
	}
	return io.Copy(w, resp.Body)
}
