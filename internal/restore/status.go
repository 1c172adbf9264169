package restore

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RestoreState is the parsed restore header of an archived object.
type RestoreState struct {
	Ongoing bool
	Expiry  *time.Time
}

// ArchivalStatus is the result of one status check.
type ArchivalStatus struct {
	Key          string
	Size         int64
	IsArchived   bool
	StorageClass string
	Restore      *RestoreState
}

// Ready reports whether a restored copy of an archived object can be read.
func (s ArchivalStatus) Ready() bool {
	return s.IsArchived && s.Restore != nil && !s.Restore.Ongoing
}

// Ongoing reports whether a restore was requested and has not finished.
func (s ArchivalStatus) Ongoing() bool {
	return s.IsArchived && s.Restore != nil && s.Restore.Ongoing
}

// Readable reports whether the object can be fetched right now.
func (s ArchivalStatus) Readable() bool {
	return !s.IsArchived || s.Ready()
}

var (
	ongoingRe = regexp.MustCompile(`ongoing-request\s*=\s*"(true|false)"`)
	expiryRe  = regexp.MustCompile(`expiry-date\s*=\s*"([^"]+)"`)
)

// ParseRestoreHeader parses values such as
//
//	ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"
//
// An empty header yields nil.
func ParseRestoreHeader(h string) (*RestoreState, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return nil, nil
	}
	m := ongoingRe.FindStringSubmatch(h)
	if m == nil {
		return nil, fmt.Errorf("malformed restore header %q", h)
	}
	st := &RestoreState{Ongoing: m[1] == "true"}
	if e := expiryRe.FindStringSubmatch(h); e != nil {
		t, err := time.Parse(time.RFC1123, e[1])
		if err != nil {
			return nil, fmt.Errorf("malformed restore expiry %q: %w", e[1], err)
		}
		st.Expiry = &t
	}
	return st, nil
}
