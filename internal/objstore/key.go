package objstore

import (
	"fmt"
	"path"
	"strings"

	"github.com/dmitrijs2005/gophstore/internal/common"
)

// NormalizeKey turns a user-supplied path into a store key: backslashes
// become slashes, leading "./" segments and surrounding slashes are removed.
func NormalizeKey(p string) (string, error) {
	k := strings.ReplaceAll(p, "\\", "/")
	for {
		trimmed := strings.TrimLeft(k, "/")
		trimmed = strings.TrimPrefix(trimmed, "./")
		if trimmed == k {
			break
		}
		k = trimmed
	}
	k = strings.Trim(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("%w: %q", common.ErrInvalidKey, p)
	}
	return k, nil
}

// FolderPrefix normalizes a folder key and appends the trailing slash used
// for prefix listings. An empty folder means the bucket root.
func FolderPrefix(folder string) string {
	k, err := NormalizeKey(folder)
	if err != nil {
		return ""
	}
	return k + "/"
}

// ParentFolder returns the folder part of a key, "" for top-level keys.
func ParentFolder(key string) string {
	dir := path.Dir(key)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// BaseName returns the last segment of a key.
func BaseName(key string) string {
	return path.Base(strings.TrimRight(key, "/"))
}

// IsArchivedClass reports whether objects of this storage class (or
// intelligent-tiering archive status) need a restore before they can be read.
func IsArchivedClass(storageClass, archiveStatus string) bool {
	switch strings.ToUpper(storageClass) {
	case "GLACIER", "DEEP_ARCHIVE":
		return true
	}
	switch strings.ToUpper(archiveStatus) {
	case "ARCHIVE_ACCESS", "DEEP_ARCHIVE_ACCESS":
		return true
	}
	return false
}
