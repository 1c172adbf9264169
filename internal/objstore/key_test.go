package objstore

import (
	"testing"

	"github.com/dmitrijs2005/gophstore/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a/b.txt", "a/b.txt"},
		{"./a/b.txt", "a/b.txt"},
		{"/a/b/", "a/b"},
		{"././a", "a"},
		{`docs\2024\report.pdf`, "docs/2024/report.pdf"},
		{`.\photos\cat.jpg`, "photos/cat.jpg"},
		{"//.//x", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeKey(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeKey_Empty(t *testing.T) {
	for _, in := range []string{"", "/", "./", "."} {
		_, err := NormalizeKey(in)
		require.ErrorIs(t, err, common.ErrInvalidKey, "input %q", in)
	}
}

func TestFolderHelpers(t *testing.T) {
	assert.Equal(t, "photos/2024/", FolderPrefix("/photos/2024"))
	assert.Equal(t, "", FolderPrefix(""))
	assert.Equal(t, "photos/2024", ParentFolder("photos/2024/cat.jpg"))
	assert.Equal(t, "", ParentFolder("cat.jpg"))
	assert.Equal(t, "2024", BaseName("photos/2024/"))
}

func TestIsArchivedClass(t *testing.T) {
	assert.True(t, IsArchivedClass("DEEP_ARCHIVE", ""))
	assert.True(t, IsArchivedClass("glacier", ""))
	assert.True(t, IsArchivedClass("INTELLIGENT_TIERING", "ARCHIVE_ACCESS"))
	assert.False(t, IsArchivedClass("GLACIER_IR", ""))
	assert.False(t, IsArchivedClass("STANDARD", ""))
	assert.False(t, IsArchivedClass("", ""))
}
