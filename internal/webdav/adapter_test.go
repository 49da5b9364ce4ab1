package webdav

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbvault/nzbvault/internal/domain"
)

func TestItemInfo_DirectoryVsFile(t *testing.T) {
	dir := itemInfo{domain.Item{Name: "season1", Type: domain.ItemDirectory}}
	assert.True(t, dir.IsDir())
	assert.True(t, dir.Mode().IsDir())

	f := itemInfo{domain.Item{Name: "episode.mkv", Size: 1234, Type: domain.ItemNzbFile}}
	assert.False(t, f.IsDir())
	assert.Equal(t, int64(1234), f.Size())
	assert.Equal(t, "episode.mkv", f.Name())
}

func TestDirFile_ReaddirAllThenPaginated(t *testing.T) {
	children := []domain.Item{
		{Name: "a.mkv"}, {Name: "b.mkv"}, {Name: "c.mkv"},
	}
	d := &dirFile{children: children}

	all, err := d.Readdir(-1)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	d2 := &dirFile{children: children}
	page1, err := d2.Readdir(2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page2, err := d2.Readdir(2)
	require.NoError(t, err)
	assert.Len(t, page2, 1)

	_, err = d2.Readdir(2)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDirFile_ReadAndSeekUnsupported(t *testing.T) {
	d := &dirFile{}
	n, err := d.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = d.Seek(0, io.SeekStart)
	assert.Error(t, err)
}

func TestFileSystem_WriteOperationsRejected(t *testing.T) {
	fs := New(nil)
	ctx := context.Background()

	assert.ErrorIs(t, fs.Mkdir(ctx, "/x", 0), os.ErrPermission)
	assert.ErrorIs(t, fs.RemoveAll(ctx, "/x"), os.ErrPermission)
	assert.ErrorIs(t, fs.Rename(ctx, "/a", "/b"), os.ErrPermission)

	_, err := fs.OpenFile(ctx, "/x", os.O_WRONLY, 0)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestItemInfo_ModTimeAndSys(t *testing.T) {
	now := time.Now()
	item := domain.Item{Name: "x", CreatedAt: now}
	info := itemInfo{item}
	assert.Equal(t, now, info.ModTime())
	assert.Equal(t, item, info.Sys())
}
