// Package webdav implements a thin, read-only golang.org/x/net/webdav.FileSystem
// directly over the virtual filesystem store (C9). Adapted from
// javi11-altmount/internal/webdav/adapter.go's fileSystem/OpenFile/Stat
// trio, stripped of that file's JWT/basic-auth plumbing, PathWithArgs
// query-string parsing, and MOVE/COPY/rclone integration — none of which
// are in scope here.
package webdav

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"time"

	"golang.org/x/net/webdav"

	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/store"
)

var errReadOnly = os.ErrPermission

// FileSystem exposes the item tree read-only. Every write-path method
// returns os.ErrPermission; ingestion is the sole writer, via the queue,
// never through this surface.
type FileSystem struct {
	store *store.Store
}

// New builds a FileSystem over an already-opened Store.
func New(s *store.Store) *FileSystem {
	return &FileSystem{store: s}
}

func (fs *FileSystem) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return errReadOnly
}

func (fs *FileSystem) RemoveAll(ctx context.Context, name string) error {
	return errReadOnly
}

func (fs *FileSystem) Rename(ctx context.Context, oldName, newName string) error {
	return errReadOnly
}

func (fs *FileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	item, err := fs.store.Get(ctx, name)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return itemInfo{item}, nil
}

// OpenFile rejects any write intent outright, then serves directories as
// a listing-only handle and regular items through the store's streaming
// Open, matching the teacher's WebDAV mount being download-only for
// anything backed by Usenet segments.
func (fs *FileSystem) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_APPEND|os.O_TRUNC) != 0 {
		return nil, errReadOnly
	}

	item, err := fs.store.Get(ctx, name)
	if err != nil {
		return nil, mapNotFound(err)
	}

	if item.Type == domain.ItemDirectory {
		children, err := fs.store.List(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
		return &dirFile{item: item, children: children}, nil
	}

	stream, opened, err := fs.store.Open(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return &file{stream: stream, item: opened}, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return os.ErrNotExist
	}
	return err
}

// file wraps one open store.Stream as a webdav.File.
type file struct {
	stream store.Stream
	item   domain.Item
}

func (f *file) Read(p []byte) (int, error)                 { return f.stream.Read(p) }
func (f *file) Seek(off int64, whence int) (int64, error)   { return f.stream.Seek(off, whence) }
func (f *file) Close() error                                { return f.stream.Close() }
func (f *file) Write([]byte) (int, error)                   { return 0, errReadOnly }
func (f *file) Stat() (os.FileInfo, error)                  { return itemInfo{f.item}, nil }
func (f *file) Readdir(int) ([]os.FileInfo, error)          { return nil, errors.New("webdav: not a directory") }

// dirFile serves a directory listing without backing a stream: Usenet
// segments only ever back leaf items.
type dirFile struct {
	item     domain.Item
	children []domain.Item
	pos      int
}

func (d *dirFile) Read([]byte) (int, error)               { return 0, io.EOF }
func (d *dirFile) Write([]byte) (int, error)               { return 0, errReadOnly }
func (d *dirFile) Seek(int64, int) (int64, error)          { return 0, errors.New("webdav: cannot seek a directory") }
func (d *dirFile) Close() error                            { return nil }
func (d *dirFile) Stat() (os.FileInfo, error)              { return itemInfo{d.item}, nil }

func (d *dirFile) Readdir(count int) ([]os.FileInfo, error) {
	if count <= 0 {
		out := make([]os.FileInfo, len(d.children)-d.pos)
		for i, c := range d.children[d.pos:] {
			out[i] = itemInfo{c}
		}
		d.pos = len(d.children)
		return out, nil
	}

	remaining := len(d.children) - d.pos
	if remaining == 0 {
		return nil, io.EOF
	}
	if count > remaining {
		count = remaining
	}
	out := make([]os.FileInfo, count)
	for i, c := range d.children[d.pos : d.pos+count] {
		out[i] = itemInfo{c}
	}
	d.pos += count
	return out, nil
}

// itemInfo adapts a domain.Item to os.FileInfo.
type itemInfo struct {
	item domain.Item
}

func (i itemInfo) Name() string       { return i.item.Name }
func (i itemInfo) Size() int64        { return i.item.Size }
func (i itemInfo) Mode() os.FileMode {
	if i.item.Type == domain.ItemDirectory {
		return os.ModeDir | 0o555
	}
	return 0o444
}
func (i itemInfo) ModTime() time.Time { return i.item.CreatedAt }
func (i itemInfo) IsDir() bool        { return i.item.Type == domain.ItemDirectory }
func (i itemInfo) Sys() any           { return i.item }

var (
	_ webdav.FileSystem = (*FileSystem)(nil)
	_ webdav.File       = (*file)(nil)
	_ webdav.File       = (*dirFile)(nil)
	_ os.FileInfo       = itemInfo{}
)
