// Package usenetfs adapts a set of named, segment-backed byte sources to
// fs.FS (and, via afero, afero.Fs) so archive-header libraries
// (rardecode, sevenzip) can read volume headers and central directories
// directly off NNTP segments during ingestion, without a full download
// first. Adapted from
// javi11-altmount/internal/importer/filesystem/usenet_fs.go's
// UsenetFileSystem/UsenetFile/AferoAdapter trio, rebuilt against this
// module's stream.SegmentStream instead of that file's bespoke
// usenet.NewUsenetReader/GetSegmentsInRange helpers.
package usenetfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"

	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/fetch"
	"github.com/nzbvault/nzbvault/internal/stream"
)

// entry is one named file's backing segment list, as known at ingestion
// time (sizes already discovered by the first-segment/size-oracle step).
type entry struct {
	segments []domain.Segment
	size     int64
}

// FS exposes a flat map of ingestion-time file names as fs.File sources,
// each opened as a fresh stream.SegmentStream. Streams built here pass a
// nil Limiter: ingestion-time header reads are bounded by the pipeline's
// own worker-count configuration, not the process-wide streaming permit
// pool that gates user-facing WebDAV reads (stream.Config.Limiter is
// documented nil-safe).
type FS struct {
	ctx     context.Context
	fetcher *fetch.Fetcher
	oc      domain.OperationContext
	workers int
	window  int
	files   map[string]entry
}

// New builds an FS over files, a map from archive-relative file name
// (the name rardecode/sevenzip will ask to Open, typically the volume's
// base filename) to its ordered, size-known segment list.
func New(ctx context.Context, fetcher *fetch.Fetcher, oc domain.OperationContext, workers, window int, files map[string][]domain.Segment) *FS {
	m := make(map[string]entry, len(files))
	for name, segs := range files {
		var total int64
		for _, s := range segs {
			total += s.Size
		}
		m[name] = entry{segments: segs, size: total}
	}
	return &FS{ctx: ctx, fetcher: fetcher, oc: oc, workers: workers, window: window, files: m}
}

func (f *FS) lookup(name string) (entry, bool) {
	name = path.Base(path.Clean(name))
	e, ok := f.files[name]
	return e, ok
}

// Open implements fs.FS.
func (f *FS) Open(name string) (fs.File, error) {
	e, ok := f.lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	ss := stream.New(f.ctx, f.fetcher, stream.Config{
		Segments:      e.segments,
		TotalLength:   e.size,
		WorkerCount:   f.workers,
		WindowSize:    f.window,
		AllowDegraded: false,
		OC:            f.oc,
	})
	return &file{name: name, size: e.size, stream: ss}, nil
}

// Stat implements the superset rardecode.FileSystem/fs.StatFS expects,
// so header-only volume probing never has to Open a stream just to learn
// a size.
func (f *FS) Stat(name string) (os.FileInfo, error) {
	e, ok := f.lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return fileInfo{name: path.Base(name), size: e.size}, nil
}

type fileInfo struct {
	name string
	size int64
}

func (i fileInfo) Name() string       { return i.name }
func (i fileInfo) Size() int64        { return i.size }
func (i fileInfo) Mode() fs.FileMode  { return 0o444 }
func (i fileInfo) ModTime() time.Time { return time.Time{} }
func (i fileInfo) IsDir() bool        { return false }
func (i fileInfo) Sys() any           { return nil }

// file wraps one stream.SegmentStream as fs.File plus the io.Seeker and
// io.ReaderAt capabilities rardecode/sevenzip rely on for random-access
// header parsing.
type file struct {
	name   string
	size   int64
	stream *stream.SegmentStream
}

func (fl *file) Stat() (fs.FileInfo, error) { return fileInfo{name: path.Base(fl.name), size: fl.size}, nil }
func (fl *file) Read(p []byte) (int, error) { return fl.stream.Read(p) }
func (fl *file) Close() error               { return fl.stream.Close() }

func (fl *file) Seek(offset int64, whence int) (int64, error) {
	return fl.stream.Seek(offset, whence)
}

func (fl *file) ReadAt(p []byte, off int64) (int, error) {
	if _, err := fl.stream.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(fl.stream, p)
}

var (
	_ fs.FS   = (*FS)(nil)
	_ fs.File = (*file)(nil)
)

// AferoFS wraps FS as a read-only afero.Fs, the shape
// sevenzip.OpenReader requires.
type AferoFS struct {
	*FS
}

func NewAfero(f *FS) *AferoFS { return &AferoFS{FS: f} }

func (a *AferoFS) Open(name string) (afero.File, error) {
	fl, err := a.FS.Open(name)
	if err != nil {
		return nil, err
	}
	return &aferoFile{File: fl, name: name}, nil
}

func (a *AferoFS) OpenFile(name string, _ int, _ os.FileMode) (afero.File, error) {
	return a.Open(name)
}

func (a *AferoFS) Name() string { return "usenetfs" }

var errReadOnly = os.ErrPermission

func (a *AferoFS) Create(string) (afero.File, error)       { return nil, errReadOnly }
func (a *AferoFS) Mkdir(string, os.FileMode) error          { return errReadOnly }
func (a *AferoFS) MkdirAll(string, os.FileMode) error       { return errReadOnly }
func (a *AferoFS) Remove(string) error                      { return errReadOnly }
func (a *AferoFS) RemoveAll(string) error                   { return errReadOnly }
func (a *AferoFS) Rename(string, string) error              { return errReadOnly }
func (a *AferoFS) Chmod(string, os.FileMode) error           { return errReadOnly }
func (a *AferoFS) Chown(string, int, int) error              { return errReadOnly }
func (a *AferoFS) Chtimes(string, time.Time, time.Time) error { return errReadOnly }

func (a *AferoFS) Stat(name string) (os.FileInfo, error) { return a.FS.Stat(name) }

// aferoFile wraps an fs.File (with Seek/ReadAt) as afero.File. Directory
// listing methods are unsupported since usenetfs is a flat file set.
type aferoFile struct {
	fs.File
	name string
}

func (f *aferoFile) Seek(offset int64, whence int) (int64, error) {
	if s, ok := f.File.(io.Seeker); ok {
		return s.Seek(offset, whence)
	}
	return 0, fs.ErrInvalid
}

func (f *aferoFile) ReadAt(p []byte, off int64) (int, error) {
	if r, ok := f.File.(io.ReaderAt); ok {
		return r.ReadAt(p, off)
	}
	return 0, fs.ErrInvalid
}

func (f *aferoFile) Write([]byte) (int, error)                 { return 0, errReadOnly }
func (f *aferoFile) WriteAt([]byte, int64) (int, error)         { return 0, errReadOnly }
func (f *aferoFile) WriteString(string) (int, error)            { return 0, errReadOnly }
func (f *aferoFile) Name() string                                { return f.name }
func (f *aferoFile) Readdir(int) ([]os.FileInfo, error)          { return nil, fs.ErrInvalid }
func (f *aferoFile) Readdirnames(int) ([]string, error)          { return nil, fs.ErrInvalid }
func (f *aferoFile) Sync() error                                 { return nil }
func (f *aferoFile) Truncate(int64) error                        { return errReadOnly }

var _ afero.Fs = (*AferoFS)(nil)
var _ afero.File = (*aferoFile)(nil)
