// Package ingest implements the NZB ingestion pipeline (C8): parse an
// NZB manifest, probe each file's first segment and derive its sizes,
// recover true filenames from an embedded PAR2 index, classify files by
// type, reconstruct RAR/7z multi-volume archives into logical files, and
// commit the whole batch into the virtual filesystem tree in one
// transaction. Grounded on
// javi11-altmount/internal/importer/steps/pipeline.go's staged
// Step/ProcessingContext architecture, generalized from that package's
// metapb-backed types onto this module's domain package.
package ingest

import (
	"time"

	"github.com/nzbvault/nzbvault/internal/domain"
)

// FileEntry is one NZB <file> after parsing: the domain segment/group
// data plus the filename extracted from the NZB itself (nzbparser's own
// subject-derived Filename field), before any PAR2-based recovery of a
// truer name has run.
type FileEntry struct {
	domain.NzbFile
	Filename string
}

// TotalSize sums the entry's segment sizes, falling back to the
// NZB-declared total if segment sizes aren't known yet.
func (e FileEntry) TotalSize(declared int64) int64 {
	if sum := e.NzbFile.TotalSize(); sum > 0 {
		return sum
	}
	return declared
}

// Kind classifies a parsed file for step 5's processor dispatch.
type Kind int

const (
	KindUnknown Kind = iota
	KindRaw          // plays/streams directly as one NzbFile item
	KindPar2         // recovery index; never surfaces as an item
	KindRarVolume    // one volume of a multi-part RAR archive
	KindSevenZipVolume
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindPar2:
		return "par2"
	case KindRarVolume:
		return "rar-volume"
	case KindSevenZipVolume:
		return "sevenzip-volume"
	default:
		return "unknown"
	}
}

// FileInfo is step 4's output: a parsed file enriched with its detected
// kind and, if a PAR2 FileDesc packet matched this file's first 16KiB
// MD5, the truer filename PAR2 carries.
type FileInfo struct {
	Entry         FileEntry
	Kind          Kind
	RecoveredName string // "" if no PAR2 match
	DeclaredSize  int64
}

// Name returns the best-known display name for this file: PAR2-recovered
// if present, else the NZB's own extracted filename, else the subject.
func (fi FileInfo) Name() string {
	if fi.RecoveredName != "" {
		return fi.RecoveredName
	}
	if fi.Entry.Filename != "" {
		return fi.Entry.Filename
	}
	return fi.Entry.Subject
}

// ProcessedFile is step 5's output: one logical item ready for step 6's
// aggregation, either a plain single-NzbFile item or a reconstructed
// multipart item (RAR/7z).
type ProcessedFile struct {
	Name        string
	Size        int64
	ReleaseDate time.Time
	NzbFile     *domain.NzbFile
	Multipart   *domain.MultipartFile
}

// Result is the outcome of running the pipeline over one queued job.
type Result struct {
	DirectoryID string
	ItemCount   int
	SkippedPar2 int
}
