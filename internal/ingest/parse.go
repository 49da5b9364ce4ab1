package ingest

import (
	"fmt"
	"io"
	"time"

	"github.com/javi11/nzbparser"

	"github.com/nzbvault/nzbvault/internal/domain"
)

// ParseNZB reads an NZB manifest and returns one FileEntry per <file>
// element, per spec §4.8 step 1. Segment sizes come straight from the
// NZB's declared bytes attribute, which step 2 treats as untrustworthy
// and re-derives via C4 where needed.
func ParseNZB(r io.Reader) ([]FileEntry, error) {
	n, err := nzbparser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: parsing NZB: %w", err)
	}
	if len(n.Files) == 0 {
		return nil, fmt.Errorf("ingest: NZB contains no files")
	}

	out := make([]FileEntry, 0, len(n.Files))
	for _, f := range n.Files {
		segments := make([]domain.Segment, len(f.Segments))
		for i, seg := range f.Segments {
			segments[i] = domain.Segment{
				MessageID: seg.ID,
				Ordinal:   i,
				Size:      int64(seg.Bytes),
			}
		}
		var postedAt time.Time
		if f.Date > 0 {
			postedAt = time.Unix(f.Date, 0).UTC()
		}
		out = append(out, FileEntry{
			NzbFile: domain.NzbFile{
				Subject:  f.Subject,
				Poster:   f.Poster,
				PostedAt: postedAt,
				Groups:   f.Groups,
				Segments: segments,
			},
			Filename: f.Filename,
		})
	}
	return out, nil
}
