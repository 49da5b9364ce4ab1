package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbvault/nzbvault/internal/domain"
)

func withTotalSize(name string, size int64) firstSegmentResult {
	return firstSegmentResult{
		entry: FileEntry{
			Filename: name,
			NzbFile:  domain.NzbFile{Segments: []domain.Segment{{Size: size}}},
		},
	}
}

func TestSmallestPar2Candidate_PicksMainIndex(t *testing.T) {
	results := []firstSegmentResult{
		withTotalSize("archive.vol012+12.par2", 5_000_000),
		withTotalSize("archive.par2", 12_000),
		withTotalSize("archive.vol000+01.par2", 200_000),
		withTotalSize("archive.part001.rar", 50_000_000),
	}
	best, ok := smallestPar2Candidate(results)
	require.True(t, ok)
	assert.Equal(t, "archive.par2", best.entry.Filename)
}

func TestSmallestPar2Candidate_NoneFound(t *testing.T) {
	results := []firstSegmentResult{withTotalSize("movie.mkv", 1000)}
	_, ok := smallestPar2Candidate(results)
	assert.False(t, ok)
}

func TestSmallestPar2Candidate_SkipsFailedResults(t *testing.T) {
	results := []firstSegmentResult{
		{entry: FileEntry{Filename: "archive.par2"}, failed: true},
	}
	_, ok := smallestPar2Candidate(results)
	assert.False(t, ok)
}
