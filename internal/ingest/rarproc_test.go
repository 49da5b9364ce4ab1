package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbvault/nzbvault/internal/domain"
)

func TestRarFilePriority_MainVolumeFirst(t *testing.T) {
	pPlain, _ := rarFilePriority("movie.rar")
	pPart, sPart := rarFilePriority("movie.part002.rar")
	pR00, sR00 := rarFilePriority("movie.r00")

	assert.Less(t, pPlain, pPart)
	assert.Less(t, pPart, pR00)
	assert.Equal(t, 2, sPart)
	assert.Equal(t, 0, sR00)
}

func TestFirstRarVolume_PicksLowestPriorityAndSequence(t *testing.T) {
	volumes := []FileInfo{
		{Entry: FileEntry{Filename: "movie.part002.rar"}},
		{Entry: FileEntry{Filename: "movie.part001.rar"}},
		{Entry: FileEntry{Filename: "movie.rar"}},
	}
	first, ok := firstRarVolume(volumes)
	require.True(t, ok)
	assert.Equal(t, "movie.rar", first.Entry.Filename)
}

func TestFirstRarVolume_EmptyInput(t *testing.T) {
	_, ok := firstRarVolume(nil)
	assert.False(t, ok)
}

func TestSliceVolumeSpan_WithinSingleSegment(t *testing.T) {
	segments := []domain.Segment{
		{MessageID: "a", Size: 100},
		{MessageID: "b", Size: 100},
	}
	fp, err := sliceVolumeSpan(segments, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, fp.SegmentIDs)
	assert.Equal(t, int64(10), fp.Range.Start)
	assert.Equal(t, int64(30), fp.Range.End)
	assert.Equal(t, int64(100), fp.PartSize)
}

func TestSliceVolumeSpan_SpansMultipleSegments(t *testing.T) {
	segments := []domain.Segment{
		{MessageID: "a", Size: 50},
		{MessageID: "b", Size: 50},
		{MessageID: "c", Size: 50},
	}
	// span [40, 120) overlaps a (40-50), b (50-100), c (100-120)
	fp, err := sliceVolumeSpan(segments, 40, 80)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, fp.SegmentIDs)
	assert.Equal(t, int64(40), fp.Range.Start) // skew into first overlapping segment
	assert.Equal(t, int64(120), fp.Range.End)
	assert.Equal(t, int64(150), fp.PartSize)
}

func TestSliceVolumeSpan_OutOfBounds(t *testing.T) {
	segments := []domain.Segment{{MessageID: "a", Size: 10}}
	_, err := sliceVolumeSpan(segments, 100, 10)
	assert.Error(t, err)
}

func TestSliceVolumeSpan_ZeroLength(t *testing.T) {
	segments := []domain.Segment{{MessageID: "a", Size: 10}}
	_, err := sliceVolumeSpan(segments, 0, 0)
	assert.Error(t, err)
}
