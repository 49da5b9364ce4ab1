package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSevenZipPriority_Ordering(t *testing.T) {
	pBase, _ := sevenZipPriority("archive.7z")
	pP1, s1 := sevenZipPriority("archive.7z.001")
	pP2, s2 := sevenZipPriority("archive.7z.002")
	pOther, _ := sevenZipPriority("readme.txt")

	assert.Less(t, pBase, pP1)
	assert.Equal(t, pP1, pP2)
	assert.Less(t, s1, s2)
	assert.Less(t, pP2, pOther)
}

func TestOrderSevenZipVolumes(t *testing.T) {
	volumes := []FileInfo{
		{Entry: FileEntry{Filename: "archive.7z.002"}},
		{Entry: FileEntry{Filename: "archive.7z"}},
		{Entry: FileEntry{Filename: "archive.7z.001"}},
	}
	ordered := orderSevenZipVolumes(volumes)
	require.Len(t, ordered, 3)
	assert.Equal(t, "archive.7z", ordered[0].Entry.Filename)
	assert.Equal(t, "archive.7z.001", ordered[1].Entry.Filename)
	assert.Equal(t, "archive.7z.002", ordered[2].Entry.Filename)
}

func TestSevenZipDisplayName_FallsBackToSubject(t *testing.T) {
	fi := FileInfo{Entry: FileEntry{}}
	fi.Entry.Subject = "posted subject"
	assert.Equal(t, "posted subject", sevenZipDisplayName(fi))
}
