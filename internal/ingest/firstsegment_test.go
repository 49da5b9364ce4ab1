package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuessCritical(t *testing.T) {
	assert.True(t, guessCritical(FileEntry{Filename: "movie.mkv"}))
	assert.True(t, guessCritical(FileEntry{Filename: "archive.rar"}))
	assert.True(t, guessCritical(FileEntry{Filename: "archive.par2"}))
	assert.False(t, guessCritical(FileEntry{Filename: "readme.nfo"}))
}

func TestGuessCritical_FallsBackToSubjectWhenFilenameEmpty(t *testing.T) {
	e := FileEntry{}
	e.Subject = "release - [1/1] \"movie.mkv\" yEnc"
	// guessCritical only inspects the raw subject string when Filename is
	// empty, so a subject without a bare recognised extension at its end
	// is not classified as critical purely from this heuristic.
	assert.False(t, guessCritical(e))
}

func TestIsCriticalKind(t *testing.T) {
	assert.True(t, isCriticalKind(KindRaw))
	assert.True(t, isCriticalKind(KindRarVolume))
	assert.True(t, isCriticalKind(KindSevenZipVolume))
	assert.True(t, isCriticalKind(KindPar2))
	assert.False(t, isCriticalKind(KindUnknown))
}
