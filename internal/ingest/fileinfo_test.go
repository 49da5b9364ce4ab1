package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nzbvault/nzbvault/internal/ingest/par2"
)

func TestDetectKindByName(t *testing.T) {
	cases := map[string]Kind{
		"movie.mkv":              KindRaw,
		"show.S01E01.mp4":        KindRaw,
		"archive.rar":            KindRarVolume,
		"archive.part002.rar":    KindRarVolume,
		"archive.r00":            KindRarVolume,
		"archive.7z":             KindSevenZipVolume,
		"archive.7z.001":         KindSevenZipVolume,
		"archive.par2":           KindPar2,
		"archive.vol003+04.par2": KindPar2,
		"readme.nfo":             KindUnknown,
	}
	for name, want := range cases {
		assert.Equal(t, want, detectKindByName(name), "name=%s", name)
	}
}

func TestDetectKindByMagic(t *testing.T) {
	assert.Equal(t, KindRarVolume, detectKindByMagic([]byte{'R', 'a', 'r', '!', 0x1A, 0x07, 0x00, 0xCC}))
	assert.Equal(t, KindRarVolume, detectKindByMagic([]byte{'R', 'a', 'r', '!', 0x1A, 0x07, 0x01, 0x00}))
	assert.Equal(t, KindSevenZipVolume, detectKindByMagic([]byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C, 0, 0}))
	assert.Equal(t, KindUnknown, detectKindByMagic([]byte{0, 1, 2, 3}))
}

func TestBuildFileInfos_RecoversNameFromPar2Descriptor(t *testing.T) {
	hash := [16]byte{1, 2, 3}
	results := []firstSegmentResult{
		{entry: FileEntry{Filename: "obfuscated.bin"}, prefixMD5: hash},
		{entry: FileEntry{Filename: "readme.par2"}, failed: true},
	}
	descriptors := []par2.FileDescriptor{{Hash16k: hash, Name: "real-movie.mkv"}}

	infos := BuildFileInfos(results, descriptors)

	if assert.Len(t, infos, 1) {
		assert.Equal(t, "real-movie.mkv", infos[0].Name())
		assert.Equal(t, KindRaw, infos[0].Kind)
	}
}

func TestBuildFileInfos_SkipsFailedResults(t *testing.T) {
	infos := BuildFileInfos([]firstSegmentResult{{failed: true}}, nil)
	assert.Empty(t, infos)
}

func TestFileInfoName_FallsBackToSubject(t *testing.T) {
	fi := FileInfo{Entry: FileEntry{}}
	fi.Entry.Subject = "some.release - [1/1] \"file.bin\" yEnc"
	assert.Equal(t, fi.Entry.Subject, fi.Name())
}
