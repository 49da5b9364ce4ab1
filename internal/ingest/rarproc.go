package ingest

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"

	"github.com/javi11/rardecode/v2"

	"github.com/nzbvault/nzbvault/internal/decodewrap"
	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/fetch"
	"github.com/nzbvault/nzbvault/internal/ingest/usenetfs"
)

// rarPartNPattern, rarRNNPattern and rarPlainPattern let rarFilePriority
// classify one candidate name's role in a multi-volume set; the lowest
// value wins as the set's first/main volume. Adapted from
// javi11-altmount/internal/importer/archive/rar/processor.go's
// getRarFilePriority.
var (
	rarPartNPattern = regexp.MustCompile(`(?i)\.part0*(\d+)\.rar$`)
	rarRNNPattern   = regexp.MustCompile(`(?i)\.r(\d{2,3})$`)
	rarPlainPattern = regexp.MustCompile(`(?i)\.rar$`)
)

func rarFilePriority(name string) (priority, sequence int) {
	if m := rarPartNPattern.FindStringSubmatch(name); m != nil {
		n, _ := strconv.Atoi(m[1])
		return 2, n
	}
	if rarPlainPattern.MatchString(name) {
		return 1, 0
	}
	if m := rarRNNPattern.FindStringSubmatch(name); m != nil {
		n, _ := strconv.Atoi(m[1])
		return 3, n
	}
	return 4, 0
}

// firstRarVolume returns the entry that should be opened first to
// enumerate the whole archive: the lowest-priority, lowest-sequence name.
func firstRarVolume(files []FileInfo) (FileInfo, bool) {
	if len(files) == 0 {
		return FileInfo{}, false
	}
	best := files[0]
	bp, bs := rarFilePriority(rarDisplayName(best))
	for _, f := range files[1:] {
		p, s := rarFilePriority(rarDisplayName(f))
		if p < bp || (p == bp && s < bs) {
			best, bp, bs = f, p, s
		}
	}
	return best, true
}

func rarDisplayName(fi FileInfo) string {
	if fi.Entry.Filename != "" {
		return fi.Entry.Filename
	}
	return fi.Entry.Subject
}

// rarProcConfig bundles the streaming/worker parameters the RAR and 7z
// processors share with the rest of the pipeline.
type rarProcConfig struct {
	Workers int
	Window  int
}

// ProcessRarArchive implements step 5's RAR branch: enumerates a
// multi-volume RAR archive's stored files via rardecode reading headers
// directly off segments (no full download), then maps each stored
// file's [DataOffset, DataOffset+PackedSize) span in its volume back to
// the underlying segment list, per
// javi11-altmount/internal/importer/archive/rar/processor.go's
// slicePartSegments algorithm.
func ProcessRarArchive(ctx context.Context, fetcher *fetch.Fetcher, oc domain.OperationContext, volumes []FileInfo, cfg rarProcConfig) ([]ProcessedFile, error) {
	if len(volumes) == 0 {
		return nil, nil
	}
	first, ok := firstRarVolume(volumes)
	if !ok {
		return nil, nil
	}

	segByName := make(map[string][]domain.Segment, len(volumes))
	for _, v := range volumes {
		segByName[rarDisplayName(v)] = v.Entry.Segments
	}
	ufs := usenetfs.New(ctx, fetcher, oc, cfg.Workers, cfg.Window, segByName)

	infos, err := rardecode.ListArchiveInfo(rarDisplayName(first), rardecode.FileSystem(ufs), rardecode.SkipCheck)
	if err != nil {
		return nil, fmt.Errorf("ingest: listing RAR archive info for %s: %w", rarDisplayName(first), err)
	}

	var out []ProcessedFile
	for _, af := range infos {
		if af.Compressed {
			// Compressed entries can't be streamed without decoding the
			// RAR compression format in-process; skipped per Non-goals.
			continue
		}

		mf := &domain.MultipartFile{}
		var total int64
		for _, part := range af.Parts {
			segs := segByName[part.Path]
			if segs == nil {
				return nil, fmt.Errorf("ingest: RAR part references unknown volume %q", part.Path)
			}
			fp, err := sliceVolumeSpan(segs, part.DataOffset, part.PackedSize)
			if err != nil {
				return nil, fmt.Errorf("ingest: slicing RAR part of %s: %w", af.Name, err)
			}
			mf.Parts = append(mf.Parts, fp)
			total += part.PackedSize
		}
		if len(af.Parts) > 0 && af.Parts[0].AesKey != nil {
			mf.Aes = &domain.AesParams{Key: af.Parts[0].AesKey, IV: af.Parts[0].AesIV, BlockSize: 16}
		}
		if obfuscated, err := detectRarObfuscated(ufs, af.Parts); err == nil && obfuscated {
			mf.ObfuscationKey = []byte{0xB0, 0x41, 0xC2, 0xCE}
		}

		out = append(out, ProcessedFile{
			Name:      af.Name,
			Size:      total,
			Multipart: mf,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// detectRarObfuscated peeks the first 4 bytes of the stored file's
// payload (through the usenet-backed filesystem, not a full download) to
// check for the standard RAR filename-obfuscation magic.
func detectRarObfuscated(ufs *usenetfs.FS, parts []rardecode.FilePartInfo) (bool, error) {
	if len(parts) == 0 {
		return false, nil
	}
	f, err := ufs.Open(parts[0].Path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	ra, ok := f.(io.ReaderAt)
	if !ok {
		return false, nil
	}
	buf := make([]byte, 4)
	if _, err := ra.ReadAt(buf, parts[0].DataOffset); err != nil && err != io.EOF {
		return false, err
	}
	return decodewrap.DetectRarObfuscation(buf), nil
}

// sliceVolumeSpan translates a [dataOffset, dataOffset+length) byte span
// within one volume's concatenated segment bytes into a FilePart: the
// minimal sub-list of segments overlapping that span, plus the
// within-sub-list offset (Range) needed to recover exactly that span.
func sliceVolumeSpan(segments []domain.Segment, dataOffset, length int64) (domain.FilePart, error) {
	if length <= 0 {
		return domain.FilePart{}, fmt.Errorf("zero-length span")
	}

	var cum int64
	var trimmedIDs []string
	var trimmedSizes []int64
	var skew int64
	started := false

	for _, seg := range segments {
		segStart := cum
		segEnd := cum + seg.Size
		cum = segEnd

		if segEnd <= dataOffset {
			continue // entirely before the span
		}
		if segStart >= dataOffset+length {
			break // entirely after the span
		}
		if !started {
			skew = dataOffset - segStart
			started = true
		}
		trimmedIDs = append(trimmedIDs, seg.MessageID)
		trimmedSizes = append(trimmedSizes, seg.Size)
	}

	if !started {
		return domain.FilePart{}, fmt.Errorf("span [%d,%d) outside volume bounds", dataOffset, dataOffset+length)
	}

	var partSize int64
	for _, s := range trimmedSizes {
		partSize += s
	}

	return domain.FilePart{
		SegmentIDs:   trimmedIDs,
		SegmentSizes: trimmedSizes,
		Range:        domain.ByteRange{Start: skew, End: skew + length},
		PartSize:     partSize,
	}, nil
}
