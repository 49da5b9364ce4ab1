package ingest

import (
	"context"
	"crypto/md5"
	"fmt"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/nzbvault/nzbvault/internal/domain"
	nzberrors "github.com/nzbvault/nzbvault/internal/errors"
	"github.com/nzbvault/nzbvault/internal/fetch"
	"github.com/nzbvault/nzbvault/internal/sizeoracle"
	"github.com/nzbvault/nzbvault/internal/yenc"
)

const firstSegmentPeekBytes = 16 * 1024

// firstSegmentResult is step 2's per-file output: the decoded yEnc
// header of segment 0, a 16 KiB prefix of its decoded bytes (used by
// step 4's PAR2 hash matching), and the file's full segment-size array
// once smart-analysed.
type firstSegmentResult struct {
	entry      FileEntry
	header     yenc.Header
	prefix     []byte
	prefixMD5  [16]byte
	sizes      []int64
	isCritical bool
	failed     bool
}

// isCriticalKind reports whether k is an important file kind whose
// missing first segment must fail the whole job, per spec §4.8 step 2.
func isCriticalKind(k Kind) bool {
	switch k {
	case KindRaw, KindRarVolume, KindSevenZipVolume, KindPar2:
		return true
	default:
		return false
	}
}

// FetchFirstSegments runs step 2: for every entry with at least one
// segment, fetches segment 0 (decoded), records its yEnc header and a
// 16 KiB prefix, and derives full segment sizes via the size oracle.
// maxWorkers bounds fan-out concurrency. A missing first segment on a
// file whose guessed kind is critical cancels every other in-flight
// fetch and returns a *nzberrors.CriticalIngestFailureError.
func FetchFirstSegments(ctx context.Context, fetcher *fetch.Fetcher, oracle *sizeoracle.Oracle, oc domain.OperationContext, entries []FileEntry, maxWorkers, oracleFastConcurrency int) ([]firstSegmentResult, error) {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	results := make([]firstSegmentResult, len(entries))
	fctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := concpool.New().WithErrors().WithFirstError().WithMaxGoroutines(maxWorkers).WithContext(fctx)
	for i, entry := range entries {
		i, entry := i, entry
		p.Go(func(ctx context.Context) error {
			res := firstSegmentResult{entry: entry, isCritical: guessCritical(entry)}
			if len(entry.Segments) == 0 {
				res.failed = true
				results[i] = res
				return nil
			}

			fr, err := fetcher.Fetch(ctx, oc, entry.Segments[0], 0, false)
			if err != nil {
				if res.isCritical {
					cancel()
					return fmt.Errorf("first segment of %s: %w", entry.Subject, &nzberrors.CriticalIngestFailureError{
						Reason:  "missing-article",
						Message: err.Error(),
					})
				}
				res.failed = true
				results[i] = res
				return nil
			}

			res.header = fr.Header
			n := len(fr.Bytes)
			if n > firstSegmentPeekBytes {
				n = firstSegmentPeekBytes
			}
			res.prefix = append([]byte(nil), fr.Bytes[:n]...)
			res.prefixMD5 = md5.Sum(res.prefix)

			sizes, err := analyzeFileSizes(ctx, oracle, oc, entry.Segments, entry.TotalSize(int64(fr.Header.FileSize)), oracleFastConcurrency)
			if err != nil {
				res.failed = true
			} else {
				res.sizes = sizes
			}
			results[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// guessCritical classifies an entry by name alone, before par2 recovery
// has run: video files, RAR/7z volumes and PAR2 files are spotted by
// extension and count as critical; a name none of those patterns
// recognises (e.g. readme.nfo) is not critical.
func guessCritical(entry FileEntry) bool {
	name := entry.Filename
	if name == "" {
		name = entry.Subject
	}
	return detectKindByName(name) != KindUnknown
}

// analyzeFileSizes picks fast or smart analysis per the same threshold
// C9 uses at open time (internal/store/openstream.go), so segment sizes
// discovered during ingestion and during a later lazy open agree.
func analyzeFileSizes(ctx context.Context, oracle *sizeoracle.Oracle, oc domain.OperationContext, segments []domain.Segment, totalLength int64, fastConcurrency int) ([]int64, error) {
	const smartThreshold = 64
	if len(segments) > smartThreshold {
		return oracle.SmartAnalyze(ctx, oc, segments, totalLength)
	}
	return oracle.FastAnalyze(ctx, oc, segments, fastConcurrency)
}
