package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nzbvault/nzbvault/internal/decodewrap"
	"github.com/nzbvault/nzbvault/internal/domain"
	nzberrors "github.com/nzbvault/nzbvault/internal/errors"
	"github.com/nzbvault/nzbvault/internal/fetch"
	"github.com/nzbvault/nzbvault/internal/ingest/par2"
	"github.com/nzbvault/nzbvault/internal/stream"
)

// RunPar2Step implements step 3: locates the smallest PAR2-looking file
// among results, streams it over C5, and reads its FileDesc packets
// under a wall-clock timeout, per spec §4.8 step 3. expectedCount is the
// number of non-PAR2 files in the job, letting the reader stop as soon
// as every file has a plausible descriptor rather than scanning to EOF.
//
// A PAR2 timeout that produced zero descriptors is a critical failure
// (spec §4.8's failure semantics); a timeout that produced at least one
// descriptor is treated as a partial, non-fatal result, since whatever
// was recovered still helps step 4.
func RunPar2Step(ctx context.Context, fetcher *fetch.Fetcher, oc domain.OperationContext, results []firstSegmentResult, expectedCount, workerCount, windowSize int, timeout time.Duration) ([]par2.FileDescriptor, error) {
	candidate, ok := smallestPar2Candidate(results)
	if !ok {
		return nil, nil
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	segments := candidate.entry.Segments
	ss := stream.New(tctx, fetcher, stream.Config{
		Segments:      segments,
		TotalLength:   candidate.entry.NzbFile.TotalSize(),
		WorkerCount:   workerCount,
		WindowSize:    windowSize,
		AllowDegraded: false,
		OC:            oc,
	})
	defer ss.Close()

	limited := decodewrap.NewLimit(ss, ss.Len())
	descriptors, _ := par2.ReadDescriptors(tctx, limited, expectedCount)
	if len(descriptors) == 0 && tctx.Err() != nil {
		return nil, &nzberrors.CriticalIngestFailureError{
			Reason:  "par2-timeout",
			Message: fmt.Sprintf("PAR2 file %s yielded no FileDesc packets before timeout", candidate.entry.Subject),
		}
	}
	return descriptors, nil
}

// smallestPar2Candidate returns the smallest file step 2 recognised as
// PAR2-shaped by name, since the smallest PAR2 volume in a set is the
// main index and carries every FileDesc packet, while larger numbered
// volumes carry only recovery blocks.
func smallestPar2Candidate(results []firstSegmentResult) (firstSegmentResult, bool) {
	var best firstSegmentResult
	found := false
	for _, r := range results {
		if r.failed {
			continue
		}
		name := r.entry.Filename
		if name == "" {
			name = r.entry.Subject
		}
		if detectKindByName(name) != KindPar2 {
			continue
		}
		size := r.entry.NzbFile.TotalSize()
		if !found || size < best.entry.NzbFile.TotalSize() {
			best = r
			found = true
		}
	}
	return best, found
}
