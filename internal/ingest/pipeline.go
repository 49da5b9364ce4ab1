package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nzbvault/nzbvault/internal/config"
	"github.com/nzbvault/nzbvault/internal/domain"
	nzberrors "github.com/nzbvault/nzbvault/internal/errors"
	"github.com/nzbvault/nzbvault/internal/fetch"
	"github.com/nzbvault/nzbvault/internal/sizeoracle"
	"github.com/nzbvault/nzbvault/internal/store"
)

// Pipeline runs the six-step ingestion process (spec §4.8) over one
// queue item: parse, fetch-first-segments, PAR2 descriptors, build file
// infos, run the per-kind processors, aggregate into the virtual
// filesystem tree.
type Pipeline struct {
	fetcher *fetch.Fetcher
	oracle  *sizeoracle.Oracle
	repo    *store.Repository
	cfg     config.ImportConfig
}

// New builds a Pipeline over the given fetcher/oracle/repository and
// ingestion configuration.
func New(fetcher *fetch.Fetcher, oracle *sizeoracle.Oracle, repo *store.Repository, cfg config.ImportConfig) *Pipeline {
	return &Pipeline{fetcher: fetcher, oracle: oracle, repo: repo, cfg: cfg}
}

const (
	ingestWorkerCount = 4
	ingestWindowSize  = 8
)

// Run processes one queue item end to end, returning the aggregated
// result on success or a *nzberrors.CriticalIngestFailureError (wrapped)
// on a terminal failure, per spec §4.8's failure semantics.
func (p *Pipeline) Run(ctx context.Context, item domain.QueueItem, nzbXML []byte) (Result, error) {
	oc := domain.OperationContext{Usage: domain.UsageQueue, JobName: item.JobName}

	entries, err := ParseNZB(bytes.NewReader(nzbXML))
	if err != nil {
		return Result{}, wrapCritical("parse-failed", err)
	}

	firstResults, err := FetchFirstSegments(ctx, p.fetcher, p.oracle, oc, entries, p.cfg.MaxFirstSegmentWorkers, ingestWorkerCount)
	if err != nil {
		return Result{}, wrapCritical("first-segment-failed", err)
	}

	expectedCount := 0
	for _, r := range firstResults {
		if r.failed {
			continue
		}
		name := r.entry.Filename
		if name == "" {
			name = r.entry.Subject
		}
		if detectKindByName(name) != KindPar2 {
			expectedCount++
		}
	}

	par2Timeout := time.Duration(p.cfg.Par2TimeoutSeconds) * time.Second
	if par2Timeout <= 0 {
		par2Timeout = 180 * time.Second
	}
	descriptors, err := RunPar2Step(ctx, p.fetcher, oc, firstResults, expectedCount, ingestWorkerCount, ingestWindowSize, par2Timeout)
	if err != nil {
		return Result{}, err // already a *CriticalIngestFailureError
	}

	infos := BuildFileInfos(firstResults, descriptors)

	var rarVolumes, sevenZipVolumes []FileInfo
	var processed []ProcessedFile
	skippedPar2 := 0

	for _, fi := range infos {
		switch fi.Kind {
		case KindPar2:
			skippedPar2++
		case KindRarVolume:
			rarVolumes = append(rarVolumes, fi)
		case KindSevenZipVolume:
			sevenZipVolumes = append(sevenZipVolumes, fi)
		default:
			nf := fi.Entry.NzbFile
			processed = append(processed, ProcessedFile{
				Name:        fi.Name(),
				Size:        nf.TotalSize(),
				ReleaseDate: nf.PostedAt,
				NzbFile:     &nf,
			})
		}
	}

	procCfg := rarProcConfig{Workers: ingestWorkerCount, Window: ingestWindowSize}

	if len(rarVolumes) > 0 {
		rarFiles, err := ProcessRarArchive(ctx, p.fetcher, oc, rarVolumes, procCfg)
		if err != nil {
			return Result{}, wrapCritical("rar-unreadable", err)
		}
		if len(rarFiles) == 0 {
			return Result{}, wrapCritical("rar-unreadable", fmt.Errorf("no readable stored files found across %d RAR volume(s)", len(rarVolumes)))
		}
		processed = append(processed, rarFiles...)
	}

	if len(sevenZipVolumes) > 0 {
		szFiles, err := ProcessSevenZipArchive(ctx, p.fetcher, oc, sevenZipVolumes, procCfg)
		if err != nil {
			return Result{}, wrapCritical("sevenzip-unreadable", err)
		}
		processed = append(processed, szFiles...)
	}

	if len(processed) == 0 {
		return Result{}, wrapCritical("no-files-produced", fmt.Errorf("ingestion produced no virtual items"))
	}

	result, err := Aggregate(ctx, p.repo, item.Category, item.JobName, processed)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: aggregating items: %w", err)
	}
	result.SkippedPar2 = skippedPar2
	return result, nil
}

// wrapCritical classifies err as a terminal ingest failure. An err that
// already carries a *CriticalIngestFailureError (even wrapped via %w)
// passes through with its original reason intact; anything else is
// promoted to one under the given reason code.
func wrapCritical(reason string, err error) error {
	var crit *nzberrors.CriticalIngestFailureError
	if errors.As(err, &crit) {
		return crit
	}
	return &nzberrors.CriticalIngestFailureError{Reason: reason, Message: err.Error()}
}
