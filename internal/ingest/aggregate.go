package ingest

import (
	"context"
	"time"

	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/store"
)

// Aggregate implements step 6: builds one store.ItemInsert per processed
// file and commits the whole batch under "/content/{category}/{jobName}"
// in a single transaction, per spec §4.8 step 6's directory-tree
// creation plus last-writer-wins collision resolution.
func Aggregate(ctx context.Context, repo *store.Repository, category, jobName string, files []ProcessedFile) (Result, error) {
	now := time.Now().UTC()
	inserts := make([]store.ItemInsert, 0, len(files))

	for _, pf := range files {
		item := domain.Item{
			Name:        pf.Name,
			Size:        pf.Size,
			CreatedAt:   now,
			ReleaseDate: pf.ReleaseDate,
		}

		switch {
		case pf.NzbFile != nil:
			item.Type = domain.ItemNzbFile
			segIDs := make([]string, len(pf.NzbFile.Segments))
			sizes := make([]int64, len(pf.NzbFile.Segments))
			known := true
			for i, s := range pf.NzbFile.Segments {
				segIDs[i] = s.MessageID
				sizes[i] = s.Size
				if s.Size == 0 {
					known = false
				}
			}
			if !known {
				sizes = nil
			}
			inserts = append(inserts, store.ItemInsert{
				Item:    item,
				NzbFile: store.NewNzbFileBacking(segIDs, sizes, pf.NzbFile.Subject, pf.NzbFile.Poster, pf.NzbFile.Groups),
			})

		case pf.Multipart != nil:
			if len(pf.Multipart.Parts) > 1 || pf.Multipart.Aes != nil || len(pf.Multipart.ObfuscationKey) > 0 {
				item.Type = domain.ItemRarFile
			} else {
				item.Type = domain.ItemMultipartFile
			}
			inserts = append(inserts, store.ItemInsert{
				Item:      item,
				Multipart: store.NewMultipartBacking(pf.Multipart.Parts, pf.Multipart.Aes, pf.Multipart.ObfuscationKey),
			})

		default:
			continue
		}
	}

	dirID, err := repo.InsertItemsUnder(ctx, []string{"content", category, jobName}, inserts)
	if err != nil {
		return Result{}, err
	}
	return Result{DirectoryID: dirID, ItemCount: len(inserts)}, nil
}
