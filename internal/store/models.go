package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/nzbvault/nzbvault/internal/domain"
)

// scanJSON/valueJSON marshal/scan a Go value through JSON for storage in
// a sqlite BLOB/TEXT column, matching the teacher's SegmentData/RarParts
// Scan/Value pattern in internal/database/models.go.
func scanJSON(value any, out any) error {
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("cannot scan non-bytes value into json column")
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func valueJSON(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// itemRow mirrors the `items` table, the store's view of domain.Item.
type itemRow struct {
	ID              string
	ParentID        string
	Type            int
	Name            string
	Size            int64
	CreatedAt       time.Time
	ReleaseDate     sql.NullTime
	IsCorrupted     bool
	LastHealthCheck sql.NullTime
	NextHealthCheck sql.NullTime
}

func (r itemRow) toDomain() domain.Item {
	it := domain.Item{
		ID:          r.ID,
		ParentID:    r.ParentID,
		Type:        domain.ItemType(r.Type),
		Name:        r.Name,
		Size:        r.Size,
		CreatedAt:   r.CreatedAt,
		IsCorrupted: r.IsCorrupted,
	}
	if r.ReleaseDate.Valid {
		it.ReleaseDate = r.ReleaseDate.Time
	}
	if r.LastHealthCheck.Valid {
		t := r.LastHealthCheck.Time
		it.LastHealthCheck = &t
	}
	if r.NextHealthCheck.Valid {
		t := r.NextHealthCheck.Time
		it.NextHealthCheck = &t
	}
	return it
}

// nzbFileBacking is the stored backing for an ItemNzbFile.
type nzbFileBacking struct {
	SegmentIDs   []string
	SegmentSizes []int64 // nil == undiscovered
	Subject      string
	Poster       string
	Groups       []string
}

// multipartBacking is the stored backing for ItemRarFile/ItemMultipartFile.
type multipartBacking struct {
	Parts          []domain.FilePart
	Aes            *domain.AesParams
	ObfuscationKey []byte
}

// NewNzbFileBacking builds an ItemInsert.NzbFile value. Exported as a
// constructor (rather than exporting nzbFileBacking itself) so the
// ingestion pipeline can populate inserts without reaching into the
// store package's internal row shapes.
func NewNzbFileBacking(segmentIDs []string, sizes []int64, subject, poster string, groups []string) *nzbFileBacking {
	return &nzbFileBacking{SegmentIDs: segmentIDs, SegmentSizes: sizes, Subject: subject, Poster: poster, Groups: groups}
}

// NewMultipartBacking builds an ItemInsert.Multipart value.
func NewMultipartBacking(parts []domain.FilePart, aes *domain.AesParams, obfuscationKey []byte) *multipartBacking {
	return &multipartBacking{Parts: parts, Aes: aes, ObfuscationKey: obfuscationKey}
}

// QueueItemRecord is a queue item plus its associated NZB blob id.
type QueueItemRecord struct {
	domain.QueueItem
	NzbBlobID string
}

// HistoryItem records the terminal outcome of one ingestion job.
type HistoryItem struct {
	ID         string
	JobName    string
	Category   string
	Status     string // "completed" | "failed"
	ReasonCode string
	Message    string
	FinishedAt time.Time
}

// HealthResult records the outcome of one health-check probe.
type HealthResult struct {
	ItemID    string
	Status    string // "healthy" | "unhealthy" | "deleted"
	CheckedAt time.Time
	Detail    string
}

// MissingArticleEvent records one provider-reported missing article.
type MissingArticleEvent struct {
	ItemID     string
	MessageID  string
	Provider   string
	OccurredAt time.Time
}
