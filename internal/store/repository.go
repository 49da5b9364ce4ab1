// Repository implements the metadata-store operations spec §6 requires
// of the core: get/list/insert/delete items, NzbFile segment-size
// persistence, queue selection/deletion, history, and health/missing-
// article event recording. Upsert/select idioms are grounded on
// javi11-altmount/internal/database/queue_repository.go; the retry-on-
// "database is locked" loop follows spec §7's explicit policy using
// github.com/avast/retry-go/v4.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/nzbvault/nzbvault/internal/domain"
)

// Repository is the sole writer of item-tree metadata, shared by the
// ingestion pipeline, the health-check scheduler, and explicit deletes
// (spec §5's "mutated only by... all three use transactional writes").
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

// withRetry runs fn, retrying on sqlite's transient "database is locked"
// error with a small exponential backoff, per spec §7.
func withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(20*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return err != nil && strings.Contains(strings.ToLower(err.Error()), "database is locked")
		}),
		retry.LastErrorOnly(true),
	)
}

// ErrNotFound is returned by Get/GetByPath when no such item exists.
var ErrNotFound = errors.New("item not found")

// NewID generates a 128-bit item id, hex-encoded without dashes so
// domain.IdPrefix's first-two-hex-digits sharding applies directly.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetItem looks up one item by id.
func (r *Repository) GetItem(ctx context.Context, id string) (domain.Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, parent_id, type, name, size, created_at, release_date, is_corrupted, last_health_check, next_health_check FROM items WHERE id = ?`, id)
	var ir itemRow
	if err := row.Scan(&ir.ID, &ir.ParentID, &ir.Type, &ir.Name, &ir.Size, &ir.CreatedAt, &ir.ReleaseDate, &ir.IsCorrupted, &ir.LastHealthCheck, &ir.NextHealthCheck); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, ErrNotFound
		}
		return domain.Item{}, err
	}
	return ir.toDomain(), nil
}

// GetByPath resolves a '/'-separated path (relative to the synthetic
// root) to an item, case-sensitively, one path segment at a time.
func (r *Repository) GetByPath(ctx context.Context, path string) (domain.Item, error) {
	parentID := RootID
	var current domain.Item
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		return r.GetItem(ctx, RootID)
	}
	for _, seg := range segments {
		row := r.db.QueryRowContext(ctx, `SELECT id, parent_id, type, name, size, created_at, release_date, is_corrupted, last_health_check, next_health_check FROM items WHERE parent_id = ? AND name = ?`, parentID, seg)
		var ir itemRow
		if err := row.Scan(&ir.ID, &ir.ParentID, &ir.Type, &ir.Name, &ir.Size, &ir.CreatedAt, &ir.ReleaseDate, &ir.IsCorrupted, &ir.LastHealthCheck, &ir.NextHealthCheck); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.Item{}, ErrNotFound
			}
			return domain.Item{}, err
		}
		current = ir.toDomain()
		parentID = current.ID
	}
	return current, nil
}

// ListChildren returns every item directly under parentID, ordered by name.
func (r *Repository) ListChildren(ctx context.Context, parentID string) ([]domain.Item, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, parent_id, type, name, size, created_at, release_date, is_corrupted, last_health_check, next_health_check FROM items WHERE parent_id = ? AND id != ? ORDER BY name`, parentID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		var ir itemRow
		if err := rows.Scan(&ir.ID, &ir.ParentID, &ir.Type, &ir.Name, &ir.Size, &ir.CreatedAt, &ir.ReleaseDate, &ir.IsCorrupted, &ir.LastHealthCheck, &ir.NextHealthCheck); err != nil {
			return nil, err
		}
		out = append(out, ir.toDomain())
	}
	return out, rows.Err()
}

// ListByIDPrefix returns every item whose id begins with the given
// two-hex-digit prefix, used by the shard-router boundary (spec §4.9).
func (r *Repository) ListByIDPrefix(ctx context.Context, prefix string) ([]domain.Item, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, parent_id, type, name, size, created_at, release_date, is_corrupted, last_health_check, next_health_check FROM items WHERE id_prefix = ?`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		var ir itemRow
		if err := rows.Scan(&ir.ID, &ir.ParentID, &ir.Type, &ir.Name, &ir.Size, &ir.CreatedAt, &ir.ReleaseDate, &ir.IsCorrupted, &ir.LastHealthCheck, &ir.NextHealthCheck); err != nil {
			return nil, err
		}
		out = append(out, ir.toDomain())
	}
	return out, rows.Err()
}

// EnsureDirectory resolves or creates the directory chain
// "/content/{category}/{jobName}", returning the leaf directory's id.
// Ensures parent directories exist per spec §4.8 step 6.
func (r *Repository) EnsureDirectory(ctx context.Context, tx *sql.Tx, segments ...string) (string, error) {
	return ensureDirectoryLocked(ctx, tx, segments...)
}

func ensureDirectoryLocked(ctx context.Context, tx *sql.Tx, segments ...string) (string, error) {
	parentID := RootID
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM items WHERE parent_id = ? AND name = ?`, parentID, seg).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			id = NewID()
			if _, err := tx.ExecContext(ctx, `INSERT INTO items (id, id_prefix, parent_id, type, name, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				id, domain.IdPrefix(id), parentID, int(domain.ItemDirectory), seg, time.Now().UTC()); err != nil {
				return "", err
			}
		} else if err != nil {
			return "", err
		}
		parentID = id
	}
	return parentID, nil
}

// InsertItems inserts a batch of items and their type-specific backing
// rows transactionally. Name collisions within the batch are resolved
// last-writer-wins per spec §4.8 step 6 (an upsert on the parent+name
// unique index that keeps the existing row's id).
func (r *Repository) InsertItems(ctx context.Context, items []ItemInsert) error {
	return withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, ins := range items {
			if err := r.insertOneLocked(ctx, tx, ins); err != nil {
				return fmt.Errorf("inserting item %s: %w", ins.Item.Name, err)
			}
		}
		return tx.Commit()
	})
}

// ItemInsert bundles an Item with its type-specific backing for one
// InsertItems call.
type ItemInsert struct {
	Item      domain.Item
	NzbFile   *nzbFileBacking
	Multipart *multipartBacking
}

func (r *Repository) insertOneLocked(ctx context.Context, tx *sql.Tx, ins ItemInsert) error {
	it := ins.Item
	if it.ID == "" {
		it.ID = NewID()
	}
	var releaseDate any
	if !it.ReleaseDate.IsZero() {
		releaseDate = it.ReleaseDate
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO items (id, id_prefix, parent_id, type, name, size, created_at, release_date, is_corrupted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(parent_id, name) DO UPDATE SET
			type = excluded.type, size = excluded.size, release_date = excluded.release_date,
			is_corrupted = excluded.is_corrupted
	`, it.ID, domain.IdPrefix(it.ID), it.ParentID, int(it.Type), it.Name, it.Size, it.CreatedAt, releaseDate, it.IsCorrupted)
	if err != nil {
		return err
	}
	// On a name collision the existing row kept its id; key the backing
	// row to that id.
	if err := tx.QueryRowContext(ctx, `SELECT id FROM items WHERE parent_id = ? AND name = ?`, it.ParentID, it.Name).Scan(&it.ID); err != nil {
		return err
	}

	switch {
	case ins.NzbFile != nil:
		segIDs, err := valueJSON(ins.NzbFile.SegmentIDs)
		if err != nil {
			return err
		}
		var sizes any
		if ins.NzbFile.SegmentSizes != nil {
			sizes, err = valueJSON(ins.NzbFile.SegmentSizes)
			if err != nil {
				return err
			}
		}
		groups, err := valueJSON(ins.NzbFile.Groups)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO nzb_files (item_id, segment_ids, segment_sizes, subject, poster, groups)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(item_id) DO UPDATE SET segment_ids=excluded.segment_ids, segment_sizes=excluded.segment_sizes, subject=excluded.subject, poster=excluded.poster, groups=excluded.groups
		`, it.ID, segIDs, sizes, ins.NzbFile.Subject, ins.NzbFile.Poster, groups)
		if err != nil {
			return err
		}

	case ins.Multipart != nil:
		parts, err := valueJSON(ins.Multipart.Parts)
		if err != nil {
			return err
		}
		var aesKey, aesIV any
		var aesBlockSize any
		if ins.Multipart.Aes != nil {
			aesKey = ins.Multipart.Aes.Key
			aesIV = ins.Multipart.Aes.IV
			aesBlockSize = ins.Multipart.Aes.BlockSize
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO multipart_files (item_id, parts, aes_key, aes_iv, aes_block_size, obfuscation_key)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(item_id) DO UPDATE SET parts=excluded.parts, aes_key=excluded.aes_key, aes_iv=excluded.aes_iv, aes_block_size=excluded.aes_block_size, obfuscation_key=excluded.obfuscation_key
		`, it.ID, parts, aesKey, aesIV, aesBlockSize, ins.Multipart.ObfuscationKey)
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertItemsUnder ensures the directory chain dirSegments exists and
// inserts items as its children, all inside one transaction, so an
// ingestion job's directory creation and item batch either land together
// or not at all. items' ParentID is overwritten with the resolved leaf
// directory id. Returns the leaf directory id.
func (r *Repository) InsertItemsUnder(ctx context.Context, dirSegments []string, items []ItemInsert) (string, error) {
	var dirID string
	err := withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		dirID, err = ensureDirectoryLocked(ctx, tx, dirSegments...)
		if err != nil {
			return err
		}

		for _, ins := range items {
			ins.Item.ParentID = dirID
			if err := r.insertOneLocked(ctx, tx, ins); err != nil {
				return fmt.Errorf("inserting item %s: %w", ins.Item.Name, err)
			}
		}
		return tx.Commit()
	})
	return dirID, err
}

// ReadNzbMetadata returns the NzbFile backing for item id.
func (r *Repository) ReadNzbMetadata(ctx context.Context, id string) (nzbFileBacking, error) {
	var b nzbFileBacking
	var segIDs, sizes, groups []byte
	row := r.db.QueryRowContext(ctx, `SELECT segment_ids, segment_sizes, subject, poster, groups FROM nzb_files WHERE item_id = ?`, id)
	if err := row.Scan(&segIDs, &sizes, &b.Subject, &b.Poster, &groups); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, err
	}
	if err := scanJSON(segIDs, &b.SegmentIDs); err != nil {
		return b, err
	}
	if len(sizes) > 0 {
		if err := scanJSON(sizes, &b.SegmentSizes); err != nil {
			return b, err
		}
	}
	if len(groups) > 0 {
		_ = scanJSON(groups, &b.Groups)
	}
	return b, nil
}

// ReadMultipartMetadata returns the MultipartFile/RarFile backing for item id.
func (r *Repository) ReadMultipartMetadata(ctx context.Context, id string) (multipartBacking, error) {
	var b multipartBacking
	var parts []byte
	var aesKey, aesIV, obfKey []byte
	var aesBlockSize sql.NullInt64
	row := r.db.QueryRowContext(ctx, `SELECT parts, aes_key, aes_iv, aes_block_size, obfuscation_key FROM multipart_files WHERE item_id = ?`, id)
	if err := row.Scan(&parts, &aesKey, &aesIV, &aesBlockSize, &obfKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, err
	}
	if err := scanJSON(parts, &b.Parts); err != nil {
		return b, err
	}
	if len(aesKey) > 0 {
		b.Aes = &domain.AesParams{Key: aesKey, IV: aesIV, BlockSize: int(aesBlockSize.Int64)}
	}
	b.ObfuscationKey = obfKey
	return b, nil
}

// UpdateSegmentSizes persists a segment-size array for an NzbFile,
// idempotently: per spec §3/§8 property 7, once persisted the array is
// never overwritten with a different one — a second call with the same
// item id is a silent no-op if sizes are already present.
func (r *Repository) UpdateSegmentSizes(ctx context.Context, id string, sizes []int64) error {
	return withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var existing []byte
		err = tx.QueryRowContext(ctx, `SELECT segment_sizes FROM nzb_files WHERE item_id = ?`, id).Scan(&existing)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if len(existing) > 0 {
			return tx.Commit() // already persisted; monotonicity invariant
		}

		payload, err := valueJSON(sizes)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE nzb_files SET segment_sizes = ? WHERE item_id = ?`, payload, id); err != nil {
			return err
		}
		total := int64(0)
		for _, s := range sizes {
			total += s
		}
		if _, err := tx.ExecContext(ctx, `UPDATE items SET size = ? WHERE id = ?`, total, id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// DeleteItems deletes id, and if recursive, its children first (spec
// §3's "deletion of a directory is recursive in child order first").
func (r *Repository) DeleteItems(ctx context.Context, id string, recursive bool) error {
	return withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if recursive {
			if err := deleteChildrenLocked(ctx, tx, id); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func deleteChildrenLocked(ctx context.Context, tx *sql.Tx, parentID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, type FROM items WHERE parent_id = ? AND id != ?`, parentID, parentID)
	if err != nil {
		return err
	}
	type child struct {
		id string
		t  int
	}
	var children []child
	for rows.Next() {
		var c child
		if err := rows.Scan(&c.id, &c.t); err != nil {
			rows.Close()
			return err
		}
		children = append(children, c)
	}
	rows.Close()

	for _, c := range children {
		if domain.ItemType(c.t) == domain.ItemDirectory {
			if err := deleteChildrenLocked(ctx, tx, c.id); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, c.id); err != nil {
			return err
		}
	}
	return nil
}

// WriteBlob / ReadBlob implement the NZB-blob-offload boundary (spec
// §6's blob store), used to keep large NZB XML out of the queue row.
func (r *Repository) WriteBlob(ctx context.Context, id string, data []byte) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO blobs (id, bytes) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET bytes = excluded.bytes`, id, data)
	return err
}

func (r *Repository) ReadBlob(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT bytes FROM blobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

// AddQueueItem enqueues one pending ingestion job, offloading its NZB
// XML to the blob store.
func (r *Repository) AddQueueItem(ctx context.Context, item domain.QueueItem, nzbXML []byte) error {
	blobID := NewID()
	return withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `INSERT INTO blobs (id, bytes) VALUES (?, ?)`, blobID, nzbXML); err != nil {
			return err
		}
		if item.ID == "" {
			item.ID = NewID()
		}
		var pauseUntil any
		if item.PauseUntil != nil {
			pauseUntil = *item.PauseUntil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO queue_items (id, job_name, filename, category, priority, nzb_blob_id, created_at, pause_until)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, item.JobName, item.Filename, item.Category, int(item.Priority), blobID, item.CreatedAt, pauseUntil); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetTopQueueItem selects the highest-priority, oldest, not-paused queue
// item, per spec §3's queue-item lifecycle.
func (r *Repository) GetTopQueueItem(ctx context.Context, now time.Time) (QueueItemRecord, []byte, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, job_name, filename, category, priority, nzb_blob_id, created_at, pause_until
		FROM queue_items
		WHERE pause_until IS NULL OR pause_until <= ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`, now)

	var rec QueueItemRecord
	var pauseUntil sql.NullTime
	if err := row.Scan(&rec.ID, &rec.JobName, &rec.Filename, &rec.Category, &rec.Priority, &rec.NzbBlobID, &rec.CreatedAt, &pauseUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return QueueItemRecord{}, nil, ErrNotFound
		}
		return QueueItemRecord{}, nil, err
	}
	if pauseUntil.Valid {
		t := pauseUntil.Time
		rec.PauseUntil = &t
	}

	nzbXML, err := r.ReadBlob(ctx, rec.NzbBlobID)
	if err != nil {
		return QueueItemRecord{}, nil, err
	}
	return rec, nzbXML, nil
}

// DeleteQueueItem removes a queue item and its blob after processing.
func (r *Repository) DeleteQueueItem(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var blobID string
		if err := tx.QueryRowContext(ctx, `SELECT nzb_blob_id FROM queue_items WHERE id = ?`, id).Scan(&blobID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id); err != nil {
			return err
		}
		if blobID != "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, blobID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// PauseQueueItem backs off a queue item until a future time, used after
// a repeated ingest failure (SPEC_FULL.md supplemental feature).
func (r *Repository) PauseQueueItem(ctx context.Context, id string, until time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE queue_items SET pause_until = ? WHERE id = ?`, until, id)
	return err
}

// InsertHistoryItem records the terminal outcome of an ingestion job.
func (r *Repository) InsertHistoryItem(ctx context.Context, h HistoryItem) error {
	if h.ID == "" {
		h.ID = NewID()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history_items (id, job_name, category, status, reason_code, message, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.JobName, h.Category, h.Status, h.ReasonCode, h.Message, h.FinishedAt)
	return err
}

// RecordHealthResult upserts a health-check outcome for an item, sets
// next_health_check to nextCheck (NULL when nextCheck is nil) and marks
// the item corrupted unless the status is "healthy". The caller computes
// nextCheck (internal/health's CalculateNextCheck for a healthy item)
// since the schedule depends on the item's release date, which the
// repository does not interpret.
func (r *Repository) RecordHealthResult(ctx context.Context, res HealthResult, nextCheck *time.Time) error {
	return withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO health_results (item_id, status, checked_at, detail)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(item_id) DO UPDATE SET status=excluded.status, checked_at=excluded.checked_at, detail=excluded.detail
		`, res.ItemID, res.Status, res.CheckedAt, res.Detail); err != nil {
			return err
		}

		isCorrupted := res.Status != "healthy"
		var next any
		if nextCheck != nil {
			next = *nextCheck
		}
		if _, err := tx.ExecContext(ctx, `UPDATE items SET last_health_check = ?, next_health_check = ?, is_corrupted = ? WHERE id = ?`,
			res.CheckedAt, next, isCorrupted, res.ItemID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ReadHealthResult returns the most recent health result for an item.
func (r *Repository) ReadHealthResult(ctx context.Context, itemID string) (HealthResult, error) {
	var h HealthResult
	h.ItemID = itemID
	row := r.db.QueryRowContext(ctx, `SELECT status, checked_at, detail FROM health_results WHERE item_id = ?`, itemID)
	if err := row.Scan(&h.Status, &h.CheckedAt, &h.Detail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return h, ErrNotFound
		}
		return h, err
	}
	return h, nil
}

// DueForHealthCheck returns items whose next_health_check is null (urgent)
// or <= now, up to limit, per spec §4.10.
func (r *Repository) DueForHealthCheck(ctx context.Context, now time.Time, limit int) ([]domain.Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, parent_id, type, name, size, created_at, release_date, is_corrupted, last_health_check, next_health_check
		FROM items
		WHERE type != ? AND id != ? AND (next_health_check IS NULL OR next_health_check <= ?)
		ORDER BY next_health_check IS NOT NULL, next_health_check ASC
		LIMIT ?
	`, int(domain.ItemDirectory), RootID, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		var ir itemRow
		if err := rows.Scan(&ir.ID, &ir.ParentID, &ir.Type, &ir.Name, &ir.Size, &ir.CreatedAt, &ir.ReleaseDate, &ir.IsCorrupted, &ir.LastHealthCheck, &ir.NextHealthCheck); err != nil {
			return nil, err
		}
		out = append(out, ir.toDomain())
	}
	return out, rows.Err()
}

// MarkUrgent sets next_health_check to the minimum timestamp and clears
// prior results, per spec §4.10's "urgent promotion" on a runtime stream
// failure.
func (r *Repository) MarkUrgent(ctx context.Context, itemID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM health_results WHERE item_id = ?`, itemID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `UPDATE items SET next_health_check = ?, is_corrupted = 1 WHERE id = ?`, time.Unix(0, 0).UTC(), itemID)
	return err
}

// RecordMissingArticleEvent appends one missing-article observation.
func (r *Repository) RecordMissingArticleEvent(ctx context.Context, ev MissingArticleEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO missing_article_events (item_id, message_id, provider, occurred_at)
		VALUES (?, ?, ?, ?)
	`, ev.ItemID, ev.MessageID, ev.Provider, ev.OccurredAt)
	return err
}
