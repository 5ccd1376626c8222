package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const itemColumns = `id, path, name, is_directory, size, mime_type, content_hash,
	local_modified, remote_modified, etag, direction, sync_status,
	sync_status_detail, encryption_status, encryption_iv, encryption_metadata,
	created_at, updated_at`

const (
	sqlGetItem       = `SELECT ` + itemColumns + ` FROM sync_items WHERE id = ? AND is_deleted = 0`
	sqlGetItemByPath = `SELECT ` + itemColumns + ` FROM sync_items WHERE path = ? AND is_deleted = 0`

	sqlUpsertItem = `INSERT INTO sync_items (` + itemColumns + `, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			path                = excluded.path,
			name                = excluded.name,
			is_directory        = excluded.is_directory,
			size                = excluded.size,
			mime_type           = excluded.mime_type,
			content_hash        = excluded.content_hash,
			local_modified      = excluded.local_modified,
			remote_modified     = excluded.remote_modified,
			etag                = excluded.etag,
			direction           = excluded.direction,
			sync_status         = excluded.sync_status,
			sync_status_detail  = excluded.sync_status_detail,
			encryption_status   = excluded.encryption_status,
			encryption_iv       = excluded.encryption_iv,
			encryption_metadata = excluded.encryption_metadata,
			updated_at          = excluded.updated_at,
			is_deleted          = 0,
			deleted_at          = NULL
		ON CONFLICT(path) WHERE is_deleted = 0 DO UPDATE SET
			name                = excluded.name,
			is_directory        = excluded.is_directory,
			size                = excluded.size,
			mime_type           = excluded.mime_type,
			content_hash        = excluded.content_hash,
			local_modified      = excluded.local_modified,
			remote_modified     = excluded.remote_modified,
			etag                = excluded.etag,
			direction           = excluded.direction,
			sync_status         = excluded.sync_status,
			sync_status_detail  = excluded.sync_status_detail,
			encryption_status   = excluded.encryption_status,
			encryption_iv       = excluded.encryption_iv,
			encryption_metadata = excluded.encryption_metadata,
			updated_at          = excluded.updated_at`

	sqlMarkDeleted = `UPDATE sync_items SET is_deleted = 1, deleted_at = ?, updated_at = ? WHERE id = ?`

	sqlDeleteItemByKey = `DELETE FROM sync_items WHERE id = ?`

	sqlListChildren = `SELECT ` + itemColumns + ` FROM sync_items
		WHERE is_deleted = 0 AND (path = ? OR path LIKE ?)`

	sqlListAllActive = `SELECT ` + itemColumns + ` FROM sync_items WHERE is_deleted = 0`

	sqlListSynced = `SELECT ` + itemColumns + ` FROM sync_items
		WHERE is_deleted = 0 AND sync_status = 'synced'`

	sqlUpdateStatusByPath = `UPDATE sync_items
		SET sync_status = ?, sync_status_detail = ?, updated_at = ?
		WHERE path = ? AND is_deleted = 0`
)

func (s *Store) itemStmtDefs() []stmtDef {
	return []stmtDef{
		{&s.itemStmts.get, sqlGetItem, "getItem"},
		{&s.itemStmts.getByPath, sqlGetItemByPath, "getItemByPath"},
		{&s.itemStmts.upsert, sqlUpsertItem, "upsertItem"},
		{&s.itemStmts.markDeleted, sqlMarkDeleted, "markDeleted"},
		{&s.itemStmts.deleteByKey, sqlDeleteItemByKey, "deleteItemByKey"},
		{&s.itemStmts.listChildren, sqlListChildren, "listChildren"},
		{&s.itemStmts.listAllActive, sqlListAllActive, "listAllActive"},
		{&s.itemStmts.listSynced, sqlListSynced, "listSynced"},
		{&s.itemStmts.updateStatusByPath, sqlUpdateStatusByPath, "updateStatusByPath"},
	}
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.Unix()
}

func timeFromNullable(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}

	t := time.Unix(n.Int64, 0).UTC()

	return &t
}

// GetItem fetches a FileRecord by id. Returns ErrNotFound if absent.
func (s *Store) GetItem(ctx context.Context, id string) (*FileRecord, error) {
	return s.scanOneItem(s.itemStmts.get.QueryRowContext(ctx, id))
}

// GetItemByPath fetches a FileRecord by path. Returns ErrNotFound if
// absent; path is unique among active records.
func (s *Store) GetItemByPath(ctx context.Context, path string) (*FileRecord, error) {
	return s.scanOneItem(s.itemStmts.getByPath.QueryRowContext(ctx, path))
}

func (s *Store) scanOneItem(row *sql.Row) (*FileRecord, error) {
	rec, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, &Error{"scan item", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*FileRecord, error) {
	var (
		r                                    FileRecord
		mimeType, contentHash, etag          sql.NullString
		localMod, remoteMod                  sql.NullInt64
		statusDetail, encIV, encMeta         sql.NullString
		createdAt, updatedAt                 int64
		isDir                                int
	)

	if err := row.Scan(
		&r.ID, &r.Path, &r.Name, &isDir, &r.Size, &mimeType, &contentHash,
		&localMod, &remoteMod, &etag, &r.Direction, &r.SyncStatus,
		&statusDetail, &r.EncryptionStatus, &encIV, &encMeta,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	r.IsDirectory = isDir != 0
	r.MimeType = mimeType.String
	r.ContentHash = contentHash.String
	r.ETag = etag.String
	r.SyncStatusDetail = statusDetail.String
	r.EncryptionIV = encIV.String
	r.EncryptionMetadata = encMeta.String
	r.LocalModified = timeFromNullable(localMod)
	r.RemoteModified = timeFromNullable(remoteMod)
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	r.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &r, nil
}

// UpsertItem creates or replaces a FileRecord. An empty id means "first
// observation": the store adopts the id of the active record already
// holding the path, or assigns a fresh one. A write whose path collides
// with a different active record becomes an update of that record
// rather than a uniqueness failure.
func (s *Store) UpsertItem(ctx context.Context, r *FileRecord) error {
	if r.ID == "" {
		existing, err := s.GetItemByPath(ctx, r.Path)
		switch {
		case err == nil:
			r.ID = existing.ID
			if r.CreatedAt.IsZero() {
				r.CreatedAt = existing.CreatedAt
			}
		case errors.Is(err, ErrNotFound):
			r.ID = uuid.New().String()
		default:
			return err
		}
	}

	now := time.Now().Unix()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Unix(now, 0).UTC()
	}

	r.UpdatedAt = time.Unix(now, 0).UTC()

	_, err := s.itemStmts.upsert.ExecContext(ctx,
		r.ID, r.Path, r.Name, boolToInt(r.IsDirectory), r.Size, nullIfEmpty(r.MimeType), nullIfEmpty(r.ContentHash),
		unixOrNil(r.LocalModified), unixOrNil(r.RemoteModified), nullIfEmpty(r.ETag), r.Direction, r.SyncStatus,
		nullIfEmpty(r.SyncStatusDetail), r.EncryptionStatus, nullIfEmpty(r.EncryptionIV), nullIfEmpty(r.EncryptionMetadata),
		r.CreatedAt.Unix(), r.UpdatedAt.Unix(),
	)
	if err != nil {
		return &Error{"upsert item", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

// MarkDeleted soft-deletes a FileRecord (tombstone), preserving it for
// audit while freeing its path for reuse.
func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	now := time.Now().Unix()

	_, err := s.itemStmts.markDeleted.ExecContext(ctx, now, now, id)
	if err != nil {
		return &Error{"mark deleted", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

// DeleteItemByKey hard-deletes a FileRecord. Idempotent: deleting an
// absent id succeeds.
func (s *Store) DeleteItemByKey(ctx context.Context, id string) error {
	_, err := s.itemStmts.deleteByKey.ExecContext(ctx, id)
	if err != nil {
		return &Error{"delete item", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

// DeleteByPathPrefix hard-deletes every active record whose path equals
// prefix or is nested under it, so deleting a directory cascades to all
// descendants.
func (s *Store) DeleteByPathPrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_items WHERE path = ? OR path LIKE ?`, prefix, prefix+"/%")
	if err != nil {
		return &Error{"delete by prefix", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

// ListChildren lists the active record at path itself plus every active
// record nested under it.
func (s *Store) ListChildren(ctx context.Context, path string) ([]*FileRecord, error) {
	rows, err := s.itemStmts.listChildren.QueryContext(ctx, path, path+"/%")
	if err != nil {
		return nil, &Error{"list children", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return scanItemRows(rows)
}

// ListAllActive lists every non-deleted FileRecord.
func (s *Store) ListAllActive(ctx context.Context) ([]*FileRecord, error) {
	rows, err := s.itemStmts.listAllActive.QueryContext(ctx)
	if err != nil {
		return nil, &Error{"list active", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return scanItemRows(rows)
}

// ListByStatus lists active records in the given status.
func (s *Store) ListByStatus(ctx context.Context, status SyncStatus) ([]*FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM sync_items WHERE is_deleted = 0 AND sync_status = ?`, status)
	if err != nil {
		return nil, &Error{"list by status", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return scanItemRows(rows)
}

// ListSynced lists records with sync_status = synced.
func (s *Store) ListSynced(ctx context.Context) ([]*FileRecord, error) {
	rows, err := s.itemStmts.listSynced.QueryContext(ctx)
	if err != nil {
		return nil, &Error{"list synced", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return scanItemRows(rows)
}

// UpdateStatusByPath sets sync_status (and optional detail) for one path.
func (s *Store) UpdateStatusByPath(ctx context.Context, path string, status SyncStatus, detail string) error {
	_, err := s.itemStmts.updateStatusByPath.ExecContext(ctx, status, nullIfEmpty(detail), time.Now().Unix(), path)
	if err != nil {
		return &Error{"update status", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

func scanItemRows(rows *sql.Rows) ([]*FileRecord, error) {
	defer rows.Close()

	var out []*FileRecord

	for rows.Next() {
		rec, err := scanItem(rows)
		if err != nil {
			return nil, &Error{"scan item row", fmt.Errorf("%w: %v", ErrDatabase, err)}
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, &Error{"iterate item rows", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return out, nil
}

// Aggregates.

// CountAll returns the total number of active records and their total
// size in bytes.
func (s *Store) CountAll(ctx context.Context) (count int, totalSize int64, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM sync_items WHERE is_deleted = 0`)
	if scanErr := row.Scan(&count, &totalSize); scanErr != nil {
		return 0, 0, &Error{"count all", fmt.Errorf("%w: %v", ErrDatabase, scanErr)}
	}

	return count, totalSize, nil
}

// CountByStatus returns the number of active records in the given status.
func (s *Store) CountByStatus(ctx context.Context, status SyncStatus) (int, error) {
	var n int

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_items WHERE is_deleted = 0 AND sync_status = ?`, status)
	if err := row.Scan(&n); err != nil {
		return 0, &Error{"count by status", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}
