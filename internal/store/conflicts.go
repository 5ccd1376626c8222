package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	sqlRecordConflict = `INSERT INTO conflicts
		(id, file_id, path, conflict_type, detected_at, local_hash, remote_hash, resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'unresolved')`

	sqlListUnresolved = `SELECT id, file_id, path, conflict_type, detected_at, local_hash, remote_hash,
		resolution, resolved_at, resolved_by FROM conflicts WHERE resolution = 'unresolved'`

	sqlListAllConflicts = `SELECT id, file_id, path, conflict_type, detected_at, local_hash, remote_hash,
		resolution, resolved_at, resolved_by FROM conflicts`

	sqlResolveConflict = `UPDATE conflicts SET resolution = ?, resolved_at = ?, resolved_by = ? WHERE id = ?`

	sqlGetConflict = `SELECT id, file_id, path, conflict_type, detected_at, local_hash, remote_hash,
		resolution, resolved_at, resolved_by FROM conflicts WHERE id = ?`
)

func (s *Store) conflictStmtDefs() []stmtDef {
	return []stmtDef{
		{&s.conflictStmts.record, sqlRecordConflict, "recordConflict"},
		{&s.conflictStmts.list, sqlListUnresolved, "listUnresolvedConflicts"},
		{&s.conflictStmts.listAll, sqlListAllConflicts, "listAllConflicts"},
		{&s.conflictStmts.resolve, sqlResolveConflict, "resolveConflict"},
		{&s.conflictStmts.get, sqlGetConflict, "getConflict"},
	}
}

// RecordConflict persists a newly-detected conflict. The corresponding
// FileRecord's sync_status must separately be set to Conflict by the
// caller; conflict records are never auto-cleared by the engine, only
// by explicit resolution.
func (s *Store) RecordConflict(ctx context.Context, c *ConflictRecord) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}

	_, err := s.conflictStmts.record.ExecContext(ctx,
		c.ID, c.FileID, c.Path, c.ConflictType, c.DetectedAt.Unix(), nullIfEmpty(c.LocalHash), nullIfEmpty(c.RemoteHash))
	if err != nil {
		return "", &Error{"record conflict", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return c.ID, nil
}

// ListConflicts returns unresolved conflicts only.
func (s *Store) ListConflicts(ctx context.Context) ([]*ConflictRecord, error) {
	rows, err := s.conflictStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, &Error{"list conflicts", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return scanConflictRows(rows)
}

// ListAllConflicts returns every conflict, resolved or not.
func (s *Store) ListAllConflicts(ctx context.Context) ([]*ConflictRecord, error) {
	rows, err := s.conflictStmts.listAll.QueryContext(ctx)
	if err != nil {
		return nil, &Error{"list all conflicts", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return scanConflictRows(rows)
}

// GetConflict fetches a single conflict by id.
func (s *Store) GetConflict(ctx context.Context, id string) (*ConflictRecord, error) {
	row := s.conflictStmts.get.QueryRowContext(ctx, id)

	c, err := scanConflict(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, &Error{"get conflict", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return c, nil
}

// ResolveConflict marks a conflict resolved with the given strategy and
// resolver identity (e.g. "user" or "auto").
func (s *Store) ResolveConflict(ctx context.Context, id, resolution, resolvedBy string) error {
	_, err := s.conflictStmts.resolve.ExecContext(ctx, resolution, time.Now().Unix(), resolvedBy, id)
	if err != nil {
		return &Error{"resolve conflict", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

func scanConflict(row rowScanner) (*ConflictRecord, error) {
	var (
		c                          ConflictRecord
		detectedAt                 int64
		localHash, remoteHash      sql.NullString
		resolvedAt                 sql.NullInt64
		resolvedBy                 sql.NullString
	)

	if err := row.Scan(&c.ID, &c.FileID, &c.Path, &c.ConflictType, &detectedAt,
		&localHash, &remoteHash, &c.Resolution, &resolvedAt, &resolvedBy); err != nil {
		return nil, err
	}

	c.DetectedAt = time.Unix(detectedAt, 0).UTC()
	c.LocalHash = localHash.String
	c.RemoteHash = remoteHash.String
	c.ResolvedBy = resolvedBy.String
	c.ResolvedAt = timeFromNullable(resolvedAt)

	return &c, nil
}

func scanConflictRows(rows *sql.Rows) ([]*ConflictRecord, error) {
	defer rows.Close()

	var out []*ConflictRecord

	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, &Error{"scan conflict row", fmt.Errorf("%w: %v", ErrDatabase, err)}
		}

		out = append(out, c)
	}

	return out, rows.Err()
}
