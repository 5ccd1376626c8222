package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	sqlEncSettingsGet = `SELECT enabled, algorithm, key_storage, key_storage_detail,
		encrypt_filenames, encrypt_metadata, kdf_salt, key_id
		FROM encryption_settings WHERE id = 1`

	sqlEncSettingsPut = `INSERT INTO encryption_settings
		(id, enabled, algorithm, key_storage, key_storage_detail, encrypt_filenames, encrypt_metadata, kdf_salt, key_id)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled, algorithm = excluded.algorithm,
			key_storage = excluded.key_storage, key_storage_detail = excluded.key_storage_detail,
			encrypt_filenames = excluded.encrypt_filenames, encrypt_metadata = excluded.encrypt_metadata,
			kdf_salt = excluded.kdf_salt, key_id = excluded.key_id`
)

func (s *Store) encSettingsStmtDefs() []stmtDef {
	return []stmtDef{
		{&s.encSettingsStmts.get, sqlEncSettingsGet, "encSettingsGet"},
		{&s.encSettingsStmts.put, sqlEncSettingsPut, "encSettingsPut"},
	}
}

// GetEncryptionSettings returns the singleton EncryptionSettings row. A
// missing row is treated as "disabled, never configured" rather than an
// error, since every fresh profile starts this way.
func (s *Store) GetEncryptionSettings(ctx context.Context) (*EncryptionSettings, error) {
	var (
		es                       EncryptionSettings
		enabled, encFiles, encMd int
		detail, salt, keyID      sql.NullString
	)

	err := s.encSettingsStmts.get.QueryRowContext(ctx).Scan(
		&enabled, &es.Algorithm, &es.KeyStorage, &detail, &encFiles, &encMd, &salt, &keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return &EncryptionSettings{Algorithm: "aes256gcm", KeyStorage: "password"}, nil
	}

	if err != nil {
		return nil, &Error{"enc settings get", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	es.Enabled = enabled != 0
	es.EncryptFilenames = encFiles != 0
	es.EncryptMetadata = encMd != 0
	es.KeyStorageDetail = detail.String
	es.KDFSalt = salt.String
	es.KeyID = keyID.String

	return &es, nil
}

// PutEncryptionSettings replaces the singleton EncryptionSettings row.
func (s *Store) PutEncryptionSettings(ctx context.Context, es *EncryptionSettings) error {
	_, err := s.encSettingsStmts.put.ExecContext(ctx,
		boolToInt(es.Enabled), es.Algorithm, es.KeyStorage, nullIfEmpty(es.KeyStorageDetail),
		boolToInt(es.EncryptFilenames), boolToInt(es.EncryptMetadata), nullIfEmpty(es.KDFSalt), nullIfEmpty(es.KeyID))
	if err != nil {
		return &Error{"enc settings put", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

// Selective-sync folder set.
const (
	sqlFolderDeleteAll = `DELETE FROM sync_folders`
	sqlFolderInsert    = `INSERT INTO sync_folders (folder_id) VALUES (?)`
	sqlFolderList      = `SELECT folder_id FROM sync_folders`
)

func (s *Store) folderStmtDefs() []stmtDef {
	return []stmtDef{
		{&s.folderStmts.replaceDeleteAll, sqlFolderDeleteAll, "folderDeleteAll"},
		{&s.folderStmts.insert, sqlFolderInsert, "folderInsert"},
		{&s.folderStmts.list, sqlFolderList, "folderList"},
	}
}

// ReplaceSelectiveFolders atomically replaces the selective-sync folder set.
func (s *Store) ReplaceSelectiveFolders(ctx context.Context, folderIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{"replace folders begin", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	if _, err := tx.Stmt(s.folderStmts.replaceDeleteAll).ExecContext(ctx); err != nil {
		tx.Rollback()
		return &Error{"replace folders clear", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	for _, id := range folderIDs {
		if _, err := tx.Stmt(s.folderStmts.insert).ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return &Error{"replace folders insert", fmt.Errorf("%w: %v", ErrDatabase, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{"replace folders commit", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

// SelectiveFolders returns the current selective-sync folder id set.
func (s *Store) SelectiveFolders(ctx context.Context) ([]string, error) {
	rows, err := s.folderStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, &Error{"list folders", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &Error{"scan folder", fmt.Errorf("%w: %v", ErrDatabase, err)}
		}

		out = append(out, id)
	}

	return out, rows.Err()
}
