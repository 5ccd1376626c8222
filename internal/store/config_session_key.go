package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Config get/put: a typed blob keyed by name.
const (
	sqlConfigGet = `SELECT value FROM config WHERE key = ?`
	sqlConfigPut = `INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

func (s *Store) configStmtDefs() []stmtDef {
	return []stmtDef{
		{&s.configStmts.get, sqlConfigGet, "configGet"},
		{&s.configStmts.put, sqlConfigPut, "configPut"},
	}
}

// GetConfigBlob returns the raw value stored under key, or ErrNotFound.
func (s *Store) GetConfigBlob(ctx context.Context, key string) (string, error) {
	var v string

	err := s.configStmts.get.QueryRowContext(ctx, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", &Error{"config get", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return v, nil
}

// PutConfigBlob writes the raw value under key.
func (s *Store) PutConfigBlob(ctx context.Context, key, value string) error {
	_, err := s.configStmts.put.ExecContext(ctx, key, value)
	if err != nil {
		return &Error{"config put", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

// Auth session: a singleton row.
const (
	sqlSessionGet = `SELECT user_id, username, access_token, refresh_token, expires_at, server_info, created_at
		FROM auth_session WHERE id = 1`
	sqlSessionPut = `INSERT INTO auth_session (id, user_id, username, access_token, refresh_token, expires_at, server_info, created_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id, username = excluded.username,
			access_token = excluded.access_token, refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at, server_info = excluded.server_info`
	sqlSessionClear = `DELETE FROM auth_session WHERE id = 1`
)

func (s *Store) sessionStmtDefs() []stmtDef {
	return []stmtDef{
		{&s.sessionStmts.get, sqlSessionGet, "sessionGet"},
		{&s.sessionStmts.put, sqlSessionPut, "sessionPut"},
		{&s.sessionStmts.clear, sqlSessionClear, "sessionClear"},
	}
}

// GetSession returns the singleton AuthSession, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context) (*AuthSession, error) {
	var (
		a                       AuthSession
		refreshToken, serverInfo sql.NullString
		expiresAt               sql.NullInt64
		createdAt                int64
	)

	err := s.sessionStmts.get.QueryRowContext(ctx).Scan(
		&a.UserID, &a.Username, &a.AccessToken, &refreshToken, &expiresAt, &serverInfo, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, &Error{"session get", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	a.RefreshToken = refreshToken.String
	a.ServerInfo = serverInfo.String
	a.ExpiresAt = timeFromNullable(expiresAt)
	a.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &a, nil
}

// PutSession writes (replacing) the singleton AuthSession.
func (s *Store) PutSession(ctx context.Context, a *AuthSession) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.sessionStmts.put.ExecContext(ctx,
		a.UserID, a.Username, a.AccessToken, nullIfEmpty(a.RefreshToken),
		unixOrNil(a.ExpiresAt), nullIfEmpty(a.ServerInfo), a.CreatedAt.Unix())
	if err != nil {
		return &Error{"session put", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

// ClearSession removes the singleton AuthSession, e.g. on sign-out.
func (s *Store) ClearSession(ctx context.Context) error {
	_, err := s.sessionStmts.clear.ExecContext(ctx)
	if err != nil {
		return &Error{"session clear", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

// Wrapped master key: the raw key never touches the store.
const (
	sqlKeyGet = `SELECT key_id, wrapped_bytes, kdf_salt FROM wrapped_master_key WHERE active = 1 LIMIT 1`
	sqlKeyPut = `INSERT INTO wrapped_master_key (key_id, wrapped_bytes, kdf_salt, active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(key_id) DO UPDATE SET wrapped_bytes = excluded.wrapped_bytes, kdf_salt = excluded.kdf_salt, active = 1`
	sqlKeyClear = `UPDATE wrapped_master_key SET active = 0`
)

func (s *Store) keyStmtDefs() []stmtDef {
	return []stmtDef{
		{&s.keyStmts.get, sqlKeyGet, "keyGet"},
		{&s.keyStmts.put, sqlKeyPut, "keyPut"},
		{&s.keyStmts.clear, sqlKeyClear, "keyClear"},
	}
}

// GetWrappedKey returns the active WrappedMasterKey, or ErrNotFound.
func (s *Store) GetWrappedKey(ctx context.Context) (*WrappedMasterKey, error) {
	var k WrappedMasterKey

	err := s.keyStmts.get.QueryRowContext(ctx).Scan(&k.KeyID, &k.WrappedBytes, &k.KDFSalt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, &Error{"key get", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return &k, nil
}

// PutWrappedKey persists (activating) a WrappedMasterKey. Deactivates any
// previously active key for a different key_id, so there is always at
// most one active key (the active algorithm-per-key_id invariant, DESIGN.md
// Open Question 2).
func (s *Store) PutWrappedKey(ctx context.Context, k *WrappedMasterKey) error {
	if _, err := s.keyStmts.clear.ExecContext(ctx); err != nil {
		return &Error{"key clear before put", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	if _, err := s.keyStmts.put.ExecContext(ctx, k.KeyID, k.WrappedBytes, k.KDFSalt); err != nil {
		return &Error{"key put", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}
