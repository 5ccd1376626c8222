// Package store implements the persistent State Store: a
// transactional relational store over FileRecord, SyncEvent, config,
// AuthSession, the wrapped master key, encryption settings, and the
// selective-sync folder set.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

// Named pragma constants.
const (
	walJournalSizeLimit = 64 * 1024 * 1024
)

// Store is the SQLite-backed implementation of the State Store. A
// single connection is guarded implicitly by SQLite's own locking plus
// the engine's single-flight discipline; all callers serialize through
// it.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	itemStmts       itemStatements
	eventStmts      eventStatements
	conflictStmts   conflictStatements
	configStmts     configStatements
	sessionStmts    sessionStatements
	keyStmts        keyStatements
	encSettingsStmts encSettingsStatements
	folderStmts     folderStatements
}

type itemStatements struct {
	get, getByPath, upsert, markDeleted, deleteByKey, listChildren, listAllActive, listSynced, updateStatusByPath *sql.Stmt
}

type eventStatements struct {
	insert, rangeDesc, purgeOlderThan *sql.Stmt
}

type conflictStatements struct {
	record, list, listAll, resolve, get *sql.Stmt
}

type configStatements struct {
	get, put *sql.Stmt
}

type sessionStatements struct {
	get, put, clear *sql.Stmt
}

type keyStatements struct {
	get, put, clear *sql.Stmt
}

type encSettingsStatements struct {
	get, put *sql.Stmt
}

type folderStatements struct {
	replaceDeleteAll, insert, list *sql.Stmt
}

// Open opens (creating if necessary) the SQLite database at dbPath, sets
// WAL pragmas, applies migrations, and prepares all statements. Use
// ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening sync state database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, &Error{"open", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	// A single logical connection: the engine is single-flight, so
	// serializing through one physical connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, &Error{"migrate", fmt.Errorf("%w: %v", ErrMigration, err)}
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareAll(ctx); err != nil {
		db.Close()
		return nil, &Error{"prepare", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	logger.Info("sync state database ready", "path", dbPath)

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct{ sql, desc string }{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return &Error{"pragma:" + p.desc, fmt.Errorf("%w: %v", ErrDatabase, err)}
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// stmtDef maps a SQL string to the prepared statement pointer it should
// populate. Used by the generic prepare helper to eliminate repetitive
// error handling.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *Store) prepareAll(ctx context.Context) error {
	groups := [][]stmtDef{
		s.itemStmtDefs(),
		s.eventStmtDefs(),
		s.conflictStmtDefs(),
		s.configStmtDefs(),
		s.sessionStmtDefs(),
		s.keyStmtDefs(),
		s.encSettingsStmtDefs(),
		s.folderStmtDefs(),
	}

	for _, g := range groups {
		if err := prepareAll(ctx, s.db, g); err != nil {
			return err
		}
	}

	return nil
}

// Checkpoint forces a WAL checkpoint; useful before backups.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return &Error{"checkpoint", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
