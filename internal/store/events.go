package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	sqlInsertEvent    = `INSERT INTO sync_history (id, timestamp, event_type, file_id, message) VALUES (?, ?, ?, ?, ?)`
	sqlEventsRange    = `SELECT id, timestamp, event_type, file_id, message FROM sync_history ORDER BY timestamp DESC LIMIT ?`
	sqlPurgeOlderThan = `DELETE FROM sync_history WHERE timestamp < ?`
)

func (s *Store) eventStmtDefs() []stmtDef {
	return []stmtDef{
		{&s.eventStmts.insert, sqlInsertEvent, "insertEvent"},
		{&s.eventStmts.rangeDesc, sqlEventsRange, "eventsRange"},
		{&s.eventStmts.purgeOlderThan, sqlPurgeOlderThan, "purgeEventsOlderThan"},
	}
}

// AppendEvent appends a SyncEvent to the append-only history log.
// Returns the assigned id.
func (s *Store) AppendEvent(ctx context.Context, ev *SyncEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	_, err := s.eventStmts.insert.ExecContext(ctx,
		ev.ID, ev.Timestamp.Unix(), ev.EventType, nullIfEmpty(ev.FileID), nullIfEmpty(ev.Message))
	if err != nil {
		return "", &Error{"append event", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return ev.ID, nil
}

// EventsRange returns up to limit events, most recent first.
func (s *Store) EventsRange(ctx context.Context, limit int) ([]*SyncEvent, error) {
	rows, err := s.eventStmts.rangeDesc.QueryContext(ctx, limit)
	if err != nil {
		return nil, &Error{"events range", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}
	defer rows.Close()

	var out []*SyncEvent

	for rows.Next() {
		var (
			ev             SyncEvent
			ts             int64
			fileID, msg    sql.NullString
		)

		if err := rows.Scan(&ev.ID, &ts, &ev.EventType, &fileID, &msg); err != nil {
			return nil, &Error{"scan event", fmt.Errorf("%w: %v", ErrDatabase, err)}
		}

		ev.Timestamp = time.Unix(ts, 0).UTC()
		ev.FileID = fileID.String
		ev.Message = msg.String
		out = append(out, &ev)
	}

	return out, rows.Err()
}

// PurgeOlderThan deletes every event older than the given age in days.
func (s *Store) PurgeOlderThan(ctx context.Context, days int) error {
	cutoff := time.Now().AddDate(0, 0, -days).Unix()

	_, err := s.eventStmts.purgeOlderThan.ExecContext(ctx, cutoff)
	if err != nil {
		return &Error{"purge events", fmt.Errorf("%w: %v", ErrDatabase, err)}
	}

	return nil
}
