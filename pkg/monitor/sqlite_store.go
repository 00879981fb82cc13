// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"math"
	"time"

	"github.com/studybuddy/sentinel/pkg/errors"
)

// SQLiteEventStore persists the event log in SQLite. Eviction follows
// insertion order, like the in-memory ring.
type SQLiteEventStore struct {
	db       *sql.DB
	capacity int
}

// NewSQLiteEventStore creates a SQLite-backed event store and ensures schema.
func NewSQLiteEventStore(db *sql.DB, capacity int) (*SQLiteEventStore, error) {
	if db == nil {
		return nil, stderrors.New("db is nil")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := ensureEventSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteEventStore{db: db, capacity: capacity}, nil
}

const eventColumns = `id, ts, type, correlation_id, layer, severity, message, session_id,
	conversation_id, user_id, duration_ns, retry_count, resolved, resolution_ts, source, metadata_json`

func (s *SQLiteEventStore) Append(ctx context.Context, ev Event) error {
	metadata, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO monitor_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID,
		ev.Timestamp.UnixNano(),
		string(ev.Type),
		ev.CorrelationID,
		int(ev.Layer),
		string(ev.Severity),
		ev.Message,
		ev.SessionID,
		ev.ConversationID,
		ev.UserID,
		int64(ev.Duration),
		ev.RetryCount,
		ev.Resolved,
		nanos(ev.ResolutionTime),
		string(ev.Source),
		metadata,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM monitor_events
		WHERE seq NOT IN (SELECT seq FROM monitor_events ORDER BY seq DESC LIMIT ?)
	`, s.capacity); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteEventStore) Since(ctx context.Context, t time.Time) ([]Event, error) {
	from := int64(math.MinInt64)
	if !t.IsZero() {
		from = t.UnixNano()
	}
	return s.query(ctx, `SELECT `+eventColumns+` FROM monitor_events WHERE ts >= ? ORDER BY seq ASC`, from)
}

func (s *SQLiteEventStore) ByCorrelation(ctx context.Context, correlationID string) ([]Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM monitor_events WHERE correlation_id = ? ORDER BY seq ASC`, correlationID)
}

func (s *SQLiteEventStore) Resolve(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE monitor_events SET resolved = 1, resolution_ts = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteEventStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM monitor_events`).Scan(&n)
	return n, err
}

func (s *SQLiteEventStore) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev           Event
			ts           int64
			eventType    string
			layer        int
			severity     string
			duration     int64
			resolutionTS sql.NullInt64
			source       string
			metadataJSON sql.NullString
		)
		if err := rows.Scan(
			&ev.ID,
			&ts,
			&eventType,
			&ev.CorrelationID,
			&layer,
			&severity,
			&ev.Message,
			&ev.SessionID,
			&ev.ConversationID,
			&ev.UserID,
			&duration,
			&ev.RetryCount,
			&ev.Resolved,
			&resolutionTS,
			&source,
			&metadataJSON,
		); err != nil {
			return nil, err
		}
		ev.Timestamp = time.Unix(0, ts).UTC()
		ev.Type = EventType(eventType)
		ev.Layer = errors.Layer(layer)
		ev.Severity = errors.Impact(severity)
		ev.Duration = time.Duration(duration)
		ev.Source = errors.Source(source)
		if resolutionTS.Valid && resolutionTS.Int64 != 0 {
			ev.ResolutionTime = time.Unix(0, resolutionTS.Int64).UTC()
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &ev.Metadata); err != nil {
				return nil, err
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func encodeMetadata(md map[string]any) (sql.NullString, error) {
	if len(md) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func ensureEventSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS monitor_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			layer INTEGER NOT NULL,
			severity TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			duration_ns INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			resolved INTEGER NOT NULL DEFAULT 0,
			resolution_ts INTEGER,
			source TEXT NOT NULL DEFAULT '',
			metadata_json TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_monitor_events_correlation ON monitor_events(correlation_id);
		CREATE INDEX IF NOT EXISTS idx_monitor_events_ts ON monitor_events(ts);
	`)
	return err
}
