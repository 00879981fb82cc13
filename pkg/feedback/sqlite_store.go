// SPDX-License-Identifier: Apache-2.0

package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
)

// SQLiteStore persists feedback in SQLite as JSON documents with the triage
// fields broken out for indexing.
type SQLiteStore struct {
	db       *sql.DB
	capacity int
}

// NewSQLiteStore creates a SQLite-backed store and ensures schema.
func NewSQLiteStore(db *sql.DB, capacity int) (*SQLiteStore, error) {
	if db == nil {
		return nil, stderrors.New("db is nil")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := ensureFeedbackSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, capacity: capacity}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, f *Feedback) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO feedback (id, created_ns, type, status, priority, correlation_id, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			priority = excluded.priority,
			data_json = excluded.data_json
	`,
		f.ID,
		f.CreatedAt.UnixNano(),
		string(f.Type),
		string(f.Status),
		string(f.Priority),
		f.CorrelationID,
		string(data),
	); err != nil {
		return err
	}
	// Upserts consume AUTOINCREMENT values, so seq has gaps; keep by count.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM feedback
		WHERE seq NOT IN (SELECT seq FROM feedback ORDER BY seq DESC LIMIT ?)
	`, s.capacity); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Feedback, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data_json FROM feedback WHERE id = ?`, id).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrFeedbackNotFound
	}
	if err != nil {
		return nil, err
	}
	var f Feedback
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data_json FROM feedback ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Feedback
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var f Feedback
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&n)
	return n, err
}

func ensureFeedbackSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS feedback (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			created_ns INTEGER NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			data_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_feedback_correlation ON feedback(correlation_id);
		CREATE INDEX IF NOT EXISTS idx_feedback_status ON feedback(status);
	`)
	return err
}
