// README: On-device queue store backed by SQLite so pending work survives restarts.
package syncqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"siaga/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sync_queue (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	payload BLOB NOT NULL,
	priority INTEGER NOT NULL,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL,
	scheduled_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sync_queue_status_idx ON sync_queue (status, priority, created_at);
`

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id types.ID) (Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, action_type, payload, priority, status, retry_count, max_retries,
		       scheduled_at, created_at, updated_at, error_message
		FROM sync_queue WHERE id = ?`, string(id))
	item, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func (s *SQLiteStore) Put(ctx context.Context, item Item) error {
	raw, err := EncodePayload(item.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, owner_id, action_type, payload, priority, status, retry_count,
		                        max_retries, scheduled_at, created_at, updated_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			max_retries = excluded.max_retries,
			scheduled_at = excluded.scheduled_at,
			updated_at = excluded.updated_at,
			error_message = excluded.error_message`,
		string(item.ID), item.OwnerID, string(item.ActionType), raw, item.Priority, string(item.Status),
		item.RetryCount, item.MaxRetries, item.ScheduledAt.UnixNano(), item.CreatedAt.UnixNano(),
		item.UpdatedAt.UnixNano(), item.ErrorMessage)
	return err
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status Status) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, action_type, payload, priority, status, retry_count, max_retries,
		       scheduled_at, created_at, updated_at, error_message
		FROM sync_queue WHERE status = ?
		ORDER BY priority ASC, created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Item, 0)
	for rows.Next() {
		item, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id types.ID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, string(id))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (Item, error) {
	var (
		item                            Item
		id, action, status              string
		raw                             []byte
		scheduledAt, createdAt, updated int64
	)
	if err := row.Scan(&id, &item.OwnerID, &action, &raw, &item.Priority, &status, &item.RetryCount,
		&item.MaxRetries, &scheduledAt, &createdAt, &updated, &item.ErrorMessage); err != nil {
		return Item{}, err
	}
	item.ID = types.ID(id)
	item.ActionType = ActionType(action)
	item.Status = Status(status)
	item.ScheduledAt = time.Unix(0, scheduledAt).UTC()
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	item.UpdatedAt = time.Unix(0, updated).UTC()
	payload, err := DecodePayload(item.ActionType, raw)
	if err != nil {
		// Keep the row readable so the flusher can fail it permanently.
		item.Payload = nil
		return item, nil
	}
	item.Payload = payload
	return item, nil
}
