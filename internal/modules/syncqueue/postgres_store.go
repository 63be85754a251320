// README: Server-side queue store in Postgres for deployments without local disk.
package syncqueue

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"siaga/internal/types"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS sync_queue (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	priority INT NOT NULL,
	status TEXT NOT NULL,
	retry_count INT NOT NULL DEFAULT 0,
	max_retries INT NOT NULL,
	scheduled_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sync_queue_status_idx ON sync_queue (status, priority, created_at);
`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, db *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, pgSchema); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (Item, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, owner_id, action_type, payload, priority, status, retry_count, max_retries,
		       scheduled_at, created_at, updated_at, error_message
		FROM sync_queue WHERE id = $1`, string(id))
	item, err := scanPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func (s *PostgresStore) Put(ctx context.Context, item Item) error {
	raw, err := EncodePayload(item.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_queue (id, owner_id, action_type, payload, priority, status, retry_count,
		                        max_retries, scheduled_at, created_at, updated_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			scheduled_at = EXCLUDED.scheduled_at,
			updated_at = EXCLUDED.updated_at,
			error_message = EXCLUDED.error_message`,
		string(item.ID), item.OwnerID, string(item.ActionType), raw, item.Priority, string(item.Status),
		item.RetryCount, item.MaxRetries, item.ScheduledAt, item.CreatedAt, item.UpdatedAt, item.ErrorMessage)
	return err
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status) ([]Item, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, action_type, payload, priority, status, retry_count, max_retries,
		       scheduled_at, created_at, updated_at, error_message
		FROM sync_queue WHERE status = $1
		ORDER BY priority ASC, created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Item, 0)
	for rows.Next() {
		item, err := scanPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1`, string(id))
	return err
}

func scanPG(row pgx.Row) (Item, error) {
	var (
		item               Item
		id, action, status string
		raw                []byte
	)
	if err := row.Scan(&id, &item.OwnerID, &action, &raw, &item.Priority, &status, &item.RetryCount,
		&item.MaxRetries, &item.ScheduledAt, &item.CreatedAt, &item.UpdatedAt, &item.ErrorMessage); err != nil {
		return Item{}, err
	}
	item.ID = types.ID(id)
	item.ActionType = ActionType(action)
	item.Status = Status(status)
	if payload, err := DecodePayload(item.ActionType, raw); err == nil {
		item.Payload = payload
	}
	return item, nil
}
