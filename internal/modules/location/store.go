// README: Location store backed by Redis GEO (live positions) and Postgres snapshots.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"siaga/internal/types"
	"siaga/pkg/e"
)

const (
	ambulanceGeoKey   = "location:ambulances"
	positionKeyPrefix = "location:ambulance:%s"
	maxWatchRetries   = 5
)

const schema = `
CREATE TABLE IF NOT EXISTS ambulance_position_snapshots (
	id BIGSERIAL PRIMARY KEY,
	ambulance_id TEXT NOT NULL,
	lat DOUBLE PRECISION NOT NULL,
	lng DOUBLE PRECISION NOT NULL,
	accuracy_m DOUBLE PRECISION NOT NULL DEFAULT 0,
	captured_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ambulance_position_snapshots_amb_idx
	ON ambulance_position_snapshots (ambulance_id, captured_at DESC);
`

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(ctx, schema)
	return e.WrapError(ctx, "location schema", err)
}

// Upsert stores pos unless a fix with a newer CapturedAt is already present.
// It reports whether pos was applied. Replaying the same fix is a no-op that
// still reports true, which keeps queued location pings idempotent.
func (s *Store) Upsert(ctx context.Context, pos AmbulancePosition) (bool, error) {
	key := positionKey(pos.AmbulanceID)
	body, err := json.Marshal(pos)
	if err != nil {
		return false, err
	}

	applied := false
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var prev AmbulancePosition
			if jerr := json.Unmarshal(current, &prev); jerr == nil && prev.CapturedAt.After(pos.CapturedAt) {
				applied = false
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, 0)
			pipe.GeoAdd(ctx, ambulanceGeoKey, &redis.GeoLocation{
				Name:      string(pos.AmbulanceID),
				Longitude: pos.Position.Lng,
				Latitude:  pos.Position.Lat,
			})
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("upsert position %s: %w", pos.AmbulanceID, err)
		}
		return applied, nil
	}
	return false, fmt.Errorf("upsert position %s: %w", pos.AmbulanceID, e.ErrConflict)
}

// All returns every known position, stale ones included.
func (s *Store) All(ctx context.Context) ([]AmbulancePosition, error) {
	ids, err := s.redis.ZRange(ctx, ambulanceGeoKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = positionKey(types.ID(id))
	}
	vals, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]AmbulancePosition, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var pos AmbulancePosition
		if err := json.Unmarshal([]byte(raw), &pos); err != nil {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

// Nearby returns ambulance ids inside radiusKm, closest first.
func (s *Store) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, ambulanceGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO ambulance_position_snapshots (
			ambulance_id, lat, lng, accuracy_m, captured_at, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(snap.AmbulanceID),
		snap.Position.Lat, snap.Position.Lng,
		snap.Accuracy,
		snap.CapturedAt,
		snap.RecordedAt,
	)
	return e.WrapError(ctx, "append position snapshot", err)
}

func positionKey(id types.ID) string {
	return fmt.Sprintf(positionKeyPrefix, string(id))
}
