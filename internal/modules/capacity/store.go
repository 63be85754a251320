// README: Hospital capacity store backed by PostgreSQL.
package capacity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"siaga/internal/types"
	"siaga/pkg/e"
)

const schema = `
CREATE TABLE IF NOT EXISTS hospital_capacity (
	hospital_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	lat DOUBLE PRECISION NOT NULL,
	lng DOUBLE PRECISION NOT NULL,
	emergency_beds_total INT NOT NULL CHECK (emergency_beds_total >= 0),
	emergency_beds_available INT NOT NULL CHECK (emergency_beds_available BETWEEN 0 AND emergency_beds_total),
	icu_beds_total INT NOT NULL CHECK (icu_beds_total >= 0),
	icu_beds_available INT NOT NULL CHECK (icu_beds_available BETWEEN 0 AND icu_beds_total),
	trauma BOOLEAN NOT NULL DEFAULT FALSE,
	cardiac BOOLEAN NOT NULL DEFAULT FALSE,
	stroke BOOLEAN NOT NULL DEFAULT FALSE,
	pediatric BOOLEAN NOT NULL DEFAULT FALSE,
	last_updated TIMESTAMPTZ NOT NULL
);
`

const capacityColumns = `hospital_id, name, lat, lng,
	emergency_beds_total, emergency_beds_available, icu_beds_total, icu_beds_available,
	trauma, cardiac, stroke, pediatric, last_updated`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return e.WrapError(ctx, "capacity schema", err)
}

// Upsert keeps the newer record when two updates race.
func (s *Store) Upsert(ctx context.Context, h HospitalCapacity) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO hospital_capacity (`+capacityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (hospital_id) DO UPDATE SET
			name = EXCLUDED.name,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			emergency_beds_total = EXCLUDED.emergency_beds_total,
			emergency_beds_available = EXCLUDED.emergency_beds_available,
			icu_beds_total = EXCLUDED.icu_beds_total,
			icu_beds_available = EXCLUDED.icu_beds_available,
			trauma = EXCLUDED.trauma,
			cardiac = EXCLUDED.cardiac,
			stroke = EXCLUDED.stroke,
			pediatric = EXCLUDED.pediatric,
			last_updated = EXCLUDED.last_updated
		WHERE hospital_capacity.last_updated <= EXCLUDED.last_updated`,
		string(h.HospitalID), h.Name, h.Position.Lat, h.Position.Lng,
		h.EmergencyBedsTotal, h.EmergencyBedsAvailable, h.ICUBedsTotal, h.ICUBedsAvailable,
		h.Capabilities.Trauma, h.Capabilities.Cardiac, h.Capabilities.Stroke, h.Capabilities.Pediatric,
		h.LastUpdated,
	)
	return e.WrapError(ctx, "upsert capacity", err)
}

func (s *Store) Get(ctx context.Context, id types.ID) (HospitalCapacity, error) {
	row := s.db.QueryRow(ctx, `SELECT `+capacityColumns+` FROM hospital_capacity WHERE hospital_id = $1`, string(id))
	h, err := scanCapacity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return HospitalCapacity{}, ErrNotFound
	}
	if err != nil {
		return HospitalCapacity{}, e.WrapError(ctx, "get capacity", err)
	}
	return h, nil
}

func (s *Store) List(ctx context.Context) ([]HospitalCapacity, error) {
	rows, err := s.db.Query(ctx, `SELECT `+capacityColumns+` FROM hospital_capacity ORDER BY hospital_id`)
	if err != nil {
		return nil, e.WrapError(ctx, "list capacity", err)
	}
	defer rows.Close()

	out := make([]HospitalCapacity, 0)
	for rows.Next() {
		h, err := scanCapacity(rows)
		if err != nil {
			return nil, e.WrapError(ctx, "scan capacity", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanCapacity(row pgx.Row) (HospitalCapacity, error) {
	var h HospitalCapacity
	err := row.Scan(
		&h.HospitalID, &h.Name, &h.Position.Lat, &h.Position.Lng,
		&h.EmergencyBedsTotal, &h.EmergencyBedsAvailable, &h.ICUBedsTotal, &h.ICUBedsAvailable,
		&h.Capabilities.Trauma, &h.Capabilities.Cardiac, &h.Capabilities.Stroke, &h.Capabilities.Pediatric,
		&h.LastUpdated,
	)
	return h, err
}
