// README: Emergency call store backed by PostgreSQL with optimistic status versions.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"siaga/internal/types"
	"siaga/pkg/e"
)

const schema = `
CREATE TABLE IF NOT EXISTS emergency_calls (
	id TEXT PRIMARY KEY,
	report_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	status_version INT NOT NULL DEFAULT 0,
	priority TEXT NOT NULL,
	emergency_type TEXT NOT NULL DEFAULT '',
	ambulance_id TEXT,
	hospital_id TEXT,
	target_lat DOUBLE PRECISION,
	target_lng DOUBLE PRECISION,
	notes TEXT NOT NULL DEFAULT '',
	arrival_note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	arrived_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS emergency_calls_status_idx ON emergency_calls (status);
CREATE TABLE IF NOT EXISTS call_transitions (
	id BIGSERIAL PRIMARY KEY,
	call_id TEXT NOT NULL REFERENCES emergency_calls(id),
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor_id TEXT,
	note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
`

const callColumns = `id, report_id, status, status_version, priority, emergency_type,
	ambulance_id, hospital_id, target_lat, target_lng, notes, arrival_note,
	created_at, updated_at, arrived_at, completed_at, cancelled_at`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return e.WrapError(ctx, "dispatch schema", err)
}

// Create inserts call unless a call for the same report exists. created is
// false when the insert was a no-op.
func (s *Store) Create(ctx context.Context, call *EmergencyCall) (bool, error) {
	var lat, lng *float64
	if call.Target != nil {
		lat, lng = &call.Target.Lat, &call.Target.Lng
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO emergency_calls (`+callColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT DO NOTHING`,
		string(call.ID), string(call.ReportID), string(call.Status), call.StatusVersion,
		string(call.Priority), call.EmergencyType,
		toStringPtr(call.AmbulanceID), toStringPtr(call.HospitalID), lat, lng,
		call.Notes, call.ArrivalNote,
		call.CreatedAt, call.UpdatedAt, call.ArrivedAt, call.CompletedAt, call.CancelledAt,
	)
	if err != nil {
		return false, e.WrapError(ctx, "create call", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*EmergencyCall, error) {
	row := s.db.QueryRow(ctx, `SELECT `+callColumns+` FROM emergency_calls WHERE id = $1`, string(id))
	return scanCall(ctx, row)
}

func (s *Store) GetByReport(ctx context.Context, reportID types.ID) (*EmergencyCall, error) {
	row := s.db.QueryRow(ctx, `SELECT `+callColumns+` FROM emergency_calls WHERE report_id = $1`, string(reportID))
	return scanCall(ctx, row)
}

// UpdateStatus writes the post-transition call when the stored version still
// equals fromVersion.
func (s *Store) UpdateStatus(ctx context.Context, call *EmergencyCall, fromVersion int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE emergency_calls
		SET status = $1,
			status_version = $2,
			ambulance_id = COALESCE($3, ambulance_id),
			hospital_id = COALESCE($4, hospital_id),
			notes = $5,
			arrival_note = $6,
			updated_at = $7,
			arrived_at = COALESCE($8, arrived_at),
			completed_at = COALESCE($9, completed_at),
			cancelled_at = COALESCE($10, cancelled_at)
		WHERE id = $11 AND status_version = $12`,
		string(call.Status), call.StatusVersion,
		toStringPtr(call.AmbulanceID), toStringPtr(call.HospitalID),
		call.Notes, call.ArrivalNote, call.UpdatedAt,
		call.ArrivedAt, call.CompletedAt, call.CancelledAt,
		string(call.ID), fromVersion,
	)
	if err != nil {
		return false, e.WrapError(ctx, "update call status", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AppendTransition(ctx context.Context, tr *Transition) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_transitions (call_id, from_status, to_status, actor_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(tr.CallID), string(tr.From), string(tr.To), toStringPtr(tr.ActorID), tr.Note, tr.At,
	)
	return e.WrapError(ctx, "append transition", err)
}

func (s *Store) Transitions(ctx context.Context, callID types.ID) ([]Transition, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, call_id, from_status, to_status, actor_id, note, created_at
		FROM call_transitions WHERE call_id = $1 ORDER BY id`, string(callID))
	if err != nil {
		return nil, e.WrapError(ctx, "list transitions", err)
	}
	defer rows.Close()

	out := make([]Transition, 0)
	for rows.Next() {
		var tr Transition
		var actor *string
		if err := rows.Scan(&tr.ID, &tr.CallID, &tr.From, &tr.To, &actor, &tr.Note, &tr.At); err != nil {
			return nil, e.WrapError(ctx, "scan transition", err)
		}
		tr.ActorID = fromStringPtr(actor)
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...Status) ([]EmergencyCall, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+callColumns+` FROM emergency_calls
		WHERE status = ANY($1)
		ORDER BY created_at`, names)
	if err != nil {
		return nil, e.WrapError(ctx, "list calls", err)
	}
	defer rows.Close()

	out := make([]EmergencyCall, 0)
	for rows.Next() {
		call, err := scanCall(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *call)
	}
	return out, rows.Err()
}

func scanCall(ctx context.Context, row pgx.Row) (*EmergencyCall, error) {
	var (
		c                                   EmergencyCall
		ambulanceID, hospitalID             *string
		lat, lng                            *float64
		arrivedAt, completedAt, cancelledAt *time.Time
	)
	err := row.Scan(
		&c.ID, &c.ReportID, &c.Status, &c.StatusVersion, &c.Priority, &c.EmergencyType,
		&ambulanceID, &hospitalID, &lat, &lng, &c.Notes, &c.ArrivalNote,
		&c.CreatedAt, &c.UpdatedAt, &arrivedAt, &completedAt, &cancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, e.WrapError(ctx, "scan call", err)
	}
	c.AmbulanceID = fromStringPtr(ambulanceID)
	c.HospitalID = fromStringPtr(hospitalID)
	if lat != nil && lng != nil {
		c.Target = &types.Point{Lat: *lat, Lng: *lng}
	}
	c.ArrivedAt, c.CompletedAt, c.CancelledAt = arrivedAt, completedAt, cancelledAt
	return &c, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func fromStringPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
