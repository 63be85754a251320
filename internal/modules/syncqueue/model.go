// README: Sync queue items and the per-action payload union.
package syncqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"siaga/internal/types"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type ActionType string

const (
	ActionEmergencyReport ActionType = "emergency_report"
	ActionLocationUpdate  ActionType = "location_update"
	ActionStatusUpdate    ActionType = "status_update"
)

var (
	ErrItemNotFound     = errors.New("sync item not found")
	ErrNotPending       = errors.New("sync item is not pending")
	ErrNotFailed        = errors.New("sync item is not failed")
	ErrUnknownAction    = errors.New("unknown action type")
	ErrApplyFailure     = errors.New("apply failed")
	ErrStoreUnavailable = errors.New("queue store unavailable")
)

// Payload is one variant of the action union. The variant decides the
// ActionType; the queue never looks inside.
type Payload interface {
	Action() ActionType
}

type Item struct {
	ID           types.ID   `json:"id"`
	OwnerID      string     `json:"owner_id"`
	ActionType   ActionType `json:"action_type"`
	Payload      Payload    `json:"payload"`
	Priority     int        `json:"priority"`
	Status       Status     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// less orders items by (priority, created_at), id as the final tie-break.
func less(a, b Item) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

type EmergencyReportPayload struct {
	CallID        types.ID     `json:"call_id"`
	ReportID      types.ID     `json:"report_id"`
	Severity      string       `json:"severity"`
	EmergencyType string       `json:"emergency_type"`
	Priority      string       `json:"priority"`
	Location      *types.Point `json:"location,omitempty"`
	ReporterID    types.ID     `json:"reporter_id,omitempty"`
	Description   string       `json:"description,omitempty"`
	ReportedAt    time.Time    `json:"reported_at"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (EmergencyReportPayload) Action() ActionType { return ActionEmergencyReport }

type LocationUpdatePayload struct {
	AmbulanceID    types.ID    `json:"ambulance_id"`
	Position       types.Point `json:"position"`
	AccuracyMeters float64     `json:"accuracy_meters"`
	SpeedMps       *float64    `json:"speed_mps,omitempty"`
	HeadingDegrees *float64    `json:"heading_degrees,omitempty"`
	CapturedAt     time.Time   `json:"captured_at"`
}

func (LocationUpdatePayload) Action() ActionType { return ActionLocationUpdate }

// StatusUpdatePayload carries the resulting state of one transition. Version
// is the status_version after the transition.
type StatusUpdatePayload struct {
	CallID      types.ID  `json:"call_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Version     int       `json:"version"`
	AmbulanceID *types.ID `json:"ambulance_id,omitempty"`
	HospitalID  *types.ID `json:"hospital_id,omitempty"`
	ActorID     *types.ID `json:"actor_id,omitempty"`
	Note        string    `json:"note,omitempty"`
	ArrivalNote string    `json:"arrival_note,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	At          time.Time `json:"at"`
}

func (StatusUpdatePayload) Action() ActionType { return ActionStatusUpdate }

func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil payload")
	}
	return json.Marshal(p)
}

func DecodePayload(action ActionType, raw []byte) (Payload, error) {
	switch action {
	case ActionEmergencyReport:
		var p EmergencyReportPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", action, err)
		}
		return p, nil
	case ActionLocationUpdate:
		var p LocationUpdatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", action, err)
		}
		return p, nil
	case ActionStatusUpdate:
		var p StatusUpdatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", action, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
}
