// README: Emergency call aggregate, report input and status definitions.
package dispatch

import (
	"time"

	"siaga/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusReceived   Status = "received"
	StatusDispatched Status = "dispatched"
	StatusEnRoute    Status = "en_route"
	StatusArrived    Status = "arrived"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// QueueRank maps a priority onto the sync queue ordering (lower is more urgent).
func (p Priority) QueueRank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Severity values as captured by the reporting form.
const (
	SeverityBerat  = "berat"
	SeveritySedang = "sedang"
	SeverityRingan = "ringan"
)

type Report struct {
	ID            types.ID     `json:"id"`
	Severity      string       `json:"severity"`
	EmergencyType string       `json:"emergency_type"`
	Location      *types.Point `json:"location,omitempty"`
	ReporterID    types.ID     `json:"reporter_id"`
	Description   string       `json:"description,omitempty"`
	ReportedAt    time.Time    `json:"reported_at"`
}

type EmergencyCall struct {
	ID            types.ID     `json:"id"`
	ReportID      types.ID     `json:"report_id"`
	Status        Status       `json:"status"`
	StatusVersion int          `json:"status_version"`
	Priority      Priority     `json:"priority"`
	EmergencyType string       `json:"emergency_type"`
	AmbulanceID   *types.ID    `json:"ambulance_id,omitempty"`
	HospitalID    *types.ID    `json:"hospital_id,omitempty"`
	Target        *types.Point `json:"target,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	ArrivedAt     *time.Time   `json:"arrived_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	CancelledAt   *time.Time   `json:"cancelled_at,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	ArrivalNote   string       `json:"arrival_note,omitempty"`
}

// Transition is the auditable record of one status change.
type Transition struct {
	ID      int64     `json:"id,omitempty"`
	CallID  types.ID  `json:"call_id"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	ActorID *types.ID `json:"actor_id,omitempty"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// Evidence accompanies a transition. Coordinate is where the crew reports
// being; AmbulanceID/HospitalID carry the dispatch decision.
type Evidence struct {
	Coordinate  *types.Point
	AmbulanceID types.ID
	HospitalID  types.ID
	ActorID     types.ID
	Note        string
}

// AllowedTransitions represents the call lifecycle (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusReceived:   {StatusDispatched, StatusCancelled},
	StatusDispatched: {StatusEnRoute, StatusCancelled},
	StatusEnRoute:    {StatusArrived, StatusCancelled},
	StatusArrived:    {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
