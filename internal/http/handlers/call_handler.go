// README: Emergency report intake and call lifecycle handlers.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"siaga/internal/modules/dispatch"
	"siaga/internal/types"
)

type CallHandler struct {
	dispatch *dispatch.Service
}

func NewCallHandler(svc *dispatch.Service) *CallHandler {
	return &CallHandler{dispatch: svc}
}

type reportReq struct {
	ReportID      string    `json:"report_id"`
	Severity      string    `json:"severity" validate:"required"`
	EmergencyType string    `json:"emergency_type"`
	Lat           *float64  `json:"lat" validate:"omitempty,lat"`
	Lng           *float64  `json:"lng" validate:"omitempty,lng"`
	ReporterID    string    `json:"reporter_id"`
	Description   string    `json:"description"`
	ReportedAt    time.Time `json:"reported_at"`
}

// CreateReport answers 201 when the call is stored and 202 when it is queued.
// lat and lng are optional but must come together.
func (h *CallHandler) CreateReport(c *gin.Context) {
	var req reportReq
	if !bind(c, &req) {
		return
	}
	if (req.Lat == nil) != (req.Lng == nil) {
		writeError(c, http.StatusUnprocessableEntity, "lat and lng must be given together")
		return
	}
	report := dispatch.Report{
		ID:            types.ID(req.ReportID),
		Severity:      req.Severity,
		EmergencyType: req.EmergencyType,
		ReporterID:    types.ID(req.ReporterID),
		Description:   req.Description,
		ReportedAt:    req.ReportedAt,
	}
	if req.Lat != nil {
		report.Location = &types.Point{Lat: *req.Lat, Lng: *req.Lng}
	}
	out, err := h.dispatch.CreateFromReport(c.Request.Context(), report)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	status := http.StatusCreated
	if out.Queued {
		status = http.StatusAccepted
	}
	writeJSON(c, status, out)
}

func (h *CallHandler) Get(c *gin.Context) {
	call, err := h.dispatch.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, call)
}

func (h *CallHandler) Transitions(c *gin.Context) {
	trs, err := h.dispatch.Transitions(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"transitions": trs})
}

type advanceReq struct {
	Status      string   `json:"status" validate:"required,oneof=dispatched en_route arrived completed"`
	AmbulanceID string   `json:"ambulance_id"`
	HospitalID  string   `json:"hospital_id"`
	ActorID     string   `json:"actor_id"`
	Note        string   `json:"note"`
	Lat         *float64 `json:"lat" validate:"omitempty,lat"`
	Lng         *float64 `json:"lng" validate:"omitempty,lng"`
}

func (h *CallHandler) Advance(c *gin.Context) {
	var req advanceReq
	if !bind(c, &req) {
		return
	}
	ev := &dispatch.Evidence{
		AmbulanceID: types.ID(req.AmbulanceID),
		HospitalID:  types.ID(req.HospitalID),
		ActorID:     types.ID(req.ActorID),
		Note:        req.Note,
	}
	if req.Lat != nil && req.Lng != nil {
		ev.Coordinate = &types.Point{Lat: *req.Lat, Lng: *req.Lng}
	}
	out, err := h.dispatch.Advance(c.Request.Context(), types.ID(c.Param("id")), dispatch.Status(req.Status), ev)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

type cancelReq struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason" validate:"required"`
}

func (h *CallHandler) Cancel(c *gin.Context) {
	var req cancelReq
	if !bind(c, &req) {
		return
	}
	out, err := h.dispatch.Cancel(c.Request.Context(), types.ID(c.Param("id")), types.ID(req.ActorID), req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}
