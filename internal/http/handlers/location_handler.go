// README: Ambulance position pings and the live fleet view.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"siaga/internal/modules/location"
	"siaga/internal/types"
)

type LocationHandler struct {
	location *location.Service
	maxAge   time.Duration
}

func NewLocationHandler(svc *location.Service, maxAge time.Duration) *LocationHandler {
	return &LocationHandler{location: svc, maxAge: maxAge}
}

type locationReq struct {
	Lat            float64   `json:"lat" validate:"lat"`
	Lng            float64   `json:"lng" validate:"lng"`
	AccuracyMeters float64   `json:"accuracy_meters" validate:"gte=0"`
	SpeedMps       *float64  `json:"speed_mps"`
	HeadingDegrees *float64  `json:"heading_degrees"`
	CapturedAt     time.Time `json:"captured_at"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing id")
		return
	}
	var req locationReq
	if !bind(c, &req) {
		return
	}
	queued, err := h.location.Report(c.Request.Context(), location.AmbulancePosition{
		AmbulanceID:    types.ID(id),
		Position:       types.Point{Lat: req.Lat, Lng: req.Lng},
		AccuracyMeters: req.AccuracyMeters,
		SpeedMps:       req.SpeedMps,
		HeadingDegrees: req.HeadingDegrees,
		CapturedAt:     req.CapturedAt,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	writeJSON(c, status, gin.H{"status": "ok", "queued": queued})
}

func (h *LocationHandler) Live(c *gin.Context) {
	positions, err := h.location.Live(c.Request.Context(), h.maxAge)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ambulances": positions})
}
