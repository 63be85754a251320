// README: Operator matching queries: nearest ambulance, best hospital, unmatched log.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"siaga/internal/modules/matching"
	"siaga/internal/types"
)

type MatchHandler struct {
	matching *matching.Service
}

func NewMatchHandler(svc *matching.Service) *MatchHandler {
	return &MatchHandler{matching: svc}
}

type ambulanceMatchReq struct {
	Lat      float64 `json:"lat" validate:"lat"`
	Lng      float64 `json:"lng" validate:"lng"`
	RadiusKm float64 `json:"radius_km" validate:"omitempty,radius_km"`
}

func (h *MatchHandler) Ambulance(c *gin.Context) {
	var req ambulanceMatchReq
	if !bind(c, &req) {
		return
	}
	ranked, err := h.matching.FindNearest(c.Request.Context(), types.Point{Lat: req.Lat, Lng: req.Lng}, req.RadiusKm)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if len(ranked) == 0 {
		writeServiceError(c, matching.ErrNoAvailableUnit)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"nearest": ranked[0], "candidates": ranked})
}

type hospitalMatchReq struct {
	Lat           float64 `json:"lat" validate:"lat"`
	Lng           float64 `json:"lng" validate:"lng"`
	EmergencyType string  `json:"emergency_type"`
}

func (h *MatchHandler) Hospital(c *gin.Context) {
	var req hospitalMatchReq
	if !bind(c, &req) {
		return
	}
	best, err := h.matching.FindHospital(c.Request.Context(), types.Point{Lat: req.Lat, Lng: req.Lng}, req.EmergencyType)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, best)
}

func (h *MatchHandler) Unmatched(c *gin.Context) {
	items, err := h.matching.Unmatched(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"unmatched": items})
}
