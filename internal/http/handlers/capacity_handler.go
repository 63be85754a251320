// README: Hospital capacity updates and listing.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"siaga/internal/modules/capacity"
	"siaga/internal/types"
)

type CapacityHandler struct {
	capacity *capacity.Service
}

func NewCapacityHandler(svc *capacity.Service) *CapacityHandler {
	return &CapacityHandler{capacity: svc}
}

type capacityReq struct {
	Name                   string                `json:"name"`
	Lat                    float64               `json:"lat" validate:"lat"`
	Lng                    float64               `json:"lng" validate:"lng"`
	EmergencyBedsTotal     int                   `json:"emergency_beds_total"`
	EmergencyBedsAvailable int                   `json:"emergency_beds_available"`
	ICUBedsTotal           int                   `json:"icu_beds_total"`
	ICUBedsAvailable       int                   `json:"icu_beds_available"`
	Capabilities           capacity.Capabilities `json:"capabilities"`
	LastUpdated            time.Time             `json:"last_updated"`
}

func (h *CapacityHandler) Upsert(c *gin.Context) {
	var req capacityReq
	if !bind(c, &req) {
		return
	}
	saved, err := h.capacity.Upsert(c.Request.Context(), capacity.HospitalCapacity{
		HospitalID:             types.ID(c.Param("id")),
		Name:                   req.Name,
		Position:               types.Point{Lat: req.Lat, Lng: req.Lng},
		EmergencyBedsTotal:     req.EmergencyBedsTotal,
		EmergencyBedsAvailable: req.EmergencyBedsAvailable,
		ICUBedsTotal:           req.ICUBedsTotal,
		ICUBedsAvailable:       req.ICUBedsAvailable,
		Capabilities:           req.Capabilities,
		LastUpdated:            req.LastUpdated,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"hospital": saved, "score": capacity.Score(saved)})
}

func (h *CapacityHandler) List(c *gin.Context) {
	hs, err := h.capacity.List(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"hospitals": hs})
}
