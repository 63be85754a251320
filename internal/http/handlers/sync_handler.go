// README: Sync queue inspection and operator actions.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"siaga/internal/modules/connectivity"
	"siaga/internal/modules/syncqueue"
	"siaga/internal/types"
)

type SyncHandler struct {
	queue   *syncqueue.Queue
	monitor *connectivity.Monitor
}

func NewSyncHandler(queue *syncqueue.Queue, monitor *connectivity.Monitor) *SyncHandler {
	return &SyncHandler{queue: queue, monitor: monitor}
}

func (h *SyncHandler) List(c *gin.Context) {
	status := syncqueue.Status(c.DefaultQuery("status", string(syncqueue.StatusPending)))
	switch status {
	case syncqueue.StatusPending, syncqueue.StatusProcessing, syncqueue.StatusCompleted,
		syncqueue.StatusFailed, syncqueue.StatusCancelled:
	default:
		writeError(c, http.StatusBadRequest, "unknown status")
		return
	}
	items, err := h.queue.List(c.Request.Context(), status)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"items": items})
}

func (h *SyncHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, stats)
}

func (h *SyncHandler) Flush(c *gin.Context) {
	res, err := h.queue.Flush(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *SyncHandler) Cancel(c *gin.Context) {
	item, err := h.queue.Cancel(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, item)
}

func (h *SyncHandler) Requeue(c *gin.Context) {
	item, err := h.queue.Requeue(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, item)
}

func (h *SyncHandler) Connectivity(c *gin.Context) {
	if h.monitor == nil {
		writeJSON(c, http.StatusOK, connectivity.Status{Online: true, Reachable: true})
		return
	}
	writeJSON(c, http.StatusOK, h.monitor.Status())
}
