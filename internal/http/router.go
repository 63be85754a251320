// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"siaga/internal/http/handlers"
	"siaga/internal/http/middleware"
)

func NewRouter(deps ServerDeps, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.Logging(logger))

	api := r.Group("/api")

	callHandler := handlers.NewCallHandler(deps.Dispatch)
	api.POST("/reports", callHandler.CreateReport)
	api.GET("/calls/:id", callHandler.Get)
	api.GET("/calls/:id/transitions", callHandler.Transitions)
	api.POST("/calls/:id/advance", callHandler.Advance)
	api.POST("/calls/:id/cancel", callHandler.Cancel)

	matchHandler := handlers.NewMatchHandler(deps.Matching)
	api.POST("/match/ambulance", matchHandler.Ambulance)
	api.POST("/match/hospital", matchHandler.Hospital)
	api.GET("/dispatch/unmatched", matchHandler.Unmatched)

	locationHandler := handlers.NewLocationHandler(deps.Location, deps.LiveMaxAge)
	api.PUT("/ambulances/:id/location",
		middleware.RateLimit(deps.LocationRPS, deps.LocationBurst, middleware.ParamKey("id")),
		locationHandler.Update)
	api.GET("/ambulances", locationHandler.Live)

	capacityHandler := handlers.NewCapacityHandler(deps.Capacity)
	api.PUT("/hospitals/:id/capacity", capacityHandler.Upsert)
	api.GET("/hospitals", capacityHandler.List)

	syncHandler := handlers.NewSyncHandler(deps.Queue, deps.Monitor)
	api.GET("/sync/items", syncHandler.List)
	api.GET("/sync/stats", syncHandler.Stats)
	api.POST("/sync/flush", syncHandler.Flush)
	api.DELETE("/sync/items/:id", syncHandler.Cancel)
	api.POST("/sync/items/:id/requeue", syncHandler.Requeue)
	api.GET("/connectivity", syncHandler.Connectivity)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}
