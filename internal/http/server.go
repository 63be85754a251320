// README: API gateway; bundles module services and builds the HTTP server.
package http

import (
	"net/http"
	"time"

	"siaga/internal/modules/capacity"
	"siaga/internal/modules/connectivity"
	"siaga/internal/modules/dispatch"
	"siaga/internal/modules/location"
	"siaga/internal/modules/matching"
	"siaga/internal/modules/syncqueue"
)

type ServerDeps struct {
	Dispatch      *dispatch.Service
	Matching      *matching.Service
	Capacity      *capacity.Service
	Location      *location.Service
	Queue         *syncqueue.Queue
	Monitor       *connectivity.Monitor
	LiveMaxAge    time.Duration
	LocationRPS   float64
	LocationBurst int
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
