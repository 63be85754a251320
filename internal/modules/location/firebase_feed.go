// README: Firebase RTDB position feed; polls the ambulance_locations node and applies new fixes.
package location

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/db"

	"siaga/internal/types"
)

const rtdbAmbulanceNode = "ambulance_locations"

// Sink receives decoded positions from a feed.
type Sink interface {
	Update(ctx context.Context, pos AmbulancePosition) error
}

// rtdbAmbulanceEntry mirrors a single entry under /ambulance_locations as
// written by the ambulance app.
type rtdbAmbulanceEntry struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Accuracy  float64  `json:"accuracy"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Timestamp int64    `json:"timestamp"` // unix millis
}

func (e rtdbAmbulanceEntry) toPosition(id string) AmbulancePosition {
	return AmbulancePosition{
		AmbulanceID:    types.ID(id),
		Position:       types.Point{Lat: e.Lat, Lng: e.Lng},
		AccuracyMeters: e.Accuracy,
		SpeedMps:       e.Speed,
		HeadingDegrees: e.Heading,
		CapturedAt:     time.UnixMilli(e.Timestamp).UTC(),
	}
}

type FirebaseFeed struct {
	client   *db.Client
	sink     Sink
	interval time.Duration
	logger   *slog.Logger
	seen     map[string]int64
}

func NewFirebaseFeed(client *db.Client, sink Sink, interval time.Duration, logger *slog.Logger) *FirebaseFeed {
	return &FirebaseFeed{
		client:   client,
		sink:     sink,
		interval: interval,
		logger:   logger,
		seen:     make(map[string]int64),
	}
}

func (f *FirebaseFeed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if err := f.poll(ctx); err != nil {
			f.logger.Warn("firebase position poll failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (f *FirebaseFeed) poll(ctx context.Context) error {
	var data map[string]rtdbAmbulanceEntry
	if err := f.client.NewRef(rtdbAmbulanceNode).Get(ctx, &data); err != nil {
		return fmt.Errorf("querying %s: %w", rtdbAmbulanceNode, err)
	}
	for id, entry := range data {
		if f.seen[id] >= entry.Timestamp {
			continue
		}
		if err := f.sink.Update(ctx, entry.toPosition(id)); err != nil {
			f.logger.Warn("apply firebase position failed",
				slog.String("ambulance_id", id), slog.Any("error", err))
			continue
		}
		f.seen[id] = entry.Timestamp
	}
	return nil
}
