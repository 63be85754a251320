// README: NATS position feed; every message carries one JSON-encoded AmbulancePosition.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

type NATSFeed struct {
	conn    *nats.Conn
	subject string
	sink    Sink
	logger  *slog.Logger
}

func NewNATSFeed(conn *nats.Conn, subject string, sink Sink, logger *slog.Logger) *NATSFeed {
	return &NATSFeed{conn: conn, subject: subject, sink: sink, logger: logger}
}

// Run subscribes until ctx is done. Delivery is at-least-once; the sink is
// last-write-wins so duplicates are harmless.
func (f *NATSFeed) Run(ctx context.Context) error {
	sub, err := f.conn.Subscribe(f.subject, func(msg *nats.Msg) {
		f.handle(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", f.subject, err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (f *NATSFeed) handle(ctx context.Context, data []byte) {
	var pos AmbulancePosition
	if err := json.Unmarshal(data, &pos); err != nil {
		f.logger.Warn("malformed position message", slog.String("subject", f.subject), slog.Any("error", err))
		return
	}
	if err := f.sink.Update(ctx, pos); err != nil {
		f.logger.Warn("apply nats position failed",
			slog.String("ambulance_id", string(pos.AmbulanceID)), slog.Any("error", err))
	}
}
