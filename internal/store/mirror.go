package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/streaming"
)

// EventMirror copies streaming events into the durable event log. Writes are
// fire-and-forget: the live stream never blocks on the database.
type EventMirror struct {
	store  *Store
	logger *zap.Logger
}

func NewEventMirror(s *Store, logger *zap.Logger) *EventMirror {
	return &EventMirror{store: s, logger: logger}
}

// Publish implements streaming.Mirror.
func (m *EventMirror) Publish(runID string, evt streaming.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.LogEvent(ctx, runID, evt.Seq, evt.Type, evt.Marshal()); err != nil {
			m.logger.Warn("Event log write failed",
				zap.String("run_id", runID),
				zap.Uint64("seq", evt.Seq),
				zap.Error(err),
			)
		}
	}()
}
