package audit

import (
	"context"
	"log/slog"
)

// Sink receives events after they are persisted. Optional fan-out, e.g. to
// Kafka for downstream consumers.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Worker consumes audit events from the publisher's inbox and persists them.
// Sink failures are logged, not propagated; the store is the record.
type Worker struct {
	store  Store
	sinks  []Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger, sinks ...Sink) *Worker {
	return &Worker{store: store, sinks: sinks, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Error("append audit event", "error", err, "action", event.Action)
				continue
			}
			for _, sink := range w.sinks {
				if err := sink.Publish(ctx, event); err != nil {
					w.logger.Error("publish audit event", "error", err, "action", event.Action)
				}
			}
		}
	}
}
