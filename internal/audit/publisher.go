package audit

import (
	"log/slog"
	"time"

	"fineledger/internal/domain"
)

// Publisher hands events to the background worker. Emit never blocks the
// business operation: when the inbox is full the event is dropped and the
// drop is logged, because a slow audit pipeline must not stall payments.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		inbox:  make(chan Event, buffer),
		logger: logger,
	}
}

// Inbox is the worker's consuming end.
func (p *Publisher) Inbox() <-chan Event {
	return p.inbox
}

func (p *Publisher) Emit(actor domain.Actor, action, entityKind, entityID string, detail map[string]string) {
	event := Event{
		Timestamp:  time.Now().UTC(),
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityKind: entityKind,
		EntityID:   entityID,
		Detail:     detail,
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit inbox full, dropping event",
			"action", action, "entity_kind", entityKind, "entity_id", entityID)
	}
}
