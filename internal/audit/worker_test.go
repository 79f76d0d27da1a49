package audit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fineledger/internal/domain"
)

func TestWorker_PersistsEmittedEvents(t *testing.T) {
	logger := slog.Default()
	publisher := NewPublisher(8, logger)
	store := NewMemoryStore()
	worker := NewWorker(store, publisher.Inbox(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	actor := domain.Actor{ID: domain.NewActorID(), Role: domain.RoleOfficer}
	publisher.Emit(actor, ActionOffenseRecorded, "offense", "off-1", map[string]string{"severity": "severe"})
	publisher.Emit(actor, ActionAppealDecided, "appeal", "app-1", nil)

	require.Eventually(t, func() bool {
		return len(store.All()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	events := store.All()
	assert.Equal(t, ActionOffenseRecorded, events[0].Action)
	assert.Equal(t, domain.RoleOfficer, events[0].ActorRole)
	assert.False(t, events[0].Timestamp.IsZero())

	byEntity, err := store.ListByEntity(context.Background(), "appeal", "app-1")
	require.NoError(t, err)
	assert.Len(t, byEntity, 1)
}

func TestPublisher_DropsWhenInboxFull(t *testing.T) {
	publisher := NewPublisher(1, slog.Default())
	actor := domain.Actor{ID: domain.NewActorID(), Role: domain.RoleAdmin}

	// No worker consuming; second emit must not block.
	publisher.Emit(actor, ActionDriverRegistered, "driver", "d-1", nil)
	publisher.Emit(actor, ActionDriverRegistered, "driver", "d-2", nil)

	assert.Len(t, publisher.inbox, 1)
}
