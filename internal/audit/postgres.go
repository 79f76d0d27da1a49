package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"fineledger/internal/domain"
)

// PostgresStore persists the audit trail. Appends never participate in the
// caller's transaction: a lost audit row must not roll back the business
// write it describes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// MigratePostgres creates the audit table. Idempotent.
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	actor_id    UUID NOT NULL,
	actor_role  TEXT NOT NULL,
	action      TEXT NOT NULL,
	entity_kind TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	detail      JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS audit_entity_idx ON audit_events (entity_kind, entity_id);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (occurred_at, actor_id, actor_role, action, entity_kind, entity_id, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		event.Timestamp, uuid.UUID(event.ActorID), string(event.ActorRole),
		event.Action, event.EntityKind, event.EntityID, detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entityKind, entityID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, actor_id, actor_role, action, entity_kind, entity_id, detail
		FROM audit_events
		WHERE entity_kind=$1 AND entity_id=$2
		ORDER BY occurred_at`,
		entityKind, entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e      Event
			actor  uuid.UUID
			role   string
			detail []byte
		)
		if err := rows.Scan(&e.Timestamp, &actor, &role, &e.Action, &e.EntityKind, &e.EntityID, &detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ActorID = domain.ActorID(actor)
		e.ActorRole = domain.Role(role)
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal audit detail: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
