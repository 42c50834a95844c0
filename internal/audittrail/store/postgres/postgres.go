package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dhfcore/internal/audittrail"
	id "dhfcore/pkg/domain"
	txcontext "dhfcore/pkg/platform/tx"
)

// Store persists the audit trail in PostgreSQL. Seq comes from a BIGSERIAL
// so it is globally monotonic and never reused. Each append also writes an
// outbox row in the same statement set; the outbox worker streams committed
// rows to Kafka for incremental consumers.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka. Field names match
// the wire contract consumed by downstream audit feeds.
type outboxPayload struct {
	Seq        int64           `json:"seq"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	ActorID    string          `json:"actor_id,omitempty"`
	Timestamp  string          `json:"timestamp"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
}

// Append inserts the entry and its outbox row. When the context carries an
// open transaction both inserts join it, so the entry commits or rolls back
// with the mutation it describes.
func (s *Store) Append(ctx context.Context, entry *audittrail.Entry) error {
	exec := s.execer(ctx)

	var actorID *uuid.UUID
	if !entry.ActorID.IsNil() {
		u := uuid.UUID(entry.ActorID)
		actorID = &u
	}

	query := `
		INSERT INTO audit_trail (entity_type, entity_id, action, actor_id, ts, before_state, after_state, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`
	err := exec.QueryRowContext(ctx, query,
		string(entry.EntityType),
		entry.EntityID,
		string(entry.Action),
		actorID,
		entry.Timestamp,
		nullableJSON(entry.Before),
		nullableJSON(entry.After),
		entry.RequestID,
	).Scan(&entry.Seq)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload := outboxPayload{
		Seq:        entry.Seq,
		EntityType: string(entry.EntityType),
		EntityID:   entry.EntityID,
		Action:     string(entry.Action),
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Before:     entry.Before,
		After:      entry.After,
		RequestID:  entry.RequestID,
	}
	if actorID != nil {
		payload.ActorID = actorID.String()
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO audit_outbox (seq, payload, created_at)
		VALUES ($1, $2, $3)
	`, entry.Seq, payloadBytes, time.Now())
	if err != nil {
		return fmt.Errorf("insert audit outbox row: %w", err)
	}
	return nil
}

func (s *Store) ListByEntity(ctx context.Context, entityType audittrail.EntityType, entityID string) ([]audittrail.Entry, error) {
	query := `
		SELECT seq, entity_type, entity_id, action, actor_id, ts, before_state, after_state, request_id
		FROM audit_trail
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY seq
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) ListSince(ctx context.Context, seq int64, limit int) ([]audittrail.Entry, error) {
	query := `
		SELECT seq, entity_type, entity_id, action, actor_id, ts, before_state, after_state, request_id
		FROM audit_trail
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, seq, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries since: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audittrail.Entry, error) {
	var out []audittrail.Entry
	for rows.Next() {
		var (
			entry      audittrail.Entry
			entityType string
			action     string
			actorID    *uuid.UUID
			before     []byte
			after      []byte
			requestID  sql.NullString
		)
		if err := rows.Scan(&entry.Seq, &entityType, &entry.EntityID, &action, &actorID,
			&entry.Timestamp, &before, &after, &requestID); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.EntityType = audittrail.EntityType(entityType)
		entry.Action = audittrail.Action(action)
		if actorID != nil {
			entry.ActorID = id.ActorID(*actorID)
		}
		entry.Before = before
		entry.After = after
		entry.RequestID = requestID.String
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
