package audittrail

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"dhfcore/internal/audittrail/metrics"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/requestcontext"
)

var tracer = otel.Tracer("dhfcore/audittrail")

// Store is the persistence boundary for audit entries. Implementations must
// assign a strictly increasing Seq at append time and must never mutate an
// appended entry. Postgres implementations join an enclosing transaction via
// pkg/platform/tx so the entry commits with the mutation it describes.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ListByEntity(ctx context.Context, entityType EntityType, entityID string) ([]Entry, error)
	ListSince(ctx context.Context, seq int64, limit int) ([]Entry, error)
}

// Recorder is the single write path into the audit trail.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithLogger sets a logger for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one audit entry. This is fail-closed: if the append fails,
// the returned error carries CodeAuditWriteFailure and the caller MUST abort
// its enclosing operation. Audit durability is a precondition for every
// compliance-relevant mutation, not a best-effort side log.
func (r *Recorder) Record(ctx context.Context, rec Record) (*Entry, error) {
	ctx, span := tracer.Start(ctx, "audittrail.Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("audit.entity_type", string(rec.EntityType)),
		attribute.String("audit.action", string(rec.Action)),
	)

	if !validEntityTypes[rec.EntityType] {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown audit entity type %q", rec.EntityType)
	}
	if rec.EntityID == "" || rec.Action == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "audit record requires entity id and action")
	}

	before, err := snapshot(rec.Before)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuditWriteFailure, "serialize before state")
	}
	after, err := snapshot(rec.After)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuditWriteFailure, "serialize after state")
	}

	entry := &Entry{
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Action:     rec.Action,
		ActorID:    rec.ActorID,
		Timestamp:  requestcontext.Now(ctx),
		Before:     before,
		After:      after,
		RequestID:  requestcontext.RequestID(ctx),
	}

	if err := r.store.Append(ctx, entry); err != nil {
		if r.metrics != nil {
			r.metrics.IncWriteFailures()
		}
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "CRITICAL: audit trail write failed",
				"entity_type", rec.EntityType,
				"entity_id", rec.EntityID,
				"action", rec.Action,
				"error", err,
			)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeAuditWriteFailure, "audit trail persistence failed")
	}

	if r.metrics != nil {
		r.metrics.IncEntriesRecorded(string(rec.Action))
	}
	return entry, nil
}

// EntriesFor returns all entries for one entity ordered by sequence.
func (r *Recorder) EntriesFor(ctx context.Context, entityType EntityType, entityID string) ([]Entry, error) {
	if !validEntityTypes[entityType] {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown audit entity type %q", entityType)
	}
	entries, err := r.store.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list audit entries")
	}
	return entries, nil
}

// EntriesSince returns entries with Seq strictly greater than seq, ordered
// by sequence, for incremental consumers.
func (r *Recorder) EntriesSince(ctx context.Context, seq int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	entries, err := r.store.ListSince(ctx, seq, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list audit entries since")
	}
	return entries, nil
}

const maxPageSize = 500

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
