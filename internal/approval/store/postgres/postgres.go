// Package postgres persists gate reviews. Rows are insert-only; there is no
// update path because a recorded review is immutable evidence.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"dhfcore/internal/approval/models"
	id "dhfcore/pkg/domain"
	"dhfcore/pkg/platform/sentinel"
	txcontext "dhfcore/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

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

const reviewColumns = `id, instance_id, project_id, decision, reviewer_id, comments,
	signer_identity, signature_meaning, signed_at, content_hash, created_at`

func (s *Store) Create(ctx context.Context, review *models.GateReview) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO gate_reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		review.ID.String(), review.InstanceID.String(), review.ProjectID.String(),
		string(review.Decision), review.ReviewerID.String(), review.Comments,
		review.Signature.Identity, review.Signature.Meaning,
		review.Signature.SignedAt, review.Signature.ContentHash,
		review.CreatedAt,
	)
	if isUniqueViolation(err) {
		// The partial unique index admits one approval per instance even
		// when racing writers slip past the application check.
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert gate review: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) ListByInstance(ctx context.Context, instanceID id.InstanceID) ([]*models.GateReview, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+reviewColumns+` FROM gate_reviews WHERE instance_id = $1 ORDER BY created_at, id`,
		instanceID.String())
	if err != nil {
		return nil, fmt.Errorf("list gate reviews: %w", err)
	}
	defer rows.Close()

	var out []*models.GateReview
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, review)
	}
	return out, rows.Err()
}

// HasApproved implements the idempotency guard. The partial unique index on
// (instance_id) WHERE decision = 'approved' backs this check against races.
func (s *Store) HasApproved(ctx context.Context, instanceID id.InstanceID) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM gate_reviews WHERE instance_id = $1 AND decision = 'approved')`,
		instanceID.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check approved review: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (*models.GateReview, error) {
	var (
		review                         models.GateReview
		rawID, rawInstance, rawProject string
		rawDecision, rawReviewer       string
	)
	if err := row.Scan(&rawID, &rawInstance, &rawProject, &rawDecision,
		&rawReviewer, &review.Comments,
		&review.Signature.Identity, &review.Signature.Meaning,
		&review.Signature.SignedAt, &review.Signature.ContentHash,
		&review.CreatedAt,
	); err != nil {
		return nil, err
	}

	reviewID, err := id.ParseReviewID(rawID)
	if err != nil {
		return nil, fmt.Errorf("scan gate review: %w", err)
	}
	instanceID, err := id.ParseInstanceID(rawInstance)
	if err != nil {
		return nil, fmt.Errorf("scan gate review: %w", err)
	}
	projectID, err := id.ParseProjectID(rawProject)
	if err != nil {
		return nil, fmt.Errorf("scan gate review: %w", err)
	}
	reviewerID, err := id.ParseActorID(rawReviewer)
	if err != nil {
		return nil, fmt.Errorf("scan gate review: %w", err)
	}
	review.ID = reviewID
	review.InstanceID = instanceID
	review.ProjectID = projectID
	review.Decision = id.GateDecision(rawDecision)
	review.ReviewerID = reviewerID
	return &review, nil
}
