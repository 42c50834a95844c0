// Package postgres persists artifacts and trace links.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"dhfcore/internal/traceability/models"
	id "dhfcore/pkg/domain"
	"dhfcore/pkg/platform/sentinel"
	txcontext "dhfcore/pkg/platform/tx"
)

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ArtifactStore persists artifacts with optimistic versioning.
type ArtifactStore struct {
	db *sql.DB
}

func NewArtifactStore(db *sql.DB) *ArtifactStore {
	return &ArtifactStore{db: db}
}

func (s *ArtifactStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const artifactColumns = `id, project_id, phase_id, kind, code, description, status,
	archived, version, created_by, created_at, updated_at`

func (s *ArtifactStore) Create(ctx context.Context, artifact *models.Artifact) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO traceability_artifacts (`+artifactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		artifact.ID.String(), artifact.ProjectID.String(), artifact.PhaseID.String(),
		string(artifact.Kind), artifact.Code, artifact.Description,
		string(artifact.Status), artifact.Archived, artifact.Version,
		artifact.CreatedBy.String(), artifact.CreatedAt, artifact.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStore) FindByID(ctx context.Context, artifactID id.ArtifactID) (*models.Artifact, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM traceability_artifacts WHERE id = $1`,
		artifactID.String())
	artifact, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

func (s *ArtifactStore) ListByProject(ctx context.Context, projectID id.ProjectID) ([]*models.Artifact, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM traceability_artifacts WHERE project_id = $1 ORDER BY created_at, id`,
		projectID.String())
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*models.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, artifact)
	}
	return out, rows.Err()
}

func (s *ArtifactStore) Update(ctx context.Context, artifact *models.Artifact) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE traceability_artifacts SET
			description = $1, status = $2, archived = $3,
			version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6`,
		artifact.Description, string(artifact.Status), artifact.Archived,
		artifact.UpdatedAt, artifact.ID.String(), artifact.Version,
	)
	if err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel.ErrVersionMismatch
	}
	artifact.Version++
	return nil
}

func (s *ArtifactStore) CountByProjectAndKind(ctx context.Context, projectID id.ProjectID, kind id.ArtifactKind) (int, int, error) {
	var total, terminal int
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'approved')
		FROM traceability_artifacts
		WHERE project_id = $1 AND kind = $2 AND NOT archived`,
		projectID.String(), string(kind)).Scan(&total, &terminal)
	if err != nil {
		return 0, 0, fmt.Errorf("count artifacts: %w", err)
	}
	return total, terminal, nil
}

func scanArtifact(row rowScanner) (*models.Artifact, error) {
	var (
		artifact                       models.Artifact
		rawID, rawProject, rawPhase    string
		rawKind, rawStatus, rawCreator string
	)
	if err := row.Scan(&rawID, &rawProject, &rawPhase, &rawKind,
		&artifact.Code, &artifact.Description, &rawStatus,
		&artifact.Archived, &artifact.Version, &rawCreator,
		&artifact.CreatedAt, &artifact.UpdatedAt,
	); err != nil {
		return nil, err
	}

	artifactID, err := id.ParseArtifactID(rawID)
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	projectID, err := id.ParseProjectID(rawProject)
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	phaseID, err := id.ParsePhaseID(rawPhase)
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	creator, err := id.ParseActorID(rawCreator)
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	artifact.ID = artifactID
	artifact.ProjectID = projectID
	artifact.PhaseID = phaseID
	artifact.Kind = id.ArtifactKind(rawKind)
	artifact.Status = id.ArtifactStatus(rawStatus)
	artifact.CreatedBy = creator
	return &artifact, nil
}

// LinkStore persists directed links. The unique (source_id, target_id)
// constraint backs the duplicate guard against concurrent inserts.
type LinkStore struct {
	db *sql.DB
}

func NewLinkStore(db *sql.DB) *LinkStore {
	return &LinkStore{db: db}
}

func (s *LinkStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const linkColumns = `id, project_id, source_id, source_kind, target_id, target_kind,
	created_by, created_at`

func (s *LinkStore) Create(ctx context.Context, link *models.TraceabilityLink) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO traceability_links (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		link.ID.String(), link.ProjectID.String(),
		link.SourceID.String(), string(link.SourceKind),
		link.TargetID.String(), string(link.TargetKind),
		link.CreatedBy.String(), link.CreatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (s *LinkStore) FindByID(ctx context.Context, linkID id.LinkID) (*models.TraceabilityLink, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM traceability_links WHERE id = $1`,
		linkID.String())
	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (s *LinkStore) Delete(ctx context.Context, linkID id.LinkID) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM traceability_links WHERE id = $1`, linkID.String())
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *LinkStore) ListByProject(ctx context.Context, projectID id.ProjectID) ([]*models.TraceabilityLink, error) {
	return s.list(ctx,
		`SELECT `+linkColumns+` FROM traceability_links WHERE project_id = $1 ORDER BY created_at, id`,
		projectID.String())
}

func (s *LinkStore) ListByArtifact(ctx context.Context, artifactID id.ArtifactID) ([]*models.TraceabilityLink, error) {
	return s.list(ctx,
		`SELECT `+linkColumns+` FROM traceability_links WHERE source_id = $1 OR target_id = $1 ORDER BY created_at, id`,
		artifactID.String())
}

func (s *LinkStore) list(ctx context.Context, query string, args ...any) ([]*models.TraceabilityLink, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []*models.TraceabilityLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

func (s *LinkStore) ExistsPair(ctx context.Context, sourceID, targetID id.ArtifactID) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM traceability_links WHERE source_id = $1 AND target_id = $2)`,
		sourceID.String(), targetID.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check link pair: %w", err)
	}
	return exists, nil
}

func scanLink(row rowScanner) (*models.TraceabilityLink, error) {
	var (
		link                         models.TraceabilityLink
		rawID, rawProject            string
		rawSource, rawTarget         string
		rawSourceKind, rawTargetKind string
		rawCreator                   string
	)
	if err := row.Scan(&rawID, &rawProject, &rawSource, &rawSourceKind,
		&rawTarget, &rawTargetKind, &rawCreator, &link.CreatedAt,
	); err != nil {
		return nil, err
	}

	linkID, err := id.ParseLinkID(rawID)
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	projectID, err := id.ParseProjectID(rawProject)
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	sourceID, err := id.ParseArtifactID(rawSource)
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	targetID, err := id.ParseArtifactID(rawTarget)
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	creator, err := id.ParseActorID(rawCreator)
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	link.ID = linkID
	link.ProjectID = projectID
	link.SourceID = sourceID
	link.SourceKind = id.ArtifactKind(rawSourceKind)
	link.TargetID = targetID
	link.TargetKind = id.ArtifactKind(rawTargetKind)
	link.CreatedBy = creator
	return &link, nil
}
