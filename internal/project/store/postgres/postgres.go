// Package postgres persists projects. The project row doubles as the lock
// target for the per-project transaction boundary.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"dhfcore/internal/project/models"
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

const projectColumns = `id, name, description, created_by, created_at, updated_at`

func (s *Store) Create(ctx context.Context, project *models.Project) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		project.ID.String(), project.Name, project.Description,
		project.CreatedBy.String(), project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, projectID id.ProjectID) (*models.Project, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID.String())
	project, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (s *Store) List(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, project)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	var (
		project           models.Project
		rawID, rawCreator string
	)
	if err := row.Scan(&rawID, &project.Name, &project.Description,
		&rawCreator, &project.CreatedAt, &project.UpdatedAt,
	); err != nil {
		return nil, err
	}
	projectID, err := id.ParseProjectID(rawID)
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	creator, err := id.ParseActorID(rawCreator)
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	project.ID = projectID
	project.CreatedBy = creator
	return &project, nil
}
