// Package postgres persists phase topology and per-project phase instances.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dhfcore/internal/phasegate/models"
	id "dhfcore/pkg/domain"
	"dhfcore/pkg/platform/sentinel"
	txcontext "dhfcore/pkg/platform/tx"
)

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PhaseStore reads the seeded phase topology. Rows never change after
// migration, so reads skip any caching layer.
type PhaseStore struct {
	db *sql.DB
}

func NewPhaseStore(db *sql.DB) *PhaseStore {
	return &PhaseStore{db: db}
}

func (s *PhaseStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const phaseColumns = `id, name, order_index, is_gate, clause_refs`

func (s *PhaseStore) List(ctx context.Context) ([]models.Phase, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+phaseColumns+` FROM phases ORDER BY order_index`)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	var phases []models.Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

func (s *PhaseStore) Get(ctx context.Context, phaseID id.PhaseID) (*models.Phase, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE id = $1`, phaseID.String())
	p, err := scanPhase(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhase(row rowScanner) (models.Phase, error) {
	var (
		p       models.Phase
		rawID   string
		clauses sql.NullString
	)
	if err := row.Scan(&rawID, &p.Name, &p.OrderIndex, &p.IsGate, &clauses); err != nil {
		return models.Phase{}, err
	}
	phaseID, err := id.ParsePhaseID(rawID)
	if err != nil {
		return models.Phase{}, fmt.Errorf("scan phase: %w", err)
	}
	p.ID = phaseID
	if clauses.Valid && clauses.String != "" {
		p.ClauseRefs = strings.Split(clauses.String, ",")
	}
	return p, nil
}

// InstanceStore persists phase instances with optimistic versioning.
type InstanceStore struct {
	db *sql.DB
}

func NewInstanceStore(db *sql.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

func (s *InstanceStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const instanceColumns = `id, project_id, phase_id, status, planned_start, planned_end,
	actual_start, actual_end, completion_percentage, approver_id, approved_at,
	approval_comments, blocker_note, version, created_at, updated_at`

func (s *InstanceStore) CreateAll(ctx context.Context, instances []*models.PhaseInstance) error {
	ex := s.execer(ctx)
	for _, inst := range instances {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO phase_instances (`+instanceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			inst.ID.String(), inst.ProjectID.String(), inst.PhaseID.String(),
			string(inst.Status), inst.PlannedStart, inst.PlannedEnd,
			inst.ActualStart, inst.ActualEnd, inst.CompletionPercentage,
			actorPtr(inst.ApproverID), inst.ApprovedAt,
			inst.ApprovalComments, inst.BlockerNote, inst.Version,
			inst.CreatedAt, inst.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert phase instance: %w", err)
		}
	}
	return nil
}

func (s *InstanceStore) FindByID(ctx context.Context, instanceID id.InstanceID) (*models.PhaseInstance, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM phase_instances WHERE id = $1`,
		instanceID.String())
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *InstanceStore) ListByProject(ctx context.Context, projectID id.ProjectID) ([]*models.PhaseInstance, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM phase_instances WHERE project_id = $1`,
		projectID.String())
	if err != nil {
		return nil, fmt.Errorf("list phase instances: %w", err)
	}
	defer rows.Close()

	var out []*models.PhaseInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Update writes the instance guarded by its version stamp; zero rows
// affected means either a concurrent writer bumped the version first or
// the row is gone.
func (s *InstanceStore) Update(ctx context.Context, inst *models.PhaseInstance) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE phase_instances SET
			status = $1, planned_start = $2, planned_end = $3,
			actual_start = $4, actual_end = $5, completion_percentage = $6,
			approver_id = $7, approved_at = $8, approval_comments = $9,
			blocker_note = $10, version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13`,
		string(inst.Status), inst.PlannedStart, inst.PlannedEnd,
		inst.ActualStart, inst.ActualEnd, inst.CompletionPercentage,
		actorPtr(inst.ApproverID), inst.ApprovedAt, inst.ApprovalComments,
		inst.BlockerNote, inst.UpdatedAt,
		inst.ID.String(), inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update phase instance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel.ErrVersionMismatch
	}
	inst.Version++
	return nil
}

func scanInstance(row rowScanner) (*models.PhaseInstance, error) {
	var (
		inst                        models.PhaseInstance
		rawID, rawProject, rawPhase string
		rawStatus                   string
		rawApprover                 sql.NullString
		plannedStart, plannedEnd    sql.NullTime
		actualStart, actualEnd      sql.NullTime
		approvedAt                  sql.NullTime
	)
	if err := row.Scan(&rawID, &rawProject, &rawPhase, &rawStatus,
		&plannedStart, &plannedEnd, &actualStart, &actualEnd,
		&inst.CompletionPercentage, &rawApprover, &approvedAt,
		&inst.ApprovalComments, &inst.BlockerNote, &inst.Version,
		&inst.CreatedAt, &inst.UpdatedAt,
	); err != nil {
		return nil, err
	}

	instanceID, err := id.ParseInstanceID(rawID)
	if err != nil {
		return nil, fmt.Errorf("scan phase instance: %w", err)
	}
	projectID, err := id.ParseProjectID(rawProject)
	if err != nil {
		return nil, fmt.Errorf("scan phase instance: %w", err)
	}
	phaseID, err := id.ParsePhaseID(rawPhase)
	if err != nil {
		return nil, fmt.Errorf("scan phase instance: %w", err)
	}
	inst.ID = instanceID
	inst.ProjectID = projectID
	inst.PhaseID = phaseID
	inst.Status = id.PhaseStatus(rawStatus)
	inst.PlannedStart = timePtr(plannedStart)
	inst.PlannedEnd = timePtr(plannedEnd)
	inst.ActualStart = timePtr(actualStart)
	inst.ActualEnd = timePtr(actualEnd)
	inst.ApprovedAt = timePtr(approvedAt)
	if rawApprover.Valid && rawApprover.String != "" {
		actor, err := id.ParseActorID(rawApprover.String)
		if err != nil {
			return nil, fmt.Errorf("scan phase instance: %w", err)
		}
		inst.ApproverID = &actor
	}
	return &inst, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	out := t.Time
	return &out
}

func actorPtr(a *id.ActorID) any {
	if a == nil {
		return nil
	}
	return a.String()
}
