package main

import (
	"context"
	"database/sql"
	"time"

	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	txcontext "dhfcore/pkg/platform/tx"
)

const defaultProjectTxTimeout = 5 * time.Second

// projectPostgresTx serializes one project's phase writes by locking the
// project row for the duration of the transaction. Stores inside fn join
// the transaction through the context.
type projectPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newProjectPostgresTx(db *sql.DB) *projectPostgresTx {
	return &projectPostgresTx{db: db}
}

func (t *projectPostgresTx) RunInProjectTx(ctx context.Context, projectID id.ProjectID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultProjectTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// The project row is the lock target. Concurrent activate/approve
	// calls on the same project queue here; different projects proceed
	// in parallel.
	if _, err := tx.ExecContext(ctx,
		`SELECT 1 FROM projects WHERE id = $1 FOR UPDATE`, projectID.String()); err != nil {
		return err
	}

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}
