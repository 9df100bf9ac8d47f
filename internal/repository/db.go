package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/lib/pq"

	"multicurrency-ledger/internal/errors"
)

// SQLExecutor represents both sql.DB and sql.Tx
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB represents a database that can begin transactions
type DB interface {
	SQLExecutor
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var (
	_ DB          = (*sql.DB)(nil)
	_ SQLExecutor = (*sql.Tx)(nil)
)

// PostgreSQL error codes the ledger reacts to.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
	pqNumericOverflow     = "22003"
	pqLockNotAvailable    = "55P03"
	pqDeadlockDetected    = "40P01"
	pqQueryCanceled       = "57014"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// classifyError turns a driver failure into an AppError. Lock waits that
// ran out of time and deadlock aborts become busy: the unit of work is
// rolled back so nothing was applied and the caller may retry.
func classifyError(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.ErrBusy.Wrap(err)
	}
	switch pqCode(err) {
	case pqLockNotAvailable, pqDeadlockDetected, pqQueryCanceled:
		return errors.ErrBusy.Wrap(err)
	case pqNumericOverflow:
		return errors.NewAppError(errors.InvalidAmount, "amount exceeds ledger limits").Wrap(err)
	}
	return errors.Internal(message, err)
}
