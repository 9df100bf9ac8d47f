package repository

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"multicurrency-ledger/internal/domain"
)

// Store provides a unified interface for all repository operations with transaction support
type Store struct {
	executor    SQLExecutor
	logger      *slog.Logger
	lockTimeout time.Duration
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a new Store instance. lockTimeout bounds every row-lock
// wait inside WithTransaction; zero leaves the server default in place.
func NewStore(db *sql.DB, logger *slog.Logger, lockTimeout time.Duration) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		executor:    db,
		logger:      logger,
		lockTimeout: lockTimeout,
	}
}

// Account returns an AccountRepository using the current executor
func (s *Store) Account() domain.AccountRepository {
	return NewAccountRepository(s.executor, s.logger)
}

// Transaction returns a TransactionRepository using the current executor
func (s *Store) Transaction() domain.TransactionRepository {
	return NewTransactionRepository(s.executor, s.logger)
}

func (s *Store) Client() domain.ClientRepository {
	return NewClientRepository(s.executor, s.logger)
}

func (s *Store) ExchangeRate() domain.ExchangeRateRepository {
	return NewExchangeRateRepository(s.executor, s.logger)
}

// WithTransaction executes a function within a database transaction. Called
// on a Store that is already inside a transaction, fn joins it.
func (s *Store) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	db, ok := s.executor.(*sql.DB)
	if !ok {
		return fn(s)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin transaction", "error", err)
		return classifyError(err, "failed to begin transaction")
	}

	if s.lockTimeout > 0 {
		// set_config with is_local=true scopes the value to this transaction.
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			tx.Rollback()
			return classifyError(err, "failed to set lock timeout")
		}
	}

	txStore := &Store{
		executor:    tx,
		logger:      s.logger,
		lockTimeout: s.lockTimeout,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit transaction", "error", err)
		return classifyError(err, "failed to commit transaction")
	}
	return nil
}
