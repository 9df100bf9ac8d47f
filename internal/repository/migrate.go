package repository

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"multicurrency-ledger/migrations"
)

// RunMigrations applies every pending up migration embedded in the
// migrations package. It opens its own connection because closing the
// migrate instance closes the underlying database handle.
func RunMigrations(dsn string, logger *slog.Logger) error {
	migrationDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	if err := migrationDB.Ping(); err != nil {
		migrationDB.Close()
		return fmt.Errorf("ping database for migrations: %w", err)
	}

	driver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
	if err != nil {
		migrationDB.Close()
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		migrationDB.Close()
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		migrationDB.Close()
		return fmt.Errorf("create migrate instance: %w", err)
	}

	upErr := m.Up()

	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		logger.Error("Migration source error", "error", sourceErr)
	}
	if dbErr != nil {
		logger.Error("Migration database error", "error", dbErr)
	}

	switch {
	case upErr == nil:
		logger.Info("Database migrations applied successfully")
	case stderrors.Is(upErr, migrate.ErrNoChange):
		logger.Info("No new migrations to apply")
	default:
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	return nil
}
