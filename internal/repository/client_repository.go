package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
)

type clientRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewClientRepository(db SQLExecutor, logger *slog.Logger) domain.ClientRepository {
	return &clientRepository{
		db:     db,
		logger: logger,
	}
}

func (r *clientRepository) CreateClient(ctx context.Context, client *domain.Client) error {
	query := `
		INSERT INTO clients (name, phone, email)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query, client.Name, client.Phone, client.Email).
		Scan(&client.ID, &client.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create client", "name", client.Name, "error", err)
		return classifyError(err, "failed to create client")
	}

	r.logger.Info("Client created successfully", "client_id", client.ID)
	return nil
}

func (r *clientRepository) GetClientForUpdate(ctx context.Context, id int64) (*domain.Client, error) {
	var client domain.Client
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, phone, email, created_at FROM clients WHERE id = $1 FOR UPDATE`, id,
	).Scan(&client.ID, &client.Name, &client.Phone, &client.Email, &client.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrClientNotFound
		}
		r.logger.Error("Failed to get client", "client_id", id, "error", err)
		return nil, classifyError(err, "failed to get client")
	}
	return &client, nil
}
