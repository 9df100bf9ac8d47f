package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
)

const transactionColumns = `id, account_id, amount, type, description, reference, timestamp, from_account_id, to_account_id`

type transactionRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewTransactionRepository(db SQLExecutor, logger *slog.Logger) domain.TransactionRepository {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *transactionRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
		(account_id, amount, type, description, reference, from_account_id, to_account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, timestamp
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		tx.AccountID,
		tx.Amount.StringFixed(domain.AmountScale),
		string(tx.Type),
		tx.Description,
		tx.Reference,
		nullableID(tx.FromAccountID),
		nullableID(tx.ToAccountID),
	).Scan(&tx.ID, &tx.Timestamp)

	if err != nil {
		r.logger.Error("Failed to create transaction",
			"account_id", tx.AccountID,
			"type", tx.Type,
			"amount", tx.Amount,
			"error", err)
		return classifyError(err, "failed to create transaction")
	}

	r.logger.Info("Transaction created successfully",
		"transaction_id", tx.ID,
		"account_id", tx.AccountID,
		"type", tx.Type,
		"reference", tx.Reference)
	return nil
}

func (r *transactionRepository) GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	transaction, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get transaction", "transaction_id", id, "error", err)
		return nil, classifyError(err, "failed to get transaction")
	}
	return transaction, nil
}

func (r *transactionRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE account_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`
	return r.list(ctx, query, accountID, limit)
}

func (r *transactionRepository) ListByReference(ctx context.Context, reference uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE reference = $1
		ORDER BY id`
	return r.list(ctx, query, reference)
}

func (r *transactionRepository) CountByAccount(ctx context.Context, accountID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID,
	).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count transactions", "account_id", accountID, "error", err)
		return 0, classifyError(err, "failed to count transactions")
	}
	return count, nil
}

func (r *transactionRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list transactions", "error", err)
		return nil, classifyError(err, "failed to list transactions")
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0)
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, classifyError(err, "failed to scan transaction")
		}
		transactions = append(transactions, *transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err, "failed to list transactions")
	}
	return transactions, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var transaction domain.Transaction
	var amountStr, txType string
	var fromID, toID sql.NullInt64

	err := row.Scan(
		&transaction.ID,
		&transaction.AccountID,
		&amountStr,
		&txType,
		&transaction.Description,
		&transaction.Reference,
		&transaction.Timestamp,
		&fromID,
		&toID,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, errors.Internal("failed to parse amount", err)
	}
	transaction.Amount = amount
	transaction.Type = domain.TransactionType(txType)

	if fromID.Valid {
		id := fromID.Int64
		transaction.FromAccountID = &id
	}
	if toID.Valid {
		id := toID.Int64
		transaction.ToAccountID = &id
	}
	return &transaction, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
