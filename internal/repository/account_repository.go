package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
)

const accountColumns = `id, client_id, balance, currency, account_number, is_active, created_at`

type accountRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewAccountRepository(db SQLExecutor, logger *slog.Logger) domain.AccountRepository {
	return &accountRepository{
		db:     db,
		logger: logger,
	}
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (client_id, balance, currency, account_number, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (account_number) DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		account.ClientID,
		account.Balance.StringFixed(domain.AmountScale),
		account.Currency,
		account.AccountNumber,
	).Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		// A taken number inserts nothing instead of raising 23505, so the
		// enclosing transaction stays usable for the next candidate.
		if err == sql.ErrNoRows || pqCode(err) == pqUniqueViolation {
			r.logger.Warn("Duplicate account number", "account_number", account.AccountNumber)
			return errors.ErrDuplicateAccount
		}
		if pqCode(err) == pqForeignKeyViolation {
			r.logger.Warn("Account owner does not exist", "client_id", account.ClientID)
			return errors.ErrClientNotFound
		}
		r.logger.Error("Failed to create account", "client_id", account.ClientID, "error", err)
		return classifyError(err, "failed to create account")
	}

	account.IsActive = true
	r.logger.Info("Account created successfully", "account_id", account.ID, "account_number", account.AccountNumber)
	return nil
}

func (r *accountRepository) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE account_number = $1)`, number,
	).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check account number", "account_number", number, "error", err)
		return false, classifyError(err, "failed to check account number")
	}
	return exists, nil
}

func (r *accountRepository) FindAccount(ctx context.Context, sel domain.AccountSelector) (*domain.Account, error) {
	return r.findAccount(ctx, sel, "")
}

func (r *accountRepository) FindAccountForUpdate(ctx context.Context, sel domain.AccountSelector) (*domain.Account, error) {
	return r.findAccount(ctx, sel, " FOR UPDATE")
}

func (r *accountRepository) findAccount(ctx context.Context, sel domain.AccountSelector, suffix string) (*domain.Account, error) {
	where, args, ok := selectorClause(sel)
	if !ok {
		return nil, errors.ErrAccountNotFound
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where + suffix

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			r.logger.Warn("Account not found", "selector", sel.String())
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("Failed to get account", "selector", sel.String(), "error", err)
		return nil, classifyError(err, "failed to get account")
	}
	return account, nil
}

// selectorClause renders the WHERE clause for an active-account lookup.
func selectorClause(sel domain.AccountSelector) (string, []interface{}, bool) {
	var (
		where string
		args  []interface{}
	)
	switch {
	case sel.ID != 0:
		where = "id = $1"
		args = append(args, sel.ID)
	case sel.Number != "":
		where = "account_number = $1"
		args = append(args, sel.Number)
	default:
		return "", nil, false
	}
	where += " AND is_active = TRUE"
	if sel.OwnerID != 0 {
		args = append(args, sel.OwnerID)
		where += " AND client_id = $" + strconv.Itoa(len(args))
	}
	return where, args, true
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var balanceStr string

	err := row.Scan(
		&account.ID,
		&account.ClientID,
		&balanceStr,
		&account.Currency,
		&account.AccountNumber,
		&account.IsActive,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, errors.Internal("failed to parse balance", err)
	}
	account.Balance = balance
	return &account, nil
}

func (r *accountRepository) UpdateAccountBalance(ctx context.Context, id int64, newBalance decimal.Decimal) error {
	query := `
		UPDATE accounts
		SET balance = $1
		WHERE id = $2 AND is_active = TRUE
	`

	result, err := r.db.ExecContext(ctx, query, newBalance.StringFixed(domain.AmountScale), id)
	if err != nil {
		r.logger.Error("Failed to update account balance", "account_id", id, "error", err)
		if pqCode(err) == pqCheckViolation {
			return errors.ErrInsufficientFunds.Wrap(err)
		}
		return classifyError(err, "failed to update account balance")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Internal("failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		r.logger.Warn("No account found to update", "account_id", id)
		return errors.ErrAccountNotFound
	}

	r.logger.Info("Account balance updated", "account_id", id, "new_balance", newBalance)
	return nil
}

func (r *accountRepository) DeactivateAccount(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = FALSE WHERE id = $1 AND is_active = TRUE`, id)
	if err != nil {
		r.logger.Error("Failed to deactivate account", "account_id", id, "error", err)
		return classifyError(err, "failed to deactivate account")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Internal("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.ErrAccountNotFound
	}

	r.logger.Info("Account deactivated", "account_id", id)
	return nil
}

func (r *accountRepository) ListAccountsByClient(ctx context.Context, clientID int64) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE client_id = $1 AND is_active = TRUE
		ORDER BY id`
	return r.listAccounts(ctx, query, clientID)
}

func (r *accountRepository) ListActiveAccounts(ctx context.Context, limit int) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE is_active = TRUE
		ORDER BY id
		LIMIT $1`
	return r.listAccounts(ctx, query, limit)
}

func (r *accountRepository) listAccounts(ctx context.Context, query string, args ...interface{}) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list accounts", "error", err)
		return nil, classifyError(err, "failed to list accounts")
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, classifyError(err, "failed to scan account")
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err, "failed to list accounts")
	}
	return accounts, nil
}
