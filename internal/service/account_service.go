package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
	maxAccountList      = 100

	// accountNumberAttempts bounds how many candidate numbers OpenAccount
	// draws before giving up.
	accountNumberAttempts = 10
)

type AccountService struct {
	store     domain.Store
	logger    *slog.Logger
	newNumber func() string
}

func NewAccountService(store domain.Store, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		logger: logger,
		newNumber: func() string {
			return domain.NewAccountNumber(nil)
		},
	}
}

// WithNumberSource replaces the account number generator.
func (s *AccountService) WithNumberSource(next func() string) *AccountService {
	s.newNumber = next
	return s
}

type RegisterClientRequest struct {
	Name  string
	Phone string
	Email string
}

func (s *AccountService) RegisterClient(ctx context.Context, req RegisterClientRequest) (*domain.Client, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "client name is required")
	}

	client := &domain.Client{
		Name:  name,
		Phone: strings.TrimSpace(req.Phone),
		Email: strings.TrimSpace(req.Email),
	}
	if err := s.store.Client().CreateClient(ctx, client); err != nil {
		return nil, err
	}

	s.logger.Info("Client registered", "client_id", client.ID)
	return client, nil
}

// OpenAccount creates an empty active account for the caller's client (or,
// for administrators, for clientID) in the given currency.
func (s *AccountService) OpenAccount(ctx context.Context, caller Caller, clientID int64, currency string) (*domain.Account, error) {
	owner, err := s.owner(caller, clientID)
	if err != nil {
		return nil, err
	}
	currency, err = normalizeAccountCurrency(currency)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Opening account", "client_id", owner, "currency", currency)

	var account *domain.Account
	err = s.store.WithTransaction(ctx, func(tx domain.Store) error {
		if _, err := tx.Client().GetClientForUpdate(ctx, owner); err != nil {
			return err
		}
		account, err = s.createWithFreshNumber(ctx, tx.Account(), owner, currency)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account opened", "account_id", account.ID, "account_number", account.AccountNumber)
	return account, nil
}

// EnsureAccount returns the client's first active account in currency,
// opening one if none exists.
func (s *AccountService) EnsureAccount(ctx context.Context, caller Caller, clientID int64, currency string) (*domain.Account, bool, error) {
	owner, err := s.owner(caller, clientID)
	if err != nil {
		return nil, false, err
	}
	currency, err = normalizeAccountCurrency(currency)
	if err != nil {
		return nil, false, err
	}

	var (
		account *domain.Account
		created bool
	)
	err = s.store.WithTransaction(ctx, func(tx domain.Store) error {
		// Held until commit, so a concurrent call waits and then sees our row.
		if _, err := tx.Client().GetClientForUpdate(ctx, owner); err != nil {
			return err
		}
		accounts, err := tx.Account().ListAccountsByClient(ctx, owner)
		if err != nil {
			return err
		}
		for i := range accounts {
			if accounts[i].Currency == currency {
				account = &accounts[i]
				return nil
			}
		}
		account, err = s.createWithFreshNumber(ctx, tx.Account(), owner, currency)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("Account opened", "account_id", account.ID, "account_number", account.AccountNumber)
	}
	return account, created, nil
}

func (s *AccountService) createWithFreshNumber(ctx context.Context, repo domain.AccountRepository, clientID int64, currency string) (*domain.Account, error) {
	for attempt := 0; attempt < accountNumberAttempts; attempt++ {
		number := s.newNumber()

		exists, err := repo.AccountNumberExists(ctx, number)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		account := &domain.Account{
			ClientID:      clientID,
			Balance:       decimal.Zero,
			Currency:      currency,
			AccountNumber: number,
		}
		err = repo.CreateAccount(ctx, account)
		if errors.HasCode(err, errors.DuplicateAccount) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return account, nil
	}

	s.logger.Error("Could not draw a free account number", "attempts", accountNumberAttempts)
	return nil, errors.Internal("could not allocate a unique account number", nil)
}

func (s *AccountService) GetAccount(ctx context.Context, caller Caller, accountID int64) (*domain.Account, error) {
	if accountID <= 0 {
		return nil, errors.ErrInvalidAccountID
	}
	sel, err := caller.scope(domain.ByID(accountID))
	if err != nil {
		return nil, err
	}
	return s.store.Account().FindAccount(ctx, sel)
}

// ListAccounts returns the caller's active accounts. Administrators see all
// active accounts up to a fixed cap.
func (s *AccountService) ListAccounts(ctx context.Context, caller Caller) ([]domain.Account, error) {
	if caller.Admin {
		return s.store.Account().ListActiveAccounts(ctx, maxAccountList)
	}
	if caller.ClientID <= 0 {
		return nil, errors.ErrForbidden
	}
	return s.store.Account().ListAccountsByClient(ctx, caller.ClientID)
}

// DeactivateAccount closes an account. Its ledger rows are kept; the account
// stops being selectable for any operation.
func (s *AccountService) DeactivateAccount(ctx context.Context, caller Caller, accountID int64) error {
	if accountID <= 0 {
		return errors.ErrInvalidAccountID
	}
	sel, err := caller.scope(domain.ByID(accountID))
	if err != nil {
		return err
	}

	err = s.store.WithTransaction(ctx, func(tx domain.Store) error {
		account, err := tx.Account().FindAccountForUpdate(ctx, sel)
		if err != nil {
			return err
		}
		return tx.Account().DeactivateAccount(ctx, account.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Account deactivated", "account_id", accountID)
	return nil
}

// HistoryEntry is a ledger row as seen from one account.
type HistoryEntry struct {
	domain.Transaction
	Direction string `json:"direction"`
	Currency  string `json:"currency"`
}

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// History returns the newest rows of the account's ledger, newest first.
// A limit outside (0, MaxHistoryLimit] is replaced by the nearest bound, and
// zero means DefaultHistoryLimit.
func (s *AccountService) History(ctx context.Context, caller Caller, accountID int64, limit int) ([]HistoryEntry, error) {
	account, err := s.GetAccount(ctx, caller, accountID)
	if err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	rows, err := s.store.Transaction().ListByAccount(ctx, account.ID, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, HistoryEntry{
			Transaction: row,
			Direction:   direction(row),
			Currency:    account.Currency,
		})
	}
	return entries, nil
}

// HistorySize counts every ledger row of the account, past the History
// limit included.
func (s *AccountService) HistorySize(ctx context.Context, caller Caller, accountID int64) (int, error) {
	account, err := s.GetAccount(ctx, caller, accountID)
	if err != nil {
		return 0, err
	}
	return s.store.Transaction().CountByAccount(ctx, account.ID)
}

// Transaction returns one ledger row as seen from its account. Rows of
// accounts the caller cannot see are reported as missing.
func (s *AccountService) Transaction(ctx context.Context, caller Caller, transactionID int64) (*HistoryEntry, error) {
	if transactionID <= 0 {
		return nil, errors.NewAppError(errors.InvalidInput, "invalid transaction ID")
	}
	row, err := s.store.Transaction().GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.ErrTransactionNotFound
	}

	account, err := s.GetAccount(ctx, caller, row.AccountID)
	if errors.HasCode(err, errors.AccountNotFound) {
		return nil, errors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}

	return &HistoryEntry{
		Transaction: *row,
		Direction:   direction(*row),
		Currency:    account.Currency,
	}, nil
}

// Operation returns every ledger row written by one operation. Non-admin
// callers must own at least one of the accounts involved.
func (s *AccountService) Operation(ctx context.Context, caller Caller, reference uuid.UUID) ([]domain.Transaction, error) {
	if reference == uuid.Nil {
		return nil, errors.NewAppError(errors.InvalidInput, "operation reference is required")
	}
	rows, err := s.store.Transaction().ListByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.ErrOperationNotFound
	}
	if caller.Admin {
		return rows, nil
	}
	if caller.ClientID <= 0 {
		return nil, errors.ErrForbidden
	}

	owned, err := s.store.Account().ListAccountsByClient(ctx, caller.ClientID)
	if err != nil {
		return nil, err
	}
	mine := make(map[int64]bool, len(owned))
	for _, a := range owned {
		mine[a.ID] = true
	}
	for _, row := range rows {
		if mine[row.AccountID] {
			return rows, nil
		}
	}
	return nil, errors.ErrForbidden
}

func direction(t domain.Transaction) string {
	switch t.Type {
	case domain.TransactionDeposit:
		return DirectionIn
	case domain.TransactionTransfer:
		if t.ToAccountID != nil && *t.ToAccountID == t.AccountID {
			return DirectionIn
		}
	}
	return DirectionOut
}

func (s *AccountService) owner(caller Caller, clientID int64) (int64, error) {
	if caller.Admin {
		if clientID <= 0 {
			return 0, errors.NewAppError(errors.InvalidInput, "client ID must be positive")
		}
		return clientID, nil
	}
	if caller.ClientID <= 0 {
		return 0, errors.ErrForbidden
	}
	if clientID != 0 && clientID != caller.ClientID {
		return 0, errors.ErrForbidden
	}
	return caller.ClientID, nil
}

func normalizeAccountCurrency(currency string) (string, error) {
	if strings.TrimSpace(currency) == "" {
		return domain.DefaultCurrency, nil
	}
	currency = domain.NormalizeCurrency(currency)
	if !domain.IsSupportedCurrency(currency) {
		return "", errors.ErrInvalidCurrency.WithDetails("supported currencies: " + strings.Join(domain.SupportedCurrencies(), ", "))
	}
	return currency, nil
}
