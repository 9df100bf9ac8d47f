package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
)

type accountRepository struct {
	s *Store
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	return r.s.write(ctx, func(tx *Store) error {
		st := tx.st
		st.mu.Lock()
		defer st.mu.Unlock()

		if _, ok := st.clients[account.ClientID]; !ok && !tx.hasPendingClient(account.ClientID) {
			return errors.ErrClientNotFound
		}
		if _, taken := st.byNumber[account.AccountNumber]; taken || st.reserved[account.AccountNumber] {
			tx.logger.Warn("Duplicate account number", "account_number", account.AccountNumber)
			return errors.ErrDuplicateAccount
		}

		account.ID = newID(&st.nextAccountID)
		account.Balance = domain.RoundAmount(account.Balance)
		account.IsActive = true
		account.CreatedAt = st.now()

		st.reserved[account.AccountNumber] = true
		tx.uow.numbers = append(tx.uow.numbers, account.AccountNumber)
		tx.uow.accounts = append(tx.uow.accounts, *account)
		return nil
	})
}

func (r *accountRepository) AccountNumberExists(_ context.Context, number string) (bool, error) {
	st := r.s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := r.s.resolveID(domain.ByNumber(number))
	return ok || st.reserved[number], nil
}

func (r *accountRepository) FindAccount(_ context.Context, sel domain.AccountSelector) (*domain.Account, error) {
	st := r.s.st
	st.mu.Lock()
	defer st.mu.Unlock()

	id, ok := r.s.resolveID(sel)
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	a, ok := r.s.accountView(id)
	if !ok || !sel.Matches(&a) {
		return nil, errors.ErrAccountNotFound
	}
	return &a, nil
}

func (r *accountRepository) FindAccountForUpdate(ctx context.Context, sel domain.AccountSelector) (*domain.Account, error) {
	var found *domain.Account
	err := r.s.write(ctx, func(tx *Store) error {
		tx.st.mu.Lock()
		id, ok := tx.resolveID(sel)
		tx.st.mu.Unlock()
		if !ok {
			return errors.ErrAccountNotFound
		}

		acquired, err := tx.acquire(ctx, id)
		if err != nil {
			return err
		}

		tx.st.mu.Lock()
		a, ok := tx.accountView(id)
		tx.st.mu.Unlock()
		if !ok || !sel.Matches(&a) {
			// A row that no longer matches is not locked.
			if acquired {
				tx.release(id)
			}
			return errors.ErrAccountNotFound
		}
		found = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (r *accountRepository) UpdateAccountBalance(ctx context.Context, id int64, newBalance decimal.Decimal) error {
	return r.s.write(ctx, func(tx *Store) error {
		if _, err := tx.acquire(ctx, id); err != nil {
			return err
		}

		tx.st.mu.Lock()
		defer tx.st.mu.Unlock()
		a, ok := tx.accountView(id)
		if !ok || !a.IsActive {
			return errors.ErrAccountNotFound
		}
		balance := domain.RoundAmount(newBalance)
		if balance.IsNegative() {
			return errors.ErrInsufficientFunds
		}
		if balance.GreaterThan(domain.MaxBalance) {
			return errors.NewAppError(errors.InvalidAmount, "amount exceeds ledger limits")
		}
		tx.uow.balances[id] = balance
		return nil
	})
}

func (r *accountRepository) DeactivateAccount(ctx context.Context, id int64) error {
	return r.s.write(ctx, func(tx *Store) error {
		if _, err := tx.acquire(ctx, id); err != nil {
			return err
		}

		tx.st.mu.Lock()
		defer tx.st.mu.Unlock()
		a, ok := tx.accountView(id)
		if !ok || !a.IsActive {
			return errors.ErrAccountNotFound
		}
		tx.uow.deactivated[id] = true
		return nil
	})
}

func (r *accountRepository) ListAccountsByClient(_ context.Context, clientID int64) ([]domain.Account, error) {
	return r.list(func(a domain.Account) bool { return a.ClientID == clientID }, 0), nil
}

func (r *accountRepository) ListActiveAccounts(_ context.Context, limit int) ([]domain.Account, error) {
	return r.list(func(domain.Account) bool { return true }, limit), nil
}

func (r *accountRepository) list(keep func(domain.Account) bool, limit int) []domain.Account {
	st := r.s.st
	st.mu.Lock()
	defer st.mu.Unlock()

	ids := make([]int64, 0, len(st.accounts))
	for id := range st.accounts {
		ids = append(ids, id)
	}
	if r.s.uow != nil {
		for _, pending := range r.s.uow.accounts {
			ids = append(ids, pending.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	accounts := make([]domain.Account, 0)
	for _, id := range ids {
		a, ok := r.s.accountView(id)
		if !ok || !a.IsActive || !keep(a) {
			continue
		}
		accounts = append(accounts, a)
		if limit > 0 && len(accounts) == limit {
			break
		}
	}
	return accounts
}

func (s *Store) hasPendingClient(id int64) bool {
	if s.uow == nil {
		return false
	}
	for _, c := range s.uow.clients {
		if c.ID == id {
			return true
		}
	}
	return false
}

type transactionRepository struct {
	s *Store
}

func (r *transactionRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if !tx.Type.Valid() || !tx.Amount.IsPositive() {
		return errors.Internal("invalid ledger row", nil)
	}
	return r.s.write(ctx, func(w *Store) error {
		st := w.st
		st.mu.Lock()
		defer st.mu.Unlock()

		if _, ok := w.accountView(tx.AccountID); !ok {
			return errors.Internal("ledger row references unknown account", nil)
		}
		tx.ID = newID(&st.nextTxID)
		tx.Amount = domain.RoundAmount(tx.Amount)
		tx.Timestamp = st.now()
		w.uow.txs = append(w.uow.txs, *tx)
		return nil
	})
}

func (r *transactionRepository) GetTransactionByID(_ context.Context, id int64) (*domain.Transaction, error) {
	var found *domain.Transaction
	r.each(func(t domain.Transaction) {
		if t.ID == id {
			t := t
			found = &t
		}
	})
	return found, nil
}

func (r *transactionRepository) ListByAccount(_ context.Context, accountID int64, limit int) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0)
	r.each(func(t domain.Transaction) {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *transactionRepository) ListByReference(_ context.Context, reference uuid.UUID) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0)
	r.each(func(t domain.Transaction) {
		if t.Reference == reference {
			out = append(out, t)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *transactionRepository) CountByAccount(_ context.Context, accountID int64) (int, error) {
	count := 0
	r.each(func(t domain.Transaction) {
		if t.AccountID == accountID {
			count++
		}
	})
	return count, nil
}

// each visits committed rows plus the rows buffered by the current unit of
// work.
func (r *transactionRepository) each(fn func(domain.Transaction)) {
	st := r.s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, t := range st.transactions {
		fn(t)
	}
	for _, t := range r.s.pendingTransactions() {
		fn(t)
	}
}

type clientRepository struct {
	s *Store
}

func (r *clientRepository) CreateClient(ctx context.Context, client *domain.Client) error {
	return r.s.write(ctx, func(tx *Store) error {
		st := tx.st
		st.mu.Lock()
		defer st.mu.Unlock()
		client.ID = newID(&st.nextClientID)
		client.CreatedAt = st.now()
		tx.uow.clients = append(tx.uow.clients, *client)
		return nil
	})
}

func (r *clientRepository) GetClientForUpdate(ctx context.Context, id int64) (*domain.Client, error) {
	var found *domain.Client
	err := r.s.write(ctx, func(tx *Store) error {
		tx.st.mu.Lock()
		_, err := tx.clientView(id)
		tx.st.mu.Unlock()
		if err != nil {
			return err
		}
		if _, err := tx.acquire(ctx, clientLockKey(id)); err != nil {
			return err
		}

		tx.st.mu.Lock()
		defer tx.st.mu.Unlock()
		found, err = tx.clientView(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// clientView looks the client up among committed and pending rows.
// Callers hold st.mu.
func (s *Store) clientView(id int64) (*domain.Client, error) {
	if c, ok := s.st.clients[id]; ok {
		return &c, nil
	}
	if s.uow != nil {
		for _, c := range s.uow.clients {
			if c.ID == id {
				c := c
				return &c, nil
			}
		}
	}
	return nil, errors.ErrClientNotFound
}

// clientLockKey maps a client ID into the lock table. Account IDs are
// positive, so client locks live on the negative side.
func clientLockKey(id int64) int64 {
	return -id
}

type exchangeRateRepository struct {
	s *Store
}

func (r *exchangeRateRepository) FindRate(_ context.Context, from, to string) (*domain.ExchangeRate, error) {
	st := r.s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	rate, ok := r.s.findRate(from, to)
	if !ok {
		return nil, nil
	}
	return &rate, nil
}

func (r *exchangeRateRepository) UpsertRate(ctx context.Context, rate *domain.ExchangeRate) error {
	if !rate.Rate.IsPositive() {
		return errors.NewAppError(errors.InvalidInput, "exchange rate must be positive")
	}
	return r.s.write(ctx, func(tx *Store) error {
		tx.st.mu.Lock()
		defer tx.st.mu.Unlock()
		rate.Rate = rate.Rate.Round(domain.RateScale)
		rate.UpdatedAt = tx.st.now()
		tx.uow.rates = append(tx.uow.rates, *rate)
		return nil
	})
}

func (r *exchangeRateRepository) ListRates(_ context.Context) ([]domain.ExchangeRate, error) {
	st := r.s.st
	st.mu.Lock()
	defer st.mu.Unlock()

	byPair := make(map[ratePair]domain.ExchangeRate, len(st.rates))
	for k, v := range st.rates {
		byPair[k] = v
	}
	if r.s.uow != nil {
		for _, v := range r.s.uow.rates {
			byPair[ratePair{v.FromCurrency, v.ToCurrency}] = v
		}
	}

	rates := make([]domain.ExchangeRate, 0, len(byPair))
	for _, v := range byPair {
		rates = append(rates, v)
	}
	sort.Slice(rates, func(i, j int) bool {
		if rates[i].FromCurrency != rates[j].FromCurrency {
			return rates[i].FromCurrency < rates[j].FromCurrency
		}
		return rates[i].ToCurrency < rates[j].ToCurrency
	})
	return rates, nil
}
