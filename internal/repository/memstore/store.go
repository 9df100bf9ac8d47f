// Package memstore is an in-process implementation of domain.Store. Every
// account has its own lock, taken by FindAccountForUpdate and by any write
// to the account and held until the unit of work ends. Writes made inside a
// unit of work stay buffered until commit, so a failed operation leaves no
// trace.
package memstore

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
)

type ratePair struct {
	from, to string
}

type state struct {
	mu sync.Mutex

	clients      map[int64]domain.Client
	accounts     map[int64]domain.Account
	byNumber     map[string]int64
	reserved     map[string]bool
	transactions []domain.Transaction
	rates        map[ratePair]domain.ExchangeRate
	locks        map[int64]chan struct{}

	nextClientID  int64
	nextAccountID int64
	nextTxID      int64

	lockTimeout time.Duration
	now         func() time.Time
}

// unitOfWork buffers the writes of one WithTransaction call.
type unitOfWork struct {
	held        map[int64]bool
	balances    map[int64]decimal.Decimal
	deactivated map[int64]bool
	clients     []domain.Client
	accounts    []domain.Account
	numbers     []string
	txs         []domain.Transaction
	rates       []domain.ExchangeRate
}

type Store struct {
	st     *state
	uow    *unitOfWork
	logger *slog.Logger
}

var _ domain.Store = (*Store)(nil)

// New returns an empty store. lockTimeout bounds each per-account lock wait;
// zero waits until the caller's context is done.
func New(logger *slog.Logger, lockTimeout time.Duration) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		st: &state{
			clients:     make(map[int64]domain.Client),
			accounts:    make(map[int64]domain.Account),
			byNumber:    make(map[string]int64),
			reserved:    make(map[string]bool),
			rates:       make(map[ratePair]domain.ExchangeRate),
			locks:       make(map[int64]chan struct{}),
			lockTimeout: lockTimeout,
			now:         time.Now,
		},
		logger: logger,
	}
}

func (s *Store) Account() domain.AccountRepository {
	return &accountRepository{s}
}

func (s *Store) Transaction() domain.TransactionRepository {
	return &transactionRepository{s}
}

func (s *Store) Client() domain.ClientRepository {
	return &clientRepository{s}
}

func (s *Store) ExchangeRate() domain.ExchangeRateRepository {
	return &exchangeRateRepository{s}
}

// WithTransaction runs fn in a unit of work. Called inside one, fn joins it.
func (s *Store) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	if s.uow != nil {
		return fn(s)
	}

	tx := &Store{
		st: s.st,
		uow: &unitOfWork{
			held:        make(map[int64]bool),
			balances:    make(map[int64]decimal.Decimal),
			deactivated: make(map[int64]bool),
		},
		logger: s.logger,
	}

	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.ErrBusy.Wrap(err)
	}

	tx.commit()
	committed = true
	return nil
}

// write runs fn inside the current unit of work, or in a fresh one that
// commits immediately, like an autocommit statement.
func (s *Store) write(ctx context.Context, fn func(tx *Store) error) error {
	if s.uow != nil {
		return fn(s)
	}
	return s.WithTransaction(ctx, func(tx domain.Store) error {
		return fn(tx.(*Store))
	})
}

func (s *Store) commit() {
	st, u := s.st, s.uow

	st.mu.Lock()
	for _, c := range u.clients {
		st.clients[c.ID] = c
	}
	for _, a := range u.accounts {
		st.accounts[a.ID] = a
		st.byNumber[a.AccountNumber] = a.ID
	}
	for id, balance := range u.balances {
		a := st.accounts[id]
		a.Balance = balance
		st.accounts[id] = a
	}
	for id := range u.deactivated {
		a := st.accounts[id]
		a.IsActive = false
		st.accounts[id] = a
	}
	st.transactions = append(st.transactions, u.txs...)
	for _, r := range u.rates {
		st.rates[ratePair{r.FromCurrency, r.ToCurrency}] = r
	}
	for _, n := range u.numbers {
		delete(st.reserved, n)
	}
	st.mu.Unlock()

	s.releaseAll()
}

func (s *Store) rollback() {
	s.st.mu.Lock()
	for _, n := range s.uow.numbers {
		delete(s.st.reserved, n)
	}
	s.st.mu.Unlock()

	s.releaseAll()
}

func (s *Store) releaseAll() {
	for id := range s.uow.held {
		s.release(id)
	}
}

func (s *Store) lockChan(id int64) chan struct{} {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	ch, ok := s.st.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.st.locks[id] = ch
	}
	return ch
}

// acquire takes the account lock for the current unit of work. It reports
// whether the lock was newly taken by this call.
func (s *Store) acquire(ctx context.Context, id int64) (bool, error) {
	if s.uow.held[id] {
		return false, nil
	}
	ch := s.lockChan(id)

	var timeout <-chan time.Time
	if s.st.lockTimeout > 0 {
		timer := time.NewTimer(s.st.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ch <- struct{}{}:
		s.uow.held[id] = true
		return true, nil
	case <-ctx.Done():
		return false, errors.ErrBusy.Wrap(ctx.Err())
	case <-timeout:
		s.logger.Warn("Account lock wait timed out", "account_id", id, "timeout", s.st.lockTimeout)
		return false, errors.ErrBusy
	}
}

func (s *Store) release(id int64) {
	if !s.uow.held[id] {
		return
	}
	delete(s.uow.held, id)
	<-s.lockChan(id)
}

// accountView returns the account as the current unit of work sees it.
// Callers hold st.mu.
func (s *Store) accountView(id int64) (domain.Account, bool) {
	a, ok := s.st.accounts[id]
	if s.uow == nil {
		return a, ok
	}
	if !ok {
		for _, pending := range s.uow.accounts {
			if pending.ID == id {
				a, ok = pending, true
				break
			}
		}
		if !ok {
			return a, false
		}
	}
	if balance, changed := s.uow.balances[id]; changed {
		a.Balance = balance
	}
	if s.uow.deactivated[id] {
		a.IsActive = false
	}
	return a, true
}

// resolveID maps a selector key to an account ID without checking state.
// Callers hold st.mu.
func (s *Store) resolveID(sel domain.AccountSelector) (int64, bool) {
	if sel.ID != 0 {
		_, ok := s.accountView(sel.ID)
		return sel.ID, ok
	}
	if sel.Number == "" {
		return 0, false
	}
	if id, ok := s.st.byNumber[sel.Number]; ok {
		return id, true
	}
	if s.uow != nil {
		for _, pending := range s.uow.accounts {
			if pending.AccountNumber == sel.Number {
				return pending.ID, true
			}
		}
	}
	return 0, false
}

func (s *Store) pendingTransactions() []domain.Transaction {
	if s.uow == nil {
		return nil
	}
	return s.uow.txs
}

func newID(counter *int64) int64 {
	*counter++
	return *counter
}

func (s *Store) findRate(from, to string) (domain.ExchangeRate, bool) {
	if s.uow != nil {
		for i := len(s.uow.rates) - 1; i >= 0; i-- {
			r := s.uow.rates[i]
			if r.FromCurrency == from && r.ToCurrency == to {
				return r, true
			}
		}
	}
	r, ok := s.st.rates[ratePair{from, to}]
	return r, ok
}
