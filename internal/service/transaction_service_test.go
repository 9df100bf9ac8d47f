package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
	"multicurrency-ledger/internal/metrics"
	"multicurrency-ledger/internal/repository/memstore"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type TransactionServiceTestSuite struct {
	suite.Suite
	ctx          context.Context
	store        *memstore.Store
	rates        *ExchangeRateService
	accounts     *AccountService
	transactions *TransactionService
}

func (s *TransactionServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memstore.New(nil, 2*time.Second)
	m := metrics.New()
	s.rates = NewExchangeRateService(s.store, m, discardLogger())
	s.accounts = NewAccountService(s.store, discardLogger())
	s.transactions = NewTransactionService(s.store, s.rates, m, discardLogger())
}

// openFunded registers a client and opens an account holding balance.
func (s *TransactionServiceTestSuite) openFunded(currency, balance string) *domain.Account {
	client, err := s.accounts.RegisterClient(s.ctx, RegisterClientRequest{Name: "Client " + currency})
	s.Require().NoError(err)

	account, err := s.accounts.OpenAccount(s.ctx, ClientCaller(client.ID), 0, currency)
	s.Require().NoError(err)

	if b := dec(balance); b.IsPositive() {
		_, err = s.transactions.Deposit(s.ctx, AdminCaller(), DepositRequest{AccountID: account.ID, Amount: b})
		s.Require().NoError(err)
	}
	return s.reload(account.ID)
}

func (s *TransactionServiceTestSuite) reload(id int64) *domain.Account {
	account, err := s.store.Account().FindAccount(s.ctx, domain.ByID(id))
	s.Require().NoError(err)
	return account
}

func (s *TransactionServiceTestSuite) rows(id int64) []domain.Transaction {
	rows, err := s.store.Transaction().ListByAccount(s.ctx, id, 0)
	s.Require().NoError(err)
	return rows
}

func (s *TransactionServiceTestSuite) assertBalance(id int64, want string) {
	got := s.reload(id).Balance
	s.True(dec(want).Equal(got), "account %d: want %s, got %s", id, want, got)
}

func (s *TransactionServiceTestSuite) TestDeposit() {
	account := s.openFunded("RUB", "0")

	result, err := s.transactions.Deposit(s.ctx, ClientCaller(account.ClientID), DepositRequest{
		AccountID: account.ID,
		Amount:    dec("100.50"),
	})

	s.Require().NoError(err)
	s.True(dec("100.50").Equal(result.Balance))
	s.Equal("RUB", result.Currency)
	s.NotEqual(uuid.Nil, result.Reference)

	rows := s.rows(account.ID)
	s.Require().Len(rows, 1)
	s.Equal(result.TransactionID, rows[0].ID)
	s.Equal(domain.TransactionDeposit, rows[0].Type)
	s.Equal("Account deposit", rows[0].Description)
	s.Equal(result.Reference, rows[0].Reference)
	s.Nil(rows[0].FromAccountID)
}

func (s *TransactionServiceTestSuite) TestWithdraw() {
	account := s.openFunded("USD", "100")

	result, err := s.transactions.Withdraw(s.ctx, ClientCaller(account.ClientID), WithdrawRequest{
		AccountID:   account.ID,
		Amount:      dec("40"),
		Description: "ATM",
	})

	s.Require().NoError(err)
	s.True(dec("60").Equal(result.Balance))

	rows := s.rows(account.ID)
	s.Require().Len(rows, 2)
	s.Equal(domain.TransactionWithdraw, rows[0].Type)
	s.Equal("ATM", rows[0].Description)
}

func (s *TransactionServiceTestSuite) TestWithdrawEntireBalance() {
	account := s.openFunded("RUB", "75.25")

	result, err := s.transactions.Withdraw(s.ctx, AdminCaller(), WithdrawRequest{AccountID: account.ID, Amount: dec("75.25")})

	s.Require().NoError(err)
	s.True(result.Balance.IsZero())
}

func (s *TransactionServiceTestSuite) TestRejectedOperationsLeaveNoTrace() {
	account := s.openFunded("RUB", "50")
	owner := ClientCaller(account.ClientID)

	cases := []struct {
		name string
		run  func() error
		code errors.ErrorCode
	}{
		{"zero deposit", func() error {
			_, err := s.transactions.Deposit(s.ctx, owner, DepositRequest{AccountID: account.ID, Amount: decimal.Zero})
			return err
		}, errors.InvalidAmount},
		{"negative deposit", func() error {
			_, err := s.transactions.Deposit(s.ctx, owner, DepositRequest{AccountID: account.ID, Amount: dec("-5")})
			return err
		}, errors.InvalidAmount},
		{"three decimals", func() error {
			_, err := s.transactions.Deposit(s.ctx, owner, DepositRequest{AccountID: account.ID, Amount: dec("1.005")})
			return err
		}, errors.InvalidAmount},
		{"overdraft", func() error {
			_, err := s.transactions.Withdraw(s.ctx, owner, WithdrawRequest{AccountID: account.ID, Amount: dec("50.01")})
			return err
		}, errors.InsufficientFunds},
		{"unknown account", func() error {
			_, err := s.transactions.Deposit(s.ctx, AdminCaller(), DepositRequest{AccountID: 9999, Amount: dec("1")})
			return err
		}, errors.AccountNotFound},
		{"someone else's account", func() error {
			_, err := s.transactions.Withdraw(s.ctx, ClientCaller(account.ClientID+1), WithdrawRequest{AccountID: account.ID, Amount: dec("1")})
			return err
		}, errors.AccountNotFound},
		{"anonymous caller", func() error {
			_, err := s.transactions.Deposit(s.ctx, Caller{}, DepositRequest{AccountID: account.ID, Amount: dec("1")})
			return err
		}, errors.Forbidden},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			err := tc.run()
			s.True(errors.HasCode(err, tc.code), "want %s, got %v", tc.code, err)
			s.assertBalance(account.ID, "50")
			s.Len(s.rows(account.ID), 1)
		})
	}
}

func (s *TransactionServiceTestSuite) TestDepositAboveBalanceLimit() {
	account := s.openFunded("RUB", "9999999999.99")

	_, err := s.transactions.Deposit(s.ctx, AdminCaller(), DepositRequest{AccountID: account.ID, Amount: dec("0.01")})

	s.True(errors.HasCode(err, errors.InvalidAmount))
	s.assertBalance(account.ID, "9999999999.99")
}

func (s *TransactionServiceTestSuite) TestTransferSameCurrency() {
	src := s.openFunded("RUB", "1000")
	dst := s.openFunded("RUB", "10")

	result, err := s.transactions.Transfer(s.ctx, ClientCaller(src.ClientID), TransferRequest{
		SourceAccountID:          src.ID,
		DestinationAccountNumber: dst.AccountNumber,
		Amount:                   dec("250.75"),
	})

	s.Require().NoError(err)
	s.Equal(RateIdentity, result.RateSource)
	s.True(dec("250.75").Equal(result.ConvertedAmount))
	s.True(dec("749.25").Equal(result.SourceBalance))
	s.True(dec("260.75").Equal(result.DestinationBalance))
	s.assertBalance(src.ID, "749.25")
	s.assertBalance(dst.ID, "260.75")

	out := s.rows(src.ID)[0]
	in := s.rows(dst.ID)[0]
	s.Equal(result.TransactionID, out.ID)
	s.Equal(result.CounterpartTransactionID, in.ID)
	s.Equal(result.Reference, out.Reference)
	s.Equal(result.Reference, in.Reference)
	s.Equal(domain.TransactionTransfer, out.Type)
	s.Equal(fmt.Sprintf("Funds transfer → %s (rate: 1.0000)", dst.AccountNumber), out.Description)
	s.Equal(fmt.Sprintf("Funds transfer ← %s (rate: 1.0000)", src.AccountNumber), in.Description)
	s.Require().NotNil(out.FromAccountID)
	s.Require().NotNil(in.ToAccountID)
	s.Equal(src.ID, *out.FromAccountID)
	s.Equal(dst.ID, *out.ToAccountID)
	s.Equal(src.ID, *in.FromAccountID)
	s.Equal(dst.ID, *in.ToAccountID)
}

func (s *TransactionServiceTestSuite) TestTransferConvertsWithDefaultRate() {
	src := s.openFunded("RUB", "1000")
	dst := s.openFunded("USD", "0")

	result, err := s.transactions.Transfer(s.ctx, ClientCaller(src.ClientID), TransferRequest{
		SourceAccountID:          src.ID,
		DestinationAccountNumber: dst.AccountNumber,
		Amount:                   dec("1000"),
		Description:              "Savings",
	})

	s.Require().NoError(err)
	s.Equal(RateDefault, result.RateSource)
	s.True(dec("11").Equal(result.ConvertedAmount))
	s.assertBalance(src.ID, "0")
	s.assertBalance(dst.ID, "11")

	in := s.rows(dst.ID)[0]
	s.True(dec("11").Equal(in.Amount))
	s.Equal(fmt.Sprintf("Savings ← %s (rate: 0.0110)", src.AccountNumber), in.Description)
}

func (s *TransactionServiceTestSuite) TestLongDescriptionsFitStoredLimit() {
	src := s.openFunded("RUB", "100")
	dst := s.openFunded("RUB", "0")
	long := strings.Repeat("Оплата ", 40)

	_, err := s.transactions.Transfer(s.ctx, ClientCaller(src.ClientID), TransferRequest{
		SourceAccountID:          src.ID,
		DestinationAccountNumber: dst.AccountNumber,
		Amount:                   dec("10"),
		Description:              long,
	})
	s.Require().NoError(err)
	_, err = s.transactions.Deposit(s.ctx, AdminCaller(), DepositRequest{AccountID: dst.ID, Amount: dec("1"), Description: long})
	s.Require().NoError(err)

	out := s.rows(src.ID)[0]
	s.LessOrEqual(utf8.RuneCountInString(out.Description), domain.MaxDescriptionLength)
	s.True(strings.HasPrefix(out.Description, "Оплата Оплата"))
	s.True(strings.HasSuffix(out.Description, fmt.Sprintf(" → %s (rate: 1.0000)", dst.AccountNumber)))

	rows := s.rows(dst.ID)
	s.Require().Len(rows, 2)
	s.Equal(domain.MaxDescriptionLength, utf8.RuneCountInString(rows[0].Description))
	s.True(strings.HasSuffix(rows[1].Description, fmt.Sprintf(" ← %s (rate: 1.0000)", src.AccountNumber)))
	s.LessOrEqual(utf8.RuneCountInString(rows[1].Description), domain.MaxDescriptionLength)
}

func (s *TransactionServiceTestSuite) TestTransferUsesStoredAndInverseRates() {
	usd := s.openFunded("USD", "100")
	rub := s.openFunded("RUB", "0")
	eur := s.openFunded("EUR", "0")

	_, err := s.rates.SetRate(s.ctx, AdminCaller(), "USD", "RUB", dec("95"))
	s.Require().NoError(err)
	_, err = s.rates.SetRate(s.ctx, AdminCaller(), "EUR", "USD", dec("1.25"))
	s.Require().NoError(err)

	result, err := s.transactions.Transfer(s.ctx, AdminCaller(), TransferRequest{
		SourceAccountID: usd.ID, DestinationAccountNumber: rub.AccountNumber, Amount: dec("10"),
	})
	s.Require().NoError(err)
	s.Equal(RateDirect, result.RateSource)
	s.True(dec("950").Equal(result.ConvertedAmount))

	result, err = s.transactions.Transfer(s.ctx, AdminCaller(), TransferRequest{
		SourceAccountID: usd.ID, DestinationAccountNumber: eur.AccountNumber, Amount: dec("10"),
	})
	s.Require().NoError(err)
	s.Equal(RateInverse, result.RateSource)
	s.True(dec("8").Equal(result.ConvertedAmount))

	s.assertBalance(usd.ID, "80")
	s.assertBalance(rub.ID, "950")
	s.assertBalance(eur.ID, "8")
}

func (s *TransactionServiceTestSuite) TestConvertedAmountRoundsHalfAwayFromZero() {
	src := s.openFunded("RUB", "10")
	dst := s.openFunded("USD", "0")

	// 0.50 * 0.011 = 0.0055
	result, err := s.transactions.Transfer(s.ctx, AdminCaller(), TransferRequest{
		SourceAccountID: src.ID, DestinationAccountNumber: dst.AccountNumber, Amount: dec("0.50"),
	})

	s.Require().NoError(err)
	s.True(dec("0.01").Equal(result.ConvertedAmount))
}

func (s *TransactionServiceTestSuite) TestConvertedAmountOfZeroIsRejected() {
	src := s.openFunded("RUB", "10")
	dst := s.openFunded("USD", "0")

	// 0.01 * 0.011 rounds to 0.00
	_, err := s.transactions.Transfer(s.ctx, AdminCaller(), TransferRequest{
		SourceAccountID: src.ID, DestinationAccountNumber: dst.AccountNumber, Amount: dec("0.01"),
	})

	s.True(errors.HasCode(err, errors.InvalidAmount))
	s.assertBalance(src.ID, "10")
	s.Empty(s.rows(dst.ID))
}

func (s *TransactionServiceTestSuite) TestTransferRejections() {
	src := s.openFunded("RUB", "100")
	dst := s.openFunded("RUB", "0")
	closed := s.openFunded("RUB", "0")
	s.Require().NoError(s.accounts.DeactivateAccount(s.ctx, AdminCaller(), closed.ID))
	owner := ClientCaller(src.ClientID)

	cases := []struct {
		name   string
		caller Caller
		req    TransferRequest
		code   errors.ErrorCode
	}{
		{"same account", owner, TransferRequest{SourceAccountID: src.ID, DestinationAccountNumber: src.AccountNumber, Amount: dec("1")}, errors.InvalidTransfer},
		{"unknown destination", owner, TransferRequest{SourceAccountID: src.ID, DestinationAccountNumber: "4081781000000000", Amount: dec("1")}, errors.DestinationNotFound},
		{"inactive destination", owner, TransferRequest{SourceAccountID: src.ID, DestinationAccountNumber: closed.AccountNumber, Amount: dec("1")}, errors.DestinationNotFound},
		{"blank destination", owner, TransferRequest{SourceAccountID: src.ID, DestinationAccountNumber: "  ", Amount: dec("1")}, errors.DestinationNotFound},
		{"foreign source", ClientCaller(dst.ClientID), TransferRequest{SourceAccountID: src.ID, DestinationAccountNumber: dst.AccountNumber, Amount: dec("1")}, errors.AccountNotFound},
		{"insufficient funds", owner, TransferRequest{SourceAccountID: src.ID, DestinationAccountNumber: dst.AccountNumber, Amount: dec("100.01")}, errors.InsufficientFunds},
		{"invalid amount", owner, TransferRequest{SourceAccountID: src.ID, DestinationAccountNumber: dst.AccountNumber, Amount: dec("0")}, errors.InvalidAmount},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.transactions.Transfer(s.ctx, tc.caller, tc.req)
			s.True(errors.HasCode(err, tc.code), "want %s, got %v", tc.code, err)
			s.assertBalance(src.ID, "100")
			s.assertBalance(dst.ID, "0")
			s.Len(s.rows(src.ID), 1)
			s.Empty(s.rows(dst.ID))
		})
	}
}

func (s *TransactionServiceTestSuite) TestClientMayPayIntoForeignAccount() {
	src := s.openFunded("EUR", "20")
	dst := s.openFunded("RUB", "0")

	result, err := s.transactions.Transfer(s.ctx, ClientCaller(src.ClientID), TransferRequest{
		SourceAccountID: src.ID, DestinationAccountNumber: dst.AccountNumber, Amount: dec("2"),
	})

	s.Require().NoError(err)
	s.True(dec("220").Equal(result.DestinationBalance))
}

func (s *TransactionServiceTestSuite) TestConcurrentWithdrawalsNeverOverdraw() {
	account := s.openFunded("RUB", "100")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.transactions.Withdraw(s.ctx, AdminCaller(), WithdrawRequest{AccountID: account.ID, Amount: dec("60")})
		}(i)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.HasCode(err, errors.InsufficientFunds):
			rejected++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, succeeded)
	s.Equal(1, rejected)
	s.assertBalance(account.ID, "40")
	s.Len(s.rows(account.ID), 2)
}

func (s *TransactionServiceTestSuite) TestOpposingTransfersDoNotDeadlock() {
	a := s.openFunded("RUB", "500")
	b := s.openFunded("RUB", "500")

	const perSide = 50
	var wg sync.WaitGroup
	errCh := make(chan error, 2*perSide)
	for i := 0; i < perSide; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.transactions.Transfer(s.ctx, AdminCaller(), TransferRequest{
				SourceAccountID: a.ID, DestinationAccountNumber: b.AccountNumber, Amount: dec("3"),
			})
			errCh <- err
		}()
		go func() {
			defer wg.Done()
			_, err := s.transactions.Transfer(s.ctx, AdminCaller(), TransferRequest{
				SourceAccountID: b.ID, DestinationAccountNumber: a.AccountNumber, Amount: dec("1"),
			})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		s.NoError(err)
	}
	s.assertBalance(a.ID, "400")
	s.assertBalance(b.ID, "600")
}

func (s *TransactionServiceTestSuite) TestRandomTransfersConserveMoneyAndLedger() {
	const accountCount, workers, perWorker = 4, 8, 25

	accounts := make([]*domain.Account, accountCount)
	for i := range accounts {
		accounts[i] = s.openFunded("RUB", "100")
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rnd := rand.New(rand.NewPCG(seed, seed+1))
			for i := 0; i < perWorker; i++ {
				from := accounts[rnd.IntN(accountCount)]
				to := accounts[rnd.IntN(accountCount)]
				amount := decimal.New(int64(1+rnd.IntN(4000)), -2)
				_, err := s.transactions.Transfer(s.ctx, AdminCaller(), TransferRequest{
					SourceAccountID:          from.ID,
					DestinationAccountNumber: to.AccountNumber,
					Amount:                   amount,
				})
				if err != nil && !errors.HasCode(err, errors.InsufficientFunds) && !errors.HasCode(err, errors.InvalidTransfer) {
					s.Failf("unexpected error", "%v", err)
				}
			}
		}(uint64(w + 1))
	}
	wg.Wait()

	total := decimal.Zero
	for _, a := range accounts {
		balance := s.reload(a.ID).Balance
		s.False(balance.IsNegative())
		total = total.Add(balance)

		// Replaying the ledger reproduces the balance.
		replayed := decimal.Zero
		for _, row := range s.rows(a.ID) {
			if direction(row) == DirectionIn {
				replayed = replayed.Add(row.Amount)
			} else {
				replayed = replayed.Sub(row.Amount)
			}
		}
		s.True(balance.Equal(replayed), "account %d: balance %s, ledger %s", a.ID, balance, replayed)
	}
	s.True(dec("400").Equal(total), "total %s", total)
}

func (s *TransactionServiceTestSuite) TestEveryTransferWritesTwoRowsWithOneReference() {
	src := s.openFunded("USD", "50")
	dst := s.openFunded("EUR", "0")

	result, err := s.transactions.Transfer(s.ctx, AdminCaller(), TransferRequest{
		SourceAccountID: src.ID, DestinationAccountNumber: dst.AccountNumber, Amount: dec("10"),
	})
	s.Require().NoError(err)

	rows, err := s.store.Transaction().ListByReference(s.ctx, result.Reference)
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal(src.ID, rows[0].AccountID)
	s.Equal(dst.ID, rows[1].AccountID)
	s.True(dec("10").Equal(rows[0].Amount))
	s.True(dec("8.5").Equal(rows[1].Amount))
	s.True(strings.HasSuffix(rows[0].Description, "(rate: 0.8500)"))
}

func (s *TransactionServiceTestSuite) TestBusyWhenLockIsHeld() {
	store := memstore.New(nil, 40*time.Millisecond)
	accounts := NewAccountService(store, discardLogger())
	engine := NewTransactionService(store, NewExchangeRateService(store, nil, discardLogger()), nil, discardLogger())

	client, err := accounts.RegisterClient(s.ctx, RegisterClientRequest{Name: "Holder"})
	s.Require().NoError(err)
	account, err := accounts.OpenAccount(s.ctx, AdminCaller(), client.ID, "RUB")
	s.Require().NoError(err)
	_, err = engine.Deposit(s.ctx, AdminCaller(), DepositRequest{AccountID: account.ID, Amount: dec("10")})
	s.Require().NoError(err)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithTransaction(s.ctx, func(tx domain.Store) error {
			if _, err := tx.Account().FindAccountForUpdate(s.ctx, domain.ByID(account.ID)); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	_, err = engine.Withdraw(s.ctx, AdminCaller(), WithdrawRequest{AccountID: account.ID, Amount: dec("5")})
	s.True(errors.HasCode(err, errors.Busy))
	s.True(errors.As(err).Retryable())

	close(release)
	s.Require().NoError(<-done)

	result, err := engine.Withdraw(s.ctx, AdminCaller(), WithdrawRequest{AccountID: account.ID, Amount: dec("5")})
	s.Require().NoError(err)
	s.True(dec("5").Equal(result.Balance))
}

func TestTransactionServiceTestSuite(t *testing.T) {
	suite.Run(t, new(TransactionServiceTestSuite))
}
