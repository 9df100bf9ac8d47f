package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
	"multicurrency-ledger/internal/metrics"
)

const (
	defaultDepositDescription  = "Account deposit"
	defaultWithdrawDescription = "Cash withdrawal"
	defaultTransferDescription = "Funds transfer"
)

// TransactionService is the balance mutation engine. Every operation runs in
// one unit of work: the balance writes and the ledger rows commit together or
// not at all.
type TransactionService struct {
	store   domain.Store
	rates   *ExchangeRateService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewTransactionService(
	store domain.Store,
	rates *ExchangeRateService,
	m *metrics.Metrics,
	logger *slog.Logger,
) *TransactionService {
	return &TransactionService{
		store:   store,
		rates:   rates,
		metrics: m,
		logger:  logger,
	}
}

type DepositRequest struct {
	AccountID   int64
	Amount      decimal.Decimal
	Description string
}

type WithdrawRequest struct {
	AccountID   int64
	Amount      decimal.Decimal
	Description string
}

// BalanceResult is returned by deposit and withdraw.
type BalanceResult struct {
	AccountID     int64           `json:"account_id"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	TransactionID int64           `json:"transaction_id"`
	Reference     uuid.UUID       `json:"reference"`
}

type TransferRequest struct {
	SourceAccountID          int64
	DestinationAccountNumber string
	Amount                   decimal.Decimal
	Description              string
}

type TransferResult struct {
	SourceAccountID          int64           `json:"source_account_id"`
	DestinationAccountID     int64           `json:"destination_account_id"`
	SourceBalance            decimal.Decimal `json:"source_balance"`
	DestinationBalance       decimal.Decimal `json:"destination_balance"`
	SourceCurrency           string          `json:"source_currency"`
	DestinationCurrency      string          `json:"destination_currency"`
	Rate                     decimal.Decimal `json:"rate"`
	RateSource               RateSource      `json:"rate_source"`
	ConvertedAmount          decimal.Decimal `json:"converted_amount"`
	TransactionID            int64           `json:"transaction_id"`
	CounterpartTransactionID int64           `json:"counterpart_transaction_id"`
	Reference                uuid.UUID       `json:"reference"`
}

func (s *TransactionService) Deposit(ctx context.Context, caller Caller, req DepositRequest) (*BalanceResult, error) {
	start := time.Now()
	s.logger.Info("Processing deposit", "account_id", req.AccountID, "amount", req.Amount)

	result, err := s.mutateSingle(ctx, caller, req.AccountID, req.Amount,
		describe(req.Description, defaultDepositDescription), domain.TransactionDeposit,
		func(balance decimal.Decimal) (decimal.Decimal, error) {
			next := balance.Add(req.Amount)
			if next.GreaterThan(domain.MaxBalance) {
				return balance, errors.NewAppError(errors.InvalidAmount, "resulting balance exceeds the account limit")
			}
			return next, nil
		})

	s.finish("deposit", err, start)
	return result, err
}

func (s *TransactionService) Withdraw(ctx context.Context, caller Caller, req WithdrawRequest) (*BalanceResult, error) {
	start := time.Now()
	s.logger.Info("Processing withdrawal", "account_id", req.AccountID, "amount", req.Amount)

	result, err := s.mutateSingle(ctx, caller, req.AccountID, req.Amount,
		describe(req.Description, defaultWithdrawDescription), domain.TransactionWithdraw,
		func(balance decimal.Decimal) (decimal.Decimal, error) {
			if balance.LessThan(req.Amount) {
				return balance, errors.ErrInsufficientFunds
			}
			return balance.Sub(req.Amount), nil
		})

	s.finish("withdraw", err, start)
	return result, err
}

// mutateSingle locks one account, applies mutate to its balance and appends
// a single ledger row of the given type.
func (s *TransactionService) mutateSingle(
	ctx context.Context,
	caller Caller,
	accountID int64,
	amount decimal.Decimal,
	description string,
	txType domain.TransactionType,
	mutate func(balance decimal.Decimal) (decimal.Decimal, error),
) (*BalanceResult, error) {
	if !domain.ValidAmount(amount) {
		return nil, errors.ErrInvalidAmount
	}
	if accountID <= 0 {
		return nil, errors.ErrInvalidAccountID
	}
	sel, err := caller.scope(domain.ByID(accountID))
	if err != nil {
		return nil, err
	}

	var result *BalanceResult
	err = s.store.WithTransaction(ctx, func(tx domain.Store) error {
		account, err := tx.Account().FindAccountForUpdate(ctx, sel)
		if err != nil {
			return err
		}

		newBalance, err := mutate(account.Balance)
		if err != nil {
			return err
		}

		if err := tx.Account().UpdateAccountBalance(ctx, account.ID, newBalance); err != nil {
			return err
		}

		entry := &domain.Transaction{
			AccountID:   account.ID,
			Amount:      amount,
			Type:        txType,
			Description: description,
			Reference:   uuid.New(),
		}
		if err := tx.Transaction().CreateTransaction(ctx, entry); err != nil {
			return err
		}

		result = &BalanceResult{
			AccountID:     account.ID,
			Balance:       newBalance,
			Currency:      account.Currency,
			TransactionID: entry.ID,
			Reference:     entry.Reference,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Transfer debits amount from the source account and credits the converted
// amount to the account with the destination number. Both accounts are
// locked in ascending ID order, whichever side they are on, so two transfers
// running in opposite directions cannot deadlock.
func (s *TransactionService) Transfer(ctx context.Context, caller Caller, req TransferRequest) (*TransferResult, error) {
	start := time.Now()
	s.logger.Info("Processing transfer",
		"source_account_id", req.SourceAccountID,
		"destination_account_number", req.DestinationAccountNumber,
		"amount", req.Amount)

	result, err := s.transfer(ctx, caller, req)

	s.finish("transfer", err, start)
	return result, err
}

func (s *TransactionService) transfer(ctx context.Context, caller Caller, req TransferRequest) (*TransferResult, error) {
	if err := s.validateTransfer(req); err != nil {
		return nil, err
	}
	srcSel, err := caller.scope(domain.ByID(req.SourceAccountID))
	if err != nil {
		return nil, err
	}
	destNumber := strings.TrimSpace(req.DestinationAccountNumber)
	description := describe(req.Description, defaultTransferDescription)

	var result *TransferResult
	err = s.store.WithTransaction(ctx, func(tx domain.Store) error {
		accounts := tx.Account()

		src, err := accounts.FindAccount(ctx, srcSel)
		if err != nil {
			return err
		}
		dst, err := accounts.FindAccount(ctx, domain.ByNumber(destNumber))
		if err != nil {
			return destinationError(err)
		}
		if src.ID == dst.ID {
			return errors.ErrSameAccountTransfer
		}

		src, dst, err = lockPair(ctx, accounts,
			domain.ByID(src.ID).OwnedBy(srcSel.OwnerID),
			domain.ByID(dst.ID))
		if err != nil {
			return err
		}

		if src.Balance.LessThan(req.Amount) {
			return errors.ErrInsufficientFunds
		}

		quote, err := s.rates.resolve(ctx, tx.ExchangeRate(), src.Currency, dst.Currency)
		if err != nil {
			return err
		}
		converted := domain.RoundAmount(req.Amount.Mul(quote.Rate))
		if !converted.IsPositive() {
			return errors.NewAppError(errors.InvalidAmount, "amount is too small to convert").
				WithDetails(fmt.Sprintf("%s %s at rate %s", req.Amount, src.Currency, quote.Rate.StringFixed(domain.RateScale)))
		}

		newSrcBalance := src.Balance.Sub(req.Amount)
		newDstBalance := dst.Balance.Add(converted)
		if newDstBalance.GreaterThan(domain.MaxBalance) {
			return errors.NewAppError(errors.InvalidAmount, "resulting balance exceeds the destination account limit")
		}

		if err := accounts.UpdateAccountBalance(ctx, src.ID, newSrcBalance); err != nil {
			return err
		}
		if err := accounts.UpdateAccountBalance(ctx, dst.ID, newDstBalance); err != nil {
			return err
		}

		reference := uuid.New()
		rateText := quote.Rate.StringFixed(domain.RateScale)
		fromID, toID := src.ID, dst.ID

		outgoing := &domain.Transaction{
			AccountID:     src.ID,
			Amount:        req.Amount,
			Type:          domain.TransactionTransfer,
			Description:   annotate(description, fmt.Sprintf(" → %s (rate: %s)", dst.AccountNumber, rateText)),
			Reference:     reference,
			FromAccountID: &fromID,
			ToAccountID:   &toID,
		}
		if err := tx.Transaction().CreateTransaction(ctx, outgoing); err != nil {
			return err
		}

		incoming := &domain.Transaction{
			AccountID:     dst.ID,
			Amount:        converted,
			Type:          domain.TransactionTransfer,
			Description:   annotate(description, fmt.Sprintf(" ← %s (rate: %s)", src.AccountNumber, rateText)),
			Reference:     reference,
			FromAccountID: &fromID,
			ToAccountID:   &toID,
		}
		if err := tx.Transaction().CreateTransaction(ctx, incoming); err != nil {
			return err
		}

		if quote.Fallback() {
			s.logger.Warn("Transfer converted at parity fallback rate",
				"source_currency", src.Currency,
				"destination_currency", dst.Currency,
				"reference", reference)
		}

		result = &TransferResult{
			SourceAccountID:          src.ID,
			DestinationAccountID:     dst.ID,
			SourceBalance:            newSrcBalance,
			DestinationBalance:       newDstBalance,
			SourceCurrency:           src.Currency,
			DestinationCurrency:      dst.Currency,
			Rate:                     quote.Rate,
			RateSource:               quote.Source,
			ConvertedAmount:          converted,
			TransactionID:            outgoing.ID,
			CounterpartTransactionID: incoming.ID,
			Reference:                reference,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *TransactionService) validateTransfer(req TransferRequest) error {
	if !domain.ValidAmount(req.Amount) {
		return errors.ErrInvalidAmount
	}
	if req.SourceAccountID <= 0 {
		return errors.ErrInvalidAccountID
	}
	if strings.TrimSpace(req.DestinationAccountNumber) == "" {
		return errors.ErrDestinationNotFound
	}
	return nil
}

// lockPair locks the source and destination rows in ascending ID order and
// returns their locked state.
func lockPair(ctx context.Context, accounts domain.AccountRepository, srcSel, dstSel domain.AccountSelector) (*domain.Account, *domain.Account, error) {
	lock := func(sel domain.AccountSelector, isDestination bool) (*domain.Account, error) {
		account, err := accounts.FindAccountForUpdate(ctx, sel)
		if err != nil && isDestination {
			return nil, destinationError(err)
		}
		return account, err
	}

	if srcSel.ID < dstSel.ID {
		src, err := lock(srcSel, false)
		if err != nil {
			return nil, nil, err
		}
		dst, err := lock(dstSel, true)
		if err != nil {
			return nil, nil, err
		}
		return src, dst, nil
	}

	dst, err := lock(dstSel, true)
	if err != nil {
		return nil, nil, err
	}
	src, err := lock(srcSel, false)
	if err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}

func destinationError(err error) error {
	if errors.HasCode(err, errors.AccountNotFound) {
		return errors.ErrDestinationNotFound
	}
	return err
}

func describe(description, fallback string) string {
	if d := strings.TrimSpace(description); d != "" {
		return clip(d, domain.MaxDescriptionLength)
	}
	return fallback
}

// annotate appends suffix to description, shortening description so the
// result fits domain.MaxDescriptionLength.
func annotate(description, suffix string) string {
	room := domain.MaxDescriptionLength - utf8.RuneCountInString(suffix)
	return clip(description, room) + suffix
}

func clip(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return strings.TrimRight(string([]rune(text)[:n]), " ")
}

func (s *TransactionService) finish(operation string, err error, start time.Time) {
	elapsed := time.Since(start)
	s.metrics.ObserveOperation(operation, err, elapsed)
	if err != nil {
		s.logger.Warn("Operation aborted", "operation", operation, "outcome", metrics.Outcome(err), "error", err)
		return
	}
	s.logger.Info("Operation committed", "operation", operation, "duration", elapsed)
}
