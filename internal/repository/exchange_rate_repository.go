package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/shopspring/decimal"

	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
)

type exchangeRateRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewExchangeRateRepository(db SQLExecutor, logger *slog.Logger) domain.ExchangeRateRepository {
	return &exchangeRateRepository{
		db:     db,
		logger: logger,
	}
}

func (r *exchangeRateRepository) FindRate(ctx context.Context, from, to string) (*domain.ExchangeRate, error) {
	query := `
		SELECT from_currency, to_currency, rate, updated_at
		FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2
	`

	rate, err := scanRate(r.db.QueryRowContext(ctx, query, from, to))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get exchange rate", "from", from, "to", to, "error", err)
		return nil, classifyError(err, "failed to get exchange rate")
	}
	return rate, nil
}

func (r *exchangeRateRepository) UpsertRate(ctx context.Context, rate *domain.ExchangeRate) error {
	query := `
		INSERT INTO exchange_rates (from_currency, to_currency, rate, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (from_currency, to_currency)
		DO UPDATE SET rate = EXCLUDED.rate, updated_at = EXCLUDED.updated_at
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		rate.FromCurrency,
		rate.ToCurrency,
		rate.Rate.StringFixed(domain.RateScale),
	).Scan(&rate.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to save exchange rate",
			"from", rate.FromCurrency, "to", rate.ToCurrency, "error", err)
		return classifyError(err, "failed to save exchange rate")
	}

	rate.Rate = rate.Rate.Round(domain.RateScale)
	r.logger.Info("Exchange rate saved", "from", rate.FromCurrency, "to", rate.ToCurrency, "rate", rate.Rate)
	return nil
}

func (r *exchangeRateRepository) ListRates(ctx context.Context) ([]domain.ExchangeRate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT from_currency, to_currency, rate, updated_at
		FROM exchange_rates
		ORDER BY from_currency, to_currency
	`)
	if err != nil {
		r.logger.Error("Failed to list exchange rates", "error", err)
		return nil, classifyError(err, "failed to list exchange rates")
	}
	defer rows.Close()

	rates := make([]domain.ExchangeRate, 0)
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, classifyError(err, "failed to scan exchange rate")
		}
		rates = append(rates, *rate)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err, "failed to list exchange rates")
	}
	return rates, nil
}

func scanRate(row rowScanner) (*domain.ExchangeRate, error) {
	var rate domain.ExchangeRate
	var rateStr string
	if err := row.Scan(&rate.FromCurrency, &rate.ToCurrency, &rateStr, &rate.UpdatedAt); err != nil {
		return nil, err
	}
	value, err := decimal.NewFromString(rateStr)
	if err != nil {
		return nil, errors.Internal("failed to parse exchange rate", err)
	}
	rate.Rate = value
	return &rate, nil
}
