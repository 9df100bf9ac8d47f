package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
	"multicurrency-ledger/internal/metrics"
)

// RateSource names the resolution step that produced a rate.
type RateSource string

const (
	RateIdentity RateSource = "identity"
	RateDirect   RateSource = "direct"
	RateInverse  RateSource = "inverse"
	RateDefault  RateSource = "default"
	// RateParity is the 1:1 fallback for pairs nobody has priced. It is not
	// a market rate.
	RateParity RateSource = "parity"
)

type RateQuote struct {
	From   string          `json:"from_currency"`
	To     string          `json:"to_currency"`
	Rate   decimal.Decimal `json:"rate"`
	Source RateSource      `json:"source"`
}

// Fallback reports whether the quote is the parity guess for an unknown
// pair.
func (q RateQuote) Fallback() bool {
	return q.Source == RateParity
}

type currencyPair struct {
	from, to string
}

var defaultRates = map[currencyPair]decimal.Decimal{
	{"RUB", "USD"}: decimal.RequireFromString("0.011"),
	{"RUB", "EUR"}: decimal.RequireFromString("0.009"),
	{"USD", "RUB"}: decimal.RequireFromString("90.0"),
	{"USD", "EUR"}: decimal.RequireFromString("0.85"),
	{"EUR", "RUB"}: decimal.RequireFromString("110.0"),
	{"EUR", "USD"}: decimal.RequireFromString("1.18"),
}

// ExchangeRateService resolves conversion rates and maintains the stored
// rate table.
type ExchangeRateService struct {
	store   domain.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewExchangeRateService(store domain.Store, m *metrics.Metrics, logger *slog.Logger) *ExchangeRateService {
	return &ExchangeRateService{
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// Resolve returns the rate converting one unit of from into to. It tries
// identity, the stored direct rate, the inverse of the stored reverse rate
// and the built-in defaults, and finally falls back to parity. A missing
// rate is never an error; only a storage failure is.
func (s *ExchangeRateService) Resolve(ctx context.Context, from, to string) (RateQuote, error) {
	return s.resolve(ctx, s.store.ExchangeRate(), from, to)
}

func (s *ExchangeRateService) resolve(ctx context.Context, repo domain.ExchangeRateRepository, from, to string) (RateQuote, error) {
	from = domain.NormalizeCurrency(from)
	to = domain.NormalizeCurrency(to)
	quote := RateQuote{From: from, To: to}

	if from == to {
		quote.Rate, quote.Source = decimal.NewFromInt(1), RateIdentity
		s.metrics.ObserveRateSource(string(quote.Source))
		return quote, nil
	}

	direct, err := repo.FindRate(ctx, from, to)
	if err != nil {
		return quote, err
	}
	if direct != nil && direct.Rate.IsPositive() {
		quote.Rate, quote.Source = direct.Rate, RateDirect
		s.metrics.ObserveRateSource(string(quote.Source))
		return quote, nil
	}

	reverse, err := repo.FindRate(ctx, to, from)
	if err != nil {
		return quote, err
	}
	if reverse != nil && reverse.Rate.IsPositive() {
		quote.Rate, quote.Source = decimal.NewFromInt(1).Div(reverse.Rate), RateInverse
		s.metrics.ObserveRateSource(string(quote.Source))
		return quote, nil
	}

	if rate, ok := defaultRates[currencyPair{from, to}]; ok {
		quote.Rate, quote.Source = rate, RateDefault
		s.metrics.ObserveRateSource(string(quote.Source))
		return quote, nil
	}

	s.logger.Warn("No exchange rate known, converting at parity", "from", from, "to", to)
	quote.Rate, quote.Source = decimal.NewFromInt(1), RateParity
	s.metrics.ObserveRateSource(string(quote.Source))
	return quote, nil
}

// SetRate stores the rate for the ordered pair, replacing any previous one.
func (s *ExchangeRateService) SetRate(ctx context.Context, caller Caller, from, to string, rate decimal.Decimal) (*domain.ExchangeRate, error) {
	if !caller.Admin {
		return nil, errors.ErrForbidden
	}

	from = domain.NormalizeCurrency(from)
	to = domain.NormalizeCurrency(to)
	if !domain.IsCurrencyCode(from) || !domain.IsCurrencyCode(to) {
		return nil, errors.NewAppError(errors.InvalidCurrency, "currency codes must be 3 letters")
	}
	if from == to {
		return nil, errors.NewAppError(errors.InvalidInput, "from and to currencies cannot be the same")
	}
	if !rate.IsPositive() || rate.Round(domain.RateScale).IsZero() {
		return nil, errors.NewAppError(errors.InvalidInput, "exchange rate must be positive")
	}

	record := &domain.ExchangeRate{
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         rate,
	}
	if err := s.store.ExchangeRate().UpsertRate(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("Exchange rate updated", "from", from, "to", to, "rate", record.Rate)
	return record, nil
}

func (s *ExchangeRateService) ListRates(ctx context.Context) ([]domain.ExchangeRate, error) {
	return s.store.ExchangeRate().ListRates(ctx)
}
