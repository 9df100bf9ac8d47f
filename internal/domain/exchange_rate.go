package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate converts one unit of FromCurrency into Rate units of
// ToCurrency. There is at most one row per ordered pair.
type ExchangeRate struct {
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ExchangeRateRepository interface {
	// FindRate returns nil, nil when the ordered pair is not stored.
	FindRate(ctx context.Context, from, to string) (*ExchangeRate, error)
	UpsertRate(ctx context.Context, rate *ExchangeRate) error
	ListRates(ctx context.Context) ([]ExchangeRate, error)
}
