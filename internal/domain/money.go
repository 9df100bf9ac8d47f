package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept for balances and
// ledger amounts.
const AmountScale int32 = 2

// RateScale is the number of fractional digits stored for exchange rates.
const RateScale int32 = 4

// MaxBalance is the largest value a NUMERIC(12,2) balance column holds.
var MaxBalance = decimal.RequireFromString("9999999999.99")

// DefaultCurrency is used when an account is opened without one.
const DefaultCurrency = "RUB"

var supportedCurrencies = []string{"RUB", "USD", "EUR"}

// SupportedCurrencies lists the currencies new accounts may be opened in.
func SupportedCurrencies() []string {
	out := make([]string, len(supportedCurrencies))
	copy(out, supportedCurrencies)
	return out
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func IsSupportedCurrency(code string) bool {
	code = NormalizeCurrency(code)
	for _, c := range supportedCurrencies {
		if c == code {
			return true
		}
	}
	return false
}

// IsCurrencyCode reports whether code looks like a 3-letter currency code.
func IsCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// ValidAmount reports whether amount is strictly positive and representable
// at the ledger scale without rounding.
func ValidAmount(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	return amount.Equal(amount.Round(AmountScale))
}

// RoundAmount rounds half away from zero to the ledger scale, matching
// PostgreSQL NUMERIC rounding.
func RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(AmountScale)
}
