package domain

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidAmount(t *testing.T) {
	valid := []string{"0.01", "1", "100.5", "100.50", "9999999999.99"}
	for _, v := range valid {
		assert.True(t, ValidAmount(decimal.RequireFromString(v)), v)
	}

	invalid := []string{"0", "0.00", "-1", "-0.01", "1.005", "0.001"}
	for _, v := range invalid {
		assert.False(t, ValidAmount(decimal.RequireFromString(v)), v)
	}
}

func TestRoundAmountHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "0.01", RoundAmount(decimal.RequireFromString("0.005")).StringFixed(2))
	assert.Equal(t, "0.00", RoundAmount(decimal.RequireFromString("0.0049")).StringFixed(2))
	assert.Equal(t, "11.00", RoundAmount(decimal.RequireFromString("11.000")).StringFixed(2))
	assert.Equal(t, "-0.01", RoundAmount(decimal.RequireFromString("-0.005")).StringFixed(2))
}

func TestCurrencyCodes(t *testing.T) {
	assert.Equal(t, "USD", NormalizeCurrency(" usd "))
	assert.True(t, IsSupportedCurrency("eur"))
	assert.False(t, IsSupportedCurrency("GBP"))

	assert.True(t, IsCurrencyCode("GBP"))
	assert.False(t, IsCurrencyCode("gbp"))
	assert.False(t, IsCurrencyCode("US"))
	assert.False(t, IsCurrencyCode("U5D"))

	list := SupportedCurrencies()
	list[0] = "XXX"
	assert.Equal(t, "RUB", SupportedCurrencies()[0])
}

func TestNewAccountNumber(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		number := NewAccountNumber(rnd)

		assert.Len(t, number, 16)
		assert.True(t, strings.HasPrefix(number, AccountNumberPrefix))

		suffix, err := strconv.Atoi(number[len(AccountNumberPrefix):])
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, suffix, 10000000)
		assert.LessOrEqual(t, suffix, 99999999)
	}

	assert.Len(t, NewAccountNumber(nil), 16)
}

func TestAccountSelectorMatches(t *testing.T) {
	account := &Account{ID: 7, ClientID: 3, AccountNumber: "4081781012345678", IsActive: true}

	assert.True(t, ByID(7).Matches(account))
	assert.True(t, ByNumber("4081781012345678").Matches(account))
	assert.True(t, ByID(7).OwnedBy(3).Matches(account))
	assert.True(t, ByID(7).OwnedBy(0).Matches(account))

	assert.False(t, ByID(8).Matches(account))
	assert.False(t, ByID(7).OwnedBy(4).Matches(account))
	assert.False(t, AccountSelector{}.Matches(account))
	assert.False(t, ByID(7).Matches(nil))

	account.IsActive = false
	assert.False(t, ByID(7).Matches(account))
}

func TestAccountSelectorString(t *testing.T) {
	assert.Equal(t, "id:7", ByID(7).String())
	assert.Equal(t, "number:4081781012345678", ByNumber("4081781012345678").String())
}

func TestTransactionTypeValid(t *testing.T) {
	assert.True(t, TransactionDeposit.Valid())
	assert.True(t, TransactionWithdraw.Valid())
	assert.True(t, TransactionTransfer.Valid())
	assert.False(t, TransactionType("refund").Valid())
}
