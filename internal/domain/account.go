package domain

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

// AccountNumberPrefix is the fixed head of every account number.
const AccountNumberPrefix = "40817810"

type Account struct {
	ID            int64           `json:"id"`
	ClientID      int64           `json:"client_id"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	AccountNumber string          `json:"account_number"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AccountSelector picks a single active account either by internal ID or by
// account number. A non-zero OwnerID restricts the match to that client's
// accounts.
type AccountSelector struct {
	ID      int64
	Number  string
	OwnerID int64
}

func ByID(id int64) AccountSelector {
	return AccountSelector{ID: id}
}

func ByNumber(number string) AccountSelector {
	return AccountSelector{Number: number}
}

// OwnedBy returns a copy of s restricted to ownerID; zero leaves it open.
func (s AccountSelector) OwnedBy(ownerID int64) AccountSelector {
	s.OwnerID = ownerID
	return s
}

// Matches reports whether a satisfies the selector. Inactive accounts never
// match.
func (s AccountSelector) Matches(a *Account) bool {
	if a == nil || !a.IsActive {
		return false
	}
	if s.ID != 0 && a.ID != s.ID {
		return false
	}
	if s.Number != "" && a.AccountNumber != s.Number {
		return false
	}
	if s.OwnerID != 0 && a.ClientID != s.OwnerID {
		return false
	}
	return s.ID != 0 || s.Number != ""
}

func (s AccountSelector) String() string {
	if s.ID != 0 {
		return fmt.Sprintf("id:%d", s.ID)
	}
	return "number:" + s.Number
}

// NewAccountNumber draws a candidate number: the fixed prefix followed by
// eight random digits in [10000000, 99999999]. Uniqueness is checked by the
// caller against the store.
func NewAccountNumber(rnd *rand.Rand) string {
	var n int
	if rnd == nil {
		n = 10000000 + rand.IntN(90000000)
	} else {
		n = 10000000 + rnd.IntN(90000000)
	}
	return fmt.Sprintf("%s%d", AccountNumberPrefix, n)
}

type AccountRepository interface {
	CreateAccount(ctx context.Context, account *Account) error
	AccountNumberExists(ctx context.Context, number string) (bool, error)
	FindAccount(ctx context.Context, sel AccountSelector) (*Account, error)
	// FindAccountForUpdate takes the account's exclusive lock, held until the
	// enclosing unit of work commits or rolls back.
	FindAccountForUpdate(ctx context.Context, sel AccountSelector) (*Account, error)
	UpdateAccountBalance(ctx context.Context, id int64, newBalance decimal.Decimal) error
	DeactivateAccount(ctx context.Context, id int64) error
	ListAccountsByClient(ctx context.Context, clientID int64) ([]Account, error)
	ListActiveAccounts(ctx context.Context, limit int) ([]Account, error)
}
