package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionDeposit  TransactionType = "deposit"
	TransactionWithdraw TransactionType = "withdraw"
	TransactionTransfer TransactionType = "transfer"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionDeposit, TransactionWithdraw, TransactionTransfer:
		return true
	}
	return false
}

// MaxDescriptionLength caps a stored row description, in runes.
const MaxDescriptionLength = 255

// Transaction is one immutable ledger row. Amount is positive and expressed
// in the owning account's currency. Rows written by the same operation share
// Reference.
type Transaction struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Type          TransactionType `json:"type"`
	Description   string          `json:"description"`
	Reference     uuid.UUID       `json:"reference"`
	Timestamp     time.Time       `json:"timestamp"`
	FromAccountID *int64          `json:"from_account_id,omitempty"`
	ToAccountID   *int64          `json:"to_account_id,omitempty"`
}

// TransactionRepository is append-only: there is no update or delete.
type TransactionRepository interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransactionByID(ctx context.Context, id int64) (*Transaction, error)
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]Transaction, error)
	ListByReference(ctx context.Context, reference uuid.UUID) ([]Transaction, error)
	CountByAccount(ctx context.Context, accountID int64) (int, error)
}
