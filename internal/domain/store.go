package domain

import "context"

// Store groups the repositories behind one unit of work. Repositories
// obtained from the Store passed to WithTransaction's callback share that
// unit of work: their writes commit together when fn returns nil and are
// discarded otherwise, and row locks taken through them are released at the
// same moment.
type Store interface {
	Account() AccountRepository
	Transaction() TransactionRepository
	Client() ClientRepository
	ExchangeRate() ExchangeRateRepository
	WithTransaction(ctx context.Context, fn func(tx Store) error) error
}
