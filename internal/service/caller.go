package service

import (
	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
)

// Caller identifies who invokes an operation. The identity is established by
// the layer in front of the service; the service only applies ownership.
type Caller struct {
	ClientID int64
	Admin    bool
}

// AdminCaller may select any active account.
func AdminCaller() Caller {
	return Caller{Admin: true}
}

func ClientCaller(clientID int64) Caller {
	return Caller{ClientID: clientID}
}

// scope restricts sel to the caller's own accounts unless the caller is an
// administrator.
func (c Caller) scope(sel domain.AccountSelector) (domain.AccountSelector, error) {
	if c.Admin {
		return sel, nil
	}
	if c.ClientID <= 0 {
		return sel, errors.ErrForbidden
	}
	return sel.OwnedBy(c.ClientID), nil
}
