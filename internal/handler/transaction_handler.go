package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"multicurrency-ledger/internal/errors"
	"multicurrency-ledger/internal/service"
)

type TransactionHandler struct {
	transactionService *service.TransactionService
	accountService     *service.AccountService
}

func NewTransactionHandler(transactionService *service.TransactionService, accountService *service.AccountService) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
		accountService:     accountService,
	}
}

type BalanceChangeRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description" validate:"max=255"`
}

type TransferRequest struct {
	SourceAccountID          int64  `json:"source_account_id" validate:"required,gt=0"`
	DestinationAccountNumber string `json:"destination_account_number" validate:"required,max=20"`
	Amount                   string `json:"amount" validate:"required"`
	Description              string `json:"description" validate:"max=255"`
}

func (h *TransactionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.balanceChange(w, r, func(caller service.Caller, accountID int64, req BalanceChangeRequest) (*service.BalanceResult, error) {
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return nil, err
		}
		return h.transactionService.Deposit(r.Context(), caller, service.DepositRequest{
			AccountID:   accountID,
			Amount:      amount,
			Description: req.Description,
		})
	})
}

func (h *TransactionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.balanceChange(w, r, func(caller service.Caller, accountID int64, req BalanceChangeRequest) (*service.BalanceResult, error) {
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return nil, err
		}
		return h.transactionService.Withdraw(r.Context(), caller, service.WithdrawRequest{
			AccountID:   accountID,
			Amount:      amount,
			Description: req.Description,
		})
	})
}

func (h *TransactionHandler) balanceChange(
	w http.ResponseWriter,
	r *http.Request,
	apply func(service.Caller, int64, BalanceChangeRequest) (*service.BalanceResult, error),
) {
	caller, err := CallerFromRequest(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	accountID, err := pathID(r, "account_id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req BalanceChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	result, err := apply(caller, accountID, req)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromRequest(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	result, err := h.transactionService.Transfer(r.Context(), caller, service.TransferRequest{
		SourceAccountID:          req.SourceAccountID,
		DestinationAccountNumber: req.DestinationAccountNumber,
		Amount:                   amount,
		Description:              req.Description,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *TransactionHandler) Operation(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromRequest(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	reference, err := uuid.Parse(mux.Vars(r)["reference"])
	if err != nil {
		WriteError(w, r, errors.NewAppError(errors.InvalidInput, "invalid operation reference").WithDetails(err.Error()))
		return
	}

	rows, err := h.accountService.Operation(r.Context(), caller, reference)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rows)
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromRequest(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	transactionID, err := pathID(r, "transaction_id")
	if err != nil {
		WriteError(w, r, err)
		return
	}

	entry, err := h.accountService.Transaction(r.Context(), caller, transactionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}
