package handler

import (
	"net/http"
	"strconv"
	"time"

	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
	"multicurrency-ledger/internal/service"
)

type AccountHandler struct {
	accountService *service.AccountService
}

func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

type RegisterClientRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Phone string `json:"phone" validate:"omitempty,max=15"`
	Email string `json:"email" validate:"omitempty,email"`
}

type OpenAccountRequest struct {
	ClientID int64  `json:"client_id" validate:"omitempty,gt=0"`
	Currency string `json:"currency" validate:"omitempty,len=3,alpha"`
}

type AccountResponse struct {
	AccountID     int64  `json:"account_id"`
	ClientID      int64  `json:"client_id"`
	AccountNumber string `json:"account_number"`
	Balance       string `json:"balance"`
	Currency      string `json:"currency"`
	CreatedAt     string `json:"created_at"`
}

type EnsureAccountResponse struct {
	AccountResponse
	Created bool `json:"created"`
}

func toAccountResponse(a *domain.Account) AccountResponse {
	return AccountResponse{
		AccountID:     a.ID,
		ClientID:      a.ClientID,
		AccountNumber: a.AccountNumber,
		Balance:       a.Balance.StringFixed(domain.AmountScale),
		Currency:      a.Currency,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *AccountHandler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var req RegisterClientRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	client, err := h.accountService.RegisterClient(r.Context(), service.RegisterClientRequest{
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, client)
}

func (h *AccountHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	caller, req, ok := h.openRequest(w, r)
	if !ok {
		return
	}

	account, err := h.accountService.OpenAccount(r.Context(), caller, req.ClientID, req.Currency)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *AccountHandler) EnsureAccount(w http.ResponseWriter, r *http.Request) {
	caller, req, ok := h.openRequest(w, r)
	if !ok {
		return
	}

	account, created, err := h.accountService.EnsureAccount(r.Context(), caller, req.ClientID, req.Currency)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, EnsureAccountResponse{
		AccountResponse: toAccountResponse(account),
		Created:         created,
	})
}

func (h *AccountHandler) openRequest(w http.ResponseWriter, r *http.Request) (service.Caller, OpenAccountRequest, bool) {
	var req OpenAccountRequest
	caller, err := CallerFromRequest(r)
	if err != nil {
		WriteError(w, r, err)
		return caller, req, false
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return caller, req, false
	}
	return caller, req, true
}

func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromRequest(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	accounts, err := h.accountService.ListAccounts(r.Context(), caller)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	response := make([]AccountResponse, 0, len(accounts))
	for i := range accounts {
		response = append(response, toAccountResponse(&accounts[i]))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
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

	account, err := h.accountService.GetAccount(r.Context(), caller, accountID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *AccountHandler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
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

	if err := h.accountService.DeactivateAccount(r.Context(), caller, accountID); err != nil {
		WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
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

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteError(w, r, errors.NewAppError(errors.InvalidInput, "limit must be a non-negative integer"))
			return
		}
	}

	entries, err := h.accountService.History(r.Context(), caller, accountID, limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	total, err := h.accountService.HistorySize(r.Context(), caller, accountID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeJSON(w, http.StatusOK, entries)
}
