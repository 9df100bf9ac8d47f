package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"multicurrency-ledger/internal/service"
)

type ExchangeRateHandler struct {
	rateService *service.ExchangeRateService
}

func NewExchangeRateHandler(rateService *service.ExchangeRateService) *ExchangeRateHandler {
	return &ExchangeRateHandler{
		rateService: rateService,
	}
}

type SetRateRequest struct {
	Rate string `json:"rate" validate:"required"`
}

func (h *ExchangeRateHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.rateService.ListRates(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rates)
}

// GetRate reports the rate a transfer between the pair would use right now,
// including where it came from.
func (h *ExchangeRateHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	quote, err := h.rateService.Resolve(r.Context(), vars["from"], vars["to"])
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *ExchangeRateHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromRequest(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req SetRateRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	rate, err := parseAmount(req.Rate)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	vars := mux.Vars(r)
	record, err := h.rateService.SetRate(r.Context(), caller, vars["from"], vars["to"], rate)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
