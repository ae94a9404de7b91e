package handlers

import (
	"net/http"
	"time"

	"parking/internal/services"

	"github.com/go-chi/chi/v5"
)

type pensionRequest struct {
	PlateNumber  string `json:"plate_number" validate:"required,plate"`
	Months       int    `json:"months"`
	CashReceived string `json:"cash_received" validate:"required,money"`
}

func (h *Handler) SellPension(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	var req pensionRequest
	if !decode(w, r, &req) {
		return
	}
	cash, ok := parseAmount(w, "cash_received", req.CashReceived)
	if !ok {
		return
	}
	result, err := h.pensions.Sell(r.Context(), services.PensionRequest{
		PlateNumber:  req.PlateNumber,
		Months:       req.Months,
		CashReceived: cash,
		OperatorID:   operatorID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) ActivePension(w http.ResponseWriter, r *http.Request) {
	pension, err := h.pensions.ActiveForPlate(r.Context(), chi.URLParam(r, "plate"), time.Now().UTC())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if pension == nil {
		respondError(w, http.StatusNotFound, "pension_not_found", "no active pension for plate")
		return
	}
	respondJSON(w, http.StatusOK, pension)
}
