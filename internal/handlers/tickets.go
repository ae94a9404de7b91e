package handlers

import (
	"net/http"

	"parking/internal/services"

	"github.com/go-chi/chi/v5"
)

type openTicketRequest struct {
	PlateNumber string `json:"plate_number" validate:"required,plate"`
}

func (h *Handler) OpenTicket(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	var req openTicketRequest
	if !decode(w, r, &req) {
		return
	}
	ticket, err := h.tickets.Open(r.Context(), services.OpenTicketRequest{
		PlateNumber: req.PlateNumber,
		OperatorID:  operatorID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.tickets.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ticket)
}

func (h *Handler) QuoteTicket(w http.ResponseWriter, r *http.Request) {
	quote, err := h.tickets.Quote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

type payRequest struct {
	CashReceived string `json:"cash_received" validate:"required,money"`
}

func (h *Handler) PayTicket(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	var req payRequest
	if !decode(w, r, &req) {
		return
	}
	cash, ok := parseAmount(w, "cash_received", req.CashReceived)
	if !ok {
		return
	}
	result, err := h.tickets.Pay(r.Context(), services.PayRequest{
		TicketID:     chi.URLParam(r, "id"),
		CashReceived: cash,
		OperatorID:   operatorID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type lostTicketRequest struct {
	PlateNumber  string `json:"plate_number" validate:"required,plate"`
	CashReceived string `json:"cash_received" validate:"required,money"`
}

func (h *Handler) ReportLost(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	var req lostTicketRequest
	if !decode(w, r, &req) {
		return
	}
	cash, ok := parseAmount(w, "cash_received", req.CashReceived)
	if !ok {
		return
	}
	result, err := h.tickets.ReportLost(r.Context(), services.LostTicketRequest{
		PlateNumber:  req.PlateNumber,
		CashReceived: cash,
		OperatorID:   operatorID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) AuthorizeExit(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	result, err := h.tickets.AuthorizeExit(r.Context(), chi.URLParam(r, "id"), operatorID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type cancelTicketRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	var req cancelTicketRequest
	if !decode(w, r, &req) {
		return
	}
	ticket, err := h.tickets.Cancel(r.Context(), services.CancelTicketRequest{
		TicketID:   chi.URLParam(r, "id"),
		OperatorID: operatorID,
		Reason:     req.Reason,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ticket)
}

type refundRequest struct {
	Amount string `json:"amount" validate:"required,money"`
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) RefundTicket(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	txn, err := h.tickets.Refund(r.Context(), services.RefundRequest{
		TicketID:   chi.URLParam(r, "id"),
		Amount:     amount,
		Reason:     req.Reason,
		OperatorID: operatorID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}
