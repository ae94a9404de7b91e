package handlers

import (
	"net/http"

	"parking/internal/models"
	"parking/internal/services"
	"parking/internal/store"
	"parking/internal/websocket"

	"github.com/go-chi/chi/v5"
)

type openRegisterRequest struct {
	OpeningBalance string `json:"opening_balance" validate:"required,money"`
}

func (h *Handler) OpenRegister(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	var req openRegisterRequest
	if !decode(w, r, &req) {
		return
	}
	opening, ok := parseAmount(w, "opening_balance", req.OpeningBalance)
	if !ok {
		return
	}
	register, err := h.registers.Open(r.Context(), services.OpenRegisterRequest{
		OperatorID:     operatorID,
		OpeningBalance: opening,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, register)
}

func (h *Handler) CurrentRegister(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	register, balance, err := h.registers.CurrentForOperator(r.Context(), operatorID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"register": register,
		"balance":  balance,
	})
}

type adjustRequest struct {
	Type   string `json:"type" validate:"required,oneof=DEPOSIT WITHDRAWAL"`
	Amount string `json:"amount" validate:"required,money"`
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) AdjustRegister(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if !decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	flow, err := h.registers.Adjust(r.Context(), services.AdjustRequest{
		OperatorID: operatorID,
		Type:       models.CashFlowType(req.Type),
		Amount:     amount,
		Reason:     req.Reason,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, flow)
}

type closeRegisterRequest struct {
	CountedBalance string `json:"counted_balance" validate:"required,money"`
	Notes          string `json:"notes" validate:"max=2000"`
}

func (h *Handler) CloseRegister(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	var req closeRegisterRequest
	if !decode(w, r, &req) {
		return
	}
	counted, ok := parseAmount(w, "counted_balance", req.CountedBalance)
	if !ok {
		return
	}
	result, err := h.registers.Close(r.Context(), services.CloseRegisterRequest{
		OperatorID:     operatorID,
		CountedBalance: counted,
		Notes:          req.Notes,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RegisterBalance follows the same visibility rule as RegisterJournal.
func (h *Handler) RegisterBalance(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	balance, err := h.registers.CurrentBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !h.canReadRegister(w, r, operatorID, balance.OperatorID) {
		return
	}
	respondJSON(w, http.StatusOK, balance)
}

// RegisterJournal lists a register's events. Cashiers only see their own
// registers; audit viewers see any.
func (h *Handler) RegisterJournal(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	limit, offset := page(r)
	journal, err := h.registers.Journal(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !h.canReadRegister(w, r, operatorID, journal.Register.OperatorID) {
		return
	}
	respondJSON(w, http.StatusOK, journal)
}

// canReadRegister writes the 403 or 500 itself when the caller may not see
// ownerID's register.
func (h *Handler) canReadRegister(w http.ResponseWriter, r *http.Request, operatorID, ownerID string) bool {
	if ownerID == operatorID {
		return true
	}
	allowed, err := h.canViewAudit(r, operatorID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "unable to verify admin")
		return false
	}
	if !allowed {
		respondError(w, http.StatusForbidden, "forbidden", "register belongs to another operator")
		return false
	}
	return true
}

func (h *Handler) canViewAudit(r *http.Request, operatorID string) (bool, error) {
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), operatorID)
	if err != nil || !isAdmin {
		return false, err
	}
	if isSuper {
		return true, nil
	}
	return h.admin.HasRole(r.Context(), operatorID, store.RoleViewAudit)
}

// WSRegister streams balance updates for the caller's drawer. The token may
// come from ?token= since browsers cannot set headers on upgrades.
func (h *Handler) WSRegister(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	websocket.ServeWS(w, r, h.hub, operatorID)
}
