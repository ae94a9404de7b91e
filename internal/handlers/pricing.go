package handlers

import (
	"net/http"

	"parking/internal/models"
	"parking/internal/money"
	"parking/internal/services"
)

type pricingRequest struct {
	MinimumHours      int     `json:"minimum_hours" validate:"gte=0"`
	MinimumRate       string  `json:"minimum_rate" validate:"required,money"`
	IncrementMinutes  int     `json:"increment_minutes" validate:"required,gt=0"`
	IncrementRate     string  `json:"increment_rate" validate:"required,money"`
	DailySpecialHours *int    `json:"daily_special_hours" validate:"omitempty,gt=0"`
	DailySpecialRate  *string `json:"daily_special_rate" validate:"omitempty,money"`
	MonthlyRate       string  `json:"monthly_rate" validate:"required,money"`
	LostTicketFee     string  `json:"lost_ticket_fee" validate:"required,money"`
}

func (req pricingRequest) config(w http.ResponseWriter) (models.PricingConfig, bool) {
	cfg := models.PricingConfig{
		MinimumHours:      req.MinimumHours,
		IncrementMinutes:  req.IncrementMinutes,
		DailySpecialHours: req.DailySpecialHours,
	}
	amounts := []struct {
		field string
		raw   string
		dst   *money.Money
	}{
		{"minimum_rate", req.MinimumRate, &cfg.MinimumRate},
		{"increment_rate", req.IncrementRate, &cfg.IncrementRate},
		{"monthly_rate", req.MonthlyRate, &cfg.MonthlyRate},
		{"lost_ticket_fee", req.LostTicketFee, &cfg.LostTicketFee},
	}
	for _, a := range amounts {
		parsed, ok := parseAmount(w, a.field, a.raw)
		if !ok {
			return models.PricingConfig{}, false
		}
		*a.dst = parsed
	}
	if req.DailySpecialRate != nil {
		rate, ok := parseAmount(w, "daily_special_rate", *req.DailySpecialRate)
		if !ok {
			return models.PricingConfig{}, false
		}
		cfg.DailySpecialRate = &rate
	}
	return cfg, true
}

func (h *Handler) ActivePricing(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.pricing.Active(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (h *Handler) PublishPricing(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := operatorFromContext(w, r)
	if !ok {
		return
	}
	var req pricingRequest
	if !decode(w, r, &req) {
		return
	}
	cfg, ok := req.config(w)
	if !ok {
		return
	}
	published, err := h.pricing.Publish(r.Context(), services.PublishPricingRequest{
		Config:  cfg,
		ActorID: operatorID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, published)
}

func (h *Handler) PricingHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	history, err := h.pricing.History(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}
