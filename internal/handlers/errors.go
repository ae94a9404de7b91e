package handlers

import (
	"context"
	"errors"
	"net/http"

	"parking/internal/money"
	"parking/internal/pricing"
	"parking/internal/services"

	"github.com/rs/zerolog/log"
)

type errorStatus struct {
	err    error
	status int
	code   string
}

var errorStatuses = []errorStatus{
	{money.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{money.ErrAmountOverflow, http.StatusBadRequest, "amount_overflow"},
	{pricing.ErrNegativeDuration, http.StatusBadRequest, "negative_duration"},
	{pricing.ErrInvalidDuration, http.StatusBadRequest, "invalid_duration"},
	{services.ErrInvalidPlate, http.StatusBadRequest, "invalid_plate"},
	{services.ErrNonPositiveAmount, http.StatusBadRequest, "non_positive_amount"},
	{services.ErrInvalidCashFlowType, http.StatusBadRequest, "invalid_cash_flow_type"},
	{services.ErrReasonRequired, http.StatusBadRequest, "reason_required"},
	{services.ErrTicketNotFound, http.StatusNotFound, "ticket_not_found"},
	{services.ErrRegisterNotFound, http.StatusNotFound, "register_not_found"},
	{services.ErrTicketAlreadyProcessed, http.StatusConflict, "ticket_already_processed"},
	{services.ErrDuplicateActiveEntry, http.StatusConflict, "duplicate_active_entry"},
	{services.ErrRegisterAlreadyOpen, http.StatusConflict, "register_already_open"},
	{services.ErrRegisterClosed, http.StatusConflict, "register_closed"},
	{services.ErrInsufficientPayment, http.StatusPaymentRequired, "insufficient_payment"},
	{services.ErrPaymentRequired, http.StatusPaymentRequired, "payment_required"},
	{services.ErrNotesRequired, http.StatusUnprocessableEntity, "notes_required"},
	{services.ErrRefundExceedsPayment, http.StatusUnprocessableEntity, "refund_exceeds_payment"},
	{pricing.ErrInvalidConfig, http.StatusUnprocessableEntity, "invalid_config"},
	{services.ErrPricingNotConfigured, http.StatusServiceUnavailable, "pricing_not_configured"},
}

// respondServiceError maps a service error onto a status and a stable code.
// Storage details are logged, never returned.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if mapping, ok := lookupStatus(err); ok {
		respondError(w, mapping.status, mapping.code, err.Error())
		return
	}
	switch {
	case errors.Is(err, services.ErrPersistenceTimeout):
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("persistence timeout")
		respondError(w, http.StatusGatewayTimeout, "persistence_timeout", "the operation did not complete, retry")
	case errors.Is(err, context.Canceled):
		respondError(w, http.StatusRequestTimeout, "request_cancelled", "request cancelled")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "persistence_failure", "the operation did not complete")
	}
}

func lookupStatus(err error) (errorStatus, bool) {
	for _, mapping := range errorStatuses {
		if errors.Is(err, mapping.err) {
			return mapping, true
		}
	}
	return errorStatus{}, false
}
