package services

import (
	"context"
	"errors"
	"fmt"

	"parking/internal/money"
	"parking/internal/pricing"
	"parking/internal/validator"
)

var (
	ErrTicketNotFound         = errors.New("ticket not found")
	ErrTicketAlreadyProcessed = errors.New("ticket already processed")
	ErrDuplicateActiveEntry   = errors.New("plate already has an active ticket")
	ErrInsufficientPayment    = errors.New("insufficient payment")
	ErrPaymentRequired        = errors.New("payment required")
	ErrRegisterAlreadyOpen    = errors.New("register already open")
	ErrRegisterClosed         = errors.New("register closed")
	ErrRegisterNotFound       = errors.New("register not found")
	ErrNonPositiveAmount      = errors.New("amount must be positive")
	ErrInvalidCashFlowType    = errors.New("invalid cash flow type")
	ErrPricingNotConfigured   = errors.New("no active pricing config")
	ErrRefundExceedsPayment   = errors.New("refund exceeds amount paid")
	ErrNotesRequired          = errors.New("notes required for critical discrepancy")
	ErrReasonRequired         = errors.New("reason required")

	ErrInvalidAmount = money.ErrInvalidAmount
	ErrInvalidPlate  = validator.ErrInvalidPlate

	// ErrPersistenceTimeout and ErrPersistenceFailure mean the mutation did not happen.
	ErrPersistenceTimeout = errors.New("persistence timeout")
	ErrPersistenceFailure = errors.New("persistence failure")
)

var domainErrors = []error{
	ErrTicketNotFound,
	ErrTicketAlreadyProcessed,
	ErrDuplicateActiveEntry,
	ErrInsufficientPayment,
	ErrPaymentRequired,
	ErrRegisterAlreadyOpen,
	ErrRegisterClosed,
	ErrRegisterNotFound,
	ErrNonPositiveAmount,
	ErrInvalidCashFlowType,
	ErrPricingNotConfigured,
	ErrRefundExceedsPayment,
	ErrNotesRequired,
	ErrReasonRequired,
	ErrInvalidPlate,
	money.ErrInvalidAmount,
	money.ErrAmountOverflow,
	pricing.ErrNegativeDuration,
	pricing.ErrInvalidDuration,
	pricing.ErrInvalidConfig,
}

// persistenceError passes business errors through and classifies the rest
// as storage failures so callers can tell "rejected" from "did not happen".
func persistenceError(err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range domainErrors {
		if errors.Is(err, domain) {
			return err
		}
	}
	if errors.Is(err, ErrPersistenceTimeout) || errors.Is(err, ErrPersistenceFailure) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrPersistenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
}
