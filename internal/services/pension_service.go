package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"parking/internal/db"
	"parking/internal/models"
	"parking/internal/money"
	"parking/internal/pricing"
	"parking/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PensionService sells monthly passes for a plate.
type PensionService struct {
	txRunner   db.TxRunner
	pensions   PensionStore
	pricing    PricingStore
	auditStore AuditStore
	drawer     Drawer
	settings   Settings
}

func NewPensionService(txRunner db.TxRunner, pensions PensionStore, pricingStore PricingStore, auditStore AuditStore, drawer Drawer, settings Settings) *PensionService {
	return &PensionService{
		txRunner:   txRunner,
		pensions:   pensions,
		pricing:    pricingStore,
		auditStore: auditStore,
		drawer:     drawer,
		settings:   settings,
	}
}

type PensionRequest struct {
	PlateNumber  string
	Months       int
	CashReceived money.Money
	OperatorID   string
}

type PensionResult struct {
	Pension       models.Pension `json:"pension"`
	TransactionID string         `json:"transaction_id"`
	Amount        money.Money    `json:"amount"`
	Change        money.Money    `json:"change"`
}

func (s *PensionService) Sell(ctx context.Context, req PensionRequest) (PensionResult, error) {
	plate, err := validator.NormalizePlate(req.PlateNumber)
	if err != nil {
		return PensionResult{}, err
	}
	if req.CashReceived.IsNegative() {
		return PensionResult{}, ErrInvalidAmount
	}
	if req.Months < pricing.MinPensionMonths || req.Months > pricing.MaxPensionMonths {
		return PensionResult{}, pricing.ErrInvalidDuration
	}
	ctx, cancel := s.settings.bound(ctx, true)
	defer cancel()

	var result PensionResult
	var registerID string
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		cfg, err := s.pricing.GetActive(ctx, tx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrPricingNotConfigured
			}
			return err
		}
		amount, err := pricing.QuotePension(cfg, req.Months)
		if err != nil {
			return err
		}
		if req.CashReceived.LessThan(amount) {
			return ErrInsufficientPayment
		}
		change, err := req.CashReceived.Sub(amount)
		if err != nil {
			return err
		}
		now := s.settings.now()
		pension := models.Pension{
			ID:            uuid.NewString(),
			PlateNumber:   plate,
			Months:        req.Months,
			Amount:        amount,
			StartsAt:      now,
			EndsAt:        now.AddDate(0, req.Months, 0),
			OperatorID:    req.OperatorID,
			TransactionID: uuid.NewString(),
		}
		if err := s.pensions.Create(ctx, tx, pension); err != nil {
			return err
		}
		txn, err := s.drawer.RecordSale(ctx, tx, req.OperatorID, models.Transaction{
			ID:              pension.TransactionID,
			Type:            models.TransactionPension,
			Amount:          amount,
			PensionID:       stringPtr(pension.ID),
			PricingConfigID: stringPtr(cfg.ID),
			Timestamp:       now,
		})
		if err != nil {
			return err
		}
		if err := s.auditStore.Log(ctx, tx, models.AuditEntry{
			EntityType:  "pension",
			EntityID:    pension.ID,
			Action:      "pension.sell",
			NewValue:    snapshot(pension),
			PerformedBy: req.OperatorID,
			Timestamp:   now,
		}); err != nil {
			return err
		}
		result = PensionResult{
			Pension:       pension,
			TransactionID: txn.ID,
			Amount:        amount,
			Change:        change,
		}
		registerID = txn.RegisterID
		return nil
	})
	if err != nil {
		return PensionResult{}, persistenceError(err)
	}
	s.drawer.PublishBalance(req.OperatorID, registerID, "sale")
	return result, nil
}

// ActiveForPlate returns the pension covering at, or nil when the plate has none.
func (s *PensionService) ActiveForPlate(ctx context.Context, plate string, at time.Time) (*models.Pension, error) {
	normalized, err := validator.NormalizePlate(plate)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()
	pension, err := s.pensions.ActiveForPlate(ctx, normalized, at.UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistenceError(err)
	}
	return &pension, nil
}
