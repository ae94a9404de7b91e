package services

import (
	"context"
	"database/sql"
	"errors"

	"parking/internal/db"
	"parking/internal/models"
	"parking/internal/pricing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type PricingService struct {
	txRunner   db.TxRunner
	pricing    PricingStore
	auditStore AuditStore
	settings   Settings
}

func NewPricingService(txRunner db.TxRunner, pricingStore PricingStore, auditStore AuditStore, settings Settings) *PricingService {
	return &PricingService{
		txRunner:   txRunner,
		pricing:    pricingStore,
		auditStore: auditStore,
		settings:   settings,
	}
}

type PublishPricingRequest struct {
	Config  models.PricingConfig
	ActorID string
}

func (s *PricingService) Active(ctx context.Context) (models.PricingConfig, error) {
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()
	cfg, err := s.pricing.GetActive(ctx, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PricingConfig{}, ErrPricingNotConfigured
		}
		return models.PricingConfig{}, persistenceError(err)
	}
	return cfg, nil
}

// Publish replaces the active config. Tickets already settled keep the
// config id they were priced with.
func (s *PricingService) Publish(ctx context.Context, req PublishPricingRequest) (models.PricingConfig, error) {
	if err := pricing.Validate(req.Config); err != nil {
		return models.PricingConfig{}, err
	}
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()

	cfg := req.Config
	cfg.ID = uuid.NewString()
	cfg.IsActive = true
	cfg.CreatedBy = req.ActorID
	cfg.CreatedAt = s.settings.now()
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var before *string
		previous, err := s.pricing.GetActiveForUpdate(ctx, tx)
		switch {
		case err == nil:
			before = snapshot(previous)
			if err := s.pricing.Deactivate(ctx, tx, previous.ID); err != nil {
				return err
			}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return err
		}
		if err := s.pricing.Create(ctx, tx, cfg); err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, models.AuditEntry{
			EntityType:  "pricing_config",
			EntityID:    cfg.ID,
			Action:      "pricing.publish",
			OldValue:    before,
			NewValue:    snapshot(cfg),
			PerformedBy: req.ActorID,
			Timestamp:   cfg.CreatedAt,
		})
	})
	if err != nil {
		return models.PricingConfig{}, persistenceError(err)
	}
	return cfg, nil
}

func (s *PricingService) History(ctx context.Context, limit, offset int) ([]models.PricingConfig, error) {
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()
	rows, err := s.pricing.List(ctx, limit, offset)
	if err != nil {
		return nil, persistenceError(err)
	}
	return rows, nil
}
