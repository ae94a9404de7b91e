package store

import (
	"context"

	"parking/internal/models"
)

const pricingColumns = `id, minimum_hours, minimum_rate, increment_minutes, increment_rate, daily_special_hours, daily_special_rate, monthly_rate, lost_ticket_fee, is_active, created_by, created_at`

type PricingStore struct {
	db DB
}

func NewPricingStore(db DB) *PricingStore {
	return &PricingStore{db: db}
}

// GetActive reads the single active config. q may be a tx or nil for the pool.
func (s *PricingStore) GetActive(ctx context.Context, q Getter) (models.PricingConfig, error) {
	if q == nil {
		q = s.db
	}
	var cfg models.PricingConfig
	err := q.GetContext(ctx, &cfg, `SELECT `+pricingColumns+` FROM pricing_configs WHERE is_active = TRUE`)
	return cfg, err
}

func (s *PricingStore) GetActiveForUpdate(ctx context.Context, tx Getter) (models.PricingConfig, error) {
	var cfg models.PricingConfig
	err := tx.GetContext(ctx, &cfg, `SELECT `+pricingColumns+` FROM pricing_configs WHERE is_active = TRUE FOR UPDATE`)
	return cfg, err
}

func (s *PricingStore) Deactivate(ctx context.Context, tx Execer, configID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE pricing_configs
		SET is_active = FALSE, deactivated_at = NOW()
		WHERE id = $1 AND is_active = TRUE
	`, configID)
	return err
}

func (s *PricingStore) Create(ctx context.Context, tx Execer, cfg models.PricingConfig) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pricing_configs (`+pricingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, cfg.ID, cfg.MinimumHours, cfg.MinimumRate, cfg.IncrementMinutes, cfg.IncrementRate, cfg.DailySpecialHours,
		cfg.DailySpecialRate, cfg.MonthlyRate, cfg.LostTicketFee, cfg.IsActive, cfg.CreatedBy, cfg.CreatedAt)
	return err
}

func (s *PricingStore) List(ctx context.Context, limit, offset int) ([]models.PricingConfig, error) {
	var rows []models.PricingConfig
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+pricingColumns+`
		FROM pricing_configs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
