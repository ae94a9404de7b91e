package store

import (
	"context"
	"time"

	"parking/internal/models"
)

type PensionStore struct {
	db DB
}

func NewPensionStore(db DB) *PensionStore {
	return &PensionStore{db: db}
}

func (s *PensionStore) Create(ctx context.Context, tx Execer, pension models.Pension) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pensions (id, plate_number, months, amount, starts_at, ends_at, operator_id, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pension.ID, pension.PlateNumber, pension.Months, pension.Amount, pension.StartsAt, pension.EndsAt,
		pension.OperatorID, pension.TransactionID)
	return err
}

// ActiveForPlate returns the pension covering at, latest expiry first.
func (s *PensionStore) ActiveForPlate(ctx context.Context, plate string, at time.Time) (models.Pension, error) {
	var pension models.Pension
	err := s.db.GetContext(ctx, &pension, `
		SELECT id, plate_number, months, amount, starts_at, ends_at, operator_id, transaction_id
		FROM pensions
		WHERE plate_number = $1 AND starts_at <= $2 AND ends_at > $2
		ORDER BY ends_at DESC
		LIMIT 1
	`, plate, at)
	return pension, err
}
