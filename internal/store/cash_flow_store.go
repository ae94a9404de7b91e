package store

import (
	"context"

	"parking/internal/models"
)

type CashFlowStore struct {
	db DB
}

func NewCashFlowStore(db DB) *CashFlowStore {
	return &CashFlowStore{db: db}
}

func (s *CashFlowStore) Create(ctx context.Context, tx Execer, flow models.CashFlow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cash_flows (id, register_id, type, amount, reason, operator_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, flow.ID, flow.RegisterID, flow.Type, flow.Amount, flow.Reason, flow.OperatorID, flow.Timestamp)
	return err
}

func (s *CashFlowStore) ListByRegister(ctx context.Context, registerID string) ([]models.CashFlow, error) {
	var rows []models.CashFlow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, register_id, type, amount, reason, operator_id, created_at
		FROM cash_flows
		WHERE register_id = $1
		ORDER BY created_at, id
	`, registerID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
