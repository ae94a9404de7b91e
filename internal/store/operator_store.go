package store

import (
	"context"

	"parking/internal/models"
)

type OperatorStore struct {
	db DB
}

func NewOperatorStore(db DB) *OperatorStore {
	return &OperatorStore{db: db}
}

func (s *OperatorStore) Create(ctx context.Context, tx Execer, op models.Operator) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO operators (id, username, password_hash)
		VALUES ($1, $2, $3)
	`, op.ID, op.Username, op.PasswordHash)
	return err
}

func (s *OperatorStore) GetByUsername(ctx context.Context, username string) (models.Operator, error) {
	var op models.Operator
	err := s.db.GetContext(ctx, &op, `SELECT id, username, password_hash, created_at FROM operators WHERE username = $1`, username)
	return op, err
}

func (s *OperatorStore) GetByID(ctx context.Context, operatorID string) (models.Operator, error) {
	var op models.Operator
	err := s.db.GetContext(ctx, &op, `SELECT id, username, password_hash, created_at FROM operators WHERE id = $1`, operatorID)
	return op, err
}

func (s *OperatorStore) List(ctx context.Context, limit, offset int) ([]models.Operator, error) {
	var rows []models.Operator
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, username, password_hash, created_at
		FROM operators
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
