package store

import (
	"context"

	"parking/internal/models"
	"parking/internal/money"
)

const transactionColumns = `id, type, amount, ticket_id, pension_id, register_id, operator_id, pricing_config_id, reason, created_at`

// TransactionStore is insert-only; rows are never updated or deleted.
type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Create(ctx context.Context, tx Execer, txn models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, txn.ID, txn.Type, txn.Amount, txn.TicketID, txn.PensionID, txn.RegisterID, txn.OperatorID,
		txn.PricingConfigID, txn.Reason, txn.Timestamp)
	return err
}

func (s *TransactionStore) RefundedForTicket(ctx context.Context, tx Getter, ticketID string) (money.Money, error) {
	var total money.Money
	err := tx.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE ticket_id = $1 AND type = 'REFUND'
	`, ticketID)
	return total, err
}

func (s *TransactionStore) ListByRegister(ctx context.Context, registerID string, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE register_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, registerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
