package store

import (
	"context"
	"time"

	"parking/internal/models"
	"parking/internal/money"
)

// OpenRegisterConstraint allows a single OPEN register per operator.
const OpenRegisterConstraint = "registers_one_open_per_operator"

const registerColumns = `id, operator_id, status, opening_balance, shift_start, shift_end, counted_balance, expected_balance, discrepancy, discrepancy_pct, classification, notes`

type RegisterStore struct {
	db DB
}

// RegisterTotals are the event sums a balance is derived from.
type RegisterTotals struct {
	OpeningBalance money.Money `db:"opening_balance"`
	Sales          money.Money `db:"sales"`
	SaleCount      int64       `db:"sale_count"`
	Refunds        money.Money `db:"refunds"`
	Deposits       money.Money `db:"deposits"`
	Withdrawals    money.Money `db:"withdrawals"`
}

type CloseRegisterInput struct {
	RegisterID      string
	ShiftEnd        time.Time
	CountedBalance  money.Money
	ExpectedBalance money.Money
	Discrepancy     money.Money
	DiscrepancyPct  string
	Classification  string
	Notes           *string
}

func NewRegisterStore(db DB) *RegisterStore {
	return &RegisterStore{db: db}
}

func (s *RegisterStore) Create(ctx context.Context, tx Execer, register models.CashRegister) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cash_registers (id, operator_id, status, opening_balance, shift_start)
		VALUES ($1, $2, $3, $4, $5)
	`, register.ID, register.OperatorID, register.Status, register.OpeningBalance, register.ShiftStart)
	return err
}

func (s *RegisterStore) GetByID(ctx context.Context, registerID string) (models.CashRegister, error) {
	var register models.CashRegister
	err := s.db.GetContext(ctx, &register, `SELECT `+registerColumns+` FROM cash_registers WHERE id = $1`, registerID)
	return register, err
}

func (s *RegisterStore) GetOpenByOperator(ctx context.Context, operatorID string) (models.CashRegister, error) {
	var register models.CashRegister
	err := s.db.GetContext(ctx, &register, `
		SELECT `+registerColumns+`
		FROM cash_registers
		WHERE operator_id = $1 AND status = 'OPEN'
	`, operatorID)
	return register, err
}

func (s *RegisterStore) GetOpenByOperatorForUpdate(ctx context.Context, tx Getter, operatorID string) (models.CashRegister, error) {
	var register models.CashRegister
	err := tx.GetContext(ctx, &register, `
		SELECT `+registerColumns+`
		FROM cash_registers
		WHERE operator_id = $1 AND status = 'OPEN'
		FOR UPDATE
	`, operatorID)
	return register, err
}

// Totals derives every component of the balance in one statement. Pass a tx
// to read inside a locked section, or nil to read from the pool.
func (s *RegisterStore) Totals(ctx context.Context, q Getter, registerID string) (RegisterTotals, error) {
	if q == nil {
		q = s.db
	}
	var totals RegisterTotals
	err := q.GetContext(ctx, &totals, `
		SELECT r.opening_balance,
		       COALESCE((SELECT SUM(t.amount) FROM transactions t WHERE t.register_id = r.id AND t.type <> 'REFUND'), 0) AS sales,
		       (SELECT COUNT(1) FROM transactions t WHERE t.register_id = r.id AND t.type <> 'REFUND') AS sale_count,
		       COALESCE((SELECT SUM(t.amount) FROM transactions t WHERE t.register_id = r.id AND t.type = 'REFUND'), 0) AS refunds,
		       COALESCE((SELECT SUM(f.amount) FROM cash_flows f WHERE f.register_id = r.id AND f.type = 'DEPOSIT'), 0) AS deposits,
		       COALESCE((SELECT SUM(f.amount) FROM cash_flows f WHERE f.register_id = r.id AND f.type = 'WITHDRAWAL'), 0) AS withdrawals
		FROM cash_registers r
		WHERE r.id = $1
	`, registerID)
	return totals, err
}

func (s *RegisterStore) Close(ctx context.Context, tx Execer, input CloseRegisterInput) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE cash_registers
		SET status = 'CLOSED', shift_end = $1, counted_balance = $2, expected_balance = $3,
		    discrepancy = $4, discrepancy_pct = $5, classification = $6, notes = $7
		WHERE id = $8 AND status = 'OPEN'
	`, input.ShiftEnd, input.CountedBalance, input.ExpectedBalance, input.Discrepancy,
		input.DiscrepancyPct, input.Classification, input.Notes, input.RegisterID))
}
