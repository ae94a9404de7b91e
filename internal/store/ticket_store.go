package store

import (
	"context"
	"time"

	"parking/internal/models"
	"parking/internal/money"
)

// ActivePlateConstraint is the partial unique index allowing one ACTIVE ticket per plate.
const ActivePlateConstraint = "tickets_one_active_per_plate"

const ticketColumns = `id, plate_number, barcode, entry_time, exit_time, total_amount, paid_at, status, operator_id, pricing_config_id, synthetic`

type TicketStore struct {
	db DB
}

func NewTicketStore(db DB) *TicketStore {
	return &TicketStore{db: db}
}

func (s *TicketStore) Create(ctx context.Context, tx Execer, ticket models.Ticket) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ticket.ID, ticket.PlateNumber, ticket.Barcode, ticket.EntryTime, ticket.ExitTime, ticket.TotalAmount,
		ticket.PaidAt, ticket.Status, ticket.OperatorID, ticket.PricingConfigID, ticket.Synthetic)
	return err
}

func (s *TicketStore) GetByID(ctx context.Context, ticketID string) (models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.GetContext(ctx, &ticket, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, ticketID)
	return ticket, err
}

func (s *TicketStore) GetForUpdate(ctx context.Context, tx Getter, ticketID string) (models.Ticket, error) {
	var ticket models.Ticket
	err := tx.GetContext(ctx, &ticket, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, ticketID)
	return ticket, err
}

func (s *TicketStore) HasActiveForPlate(ctx context.Context, tx Getter, plate string) (bool, error) {
	var count int
	err := tx.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM tickets
		WHERE plate_number = $1 AND status = 'ACTIVE'
	`, plate)
	return count > 0, err
}

// ListActiveByPlateForUpdate locks every ACTIVE ticket of a plate, earliest entry first.
func (s *TicketStore) ListActiveByPlateForUpdate(ctx context.Context, tx Selecter, plate string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := tx.SelectContext(ctx, &tickets, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE plate_number = $1 AND status = 'ACTIVE'
		ORDER BY entry_time, id
		FOR UPDATE
	`, plate)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// Settle moves an ACTIVE ticket to a terminal paid status. Zero rows affected
// means another caller got there first.
func (s *TicketStore) Settle(ctx context.Context, tx Execer, ticketID string, status models.TicketStatus, amount money.Money, paidAt time.Time, pricingConfigID string) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE tickets
		SET status = $1, total_amount = $2, paid_at = $3, pricing_config_id = $4
		WHERE id = $5 AND status = 'ACTIVE'
	`, status, amount, paidAt, pricingConfigID, ticketID))
}

func (s *TicketStore) Cancel(ctx context.Context, tx Execer, ticketID string) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE tickets
		SET status = 'CANCELLED'
		WHERE id = $1 AND status = 'ACTIVE'
	`, ticketID))
}

func (s *TicketStore) SetExitTime(ctx context.Context, tx Execer, ticketID string, exitTime time.Time) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE tickets
		SET exit_time = $1
		WHERE id = $2 AND exit_time IS NULL AND status IN ('PAID', 'LOST')
	`, exitTime, ticketID))
}
