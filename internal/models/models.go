package models

import (
	"time"

	"parking/internal/money"
)

type TicketStatus string

const (
	TicketActive    TicketStatus = "ACTIVE"
	TicketPaid      TicketStatus = "PAID"
	TicketLost      TicketStatus = "LOST"
	TicketCancelled TicketStatus = "CANCELLED"
)

// ExitAllowed reports whether the gate may open for a ticket in this status.
func (s TicketStatus) ExitAllowed() bool {
	return s == TicketPaid || s == TicketLost || s == TicketCancelled
}

type TransactionType string

const (
	TransactionParking    TransactionType = "PARKING"
	TransactionPension    TransactionType = "PENSION"
	TransactionLostTicket TransactionType = "LOST_TICKET"
	TransactionRefund     TransactionType = "REFUND"
)

type RegisterStatus string

const (
	RegisterOpen   RegisterStatus = "OPEN"
	RegisterClosed RegisterStatus = "CLOSED"
)

type CashFlowType string

const (
	CashFlowDeposit    CashFlowType = "DEPOSIT"
	CashFlowWithdrawal CashFlowType = "WITHDRAWAL"
)

type Operator struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type PricingConfig struct {
	ID                string       `db:"id" json:"id"`
	MinimumHours      int          `db:"minimum_hours" json:"minimum_hours"`
	MinimumRate       money.Money  `db:"minimum_rate" json:"minimum_rate"`
	IncrementMinutes  int          `db:"increment_minutes" json:"increment_minutes"`
	IncrementRate     money.Money  `db:"increment_rate" json:"increment_rate"`
	DailySpecialHours *int         `db:"daily_special_hours" json:"daily_special_hours,omitempty"`
	DailySpecialRate  *money.Money `db:"daily_special_rate" json:"daily_special_rate,omitempty"`
	MonthlyRate       money.Money  `db:"monthly_rate" json:"monthly_rate"`
	LostTicketFee     money.Money  `db:"lost_ticket_fee" json:"lost_ticket_fee"`
	IsActive          bool         `db:"is_active" json:"is_active"`
	CreatedBy         string       `db:"created_by" json:"created_by"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
}

// Ticket is a single vehicle stay. TotalAmount and PaidAt are set together.
type Ticket struct {
	ID              string       `db:"id" json:"id"`
	PlateNumber     string       `db:"plate_number" json:"plate_number"`
	Barcode         string       `db:"barcode" json:"barcode"`
	EntryTime       time.Time    `db:"entry_time" json:"entry_time"`
	ExitTime        *time.Time   `db:"exit_time" json:"exit_time,omitempty"`
	TotalAmount     *money.Money `db:"total_amount" json:"total_amount,omitempty"`
	PaidAt          *time.Time   `db:"paid_at" json:"paid_at,omitempty"`
	Status          TicketStatus `db:"status" json:"status"`
	OperatorID      string       `db:"operator_id" json:"operator_id"`
	PricingConfigID *string      `db:"pricing_config_id" json:"pricing_config_id,omitempty"`
	Synthetic       bool         `db:"synthetic" json:"synthetic"`
}

type Transaction struct {
	ID              string          `db:"id" json:"id"`
	Type            TransactionType `db:"type" json:"type"`
	Amount          money.Money     `db:"amount" json:"amount"`
	TicketID        *string         `db:"ticket_id" json:"ticket_id,omitempty"`
	PensionID       *string         `db:"pension_id" json:"pension_id,omitempty"`
	RegisterID      string          `db:"register_id" json:"register_id"`
	OperatorID      string          `db:"operator_id" json:"operator_id"`
	PricingConfigID *string         `db:"pricing_config_id" json:"pricing_config_id,omitempty"`
	Reason          *string         `db:"reason" json:"reason,omitempty"`
	Timestamp       time.Time       `db:"created_at" json:"timestamp"`
}

// SignedAmount is the effect of the transaction on the drawer.
func (t Transaction) SignedAmount() money.Money {
	if t.Type == TransactionRefund {
		return t.Amount.Neg()
	}
	return t.Amount
}

type CashRegister struct {
	ID              string         `db:"id" json:"id"`
	OperatorID      string         `db:"operator_id" json:"operator_id"`
	Status          RegisterStatus `db:"status" json:"status"`
	OpeningBalance  money.Money    `db:"opening_balance" json:"opening_balance"`
	ShiftStart      time.Time      `db:"shift_start" json:"shift_start"`
	ShiftEnd        *time.Time     `db:"shift_end" json:"shift_end,omitempty"`
	CountedBalance  *money.Money   `db:"counted_balance" json:"counted_balance,omitempty"`
	ExpectedBalance *money.Money   `db:"expected_balance" json:"expected_balance,omitempty"`
	Discrepancy     *money.Money   `db:"discrepancy" json:"discrepancy,omitempty"`
	DiscrepancyPct  *string        `db:"discrepancy_pct" json:"discrepancy_pct,omitempty"`
	Classification  *string        `db:"classification" json:"classification,omitempty"`
	Notes           *string        `db:"notes" json:"notes,omitempty"`
}

type CashFlow struct {
	ID         string       `db:"id" json:"id"`
	RegisterID string       `db:"register_id" json:"register_id"`
	Type       CashFlowType `db:"type" json:"type"`
	Amount     money.Money  `db:"amount" json:"amount"`
	Reason     string       `db:"reason" json:"reason"`
	OperatorID string       `db:"operator_id" json:"operator_id"`
	Timestamp  time.Time    `db:"created_at" json:"timestamp"`
}

type Pension struct {
	ID            string      `db:"id" json:"id"`
	PlateNumber   string      `db:"plate_number" json:"plate_number"`
	Months        int         `db:"months" json:"months"`
	Amount        money.Money `db:"amount" json:"amount"`
	StartsAt      time.Time   `db:"starts_at" json:"starts_at"`
	EndsAt        time.Time   `db:"ends_at" json:"ends_at"`
	OperatorID    string      `db:"operator_id" json:"operator_id"`
	TransactionID string      `db:"transaction_id" json:"transaction_id"`
}

// AuditEntry is one accepted state transition, as written to the outbox.
type AuditEntry struct {
	EntityType  string    `db:"entity_type" json:"entity_type"`
	EntityID    string    `db:"entity_id" json:"entity_id"`
	Action      string    `db:"action" json:"action"`
	OldValue    *string   `db:"old_value" json:"old_value,omitempty"`
	NewValue    *string   `db:"new_value" json:"new_value,omitempty"`
	PerformedBy string    `db:"performed_by" json:"performed_by"`
	Timestamp   time.Time `db:"occurred_at" json:"timestamp"`
}

// AuditRecord is a flushed entry with its position in the hash chain.
type AuditRecord struct {
	Seq int64 `db:"seq" json:"seq"`
	AuditEntry
	PrevHash string `db:"prev_hash" json:"prev_hash"`
	Hash     string `db:"hash" json:"hash"`
}
