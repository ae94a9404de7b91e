package services

import (
	"context"
	"encoding/json"
	"time"

	"parking/internal/models"
	"parking/internal/money"
	"parking/internal/store"
	"parking/internal/websocket"

	"github.com/shopspring/decimal"
)

type TicketStore interface {
	Create(ctx context.Context, tx store.Execer, ticket models.Ticket) error
	GetByID(ctx context.Context, ticketID string) (models.Ticket, error)
	GetForUpdate(ctx context.Context, tx store.Getter, ticketID string) (models.Ticket, error)
	HasActiveForPlate(ctx context.Context, tx store.Getter, plate string) (bool, error)
	ListActiveByPlateForUpdate(ctx context.Context, tx store.Selecter, plate string) ([]models.Ticket, error)
	Settle(ctx context.Context, tx store.Execer, ticketID string, status models.TicketStatus, amount money.Money, paidAt time.Time, pricingConfigID string) (int64, error)
	Cancel(ctx context.Context, tx store.Execer, ticketID string) (int64, error)
	SetExitTime(ctx context.Context, tx store.Execer, ticketID string, exitTime time.Time) (int64, error)
}

type RegisterStore interface {
	Create(ctx context.Context, tx store.Execer, register models.CashRegister) error
	GetByID(ctx context.Context, registerID string) (models.CashRegister, error)
	GetOpenByOperator(ctx context.Context, operatorID string) (models.CashRegister, error)
	GetOpenByOperatorForUpdate(ctx context.Context, tx store.Getter, operatorID string) (models.CashRegister, error)
	Totals(ctx context.Context, q store.Getter, registerID string) (store.RegisterTotals, error)
	Close(ctx context.Context, tx store.Execer, input store.CloseRegisterInput) (int64, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, txn models.Transaction) error
	RefundedForTicket(ctx context.Context, tx store.Getter, ticketID string) (money.Money, error)
	ListByRegister(ctx context.Context, registerID string, limit, offset int) ([]models.Transaction, error)
}

type CashFlowStore interface {
	Create(ctx context.Context, tx store.Execer, flow models.CashFlow) error
	ListByRegister(ctx context.Context, registerID string) ([]models.CashFlow, error)
}

type PricingStore interface {
	GetActive(ctx context.Context, q store.Getter) (models.PricingConfig, error)
	GetActiveForUpdate(ctx context.Context, tx store.Getter) (models.PricingConfig, error)
	Deactivate(ctx context.Context, tx store.Execer, configID string) error
	Create(ctx context.Context, tx store.Execer, cfg models.PricingConfig) error
	List(ctx context.Context, limit, offset int) ([]models.PricingConfig, error)
}

type PensionStore interface {
	Create(ctx context.Context, tx store.Execer, pension models.Pension) error
	ActiveForPlate(ctx context.Context, plate string, at time.Time) (models.Pension, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, entry models.AuditEntry) error
}

type BalanceHub interface {
	BroadcastBalance(operatorID string, update websocket.BalanceUpdate)
}

type BarcodeGenerator interface {
	Next() string
}

// Settings are the tunables shared by every service.
type Settings struct {
	PersistenceTimeout     time.Duration
	DiscrepancyWarnPct     decimal.Decimal
	DiscrepancyCriticalPct decimal.Decimal
	Now                    func() time.Time
}

func DefaultSettings() Settings {
	return Settings{
		PersistenceTimeout:     5 * time.Second,
		DiscrepancyWarnPct:     decimal.NewFromInt(1),
		DiscrepancyCriticalPct: decimal.NewFromInt(5),
		Now:                    time.Now,
	}
}

func (s Settings) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// bound applies the persistence timeout. Money-moving calls pass detach so a
// client disconnect cannot abandon a payment halfway.
func (s Settings) bound(ctx context.Context, detach bool) (context.Context, context.CancelFunc) {
	if detach {
		ctx = context.WithoutCancel(ctx)
	}
	if s.PersistenceTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.PersistenceTimeout)
}

func snapshot(v any) *string {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	out := string(data)
	return &out
}

func stringPtr(v string) *string {
	return &v
}

// Drawer attaches sales to the operator's open register inside an existing
// transaction. RegisterService implements it.
type Drawer interface {
	RecordSale(ctx context.Context, tx store.Tx, operatorID string, txn models.Transaction) (models.Transaction, error)
	PublishBalance(operatorID, registerID, event string)
}
