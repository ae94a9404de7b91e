package handlers

import (
	"context"
	"time"

	"parking/internal/models"
	"parking/internal/services"
	"parking/internal/store"
)

type OperatorStore interface {
	Create(ctx context.Context, tx store.Execer, op models.Operator) error
	GetByUsername(ctx context.Context, username string) (models.Operator, error)
	GetByID(ctx context.Context, operatorID string) (models.Operator, error)
	List(ctx context.Context, limit, offset int) ([]models.Operator, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, operatorID string) (bool, bool, error)
	HasRole(ctx context.Context, operatorID, role string) (bool, error)
	CreateAdmin(ctx context.Context, tx store.Execer, operatorID string, isSuper bool, createdBy *string) error
	ListRoles(ctx context.Context, operatorID string) ([]string, error)
	GrantRole(ctx context.Context, tx store.Execer, adminOperatorID, role string) error
	RevokeRole(ctx context.Context, tx store.Execer, adminOperatorID, role string) (bool, error)
	HasAnyAdmin(ctx context.Context) (bool, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, entry models.AuditEntry) error
	Query(ctx context.Context, filter store.AuditFilter) ([]models.AuditRecord, error)
	Chain(ctx context.Context, fromSeq int64, limit int) ([]models.AuditRecord, error)
	PendingCount(ctx context.Context) (int64, error)
}

type TicketService interface {
	Open(ctx context.Context, req services.OpenTicketRequest) (models.Ticket, error)
	Get(ctx context.Context, ticketID string) (models.Ticket, error)
	Quote(ctx context.Context, ticketID string) (services.Quote, error)
	Pay(ctx context.Context, req services.PayRequest) (services.PaymentResult, error)
	ReportLost(ctx context.Context, req services.LostTicketRequest) (services.LostTicketResult, error)
	AuthorizeExit(ctx context.Context, ticketID, operatorID string) (services.ExitResult, error)
	Cancel(ctx context.Context, req services.CancelTicketRequest) (models.Ticket, error)
	Refund(ctx context.Context, req services.RefundRequest) (models.Transaction, error)
}

type RegisterService interface {
	Open(ctx context.Context, req services.OpenRegisterRequest) (models.CashRegister, error)
	Adjust(ctx context.Context, req services.AdjustRequest) (models.CashFlow, error)
	CurrentBalance(ctx context.Context, registerID string) (services.Balance, error)
	CurrentForOperator(ctx context.Context, operatorID string) (models.CashRegister, services.Balance, error)
	Close(ctx context.Context, req services.CloseRegisterRequest) (services.CloseResult, error)
	Journal(ctx context.Context, registerID string, limit, offset int) (services.Journal, error)
}

type PensionService interface {
	Sell(ctx context.Context, req services.PensionRequest) (services.PensionResult, error)
	ActiveForPlate(ctx context.Context, plate string, at time.Time) (*models.Pension, error)
}

type PricingService interface {
	Active(ctx context.Context) (models.PricingConfig, error)
	Publish(ctx context.Context, req services.PublishPricingRequest) (models.PricingConfig, error)
	History(ctx context.Context, limit, offset int) ([]models.PricingConfig, error)
}

// DeadLetterCounter reports audit entries parked after a failed flush.
type DeadLetterCounter interface {
	Pending(ctx context.Context) (int64, error)
}
