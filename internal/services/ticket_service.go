package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"parking/internal/db"
	"parking/internal/models"
	"parking/internal/money"
	"parking/internal/pricing"
	"parking/internal/store"
	"parking/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// TicketService owns the ticket lifecycle: ACTIVE on entry, then exactly one
// of PAID, LOST or CANCELLED.
type TicketService struct {
	txRunner     db.TxRunner
	tickets      TicketStore
	transactions TransactionStore
	pricing      PricingStore
	auditStore   AuditStore
	drawer       Drawer
	barcodes     BarcodeGenerator
	settings     Settings
}

func NewTicketService(txRunner db.TxRunner, tickets TicketStore, transactions TransactionStore, pricingStore PricingStore, auditStore AuditStore, drawer Drawer, barcodes BarcodeGenerator, settings Settings) *TicketService {
	return &TicketService{
		txRunner:     txRunner,
		tickets:      tickets,
		transactions: transactions,
		pricing:      pricingStore,
		auditStore:   auditStore,
		drawer:       drawer,
		barcodes:     barcodes,
		settings:     settings,
	}
}

type OpenTicketRequest struct {
	PlateNumber string
	OperatorID  string
}

type PayRequest struct {
	TicketID     string
	CashReceived money.Money
	OperatorID   string
}

type LostTicketRequest struct {
	PlateNumber  string
	CashReceived money.Money
	OperatorID   string
}

type CancelTicketRequest struct {
	TicketID   string
	OperatorID string
	Reason     string
}

type RefundRequest struct {
	TicketID   string
	Amount     money.Money
	Reason     string
	OperatorID string
}

type Quote struct {
	TicketID        string        `json:"ticket_id"`
	Amount          money.Money   `json:"amount"`
	Elapsed         time.Duration `json:"-"`
	ElapsedMinutes  int64         `json:"elapsed_minutes"`
	Increments      int64         `json:"increments"`
	Capped          bool          `json:"daily_special_applied"`
	PricingConfigID string        `json:"pricing_config_id"`
	QuotedAt        time.Time     `json:"quoted_at"`
}

type PaymentResult struct {
	TicketID      string      `json:"ticket_id"`
	TransactionID string      `json:"transaction_id"`
	TotalAmount   money.Money `json:"amount"`
	Change        money.Money `json:"change"`
	PaidAt        time.Time   `json:"paid_at"`
}

type LostTicketResult struct {
	TicketID      string      `json:"ticket_id"`
	TransactionID string      `json:"transaction_id"`
	Penalty       money.Money `json:"penalty"`
	Change        money.Money `json:"change"`
	Synthetic     bool        `json:"synthetic"`
	PendingReview int         `json:"pending_review"`
}

// ExitResult carries the recorded exit time. Cancelled tickets have none.
type ExitResult struct {
	TicketID string     `json:"ticket_id"`
	Granted  bool       `json:"granted"`
	ExitTime *time.Time `json:"exit_time,omitempty"`
}

func (s *TicketService) Open(ctx context.Context, req OpenTicketRequest) (models.Ticket, error) {
	plate, err := validator.NormalizePlate(req.PlateNumber)
	if err != nil {
		return models.Ticket{}, err
	}
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()

	ticket := models.Ticket{
		ID:          uuid.NewString(),
		PlateNumber: plate,
		Barcode:     s.barcodes.Next(),
		EntryTime:   s.settings.now(),
		Status:      models.TicketActive,
		OperatorID:  req.OperatorID,
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := s.tickets.HasActiveForPlate(ctx, tx, plate)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateActiveEntry
		}
		if err := s.tickets.Create(ctx, tx, ticket); err != nil {
			if db.IsUniqueViolation(err, store.ActivePlateConstraint) {
				return ErrDuplicateActiveEntry
			}
			return err
		}
		return s.auditStore.Log(ctx, tx, models.AuditEntry{
			EntityType:  "ticket",
			EntityID:    ticket.ID,
			Action:      "ticket.open",
			NewValue:    snapshot(ticket),
			PerformedBy: req.OperatorID,
			Timestamp:   ticket.EntryTime,
		})
	})
	if err != nil {
		return models.Ticket{}, persistenceError(err)
	}
	return ticket, nil
}

// Quote prices an ACTIVE ticket at the current time without changing it.
func (s *TicketService) Quote(ctx context.Context, ticketID string) (Quote, error) {
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Quote{}, ErrTicketNotFound
		}
		return Quote{}, persistenceError(err)
	}
	if ticket.Status != models.TicketActive {
		return Quote{}, ErrTicketAlreadyProcessed
	}
	cfg, err := s.activePricing(ctx, nil)
	if err != nil {
		return Quote{}, persistenceError(err)
	}
	now := s.settings.now()
	result, err := pricing.QuoteStay(cfg, ticket.EntryTime, now)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		TicketID:        ticket.ID,
		Amount:          result.Amount,
		Elapsed:         result.Elapsed,
		ElapsedMinutes:  result.ElapsedMinutes,
		Increments:      result.Increments,
		Capped:          result.Capped,
		PricingConfigID: cfg.ID,
		QuotedAt:        now,
	}, nil
}

func (s *TicketService) Pay(ctx context.Context, req PayRequest) (PaymentResult, error) {
	if req.CashReceived.IsNegative() {
		return PaymentResult{}, ErrInvalidAmount
	}
	ctx, cancel := s.settings.bound(ctx, true)
	defer cancel()

	var result PaymentResult
	var registerID string
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		ticket, err := s.lockTicket(ctx, tx, req.TicketID)
		if err != nil {
			return err
		}
		if ticket.Status != models.TicketActive {
			return ErrTicketAlreadyProcessed
		}
		cfg, err := s.activePricing(ctx, tx)
		if err != nil {
			return err
		}
		now := s.settings.now()
		quote, err := pricing.QuoteStay(cfg, ticket.EntryTime, now)
		if err != nil {
			return err
		}
		if req.CashReceived.LessThan(quote.Amount) {
			return ErrInsufficientPayment
		}
		change, err := req.CashReceived.Sub(quote.Amount)
		if err != nil {
			return err
		}
		rows, err := s.tickets.Settle(ctx, tx, ticket.ID, models.TicketPaid, quote.Amount, now, cfg.ID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrTicketAlreadyProcessed
		}
		txn, err := s.drawer.RecordSale(ctx, tx, req.OperatorID, models.Transaction{
			Type:            models.TransactionParking,
			Amount:          quote.Amount,
			TicketID:        stringPtr(ticket.ID),
			PricingConfigID: stringPtr(cfg.ID),
			Timestamp:       now,
		})
		if err != nil {
			return err
		}
		paid := ticket
		paid.Status = models.TicketPaid
		paid.TotalAmount = &quote.Amount
		paid.PaidAt = &now
		paid.PricingConfigID = stringPtr(cfg.ID)
		if err := s.auditStore.Log(ctx, tx, models.AuditEntry{
			EntityType:  "ticket",
			EntityID:    ticket.ID,
			Action:      "ticket.pay",
			OldValue:    snapshot(ticket),
			NewValue:    snapshot(paid),
			PerformedBy: req.OperatorID,
			Timestamp:   now,
		}); err != nil {
			return err
		}
		registerID = txn.RegisterID
		result = PaymentResult{
			TicketID:      ticket.ID,
			TransactionID: txn.ID,
			TotalAmount:   quote.Amount,
			Change:        change,
			PaidAt:        now,
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, persistenceError(err)
	}
	s.drawer.PublishBalance(req.OperatorID, registerID, "sale")
	return result, nil
}

// ReportLost charges the lost-ticket penalty against the earliest ACTIVE
// ticket of the plate. With no ACTIVE ticket a synthetic LOST ticket carries
// the charge.
func (s *TicketService) ReportLost(ctx context.Context, req LostTicketRequest) (LostTicketResult, error) {
	plate, err := validator.NormalizePlate(req.PlateNumber)
	if err != nil {
		return LostTicketResult{}, err
	}
	if req.CashReceived.IsNegative() {
		return LostTicketResult{}, ErrInvalidAmount
	}
	ctx, cancel := s.settings.bound(ctx, true)
	defer cancel()

	var result LostTicketResult
	var registerID string
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = LostTicketResult{}
		active, err := s.tickets.ListActiveByPlateForUpdate(ctx, tx, plate)
		if err != nil {
			return err
		}
		cfg, err := s.activePricing(ctx, tx)
		if err != nil {
			return err
		}
		penalty := pricing.QuoteLostTicket(cfg)
		if req.CashReceived.LessThan(penalty) {
			return ErrInsufficientPayment
		}
		change, err := req.CashReceived.Sub(penalty)
		if err != nil {
			return err
		}
		now := s.settings.now()

		var before *string
		var ticket models.Ticket
		if len(active) == 0 {
			ticket = models.Ticket{
				ID:              uuid.NewString(),
				PlateNumber:     plate,
				Barcode:         s.barcodes.Next(),
				EntryTime:       now,
				TotalAmount:     &penalty,
				PaidAt:          &now,
				Status:          models.TicketLost,
				OperatorID:      req.OperatorID,
				PricingConfigID: stringPtr(cfg.ID),
				Synthetic:       true,
			}
			if err := s.tickets.Create(ctx, tx, ticket); err != nil {
				return err
			}
		} else {
			ticket = active[0]
			before = snapshot(ticket)
			rows, err := s.tickets.Settle(ctx, tx, ticket.ID, models.TicketLost, penalty, now, cfg.ID)
			if err != nil {
				return err
			}
			if rows == 0 {
				return ErrTicketAlreadyProcessed
			}
			ticket.Status = models.TicketLost
			ticket.TotalAmount = &penalty
			ticket.PaidAt = &now
			ticket.PricingConfigID = stringPtr(cfg.ID)
			result.PendingReview = len(active) - 1
		}

		txn, err := s.drawer.RecordSale(ctx, tx, req.OperatorID, models.Transaction{
			Type:            models.TransactionLostTicket,
			Amount:          penalty,
			TicketID:        stringPtr(ticket.ID),
			PricingConfigID: stringPtr(cfg.ID),
			Timestamp:       now,
		})
		if err != nil {
			return err
		}
		if err := s.auditStore.Log(ctx, tx, models.AuditEntry{
			EntityType:  "ticket",
			EntityID:    ticket.ID,
			Action:      "ticket.lost",
			OldValue:    before,
			NewValue:    snapshot(ticket),
			PerformedBy: req.OperatorID,
			Timestamp:   now,
		}); err != nil {
			return err
		}
		registerID = txn.RegisterID
		result.TicketID = ticket.ID
		result.TransactionID = txn.ID
		result.Penalty = penalty
		result.Change = change
		result.Synthetic = ticket.Synthetic
		return nil
	})
	if err != nil {
		return LostTicketResult{}, persistenceError(err)
	}
	if result.PendingReview > 0 {
		log.Warn().
			Str("plate", plate).
			Str("ticket_id", result.TicketID).
			Int("pending_review", result.PendingReview).
			Msg("plate has additional active tickets after lost-ticket charge")
	}
	s.drawer.PublishBalance(req.OperatorID, registerID, "sale")
	return result, nil
}

// AuthorizeExit opens the gate for a settled ticket. The exit time is set on
// the first call only.
func (s *TicketService) AuthorizeExit(ctx context.Context, ticketID, operatorID string) (ExitResult, error) {
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()

	var result ExitResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		ticket, err := s.lockTicket(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if !ticket.Status.ExitAllowed() {
			return ErrPaymentRequired
		}
		result = ExitResult{TicketID: ticket.ID, Granted: true}
		if ticket.ExitTime != nil {
			exitTime := *ticket.ExitTime
			result.ExitTime = &exitTime
			return nil
		}
		// CANCELLED tickets leave without an exit time on record.
		if ticket.Status == models.TicketCancelled {
			return nil
		}
		now := s.settings.now()
		result.ExitTime = &now
		rows, err := s.tickets.SetExitTime(ctx, tx, ticket.ID, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrTicketAlreadyProcessed
		}
		exited := ticket
		exited.ExitTime = &now
		return s.auditStore.Log(ctx, tx, models.AuditEntry{
			EntityType:  "ticket",
			EntityID:    ticket.ID,
			Action:      "ticket.exit",
			OldValue:    snapshot(ticket),
			NewValue:    snapshot(exited),
			PerformedBy: operatorID,
			Timestamp:   now,
		})
	})
	if err != nil {
		return ExitResult{}, persistenceError(err)
	}
	return result, nil
}

// Cancel voids an ACTIVE ticket without charge.
func (s *TicketService) Cancel(ctx context.Context, req CancelTicketRequest) (models.Ticket, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return models.Ticket{}, ErrReasonRequired
	}
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()

	var cancelled models.Ticket
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		ticket, err := s.lockTicket(ctx, tx, req.TicketID)
		if err != nil {
			return err
		}
		if ticket.Status != models.TicketActive {
			return ErrTicketAlreadyProcessed
		}
		rows, err := s.tickets.Cancel(ctx, tx, ticket.ID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrTicketAlreadyProcessed
		}
		cancelled = ticket
		cancelled.Status = models.TicketCancelled
		return s.auditStore.Log(ctx, tx, models.AuditEntry{
			EntityType:  "ticket",
			EntityID:    ticket.ID,
			Action:      "ticket.cancel",
			OldValue:    snapshot(ticket),
			NewValue:    snapshot(map[string]any{"status": cancelled.Status, "reason": reason}),
			PerformedBy: req.OperatorID,
			Timestamp:   s.settings.now(),
		})
	})
	if err != nil {
		return models.Ticket{}, persistenceError(err)
	}
	return cancelled, nil
}

// Refund returns cash for a settled ticket. The ticket keeps its status; the
// sum of refunds never exceeds what was charged.
func (s *TicketService) Refund(ctx context.Context, req RefundRequest) (models.Transaction, error) {
	if !req.Amount.IsPositive() {
		return models.Transaction{}, ErrNonPositiveAmount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return models.Transaction{}, ErrReasonRequired
	}
	ctx, cancel := s.settings.bound(ctx, true)
	defer cancel()

	var refund models.Transaction
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		ticket, err := s.lockTicket(ctx, tx, req.TicketID)
		if err != nil {
			return err
		}
		switch ticket.Status {
		case models.TicketPaid, models.TicketLost:
		case models.TicketActive:
			return ErrPaymentRequired
		default:
			return ErrTicketAlreadyProcessed
		}
		charged := money.Zero
		if ticket.TotalAmount != nil {
			charged = *ticket.TotalAmount
		}
		refunded, err := s.transactions.RefundedForTicket(ctx, tx, ticket.ID)
		if err != nil {
			return err
		}
		total, err := refunded.Add(req.Amount)
		if err != nil {
			return err
		}
		if charged.LessThan(total) {
			return ErrRefundExceedsPayment
		}
		now := s.settings.now()
		refund, err = s.drawer.RecordSale(ctx, tx, req.OperatorID, models.Transaction{
			Type:      models.TransactionRefund,
			Amount:    req.Amount,
			TicketID:  stringPtr(ticket.ID),
			Reason:    stringPtr(reason),
			Timestamp: now,
		})
		if err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, models.AuditEntry{
			EntityType:  "ticket",
			EntityID:    ticket.ID,
			Action:      "ticket.refund",
			NewValue:    snapshot(refund),
			PerformedBy: req.OperatorID,
			Timestamp:   now,
		})
	})
	if err != nil {
		return models.Transaction{}, persistenceError(err)
	}
	s.drawer.PublishBalance(req.OperatorID, refund.RegisterID, "refund")
	return refund, nil
}

func (s *TicketService) Get(ctx context.Context, ticketID string) (models.Ticket, error) {
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Ticket{}, ErrTicketNotFound
		}
		return models.Ticket{}, persistenceError(err)
	}
	return ticket, nil
}

func (s *TicketService) lockTicket(ctx context.Context, tx store.Getter, ticketID string) (models.Ticket, error) {
	ticket, err := s.tickets.GetForUpdate(ctx, tx, ticketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Ticket{}, ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *TicketService) activePricing(ctx context.Context, q store.Getter) (models.PricingConfig, error) {
	cfg, err := s.pricing.GetActive(ctx, q)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PricingConfig{}, ErrPricingNotConfigured
		}
		return models.PricingConfig{}, err
	}
	return cfg, nil
}
