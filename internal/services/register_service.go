package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"parking/internal/db"
	"parking/internal/models"
	"parking/internal/money"
	"parking/internal/store"
	"parking/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	ClassificationNormal   = "normal"
	ClassificationWarning  = "warning"
	ClassificationCritical = "critical"
)

// RegisterService is the per-shift drawer ledger. The balance is always
// derived from the transaction and cash flow events, never stored.
type RegisterService struct {
	txRunner     db.TxRunner
	registers    RegisterStore
	transactions TransactionStore
	cashFlows    CashFlowStore
	auditStore   AuditStore
	hub          BalanceHub
	settings     Settings
}

func NewRegisterService(txRunner db.TxRunner, registers RegisterStore, transactions TransactionStore, cashFlows CashFlowStore, auditStore AuditStore, hub BalanceHub, settings Settings) *RegisterService {
	return &RegisterService{
		txRunner:     txRunner,
		registers:    registers,
		transactions: transactions,
		cashFlows:    cashFlows,
		auditStore:   auditStore,
		hub:          hub,
		settings:     settings,
	}
}

type OpenRegisterRequest struct {
	OperatorID     string
	OpeningBalance money.Money
}

type AdjustRequest struct {
	OperatorID string
	Type       models.CashFlowType
	Amount     money.Money
	Reason     string
}

type CloseRegisterRequest struct {
	OperatorID     string
	CountedBalance money.Money
	Notes          string
}

type Balance struct {
	RegisterID     string                `json:"register_id"`
	OperatorID     string                `json:"operator_id"`
	Status         models.RegisterStatus `json:"status"`
	OpeningBalance money.Money           `json:"opening_balance"`
	Sales          money.Money           `json:"sales"`
	SaleCount      int64                 `json:"sale_count"`
	AverageSale    money.Money           `json:"average_sale"`
	Refunds        money.Money           `json:"refunds"`
	Deposits       money.Money           `json:"deposits"`
	Withdrawals    money.Money           `json:"withdrawals"`
	Current        money.Money           `json:"current_balance"`
}

type CloseResult struct {
	RegisterID      string      `json:"register_id"`
	ExpectedBalance money.Money `json:"expected_balance"`
	CountedBalance  money.Money `json:"counted_balance"`
	Discrepancy     money.Money `json:"discrepancy"`
	DiscrepancyPct  string      `json:"discrepancy_pct"`
	Classification  string      `json:"classification"`
}

func (s *RegisterService) Open(ctx context.Context, req OpenRegisterRequest) (models.CashRegister, error) {
	if req.OpeningBalance.IsNegative() {
		return models.CashRegister{}, ErrInvalidAmount
	}
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()

	register := models.CashRegister{
		ID:             uuid.NewString(),
		OperatorID:     req.OperatorID,
		Status:         models.RegisterOpen,
		OpeningBalance: req.OpeningBalance,
		ShiftStart:     s.settings.now(),
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := s.registers.GetOpenByOperatorForUpdate(ctx, tx, req.OperatorID)
		if err == nil {
			return ErrRegisterAlreadyOpen
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err := s.registers.Create(ctx, tx, register); err != nil {
			if db.IsUniqueViolation(err, store.OpenRegisterConstraint) {
				return ErrRegisterAlreadyOpen
			}
			return err
		}
		return s.auditStore.Log(ctx, tx, models.AuditEntry{
			EntityType:  "cash_register",
			EntityID:    register.ID,
			Action:      "register.open",
			NewValue:    snapshot(register),
			PerformedBy: req.OperatorID,
			Timestamp:   register.ShiftStart,
		})
	})
	if err != nil {
		return models.CashRegister{}, persistenceError(err)
	}
	s.PublishBalance(req.OperatorID, register.ID, "open")
	return register, nil
}

// RecordSale attaches a sale or refund to the operator's OPEN register inside
// the caller's transaction. The caller must already hold any ticket locks.
func (s *RegisterService) RecordSale(ctx context.Context, tx store.Tx, operatorID string, txn models.Transaction) (models.Transaction, error) {
	register, err := s.registers.GetOpenByOperatorForUpdate(ctx, tx, operatorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Transaction{}, ErrRegisterClosed
		}
		return models.Transaction{}, err
	}
	if register.Status != models.RegisterOpen {
		return models.Transaction{}, ErrRegisterClosed
	}
	// A free stay still leaves a zero-amount sale on the drawer; refunds must move cash.
	if txn.Amount.IsNegative() || (txn.Type == models.TransactionRefund && txn.Amount.IsZero()) {
		return models.Transaction{}, ErrNonPositiveAmount
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	txn.RegisterID = register.ID
	txn.OperatorID = operatorID
	if err := s.transactions.Create(ctx, tx, txn); err != nil {
		return models.Transaction{}, err
	}
	action := "register.sale"
	if txn.Type == models.TransactionRefund {
		action = "register.refund"
	}
	err = s.auditStore.Log(ctx, tx, models.AuditEntry{
		EntityType:  "cash_register",
		EntityID:    register.ID,
		Action:      action,
		NewValue:    snapshot(txn),
		PerformedBy: operatorID,
		Timestamp:   txn.Timestamp,
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return txn, nil
}

func (s *RegisterService) Adjust(ctx context.Context, req AdjustRequest) (models.CashFlow, error) {
	if !req.Amount.IsPositive() {
		return models.CashFlow{}, ErrNonPositiveAmount
	}
	if req.Type != models.CashFlowDeposit && req.Type != models.CashFlowWithdrawal {
		return models.CashFlow{}, ErrInvalidCashFlowType
	}
	if strings.TrimSpace(req.Reason) == "" {
		return models.CashFlow{}, ErrReasonRequired
	}
	ctx, cancel := s.settings.bound(ctx, true)
	defer cancel()

	var flow models.CashFlow
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		register, err := s.registers.GetOpenByOperatorForUpdate(ctx, tx, req.OperatorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRegisterClosed
			}
			return err
		}
		flow = models.CashFlow{
			ID:         uuid.NewString(),
			RegisterID: register.ID,
			Type:       req.Type,
			Amount:     req.Amount,
			Reason:     strings.TrimSpace(req.Reason),
			OperatorID: req.OperatorID,
			Timestamp:  s.settings.now(),
		}
		if err := s.cashFlows.Create(ctx, tx, flow); err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, models.AuditEntry{
			EntityType:  "cash_register",
			EntityID:    register.ID,
			Action:      "register.adjust",
			NewValue:    snapshot(flow),
			PerformedBy: req.OperatorID,
			Timestamp:   flow.Timestamp,
		})
	})
	if err != nil {
		return models.CashFlow{}, persistenceError(err)
	}
	s.PublishBalance(req.OperatorID, flow.RegisterID, "adjust")
	return flow, nil
}

func (s *RegisterService) CurrentBalance(ctx context.Context, registerID string) (Balance, error) {
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()
	register, err := s.registers.GetByID(ctx, registerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrRegisterNotFound
		}
		return Balance{}, persistenceError(err)
	}
	totals, err := s.registers.Totals(ctx, nil, registerID)
	if err != nil {
		return Balance{}, persistenceError(err)
	}
	balance, err := balanceFromTotals(registerID, totals)
	if err != nil {
		return Balance{}, err
	}
	balance.Status = register.Status
	balance.OperatorID = register.OperatorID
	return balance, nil
}

// CurrentForOperator returns the operator's OPEN register and its balance.
func (s *RegisterService) CurrentForOperator(ctx context.Context, operatorID string) (models.CashRegister, Balance, error) {
	boundCtx, cancel := s.settings.bound(ctx, false)
	register, err := s.registers.GetOpenByOperator(boundCtx, operatorID)
	cancel()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CashRegister{}, Balance{}, ErrRegisterNotFound
		}
		return models.CashRegister{}, Balance{}, persistenceError(err)
	}
	balance, err := s.CurrentBalance(ctx, register.ID)
	if err != nil {
		return models.CashRegister{}, Balance{}, err
	}
	return register, balance, nil
}

// Journal is the event history behind a register's balance.
type Journal struct {
	Register     models.CashRegister  `json:"register"`
	Transactions []models.Transaction `json:"transactions"`
	CashFlows    []models.CashFlow    `json:"cash_flows"`
}

// Journal pages through the register's transactions; drawer adjustments are
// returned in full.
func (s *RegisterService) Journal(ctx context.Context, registerID string, limit, offset int) (Journal, error) {
	ctx, cancel := s.settings.bound(ctx, false)
	defer cancel()
	register, err := s.registers.GetByID(ctx, registerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Journal{}, ErrRegisterNotFound
		}
		return Journal{}, persistenceError(err)
	}
	txns, err := s.transactions.ListByRegister(ctx, registerID, limit, offset)
	if err != nil {
		return Journal{}, persistenceError(err)
	}
	flows, err := s.cashFlows.ListByRegister(ctx, registerID)
	if err != nil {
		return Journal{}, persistenceError(err)
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	if flows == nil {
		flows = []models.CashFlow{}
	}
	return Journal{Register: register, Transactions: txns, CashFlows: flows}, nil
}

func (s *RegisterService) Close(ctx context.Context, req CloseRegisterRequest) (CloseResult, error) {
	if req.CountedBalance.IsNegative() {
		return CloseResult{}, ErrInvalidAmount
	}
	ctx, cancel := s.settings.bound(ctx, true)
	defer cancel()

	var result CloseResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		register, err := s.registers.GetOpenByOperatorForUpdate(ctx, tx, req.OperatorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRegisterClosed
			}
			return err
		}
		totals, err := s.registers.Totals(ctx, tx, register.ID)
		if err != nil {
			return err
		}
		balance, err := balanceFromTotals(register.ID, totals)
		if err != nil {
			return err
		}
		discrepancy, err := req.CountedBalance.Sub(balance.Current)
		if err != nil {
			return err
		}
		pct, classification := classifyDiscrepancy(discrepancy, balance.Current, s.settings)
		notes := strings.TrimSpace(req.Notes)
		if classification == ClassificationCritical && notes == "" {
			return ErrNotesRequired
		}
		var notesPtr *string
		if notes != "" {
			notesPtr = &notes
		}
		input := store.CloseRegisterInput{
			RegisterID:      register.ID,
			ShiftEnd:        s.settings.now(),
			CountedBalance:  req.CountedBalance,
			ExpectedBalance: balance.Current,
			Discrepancy:     discrepancy,
			DiscrepancyPct:  pct,
			Classification:  classification,
			Notes:           notesPtr,
		}
		rows, err := s.registers.Close(ctx, tx, input)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrRegisterClosed
		}
		result = CloseResult{
			RegisterID:      register.ID,
			ExpectedBalance: balance.Current,
			CountedBalance:  req.CountedBalance,
			Discrepancy:     discrepancy,
			DiscrepancyPct:  pct,
			Classification:  classification,
		}
		closed := register
		closed.Status = models.RegisterClosed
		closed.ShiftEnd = &input.ShiftEnd
		closed.CountedBalance = &input.CountedBalance
		closed.ExpectedBalance = &input.ExpectedBalance
		closed.Discrepancy = &input.Discrepancy
		closed.DiscrepancyPct = &pct
		closed.Classification = &classification
		closed.Notes = notesPtr
		return s.auditStore.Log(ctx, tx, models.AuditEntry{
			EntityType:  "cash_register",
			EntityID:    register.ID,
			Action:      "register.close",
			OldValue:    snapshot(register),
			NewValue:    snapshot(closed),
			PerformedBy: req.OperatorID,
			Timestamp:   input.ShiftEnd,
		})
	})
	if err != nil {
		return CloseResult{}, persistenceError(err)
	}
	if result.Classification == ClassificationCritical {
		log.Warn().
			Str("register_id", result.RegisterID).
			Str("operator_id", req.OperatorID).
			Str("discrepancy", result.Discrepancy.Decimal()).
			Str("discrepancy_pct", result.DiscrepancyPct).
			Msg("critical register discrepancy at close")
	}
	s.PublishBalance(req.OperatorID, result.RegisterID, "close")
	return result, nil
}

// PublishBalance pushes the current balance to the operator's screens. Best
// effort: it runs after commit and never fails the caller.
func (s *RegisterService) PublishBalance(operatorID, registerID, event string) {
	if s.hub == nil {
		return
	}
	ctx, cancel := s.settings.bound(context.Background(), false)
	defer cancel()
	totals, err := s.registers.Totals(ctx, nil, registerID)
	if err != nil {
		log.Debug().Err(err).Str("register_id", registerID).Msg("balance push skipped")
		return
	}
	balance, err := balanceFromTotals(registerID, totals)
	if err != nil {
		return
	}
	s.hub.BroadcastBalance(operatorID, websocket.BalanceUpdate{
		RegisterID: registerID,
		Event:      event,
		Balance:    balance.Current.Decimal(),
		Currency:   money.Currency,
		SaleCount:  balance.SaleCount,
		At:         s.settings.now(),
	})
}

func balanceFromTotals(registerID string, totals store.RegisterTotals) (Balance, error) {
	current := totals.OpeningBalance
	steps := []struct {
		amount money.Money
		add    bool
	}{
		{totals.Sales, true},
		{totals.Refunds, false},
		{totals.Deposits, true},
		{totals.Withdrawals, false},
	}
	var err error
	for _, step := range steps {
		if step.add {
			current, err = current.Add(step.amount)
		} else {
			current, err = current.Sub(step.amount)
		}
		if err != nil {
			return Balance{}, err
		}
	}
	average := money.Zero
	if totals.SaleCount > 0 {
		average, err = totals.Sales.Prorate(1, totals.SaleCount)
		if err != nil {
			return Balance{}, err
		}
	}
	return Balance{
		RegisterID:     registerID,
		OpeningBalance: totals.OpeningBalance,
		Sales:          totals.Sales,
		SaleCount:      totals.SaleCount,
		AverageSale:    average,
		Refunds:        totals.Refunds,
		Deposits:       totals.Deposits,
		Withdrawals:    totals.Withdrawals,
		Current:        current,
	}, nil
}

// classifyDiscrepancy returns the discrepancy as a percentage of the expected
// balance (two decimals) and its severity.
func classifyDiscrepancy(discrepancy, expected money.Money, settings Settings) (string, string) {
	if expected.IsZero() {
		if discrepancy.IsZero() {
			return "0.00", ClassificationNormal
		}
		return "0.00", ClassificationCritical
	}
	pct := discrepancy.DecimalValue().
		Div(expected.DecimalValue().Abs()).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	magnitude := pct.Abs()
	switch {
	case magnitude.LessThanOrEqual(settings.DiscrepancyWarnPct):
		return pct.StringFixed(2), ClassificationNormal
	case magnitude.LessThanOrEqual(settings.DiscrepancyCriticalPct):
		return pct.StringFixed(2), ClassificationWarning
	default:
		return pct.StringFixed(2), ClassificationCritical
	}
}
