package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"parking/internal/models"
	"parking/internal/money"
	"parking/internal/store"
	"parking/internal/websocket"

	"github.com/jmoiron/sqlx"
)

var testEntry = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func testPricingConfig() models.PricingConfig {
	return models.PricingConfig{
		ID:               "cfg-1",
		MinimumHours:     1,
		MinimumRate:      money.MustMinor(2500),
		IncrementMinutes: 15,
		IncrementRate:    money.MustMinor(500),
		MonthlyRate:      money.MustMinor(120000),
		LostTicketFee:    money.MustMinor(5000),
		IsActive:         true,
	}
}

// memState is the whole in-memory database. WithTx snapshots it and restores
// the snapshot when the closure fails, so a rejected call leaves no trace.
type memState struct {
	tickets      map[string]models.Ticket
	registers    map[string]models.CashRegister
	transactions []models.Transaction
	flows        []models.CashFlow
	configs      []models.PricingConfig
	pensions     []models.Pension
	audit        []models.AuditEntry
}

func (s memState) clone() memState {
	out := memState{
		tickets:      make(map[string]models.Ticket, len(s.tickets)),
		registers:    make(map[string]models.CashRegister, len(s.registers)),
		transactions: append([]models.Transaction(nil), s.transactions...),
		flows:        append([]models.CashFlow(nil), s.flows...),
		configs:      append([]models.PricingConfig(nil), s.configs...),
		pensions:     append([]models.Pension(nil), s.pensions...),
		audit:        append([]models.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.tickets {
		out.tickets[k] = v
	}
	for k, v := range s.registers {
		out.registers[k] = v
	}
	return out
}

type memDB struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state memState
	clock time.Time
	// failWith makes WithTx fail before running the closure.
	failWith error
}

func newMemDB() *memDB {
	return &memDB{
		state: memState{
			tickets:   map[string]models.Ticket{},
			registers: map[string]models.CashRegister{},
		},
		clock: testEntry,
	}
}

func (m *memDB) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	saved := m.state.clone()
	m.mu.Unlock()
	if err := fn(nil); err != nil {
		m.mu.Lock()
		m.state = saved
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memDB) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock
}

func (m *memDB) advance(d time.Duration) {
	m.mu.Lock()
	m.clock = m.clock.Add(d)
	m.mu.Unlock()
}

func (m *memDB) settings() Settings {
	s := DefaultSettings()
	s.Now = m.now
	return s
}

func (m *memDB) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memDB) tickets() memTickets           { return memTickets{m} }
func (m *memDB) registers() memRegisters       { return memRegisters{m} }
func (m *memDB) transactions() memTransactions { return memTransactions{m} }
func (m *memDB) cashFlows() memCashFlows       { return memCashFlows{m} }
func (m *memDB) pricingConfigs() memPricing    { return memPricing{m} }
func (m *memDB) pensionStore() memPensions     { return memPensions{m} }
func (m *memDB) auditLog() memAudit            { return memAudit{m} }

func (m *memDB) seedPricing(cfg models.PricingConfig) {
	m.mu.Lock()
	m.state.configs = append(m.state.configs, cfg)
	m.mu.Unlock()
}

type memTickets struct{ m *memDB }

func (s memTickets) Create(_ context.Context, _ store.Execer, ticket models.Ticket) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.state.tickets[ticket.ID] = ticket
	return nil
}

func (s memTickets) GetByID(_ context.Context, ticketID string) (models.Ticket, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ticket, ok := s.m.state.tickets[ticketID]
	if !ok {
		return models.Ticket{}, sql.ErrNoRows
	}
	return ticket, nil
}

func (s memTickets) GetForUpdate(ctx context.Context, _ store.Getter, ticketID string) (models.Ticket, error) {
	return s.GetByID(ctx, ticketID)
}

func (s memTickets) HasActiveForPlate(_ context.Context, _ store.Getter, plate string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, ticket := range s.m.state.tickets {
		if ticket.PlateNumber == plate && ticket.Status == models.TicketActive {
			return true, nil
		}
	}
	return false, nil
}

func (s memTickets) ListActiveByPlateForUpdate(_ context.Context, _ store.Selecter, plate string) ([]models.Ticket, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []models.Ticket
	for _, ticket := range s.m.state.tickets {
		if ticket.PlateNumber == plate && ticket.Status == models.TicketActive {
			out = append(out, ticket)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out, nil
}

func (s memTickets) Settle(_ context.Context, _ store.Execer, ticketID string, status models.TicketStatus, amount money.Money, paidAt time.Time, pricingConfigID string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ticket, ok := s.m.state.tickets[ticketID]
	if !ok || ticket.Status != models.TicketActive {
		return 0, nil
	}
	ticket.Status = status
	ticket.TotalAmount = &amount
	ticket.PaidAt = &paidAt
	ticket.PricingConfigID = &pricingConfigID
	s.m.state.tickets[ticketID] = ticket
	return 1, nil
}

func (s memTickets) Cancel(_ context.Context, _ store.Execer, ticketID string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ticket, ok := s.m.state.tickets[ticketID]
	if !ok || ticket.Status != models.TicketActive {
		return 0, nil
	}
	ticket.Status = models.TicketCancelled
	s.m.state.tickets[ticketID] = ticket
	return 1, nil
}

func (s memTickets) SetExitTime(_ context.Context, _ store.Execer, ticketID string, exitTime time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	ticket, ok := s.m.state.tickets[ticketID]
	if !ok || ticket.ExitTime != nil || (ticket.Status != models.TicketPaid && ticket.Status != models.TicketLost) {
		return 0, nil
	}
	ticket.ExitTime = &exitTime
	s.m.state.tickets[ticketID] = ticket
	return 1, nil
}

type memRegisters struct{ m *memDB }

func (s memRegisters) Create(_ context.Context, _ store.Execer, register models.CashRegister) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.state.registers[register.ID] = register
	return nil
}

func (s memRegisters) GetByID(_ context.Context, registerID string) (models.CashRegister, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	register, ok := s.m.state.registers[registerID]
	if !ok {
		return models.CashRegister{}, sql.ErrNoRows
	}
	return register, nil
}

func (s memRegisters) GetOpenByOperator(_ context.Context, operatorID string) (models.CashRegister, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, register := range s.m.state.registers {
		if register.OperatorID == operatorID && register.Status == models.RegisterOpen {
			return register, nil
		}
	}
	return models.CashRegister{}, sql.ErrNoRows
}

func (s memRegisters) GetOpenByOperatorForUpdate(ctx context.Context, _ store.Getter, operatorID string) (models.CashRegister, error) {
	return s.GetOpenByOperator(ctx, operatorID)
}

func (s memRegisters) Totals(_ context.Context, _ store.Getter, registerID string) (store.RegisterTotals, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	register, ok := s.m.state.registers[registerID]
	if !ok {
		return store.RegisterTotals{}, sql.ErrNoRows
	}
	totals := store.RegisterTotals{OpeningBalance: register.OpeningBalance}
	for _, txn := range s.m.state.transactions {
		if txn.RegisterID != registerID {
			continue
		}
		if txn.Type == models.TransactionRefund {
			totals.Refunds = money.MustMinor(totals.Refunds.Minor() + txn.Amount.Minor())
			continue
		}
		totals.Sales = money.MustMinor(totals.Sales.Minor() + txn.Amount.Minor())
		totals.SaleCount++
	}
	for _, flow := range s.m.state.flows {
		if flow.RegisterID != registerID {
			continue
		}
		if flow.Type == models.CashFlowDeposit {
			totals.Deposits = money.MustMinor(totals.Deposits.Minor() + flow.Amount.Minor())
		} else {
			totals.Withdrawals = money.MustMinor(totals.Withdrawals.Minor() + flow.Amount.Minor())
		}
	}
	return totals, nil
}

func (s memRegisters) Close(_ context.Context, _ store.Execer, input store.CloseRegisterInput) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	register, ok := s.m.state.registers[input.RegisterID]
	if !ok || register.Status != models.RegisterOpen {
		return 0, nil
	}
	register.Status = models.RegisterClosed
	register.ShiftEnd = &input.ShiftEnd
	register.CountedBalance = &input.CountedBalance
	register.ExpectedBalance = &input.ExpectedBalance
	register.Discrepancy = &input.Discrepancy
	register.DiscrepancyPct = &input.DiscrepancyPct
	register.Classification = &input.Classification
	register.Notes = input.Notes
	s.m.state.registers[input.RegisterID] = register
	return 1, nil
}

type memTransactions struct{ m *memDB }

func (s memTransactions) Create(_ context.Context, _ store.Execer, txn models.Transaction) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.state.transactions = append(s.m.state.transactions, txn)
	return nil
}

func (s memTransactions) RefundedForTicket(_ context.Context, _ store.Getter, ticketID string) (money.Money, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var total int64
	for _, txn := range s.m.state.transactions {
		if txn.Type == models.TransactionRefund && txn.TicketID != nil && *txn.TicketID == ticketID {
			total += txn.Amount.Minor()
		}
	}
	return money.FromMinor(total)
}

func (s memTransactions) ListByRegister(_ context.Context, registerID string, limit, offset int) ([]models.Transaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var rows []models.Transaction
	for _, txn := range s.m.state.transactions {
		if txn.RegisterID == registerID {
			rows = append(rows, txn)
		}
	}
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

type memCashFlows struct{ m *memDB }

func (s memCashFlows) ListByRegister(_ context.Context, registerID string) ([]models.CashFlow, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var rows []models.CashFlow
	for _, flow := range s.m.state.flows {
		if flow.RegisterID == registerID {
			rows = append(rows, flow)
		}
	}
	return rows, nil
}

func (s memCashFlows) Create(_ context.Context, _ store.Execer, flow models.CashFlow) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.state.flows = append(s.m.state.flows, flow)
	return nil
}

type memPricing struct{ m *memDB }

func (s memPricing) GetActive(_ context.Context, _ store.Getter) (models.PricingConfig, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, cfg := range s.m.state.configs {
		if cfg.IsActive {
			return cfg, nil
		}
	}
	return models.PricingConfig{}, sql.ErrNoRows
}

func (s memPricing) GetActiveForUpdate(ctx context.Context, tx store.Getter) (models.PricingConfig, error) {
	return s.GetActive(ctx, tx)
}

func (s memPricing) Deactivate(_ context.Context, _ store.Execer, configID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for i := range s.m.state.configs {
		if s.m.state.configs[i].ID == configID {
			s.m.state.configs[i].IsActive = false
		}
	}
	return nil
}

func (s memPricing) Create(_ context.Context, _ store.Execer, cfg models.PricingConfig) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.state.configs {
		if existing.IsActive && cfg.IsActive {
			return errors.New("duplicate active pricing config")
		}
	}
	s.m.state.configs = append(s.m.state.configs, cfg)
	return nil
}

func (s memPricing) List(_ context.Context, limit, offset int) ([]models.PricingConfig, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []models.PricingConfig
	for i := len(s.m.state.configs) - 1; i >= 0; i-- {
		out = append(out, s.m.state.configs[i])
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type memPensions struct{ m *memDB }

func (s memPensions) Create(_ context.Context, _ store.Execer, pension models.Pension) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.state.pensions = append(s.m.state.pensions, pension)
	return nil
}

func (s memPensions) ActiveForPlate(_ context.Context, plate string, at time.Time) (models.Pension, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, pension := range s.m.state.pensions {
		if pension.PlateNumber == plate && !pension.StartsAt.After(at) && pension.EndsAt.After(at) {
			return pension, nil
		}
	}
	return models.Pension{}, sql.ErrNoRows
}

type memAudit struct{ m *memDB }

func (s memAudit) Log(_ context.Context, _ store.Execer, entry models.AuditEntry) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.state.audit = append(s.m.state.audit, entry)
	return nil
}

type seqBarcodes struct {
	mu sync.Mutex
	n  int
}

func (b *seqBarcodes) Next() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	return fmt.Sprintf("BC%06d", b.n)
}

type recordingHub struct {
	mu      sync.Mutex
	updates []websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(_ string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update)
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.updates)
}

// harness wires every service over one memDB.
type harness struct {
	db        *memDB
	hub       *recordingHub
	registers *RegisterService
	tickets   *TicketService
	pensions  *PensionService
	pricing   *PricingService
}

func newHarness() *harness {
	m := newMemDB()
	m.seedPricing(testPricingConfig())
	hub := &recordingHub{}
	settings := m.settings()
	registers := NewRegisterService(m, m.registers(), m.transactions(), m.cashFlows(), m.auditLog(), hub, settings)
	return &harness{
		db:        m,
		hub:       hub,
		registers: registers,
		tickets:   NewTicketService(m, m.tickets(), m.transactions(), m.pricingConfigs(), m.auditLog(), registers, &seqBarcodes{}, settings),
		pensions:  NewPensionService(m, m.pensionStore(), m.pricingConfigs(), m.auditLog(), registers, settings),
		pricing:   NewPricingService(m, m.pricingConfigs(), m.auditLog(), settings),
	}
}

func (h *harness) auditActions() []string {
	var actions []string
	for _, entry := range h.db.snapshot().audit {
		actions = append(actions, entry.Action)
	}
	return actions
}
