package handlers

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"parking/internal/auth"
	"parking/internal/config"
	"parking/internal/db"
	"parking/internal/models"
	"parking/internal/services"
	"parking/internal/store"
	"parking/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubOperatorStore struct {
	createFn        func(ctx context.Context, tx store.Execer, op models.Operator) error
	getByUsernameFn func(ctx context.Context, username string) (models.Operator, error)
	getByIDFn       func(ctx context.Context, operatorID string) (models.Operator, error)
	listFn          func(ctx context.Context, limit, offset int) ([]models.Operator, error)
}

func (s stubOperatorStore) Create(ctx context.Context, tx store.Execer, op models.Operator) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, op)
}

func (s stubOperatorStore) GetByUsername(ctx context.Context, username string) (models.Operator, error) {
	if s.getByUsernameFn == nil {
		return models.Operator{}, nil
	}
	return s.getByUsernameFn(ctx, username)
}

func (s stubOperatorStore) GetByID(ctx context.Context, operatorID string) (models.Operator, error) {
	if s.getByIDFn == nil {
		return models.Operator{ID: operatorID}, nil
	}
	return s.getByIDFn(ctx, operatorID)
}

func (s stubOperatorStore) List(ctx context.Context, limit, offset int) ([]models.Operator, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubAdminStore struct {
	isAdminFn     func(ctx context.Context, operatorID string) (bool, bool, error)
	hasRoleFn     func(ctx context.Context, operatorID, role string) (bool, error)
	createAdminFn func(ctx context.Context, tx store.Execer, operatorID string, isSuper bool, createdBy *string) error
	listRolesFn   func(ctx context.Context, operatorID string) ([]string, error)
	grantRoleFn   func(ctx context.Context, tx store.Execer, adminOperatorID, role string) error
	revokeRoleFn  func(ctx context.Context, tx store.Execer, adminOperatorID, role string) (bool, error)
	hasAnyAdminFn func(ctx context.Context) (bool, error)
}

func (s stubAdminStore) IsAdmin(ctx context.Context, operatorID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, operatorID)
}

func (s stubAdminStore) HasRole(ctx context.Context, operatorID, role string) (bool, error) {
	if s.hasRoleFn == nil {
		return false, nil
	}
	return s.hasRoleFn(ctx, operatorID, role)
}

func (s stubAdminStore) CreateAdmin(ctx context.Context, tx store.Execer, operatorID string, isSuper bool, createdBy *string) error {
	if s.createAdminFn == nil {
		return nil
	}
	return s.createAdminFn(ctx, tx, operatorID, isSuper, createdBy)
}

func (s stubAdminStore) GrantRole(ctx context.Context, tx store.Execer, adminOperatorID, role string) error {
	if s.grantRoleFn == nil {
		return nil
	}
	return s.grantRoleFn(ctx, tx, adminOperatorID, role)
}

func (s stubAdminStore) ListRoles(ctx context.Context, operatorID string) ([]string, error) {
	if s.listRolesFn == nil {
		return []string{}, nil
	}
	return s.listRolesFn(ctx, operatorID)
}

func (s stubAdminStore) RevokeRole(ctx context.Context, tx store.Execer, adminOperatorID, role string) (bool, error) {
	if s.revokeRoleFn == nil {
		return true, nil
	}
	return s.revokeRoleFn(ctx, tx, adminOperatorID, role)
}

func (s stubAdminStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	if s.hasAnyAdminFn == nil {
		return false, nil
	}
	return s.hasAnyAdminFn(ctx)
}

// superAdmins treats every operator as a super admin.
var superAdmins = stubAdminStore{
	isAdminFn: func(context.Context, string) (bool, bool, error) { return true, true, nil },
}

type stubAuditStore struct {
	logFn     func(ctx context.Context, tx store.Execer, entry models.AuditEntry) error
	queryFn   func(ctx context.Context, filter store.AuditFilter) ([]models.AuditRecord, error)
	chainFn   func(ctx context.Context, fromSeq int64, limit int) ([]models.AuditRecord, error)
	pendingFn func(ctx context.Context) (int64, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, entry models.AuditEntry) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, entry)
}

func (s stubAuditStore) Query(ctx context.Context, filter store.AuditFilter) ([]models.AuditRecord, error) {
	if s.queryFn == nil {
		return nil, nil
	}
	return s.queryFn(ctx, filter)
}

func (s stubAuditStore) Chain(ctx context.Context, fromSeq int64, limit int) ([]models.AuditRecord, error) {
	if s.chainFn == nil {
		return nil, nil
	}
	return s.chainFn(ctx, fromSeq, limit)
}

func (s stubAuditStore) PendingCount(ctx context.Context) (int64, error) {
	if s.pendingFn == nil {
		return 0, nil
	}
	return s.pendingFn(ctx)
}

type stubTicketService struct {
	openFn   func(ctx context.Context, req services.OpenTicketRequest) (models.Ticket, error)
	getFn    func(ctx context.Context, ticketID string) (models.Ticket, error)
	quoteFn  func(ctx context.Context, ticketID string) (services.Quote, error)
	payFn    func(ctx context.Context, req services.PayRequest) (services.PaymentResult, error)
	lostFn   func(ctx context.Context, req services.LostTicketRequest) (services.LostTicketResult, error)
	exitFn   func(ctx context.Context, ticketID, operatorID string) (services.ExitResult, error)
	cancelFn func(ctx context.Context, req services.CancelTicketRequest) (models.Ticket, error)
	refundFn func(ctx context.Context, req services.RefundRequest) (models.Transaction, error)
}

func (s stubTicketService) Open(ctx context.Context, req services.OpenTicketRequest) (models.Ticket, error) {
	if s.openFn == nil {
		return models.Ticket{}, nil
	}
	return s.openFn(ctx, req)
}

func (s stubTicketService) Get(ctx context.Context, ticketID string) (models.Ticket, error) {
	if s.getFn == nil {
		return models.Ticket{ID: ticketID}, nil
	}
	return s.getFn(ctx, ticketID)
}

func (s stubTicketService) Quote(ctx context.Context, ticketID string) (services.Quote, error) {
	if s.quoteFn == nil {
		return services.Quote{TicketID: ticketID}, nil
	}
	return s.quoteFn(ctx, ticketID)
}

func (s stubTicketService) Pay(ctx context.Context, req services.PayRequest) (services.PaymentResult, error) {
	if s.payFn == nil {
		return services.PaymentResult{TicketID: req.TicketID}, nil
	}
	return s.payFn(ctx, req)
}

func (s stubTicketService) ReportLost(ctx context.Context, req services.LostTicketRequest) (services.LostTicketResult, error) {
	if s.lostFn == nil {
		return services.LostTicketResult{}, nil
	}
	return s.lostFn(ctx, req)
}

func (s stubTicketService) AuthorizeExit(ctx context.Context, ticketID, operatorID string) (services.ExitResult, error) {
	if s.exitFn == nil {
		return services.ExitResult{TicketID: ticketID, Granted: true}, nil
	}
	return s.exitFn(ctx, ticketID, operatorID)
}

func (s stubTicketService) Cancel(ctx context.Context, req services.CancelTicketRequest) (models.Ticket, error) {
	if s.cancelFn == nil {
		return models.Ticket{ID: req.TicketID, Status: models.TicketCancelled}, nil
	}
	return s.cancelFn(ctx, req)
}

func (s stubTicketService) Refund(ctx context.Context, req services.RefundRequest) (models.Transaction, error) {
	if s.refundFn == nil {
		return models.Transaction{Type: models.TransactionRefund, Amount: req.Amount}, nil
	}
	return s.refundFn(ctx, req)
}

type stubRegisterService struct {
	openFn    func(ctx context.Context, req services.OpenRegisterRequest) (models.CashRegister, error)
	adjustFn  func(ctx context.Context, req services.AdjustRequest) (models.CashFlow, error)
	balanceFn func(ctx context.Context, registerID string) (services.Balance, error)
	currentFn func(ctx context.Context, operatorID string) (models.CashRegister, services.Balance, error)
	closeFn   func(ctx context.Context, req services.CloseRegisterRequest) (services.CloseResult, error)
	journalFn func(ctx context.Context, registerID string, limit, offset int) (services.Journal, error)
}

func (s stubRegisterService) Journal(ctx context.Context, registerID string, limit, offset int) (services.Journal, error) {
	if s.journalFn == nil {
		return services.Journal{Register: models.CashRegister{ID: registerID}}, nil
	}
	return s.journalFn(ctx, registerID, limit, offset)
}

func (s stubRegisterService) Open(ctx context.Context, req services.OpenRegisterRequest) (models.CashRegister, error) {
	if s.openFn == nil {
		return models.CashRegister{OperatorID: req.OperatorID, Status: models.RegisterOpen, OpeningBalance: req.OpeningBalance}, nil
	}
	return s.openFn(ctx, req)
}

func (s stubRegisterService) Adjust(ctx context.Context, req services.AdjustRequest) (models.CashFlow, error) {
	if s.adjustFn == nil {
		return models.CashFlow{Type: req.Type, Amount: req.Amount, Reason: req.Reason}, nil
	}
	return s.adjustFn(ctx, req)
}

func (s stubRegisterService) CurrentBalance(ctx context.Context, registerID string) (services.Balance, error) {
	if s.balanceFn == nil {
		return services.Balance{RegisterID: registerID}, nil
	}
	return s.balanceFn(ctx, registerID)
}

func (s stubRegisterService) CurrentForOperator(ctx context.Context, operatorID string) (models.CashRegister, services.Balance, error) {
	if s.currentFn == nil {
		return models.CashRegister{OperatorID: operatorID}, services.Balance{}, nil
	}
	return s.currentFn(ctx, operatorID)
}

func (s stubRegisterService) Close(ctx context.Context, req services.CloseRegisterRequest) (services.CloseResult, error) {
	if s.closeFn == nil {
		return services.CloseResult{CountedBalance: req.CountedBalance}, nil
	}
	return s.closeFn(ctx, req)
}

type stubPensionService struct {
	sellFn   func(ctx context.Context, req services.PensionRequest) (services.PensionResult, error)
	activeFn func(ctx context.Context, plate string, at time.Time) (*models.Pension, error)
}

func (s stubPensionService) Sell(ctx context.Context, req services.PensionRequest) (services.PensionResult, error) {
	if s.sellFn == nil {
		return services.PensionResult{}, nil
	}
	return s.sellFn(ctx, req)
}

func (s stubPensionService) ActiveForPlate(ctx context.Context, plate string, at time.Time) (*models.Pension, error) {
	if s.activeFn == nil {
		return nil, nil
	}
	return s.activeFn(ctx, plate, at)
}

type stubPricingService struct {
	activeFn  func(ctx context.Context) (models.PricingConfig, error)
	publishFn func(ctx context.Context, req services.PublishPricingRequest) (models.PricingConfig, error)
	historyFn func(ctx context.Context, limit, offset int) ([]models.PricingConfig, error)
}

func (s stubPricingService) Active(ctx context.Context) (models.PricingConfig, error) {
	if s.activeFn == nil {
		return models.PricingConfig{}, nil
	}
	return s.activeFn(ctx)
}

func (s stubPricingService) Publish(ctx context.Context, req services.PublishPricingRequest) (models.PricingConfig, error) {
	if s.publishFn == nil {
		return req.Config, nil
	}
	return s.publishFn(ctx, req)
}

func (s stubPricingService) History(ctx context.Context, limit, offset int) ([]models.PricingConfig, error) {
	if s.historyFn == nil {
		return nil, nil
	}
	return s.historyFn(ctx, limit, offset)
}

// testDeps groups the collaborators; zero values fall back to permissive stubs.
type testDeps struct {
	txRunner  db.TxRunner
	operators stubOperatorStore
	admin     stubAdminStore
	audit     stubAuditStore
	tickets   stubTicketService
	registers stubRegisterService
	pensions  stubPensionService
	pricing   stubPricingService
}

func newTestHandler(deps testDeps) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
	}
	txRunner := deps.txRunner
	if txRunner == nil {
		txRunner = fakeTxRunner{}
	}
	return New(txRunner, cfg, deps.operators, deps.admin, deps.audit, deps.tickets, deps.registers, deps.pensions, deps.pricing, websocket.NewHub())
}

// serve routes the request through the full router. An empty operatorID
// sends no token.
func serve(t *testing.T, handler *Handler, method, path, body, operatorID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if operatorID != "" {
		token, err := auth.GenerateToken("secret", operatorID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)
	return rr
}
