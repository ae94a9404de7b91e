package services

import (
	"context"
	"testing"
	"time"

	"parking/internal/models"
	"parking/internal/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRegisterTwiceIsRejected(t *testing.T) {
	h := newHarness()
	openShift(t, h, "op-1", 50000)
	_, err := h.registers.Open(context.Background(), OpenRegisterRequest{OperatorID: "op-1", OpeningBalance: money.Zero})
	assert.ErrorIs(t, err, ErrRegisterAlreadyOpen)
	assert.Len(t, h.db.snapshot().registers, 1)
}

func TestOpenRegisterRejectsNegativeFloat(t *testing.T) {
	h := newHarness()
	_, err := h.registers.Open(context.Background(), OpenRegisterRequest{OperatorID: "op-1", OpeningBalance: money.MustMinor(-1)})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAdjustValidation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	// amount is checked before the register lookup
	_, err := h.registers.Adjust(ctx, AdjustRequest{OperatorID: "op-1", Type: models.CashFlowDeposit, Amount: money.Zero, Reason: "x"})
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = h.registers.Adjust(ctx, AdjustRequest{OperatorID: "op-1", Type: models.CashFlowDeposit, Amount: money.MustMinor(100), Reason: "x"})
	assert.ErrorIs(t, err, ErrRegisterClosed)

	_, err = h.registers.Adjust(ctx, AdjustRequest{OperatorID: "op-1", Type: "LOAN", Amount: money.MustMinor(100), Reason: "x"})
	assert.ErrorIs(t, err, ErrInvalidCashFlowType)

	_, err = h.registers.Adjust(ctx, AdjustRequest{OperatorID: "op-1", Type: models.CashFlowWithdrawal, Amount: money.MustMinor(100), Reason: "  "})
	assert.ErrorIs(t, err, ErrReasonRequired)
}

func TestCurrentBalanceIsDerivedFromEvents(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	register := openShift(t, h, "op-1", 50000)

	for _, plate := range []string{"AAA111", "BBB222", "CCC333"} {
		ticket, err := h.tickets.Open(ctx, OpenTicketRequest{PlateNumber: plate, OperatorID: "op-1"})
		require.NoError(t, err)
		_, err = h.tickets.Pay(ctx, PayRequest{TicketID: ticket.ID, CashReceived: money.MustMinor(2500), OperatorID: "op-1"})
		require.NoError(t, err)
		h.db.advance(2 * time.Hour)
	}
	_, err := h.registers.Adjust(ctx, AdjustRequest{OperatorID: "op-1", Type: models.CashFlowDeposit, Amount: money.MustMinor(10000), Reason: "change float"})
	require.NoError(t, err)
	_, err = h.registers.Adjust(ctx, AdjustRequest{OperatorID: "op-1", Type: models.CashFlowWithdrawal, Amount: money.MustMinor(20000), Reason: "safe drop"})
	require.NoError(t, err)

	balance, err := h.registers.CurrentBalance(ctx, register.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegisterOpen, balance.Status)
	assert.Equal(t, int64(7500), balance.Sales.Minor())
	assert.Equal(t, int64(3), balance.SaleCount)
	assert.Equal(t, int64(2500), balance.AverageSale.Minor())
	assert.Equal(t, int64(50000+7500+10000-20000), balance.Current.Minor())

	current, byOperator, err := h.registers.CurrentForOperator(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, register.ID, current.ID)
	assert.Equal(t, balance.Current, byOperator.Current)
}

func TestJournalListsRegisterEvents(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	register := openShift(t, h, "op-1", 10000)
	openShift(t, h, "op-2", 0)

	for _, plate := range []string{"AAA111", "BBB222"} {
		ticket, err := h.tickets.Open(ctx, OpenTicketRequest{PlateNumber: plate, OperatorID: "op-1"})
		require.NoError(t, err)
		_, err = h.tickets.Pay(ctx, PayRequest{TicketID: ticket.ID, CashReceived: money.MustMinor(2500), OperatorID: "op-1"})
		require.NoError(t, err)
	}
	other, err := h.tickets.Open(ctx, OpenTicketRequest{PlateNumber: "CCC333", OperatorID: "op-2"})
	require.NoError(t, err)
	_, err = h.tickets.Pay(ctx, PayRequest{TicketID: other.ID, CashReceived: money.MustMinor(2500), OperatorID: "op-2"})
	require.NoError(t, err)
	_, err = h.registers.Adjust(ctx, AdjustRequest{OperatorID: "op-1", Type: models.CashFlowWithdrawal, Amount: money.MustMinor(5000), Reason: "safe drop"})
	require.NoError(t, err)

	journal, err := h.registers.Journal(ctx, register.ID, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, register.ID, journal.Register.ID)
	assert.Len(t, journal.Transactions, 2)
	require.Len(t, journal.CashFlows, 1)
	assert.Equal(t, models.CashFlowWithdrawal, journal.CashFlows[0].Type)

	paged, err := h.registers.Journal(ctx, register.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged.Transactions, 1)
	assert.Equal(t, journal.Transactions[1].ID, paged.Transactions[0].ID)

	_, err = h.registers.Journal(ctx, "missing", 50, 0)
	assert.ErrorIs(t, err, ErrRegisterNotFound)
}

func TestCurrentBalanceUnknownRegister(t *testing.T) {
	h := newHarness()
	_, err := h.registers.CurrentBalance(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRegisterNotFound)
	_, _, err = h.registers.CurrentForOperator(context.Background(), "op-9")
	assert.ErrorIs(t, err, ErrRegisterNotFound)
}

func TestCloseComputesDiscrepancy(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	register := openShift(t, h, "op-1", 100000)

	result, err := h.registers.Close(ctx, CloseRegisterRequest{OperatorID: "op-1", CountedBalance: money.MustMinor(99500)})
	require.NoError(t, err)
	assert.Equal(t, int64(100000), result.ExpectedBalance.Minor())
	assert.Equal(t, int64(-500), result.Discrepancy.Minor())
	assert.Equal(t, "-0.50", result.DiscrepancyPct)
	assert.Equal(t, ClassificationNormal, result.Classification)

	closed := h.db.snapshot().registers[register.ID]
	assert.Equal(t, models.RegisterClosed, closed.Status)
	require.NotNil(t, closed.Discrepancy)
	assert.Equal(t, int64(-500), closed.Discrepancy.Minor())
	assert.Contains(t, h.auditActions(), "register.close")
}

func TestCloseCriticalRequiresNotes(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	openShift(t, h, "op-1", 10000)

	_, err := h.registers.Close(ctx, CloseRegisterRequest{OperatorID: "op-1", CountedBalance: money.MustMinor(9000)})
	assert.ErrorIs(t, err, ErrNotesRequired)
	_, _, err = h.registers.CurrentForOperator(ctx, "op-1")
	require.NoError(t, err)

	result, err := h.registers.Close(ctx, CloseRegisterRequest{OperatorID: "op-1", CountedBalance: money.MustMinor(9000), Notes: "short a bill"})
	require.NoError(t, err)
	assert.Equal(t, ClassificationCritical, result.Classification)
	assert.Equal(t, "-10.00", result.DiscrepancyPct)
}

func TestClosedRegisterRejectsLateSale(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	openShift(t, h, "op-1", 0)
	ticket, err := h.tickets.Open(ctx, OpenTicketRequest{PlateNumber: "ABC123", OperatorID: "op-1"})
	require.NoError(t, err)
	_, err = h.registers.Close(ctx, CloseRegisterRequest{OperatorID: "op-1", CountedBalance: money.Zero})
	require.NoError(t, err)

	_, err = h.tickets.Pay(ctx, PayRequest{TicketID: ticket.ID, CashReceived: money.MustMinor(2500), OperatorID: "op-1"})
	assert.ErrorIs(t, err, ErrRegisterClosed)
	_, err = h.registers.Adjust(ctx, AdjustRequest{OperatorID: "op-1", Type: models.CashFlowDeposit, Amount: money.MustMinor(100), Reason: "late"})
	assert.ErrorIs(t, err, ErrRegisterClosed)
	_, err = h.registers.Close(ctx, CloseRegisterRequest{OperatorID: "op-1", CountedBalance: money.Zero})
	assert.ErrorIs(t, err, ErrRegisterClosed)
	assert.Empty(t, h.db.snapshot().transactions)
}

func TestClassifyDiscrepancy(t *testing.T) {
	settings := DefaultSettings()
	cases := []struct {
		name           string
		discrepancy    int64
		expected       int64
		pct            string
		classification string
	}{
		{"exact", 0, 100000, "0.00", ClassificationNormal},
		{"small overage", 1000, 100000, "1.00", ClassificationNormal},
		{"warning shortage", -1500, 100000, "-1.50", ClassificationWarning},
		{"at critical threshold", 5000, 100000, "5.00", ClassificationWarning},
		{"rounds into warning", -5001, 100000, "-5.00", ClassificationWarning},
		{"critical beyond rounding", -5100, 100000, "-5.10", ClassificationCritical},
		{"zero expected balanced", 0, 0, "0.00", ClassificationNormal},
		{"zero expected with cash", 100, 0, "0.00", ClassificationCritical},
		{"negative expected", -100, -10000, "-1.00", ClassificationNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pct, classification := classifyDiscrepancy(money.MustMinor(tc.discrepancy), money.MustMinor(tc.expected), settings)
			assert.Equal(t, tc.pct, pct)
			assert.Equal(t, tc.classification, classification)
		})
	}
}
