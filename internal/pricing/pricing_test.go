package pricing

import (
	"testing"
	"time"

	"parking/internal/models"
	"parking/internal/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entry = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func baseConfig() models.PricingConfig {
	return models.PricingConfig{
		ID:               "cfg-1",
		MinimumHours:     1,
		MinimumRate:      money.MustMinor(2500),
		IncrementMinutes: 15,
		IncrementRate:    money.MustMinor(500),
		MonthlyRate:      money.MustMinor(120000),
		LostTicketFee:    money.MustMinor(5000),
	}
}

func withDailySpecial(cfg models.PricingConfig, hours int, minor int64) models.PricingConfig {
	rate := money.MustMinor(minor)
	cfg.DailySpecialHours = &hours
	cfg.DailySpecialRate = &rate
	return cfg
}

func TestQuoteStayMinimumWindow(t *testing.T) {
	cfg := baseConfig()
	for _, elapsed := range []time.Duration{0, 30 * time.Second, 59 * time.Minute, 60 * time.Minute, 60*time.Minute + 59*time.Second} {
		result, err := QuoteStay(cfg, entry, entry.Add(elapsed))
		require.NoError(t, err)
		assert.True(t, result.Amount.Equal(cfg.MinimumRate), "elapsed %s charged %s", elapsed, result.Amount)
		assert.Zero(t, result.Increments)
	}
}

func TestQuoteStayOneMinuteOverChargesFullIncrement(t *testing.T) {
	cfg := baseConfig()
	result, err := QuoteStay(cfg, entry, entry.Add(61*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3000), result.Amount.Minor())
	assert.Equal(t, int64(1), result.Increments)

	cfg.IncrementMinutes = 1
	result, err = QuoteStay(cfg, entry, entry.Add(61*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3000), result.Amount.Minor())
}

func TestQuoteStayOneHourFortyFive(t *testing.T) {
	result, err := QuoteStay(baseConfig(), entry, entry.Add(time.Hour+45*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "40.00 MXN", result.Amount.Format())
	assert.Equal(t, int64(3), result.Increments)
	assert.Equal(t, int64(105), result.ElapsedMinutes)
}

func TestQuoteStayIncrementBoundaries(t *testing.T) {
	cfg := baseConfig()
	cases := []struct {
		minutes int
		want    int64
	}{
		{75, 3000},
		{76, 3500},
		{90, 3500},
		{91, 4000},
		{120, 4500},
	}
	for _, tc := range cases {
		result, err := QuoteStay(cfg, entry, entry.Add(time.Duration(tc.minutes)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, tc.want, result.Amount.Minor(), "%d minutes", tc.minutes)
	}
}

func TestQuoteStayZeroMinimumHours(t *testing.T) {
	cfg := baseConfig()
	cfg.MinimumHours = 0
	result, err := QuoteStay(cfg, entry, entry)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), result.Amount.Minor())

	result, err = QuoteStay(cfg, entry, entry.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3000), result.Amount.Minor())
}

func TestQuoteStayNegativeDuration(t *testing.T) {
	_, err := QuoteStay(baseConfig(), entry, entry.Add(-time.Second))
	assert.ErrorIs(t, err, ErrNegativeDuration)
}

func TestQuoteStayDailySpecialCaps(t *testing.T) {
	cfg := withDailySpecial(baseConfig(), 8, 15000)

	result, err := QuoteStay(cfg, entry, entry.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(15000), result.Amount.Minor())
	assert.True(t, result.Capped)

	// below the threshold the special does not apply even though the fee is higher
	cfg = withDailySpecial(baseConfig(), 8, 4000)
	result, err = QuoteStay(cfg, entry, entry.Add(7*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2500+24*500), result.Amount.Minor())
	assert.False(t, result.Capped)
}

func TestQuoteStayDailySpecialNeverIncreasesFee(t *testing.T) {
	cfg := withDailySpecial(baseConfig(), 2, 90000)
	result, err := QuoteStay(cfg, entry, entry.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2500+8*500), result.Amount.Minor())
	assert.False(t, result.Capped)
}

func TestQuoteStayNeverExceedsDailySpecial(t *testing.T) {
	cfg := withDailySpecial(baseConfig(), 6, 12000)
	for minutes := 6 * 60; minutes <= 48*60; minutes += 37 {
		result, err := QuoteStay(cfg, entry, entry.Add(time.Duration(minutes)*time.Minute))
		require.NoError(t, err)
		assert.False(t, cfg.DailySpecialRate.LessThan(result.Amount), "%d minutes charged %s", minutes, result.Amount)
	}
}

func TestQuoteStayDailySpecialInsideMinimumWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.MinimumHours = 3
	cfg.MinimumRate = money.MustMinor(10000)
	cfg = withDailySpecial(cfg, 1, 5000)
	require.NoError(t, Validate(cfg))

	result, err := QuoteStay(cfg, entry, entry.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5000), result.Amount.Minor())
	assert.True(t, result.Capped)
	assert.Zero(t, result.Increments)

	// before the threshold the minimum still applies
	result, err = QuoteStay(cfg, entry, entry.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(10000), result.Amount.Minor())
	assert.False(t, result.Capped)
}

func TestQuotePension(t *testing.T) {
	cfg := baseConfig()
	amount, err := QuotePension(cfg, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(360000), amount.Minor())

	for _, months := range []int{0, -1, 13} {
		_, err := QuotePension(cfg, months)
		assert.ErrorIs(t, err, ErrInvalidDuration, "months %d", months)
	}
}

func TestQuoteLostTicketIgnoresElapsedTime(t *testing.T) {
	cfg := baseConfig()
	short, err := Quote(cfg, Request{Kind: LostTicket, EntryTime: entry, Now: entry.Add(time.Minute)})
	require.NoError(t, err)
	long, err := Quote(cfg, Request{Kind: LostTicket, EntryTime: entry, Now: entry.Add(72 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "50.00 MXN", short.Amount.Format())
	assert.True(t, short.Amount.Equal(long.Amount))
}

func TestQuoteDispatch(t *testing.T) {
	cfg := baseConfig()
	result, err := Quote(cfg, Request{Kind: Pension, Months: 12})
	require.NoError(t, err)
	assert.Equal(t, int64(1440000), result.Amount.Minor())

	result, err = Quote(cfg, Request{Kind: Stay, EntryTime: entry, Now: entry.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(4500), result.Amount.Minor())
}

func TestQuoteStayOverflow(t *testing.T) {
	cfg := baseConfig()
	cfg.IncrementMinutes = 1
	cfg.IncrementRate = money.MustMinor(money.MaxMinor)
	_, err := QuoteStay(cfg, entry, entry.Add(3*time.Hour))
	assert.ErrorIs(t, err, money.ErrAmountOverflow)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(baseConfig()))
	assert.NoError(t, Validate(withDailySpecial(baseConfig(), 24, 20000)))

	cfg := baseConfig()
	cfg.IncrementMinutes = 0
	assert.ErrorIs(t, Validate(cfg), ErrInvalidConfig)

	cfg = baseConfig()
	cfg.MinimumRate = money.MustMinor(-1)
	assert.ErrorIs(t, Validate(cfg), ErrInvalidConfig)

	cfg = baseConfig()
	hours := 8
	cfg.DailySpecialHours = &hours
	assert.ErrorIs(t, Validate(cfg), ErrInvalidConfig)

	assert.ErrorIs(t, Validate(withDailySpecial(baseConfig(), 0, 100)), ErrInvalidConfig)
}
