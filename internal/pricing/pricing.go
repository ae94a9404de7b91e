// Package pricing turns a tariff and a stay into an amount. Every function is
// a pure function of its arguments: no clock reads, no I/O.
package pricing

import (
	"errors"
	"time"

	"parking/internal/models"
	"parking/internal/money"
)

var (
	ErrNegativeDuration = errors.New("exit time is before entry time")
	ErrInvalidDuration  = errors.New("invalid pension duration")
	ErrInvalidConfig    = errors.New("invalid pricing config")
)

const (
	MinPensionMonths = 1
	MaxPensionMonths = 12
)

type Kind int

const (
	Stay Kind = iota
	Pension
	LostTicket
)

func (k Kind) String() string {
	switch k {
	case Stay:
		return "stay"
	case Pension:
		return "pension"
	case LostTicket:
		return "lost_ticket"
	default:
		return "unknown"
	}
}

type Request struct {
	Kind      Kind
	EntryTime time.Time
	Now       time.Time
	Months    int
}

type Result struct {
	Amount         money.Money
	Elapsed        time.Duration
	ElapsedMinutes int64
	Increments     int64
	Capped         bool
}

func Quote(cfg models.PricingConfig, req Request) (Result, error) {
	switch req.Kind {
	case Stay:
		return QuoteStay(cfg, req.EntryTime, req.Now)
	case Pension:
		amount, err := QuotePension(cfg, req.Months)
		return Result{Amount: amount}, err
	case LostTicket:
		return Result{Amount: QuoteLostTicket(cfg)}, nil
	default:
		return Result{}, ErrInvalidConfig
	}
}

func QuoteStay(cfg models.PricingConfig, entryTime, now time.Time) (Result, error) {
	if now.Before(entryTime) {
		return Result{}, ErrNegativeDuration
	}
	if cfg.IncrementMinutes < 1 {
		return Result{}, ErrInvalidConfig
	}
	elapsed := now.Sub(entryTime)
	elapsedMinutes := int64(elapsed / time.Minute)
	result := Result{
		Amount:         cfg.MinimumRate,
		Elapsed:        elapsed,
		ElapsedMinutes: elapsedMinutes,
	}
	minimumMinutes := int64(cfg.MinimumHours) * 60
	if elapsedMinutes > minimumMinutes {
		over := elapsedMinutes - minimumMinutes
		step := int64(cfg.IncrementMinutes)
		increments := (over + step - 1) / step
		extra, err := cfg.IncrementRate.Mul(increments)
		if err != nil {
			return Result{}, err
		}
		fee, err := cfg.MinimumRate.Add(extra)
		if err != nil {
			return Result{}, err
		}
		result.Amount = fee
		result.Increments = increments
	}

	// The special caps the fee inside the minimum window too.
	if cfg.DailySpecialHours != nil && cfg.DailySpecialRate != nil {
		threshold := int64(*cfg.DailySpecialHours) * 60
		if elapsedMinutes >= threshold && cfg.DailySpecialRate.LessThan(result.Amount) {
			result.Amount = *cfg.DailySpecialRate
			result.Capped = true
		}
	}
	return result, nil
}

func QuotePension(cfg models.PricingConfig, months int) (money.Money, error) {
	if months < MinPensionMonths || months > MaxPensionMonths {
		return money.Money{}, ErrInvalidDuration
	}
	return cfg.MonthlyRate.Mul(int64(months))
}

// QuoteLostTicket is a flat penalty; elapsed time is irrelevant.
func QuoteLostTicket(cfg models.PricingConfig) money.Money {
	return cfg.LostTicketFee
}

func Validate(cfg models.PricingConfig) error {
	if cfg.MinimumHours < 0 || cfg.IncrementMinutes < 1 {
		return ErrInvalidConfig
	}
	for _, rate := range []money.Money{cfg.MinimumRate, cfg.IncrementRate, cfg.MonthlyRate, cfg.LostTicketFee} {
		if rate.IsNegative() {
			return ErrInvalidConfig
		}
	}
	if (cfg.DailySpecialHours == nil) != (cfg.DailySpecialRate == nil) {
		return ErrInvalidConfig
	}
	if cfg.DailySpecialHours != nil {
		if *cfg.DailySpecialHours < 1 || cfg.DailySpecialRate.IsNegative() {
			return ErrInvalidConfig
		}
	}
	return nil
}
