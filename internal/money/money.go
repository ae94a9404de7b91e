package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the only currency the facility handles.
const Currency = "MXN"

// MaxMinor is the ceiling, in centavos, for any parsed or computed amount.
const MaxMinor int64 = 1_000_000_000

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = fmt.Errorf("%w: amount has too many decimal places", ErrInvalidAmount)
	ErrAmountOverflow  = errors.New("amount exceeds maximum")
)

// Money is an exact amount of pesos stored as an integer count of centavos.
type Money struct {
	minor int64
}

var Zero = Money{}

func FromMinor(minor int64) (Money, error) {
	if minor > MaxMinor || minor < -MaxMinor {
		return Money{}, ErrAmountOverflow
	}
	return Money{minor: minor}, nil
}

// MustMinor panics on out-of-range input; meant for constants and tests.
func MustMinor(minor int64) Money {
	m, err := FromMinor(minor)
	if err != nil {
		panic(err)
	}
	return m
}

// Parse reads a decimal string such as "25", "25.5", "-3.10" or "40.00 MXN".
func Parse(input string) (Money, error) {
	trimmed := strings.TrimSpace(input)
	trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, Currency))
	if trimmed == "" {
		return Money{}, ErrInvalidAmount
	}
	sign := int64(1)
	switch trimmed[0] {
	case '-':
		sign = -1
		trimmed = trimmed[1:]
	case '+':
		trimmed = trimmed[1:]
	}
	parts := strings.SplitN(trimmed, ".", 2)
	wholePart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if wholePart == "" && fracPart == "" {
		return Money{}, ErrInvalidAmount
	}
	if wholePart == "" {
		wholePart = "0"
	}
	if !isDigits(wholePart) {
		return Money{}, ErrInvalidAmount
	}
	if len(fracPart) > 2 {
		return Money{}, ErrTooManyDecimals
	}
	if !isDigits(fracPart) {
		return Money{}, ErrInvalidAmount
	}
	// anything longer than the ceiling's digit count cannot fit
	if len(strings.TrimLeft(wholePart, "0")) > 8 {
		return Money{}, ErrAmountOverflow
	}
	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	frac := int64(0)
	if len(fracPart) == 1 {
		frac = int64(fracPart[0]-'0') * 10
	} else if len(fracPart) == 2 {
		frac = int64(fracPart[0]-'0')*10 + int64(fracPart[1]-'0')
	}
	return FromMinor(sign * (whole*100 + frac))
}

func (m Money) Minor() int64 {
	return m.minor
}

func (m Money) Add(other Money) (Money, error) {
	return FromMinor(m.minor + other.minor)
}

func (m Money) Sub(other Money) (Money, error) {
	return FromMinor(m.minor - other.minor)
}

// Mul multiplies by an integer factor such as a count of increments or months.
func (m Money) Mul(factor int64) (Money, error) {
	if m.minor == 0 || factor == 0 {
		return Zero, nil
	}
	if abs(factor) > MaxMinor/abs(m.minor) {
		return Money{}, ErrAmountOverflow
	}
	return FromMinor(m.minor * factor)
}

// Prorate returns m*num/den rounded once to the nearest centavo, halves away from zero.
func (m Money) Prorate(num, den int64) (Money, error) {
	if den <= 0 {
		return Money{}, ErrInvalidAmount
	}
	value := decimal.NewFromInt(m.minor).Mul(decimal.NewFromInt(num))
	quotient, remainder := value.QuoRem(decimal.NewFromInt(den), 0)
	twice := remainder.Abs().Mul(decimal.NewFromInt(2))
	if twice.GreaterThanOrEqual(decimal.NewFromInt(den)) {
		if value.IsNegative() {
			quotient = quotient.Sub(decimal.NewFromInt(1))
		} else {
			quotient = quotient.Add(decimal.NewFromInt(1))
		}
	}
	if quotient.GreaterThan(decimal.NewFromInt(MaxMinor)) || quotient.LessThan(decimal.NewFromInt(-MaxMinor)) {
		return Money{}, ErrAmountOverflow
	}
	return FromMinor(quotient.IntPart())
}

func (m Money) Neg() Money {
	return Money{minor: -m.minor}
}

func (m Money) Cmp(other Money) int {
	switch {
	case m.minor < other.minor:
		return -1
	case m.minor > other.minor:
		return 1
	default:
		return 0
	}
}

func (m Money) Equal(other Money) bool {
	return m.minor == other.minor
}

func (m Money) LessThan(other Money) bool {
	return m.minor < other.minor
}

func (m Money) IsZero() bool {
	return m.minor == 0
}

func (m Money) IsNegative() bool {
	return m.minor < 0
}

func (m Money) IsPositive() bool {
	return m.minor > 0
}

// Decimal renders the amount with exactly two fractional digits and no suffix.
func (m Money) Decimal() string {
	return FormatMinor(m.minor)
}

// Format is the human readable form, e.g. "40.00 MXN".
func (m Money) Format() string {
	return FormatMinor(m.minor) + " " + Currency
}

func (m Money) String() string {
	return m.Format()
}

// DecimalValue exposes the amount in pesos for percentage math.
func (m Money) DecimalValue() decimal.Decimal {
	return decimal.New(m.minor, -2)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Decimal())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var number json.Number
		if err := json.Unmarshal(data, &number); err != nil {
			return ErrInvalidAmount
		}
		raw = number.String()
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Money) Value() (driver.Value, error) {
	return m.minor, nil
}

func (m *Money) Scan(src any) error {
	if src == nil {
		*m = Zero
		return nil
	}
	minor, err := scanMinor(src)
	if err != nil {
		return err
	}
	parsed, err := FromMinor(minor)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func FormatMinor(value int64) string {
	negative := value < 0
	if negative {
		value = -value
	}
	whole := value / 100
	frac := value % 100
	formatted := fmt.Sprintf("%d.%02d", whole, frac)
	if negative {
		return "-" + formatted
	}
	return formatted
}

// scanMinor reads an integer column or a NUMERIC sum, which the driver
// hands back as bytes.
func scanMinor(src any) (int64, error) {
	var raw string
	switch v := src.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return 0, fmt.Errorf("%w: cannot scan %T", ErrInvalidAmount, src)
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot scan %q", ErrInvalidAmount, raw)
	}
	return parsed, nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
