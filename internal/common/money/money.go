package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	CAD Currency = "CAD"
)

// Scale is the number of decimal places every supported currency carries
const Scale = 2

// CurrencyInfo contains metadata about a currency
type CurrencyInfo struct {
	Code   Currency
	Symbol string
}

var currencies = map[Currency]CurrencyInfo{
	USD: {Code: USD, Symbol: "$"},
	EUR: {Code: EUR, Symbol: "€"},
	GBP: {Code: GBP, Symbol: "£"},
	CAD: {Code: CAD, Symbol: "CA$"},
}

var (
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// GetCurrencyInfo returns info about a currency
func GetCurrencyInfo(c Currency) (CurrencyInfo, bool) {
	info, ok := currencies[c]
	return info, ok
}

// ParseCurrency normalizes and checks a currency code
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := currencies[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return c, nil
}

// Money represents a monetary amount in minor units (cents, pence)
type Money struct {
	AmountMinor int64
	Currency    Currency
}

// New creates a new Money value from minor units
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Zero returns a zero amount for a currency
func Zero(currency Currency) Money {
	return Money{Currency: currency}
}

// Parse reads a decimal major-unit amount such as "300.00", rounding half-up to two places
func Parse(amount string, currency Currency) (Money, error) {
	if _, ok := currencies[currency]; !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return FromDecimal(d, currency), nil
}

// MustParse is Parse for literals known to be valid
func MustParse(amount string, currency Currency) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromDecimal converts a major-unit decimal, rounding half-up to two places
func FromDecimal(d decimal.Decimal, currency Currency) Money {
	minor := d.Round(Scale).Shift(Scale).IntPart()
	return Money{AmountMinor: minor, Currency: currency}
}

// Decimal returns the amount in major units
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.AmountMinor, -Scale)
}

// IsZero returns true if the amount is zero
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// IsNegative returns true if the amount is negative
func (m Money) IsNegative() bool {
	return m.AmountMinor < 0
}

// Add adds two money values (must be same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// MustAdd adds two money values, panics on currency mismatch
func (m Money) MustAdd(other Money) Money {
	result, err := m.Add(other)
	if err != nil {
		panic(err)
	}
	return result
}

// Sub subtracts two money values (must be same currency)
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// MustSub subtracts two money values, panics on currency mismatch
func (m Money) MustSub(other Money) Money {
	result, err := m.Sub(other)
	if err != nil {
		panic(err)
	}
	return result
}

// Multiply multiplies by an integer quantity
func (m Money) Multiply(factor int64) Money {
	return Money{AmountMinor: m.AmountMinor * factor, Currency: m.Currency}
}

// Percentage applies a rate in basis points (1/10000), rounding half-up
func (m Money) Percentage(basisPoints int64) Money {
	share := m.Decimal().Mul(decimal.New(basisPoints, -4))
	return FromDecimal(share, m.Currency)
}

// Compare returns -1, 0, or 1
func (m Money) Compare(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	switch {
	case m.AmountMinor < other.AmountMinor:
		return -1, nil
	case m.AmountMinor > other.AmountMinor:
		return 1, nil
	}
	return 0, nil
}

// Equal checks equality
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor && m.Currency == other.Currency
}

// GreaterThan checks if m > other
func (m Money) GreaterThan(other Money) bool {
	cmp, err := m.Compare(other)
	return err == nil && cmp > 0
}

// LessThan checks if m < other
func (m Money) LessThan(other Money) bool {
	cmp, err := m.Compare(other)
	return err == nil && cmp < 0
}

// StringFixed returns the major-unit amount with two decimals, e.g. "300.00"
func (m Money) StringFixed() string {
	return m.Decimal().StringFixed(Scale)
}

// String returns a human-readable representation
func (m Money) String() string {
	return m.StringFixed() + " " + string(m.Currency)
}

type jsonMoney struct {
	Amount      string `json:"amount"`
	AmountMinor *int64 `json:"amount_minor,omitempty"`
	Currency    string `json:"currency"`
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	minor := m.AmountMinor
	return json.Marshal(jsonMoney{
		Amount:      m.StringFixed(),
		AmountMinor: &minor,
		Currency:    string(m.Currency),
	})
}

// UnmarshalJSON accepts either a decimal "amount" or an integer "amount_minor"
func (m *Money) UnmarshalJSON(data []byte) error {
	var v jsonMoney
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	currency, err := ParseCurrency(v.Currency)
	if err != nil {
		return err
	}
	if v.Amount != "" {
		parsed, err := Parse(v.Amount, currency)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}
	if v.AmountMinor == nil {
		return fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	*m = New(*v.AmountMinor, currency)
	return nil
}

// Sum adds up multiple money values in the given currency
func Sum(currency Currency, amounts ...Money) (Money, error) {
	result := Zero(currency)
	for _, a := range amounts {
		var err error
		result, err = result.Add(a)
		if err != nil {
			return Money{}, err
		}
	}
	return result, nil
}

// Min returns the smaller of two same-currency amounts
func Min(a, b Money) (Money, error) {
	cmp, err := a.Compare(b)
	if err != nil {
		return Money{}, err
	}
	if cmp <= 0 {
		return a, nil
	}
	return b, nil
}
