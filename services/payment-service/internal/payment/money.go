// services/payment-service/internal/payment/money.go
package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money holds an amount in minor units (cents) with its ISO-4217 currency code.
// $2,400.00 is stored as Amount=240000, Currency="USD".
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// NewMoney validates amount > 0 and a known 3-letter currency code.
func NewMoney(amount int64, code string) (Money, error) {
	if amount <= 0 {
		return Money{}, fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	cur, err := ParseCurrency(code)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount, Currency: cur}, nil
}

// ParseCurrency accepts only exact, upper-case ISO-4217 codes.
func ParseCurrency(code string) (string, error) {
	if len(code) != 3 || strings.ToUpper(code) != code {
		return "", fmt.Errorf("%w: currency must be a 3-letter upper-case ISO code, got %q", ErrValidation, code)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: unknown currency %q", ErrValidation, code)
	}
	return unit.String(), nil
}

// SameCurrency reports whether both amounts share a currency.
func (m Money) SameCurrency(other Money) bool {
	return m.Currency == other.Currency
}

// Display renders the amount in major units, e.g. "2400.00 USD".
func (m Money) Display() string {
	scale := 2
	if unit, err := currency.ParseISO(m.Currency); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	return decimal.New(m.Amount, int32(-scale)).StringFixed(int32(scale)) + " " + m.Currency
}
