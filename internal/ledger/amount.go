package ledger

import (
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits money carries.
const AmountScale = 2

// ParseAmount parses a decimal string into a validated transfer amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Decimal{}, err
	}
	return amount, nil
}

// ValidateAmount rejects non-positive amounts and sub-cent precision.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return ErrInvalidAmount
	}
	return nil
}

// NormalizeAddress validates a contact address and returns its canonical form.
func NormalizeAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidAddress
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(parsed.Address), nil
}
