package identity

import (
	"errors"

	"github.com/shopspring/decimal"
)

// MinPasswordLength is the shortest password Provision accepts.
const MinPasswordLength = 8

// ErrWeakPassword rejects passwords shorter than MinPasswordLength.
var ErrWeakPassword = errors.New("password must be at least 8 characters")

// ProvisionInput describes a new account holder.
type ProvisionInput struct {
	Name           string
	Email          string
	Phone          string
	Password       string
	OpeningBalance decimal.Decimal
}
