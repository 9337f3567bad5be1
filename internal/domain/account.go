// Package domain provides definitions of all entities.
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound indicates that the account is not found.
	ErrAccountNotFound = errors.New("account not found")
	// ErrCurrencyAlreadyExists indicates that the user already holds an account with the given currency.
	ErrCurrencyAlreadyExists = errors.New("account currency already exists")
	// ErrCurrencyNotSupported indicates that the currency is not in the supported set.
	ErrCurrencyNotSupported = errors.New("currency not supported")
	// ErrNegativeBalance indicates a negative initial balance.
	ErrNegativeBalance = errors.New("negative balance")
	// ErrNonZeroBalance indicates that the account cannot be deleted while holding funds.
	ErrNonZeroBalance = errors.New("non-zero balance")
	// ErrAccountOwnerMismatch indicates that the account is not owned by the requesting user.
	ErrAccountOwnerMismatch = errors.New("account owner mismatch")
	// ErrBalanceInvariant indicates that an account balance went negative despite
	// prior validation. It signals a locking or logic defect, not bad input.
	ErrBalanceInvariant = errors.New("balance invariant violated")
)

// Account holds a single user's balance for a specific currency.
// At most one account exists per (user, currency) pair.
type Account struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"created_at"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
}
