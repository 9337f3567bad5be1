package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount indicates a malformed or non-positive amount.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidTransaction indicates a transaction with missing references.
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrInsufficientBalance indicates that the account does not have sufficient balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCurrencyMismatch indicates that the operation currency does not match the account currency.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrSameAccountTransfer indicates a transfer where source and destination are the same account.
	ErrSameAccountTransfer = errors.New("transfer to the same account")
)

// TransactionType enumerates the balance-affecting event kinds.
type TransactionType string

// Supported transaction types. The sign of an operation is carried by the
// type; Amount is always a positive magnitude.
const (
	TransactionDeposit     TransactionType = "deposit"
	TransactionExpense     TransactionType = "expense"
	TransactionTransferOut TransactionType = "transfer_out"
	TransactionTransferIn  TransactionType = "transfer_in"
)

// IsValidTransactionType returns true if t is one of the supported types.
func IsValidTransactionType(t TransactionType) bool {
	switch t {
	case TransactionDeposit, TransactionExpense, TransactionTransferOut, TransactionTransferIn:
		return true
	}

	return false
}

// Transaction is an immutable record of a single balance-affecting event.
//
// ResultingBalance is the account balance immediately after the event was
// applied. It is a durable audit fact and is never recomputed: replaying an
// account's transactions in CreatedAt order from a zero balance reproduces
// every ResultingBalance exactly.
type Transaction struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	Type             TransactionType `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	ResultingBalance decimal.Decimal `json:"resulting_balance"`
	Description      string          `json:"description,omitempty"`
	TransferID       string          `json:"transfer_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// TransactionFilter narrows a transaction query. Fields are conjunctive;
// zero values are no-ops.
type TransactionFilter struct {
	Type TransactionType
	From time.Time
	To   time.Time
}

// Matches reports whether t passes every set filter field.
func (f TransactionFilter) Matches(t Transaction) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}

	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}

	if !f.To.IsZero() && t.CreatedAt.After(f.To) {
		return false
	}

	return true
}
