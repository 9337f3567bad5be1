package domain

import (
	"github.com/shopspring/decimal"
)

// CreateTransferParams is the input data for the transfer operation.
type CreateTransferParams struct {
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// TransferResult is the outcome of an atomic transfer: the two updated
// accounts and the two log entries that materialize the transfer. Both
// entries share TransferID as a correlation reference.
type TransferResult struct {
	TransferID  string      `json:"transfer_id"`
	FromAccount Account     `json:"from_account"`
	ToAccount   Account     `json:"to_account"`
	OutEntry    Transaction `json:"out_entry"`
	InEntry     Transaction `json:"in_entry"`
}
