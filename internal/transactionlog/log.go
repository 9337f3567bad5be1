// Package transactionlog manages the append-only record of transactions.
package transactionlog

import (
	"sync"

	"github.com/go-fin/fin-ledger/internal/domain"
)

// Log is an ordered, append-only record of transactions. Records are never
// mutated or deleted once committed; TruncateTo exists solely so the service
// layer can discard entries whose snapshot persist failed.
type Log struct {
	mu      sync.RWMutex
	entries []domain.Transaction
}

// New returns an empty transaction log.
func New() *Log {
	return &Log{}
}

// Append validates the transaction and inserts it at the end of the log.
func (l *Log) Append(t domain.Transaction) error {
	if t.ID == "" || t.AccountID == "" {
		return domain.ErrInvalidTransaction
	}

	if !domain.IsValidTransactionType(t.Type) {
		return domain.ErrInvalidTransaction
	}

	if t.TransferID == "" &&
		(t.Type == domain.TransactionTransferOut || t.Type == domain.TransactionTransferIn) {
		return domain.ErrInvalidTransaction
	}

	if !t.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, t)

	return nil
}

// Query returns the account's transactions that pass the filter, newest first.
func (l *Log) Query(accountID string, f domain.TransactionFilter) []domain.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	items := []domain.Transaction{}

	for i := len(l.entries) - 1; i >= 0; i-- {
		t := l.entries[i]
		if t.AccountID != accountID {
			continue
		}

		if f.Matches(t) {
			items = append(items, t)
		}
	}

	return items
}

// Recent returns the limit most recent transactions for the account, newest first.
func (l *Log) Recent(accountID string, limit int) []domain.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	items := []domain.Transaction{}

	for i := len(l.entries) - 1; i >= 0 && len(items) < limit; i-- {
		if l.entries[i].AccountID == accountID {
			items = append(items, l.entries[i])
		}
	}

	return items
}

// Len returns the number of committed entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.entries)
}

// TruncateTo drops entries beyond n. It must only be called to roll back
// appends that were never persisted or acknowledged.
func (l *Log) TruncateTo(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n < 0 || n >= len(l.entries) {
		return
	}

	l.entries = l.entries[:n]
}

// All returns every transaction in append order.
func (l *Log) All() []domain.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	items := make([]domain.Transaction, len(l.entries))
	copy(items, l.entries)

	return items
}

// Restore replaces the log contents with the given transactions.
func (l *Log) Restore(transactions []domain.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make([]domain.Transaction, len(transactions))
	copy(l.entries, transactions)
}
