package domain

import "errors"

// ErrPersistenceFailed indicates that the durable store rejected a snapshot
// write. The failed operation's in-memory effects are rolled back before this
// error is surfaced.
var ErrPersistenceFailed = errors.New("persistence failed")

// LedgerSnapshot is the full serialized ledger state exchanged with the
// persistence adapter after each committed mutation.
type LedgerSnapshot struct {
	Accounts     []Account     `json:"accounts"`
	Transactions []Transaction `json:"transactions"`
}

// Snapshot is the complete durable state of the service: identities plus the
// ledger. The persistence adapter stores it as a single document.
type Snapshot struct {
	Users        []User        `json:"users"`
	Accounts     []Account     `json:"accounts"`
	Transactions []Transaction `json:"transactions"`
}
