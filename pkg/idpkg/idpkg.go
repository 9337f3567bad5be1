// Package idpkg provides collision-free identifier generation.
//
// Accounts and transactions must never derive identifiers from wall-clock
// time alone; generators here are safe under concurrent creation.
package idpkg

import "github.com/google/uuid"

// Generator produces globally unique identifiers.
type Generator interface {
	New() string
}

// UUID generates random (version 4) UUID identifiers.
type UUID struct{}

// New returns a fresh UUID string.
func (UUID) New() string {
	return uuid.NewString()
}
