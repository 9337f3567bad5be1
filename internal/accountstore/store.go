// Package accountstore manages the in-memory account table.
package accountstore

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/go-fin/fin-ledger/internal/domain"
	"github.com/go-fin/fin-ledger/pkg/currencypkg"
	"github.com/go-fin/fin-ledger/pkg/idpkg"
)

type userCurrencyKey struct {
	userID   string
	currency string
}

// Store holds all accounts keyed by id and enforces the uniqueness of the
// (user, currency) pair. It is safe for concurrent use; balance-affecting
// callers are expected to serialize per account in the service layer.
type Store struct {
	mu             sync.RWMutex
	accounts       map[string]domain.Account
	byUserCurrency map[userCurrencyKey]string
	order          []string
	idgen          idpkg.Generator
}

// New returns an empty account store using the given id generator.
func New(idgen idpkg.Generator) *Store {
	return &Store{
		accounts:       make(map[string]domain.Account),
		byUserCurrency: make(map[userCurrencyKey]string),
		idgen:          idgen,
	}
}

// Create creates an account for the given user and currency and returns it.
func (s *Store) Create(userID, currency string, initialBalance decimal.Decimal, now time.Time) (domain.Account, error) {
	var a domain.Account

	if !currencypkg.IsSupportedCurrency(currency) {
		return a, domain.ErrCurrencyNotSupported
	}

	if initialBalance.IsNegative() {
		return a, domain.ErrNegativeBalance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := userCurrencyKey{userID: userID, currency: currency}
	if _, ok := s.byUserCurrency[key]; ok {
		return a, domain.ErrCurrencyAlreadyExists
	}

	a = domain.Account{
		ID:            s.idgen.New(),
		UserID:        userID,
		Currency:      currency,
		Balance:       initialBalance,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}

	s.accounts[a.ID] = a
	s.byUserCurrency[key] = a.ID
	s.order = append(s.order, a.ID)

	return a, nil
}

// Get returns the account with the given id.
func (s *Store) Get(id string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	return a, nil
}

// ListByUser returns the user's accounts in creation order.
func (s *Store) ListByUser(userID string) []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := []domain.Account{}

	for _, id := range s.order {
		a, ok := s.accounts[id]
		if ok && a.UserID == userID {
			items = append(items, a)
		}
	}

	return items
}

// ApplyDelta mutates the account balance by the signed delta and returns the
// updated account. The caller must have validated that the resulting balance
// is non-negative; a violation here means serialization was broken and is
// reported as domain.ErrBalanceInvariant.
func (s *Store) ApplyDelta(id string, delta decimal.Decimal, now time.Time) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	newBalance := a.Balance.Add(delta)
	if newBalance.IsNegative() {
		return domain.Account{}, domain.ErrBalanceInvariant
	}

	a.Balance = newBalance
	a.LastUpdatedAt = now
	s.accounts[id] = a

	return a, nil
}

// Delete removes the account with the given id. Only accounts with a zero
// balance can be deleted; their transactions remain in the log.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}

	if !a.Balance.IsZero() {
		return domain.ErrNonZeroBalance
	}

	delete(s.accounts, a.ID)
	delete(s.byUserCurrency, userCurrencyKey{userID: a.UserID, currency: a.Currency})

	// The id stays in order so that a rollback via Put restores the account
	// at its original creation position. Iteration skips missing ids.

	return nil
}

func (s *Store) remove(a domain.Account) {
	delete(s.accounts, a.ID)
	delete(s.byUserCurrency, userCurrencyKey{userID: a.UserID, currency: a.Currency})

	for i, id := range s.order {
		if id == a.ID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Remove unconditionally removes the account with the given id. It exists to
// roll back an account creation whose snapshot persist failed; regular
// deletion goes through Delete.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[id]; ok {
		s.remove(a)
	}
}

// Overwrite replaces a stored account with the given prior state. It is used
// to roll back a balance mutation whose snapshot persist failed.
func (s *Store) Overwrite(a domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; !ok {
		return domain.ErrAccountNotFound
	}

	s.accounts[a.ID] = a

	return nil
}

// Put inserts an account preserving its id and, after a deletion, its
// creation position. It is used to roll back deletions; it never overwrites
// an existing account.
func (s *Store) Put(a domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return domain.ErrCurrencyAlreadyExists
	}

	key := userCurrencyKey{userID: a.UserID, currency: a.Currency}
	if _, ok := s.byUserCurrency[key]; ok {
		return domain.ErrCurrencyAlreadyExists
	}

	s.accounts[a.ID] = a
	s.byUserCurrency[key] = a.ID

	for _, id := range s.order {
		if id == a.ID {
			return nil
		}
	}

	s.order = append(s.order, a.ID)

	return nil
}

// All returns every account in creation order.
func (s *Store) All() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Account, 0, len(s.accounts))

	for _, id := range s.order {
		if a, ok := s.accounts[id]; ok {
			items = append(items, a)
		}
	}

	return items
}

// Restore replaces the store contents with the given accounts.
func (s *Store) Restore(accounts []domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]domain.Account, len(accounts))
	s.byUserCurrency = make(map[userCurrencyKey]string, len(accounts))
	s.order = make([]string, 0, len(accounts))

	for _, a := range accounts {
		s.accounts[a.ID] = a
		s.byUserCurrency[userCurrencyKey{userID: a.UserID, currency: a.Currency}] = a.ID
		s.order = append(s.order, a.ID)
	}
}
