// Package ledgerservice orchestrates validated, atomic mutations of the
// account table and the transaction log. It is the only writer to either.
package ledgerservice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/go-fin/fin-ledger/internal/accountstore"
	"github.com/go-fin/fin-ledger/internal/domain"
	"github.com/go-fin/fin-ledger/internal/transactionlog"
	"github.com/go-fin/fin-ledger/pkg/idpkg"
)

// RecentTransactions is the number of transactions returned alongside an
// account lookup.
const RecentTransactions = 5

// Persister provides the durable snapshot store interface needed by the
// ledger service. Save is called after every committed mutation; a failed
// save causes the in-memory mutation to be rolled back.
type Persister interface {
	Save(ctx context.Context, snapshot domain.LedgerSnapshot) error
}

// Service facilitates ledger business logic.
type Service struct {
	accounts  *accountstore.Store
	log       *transactionlog.Log
	persister Persister
	idgen     idpkg.Generator

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// commit serializes every mutate-append-persist window. Holding it for
	// writing from the first store mutation through the snapshot save keeps
	// two guarantees that per-account locks alone cannot: a snapshot capture
	// never sees a half-applied mutation on accounts the capturer does not
	// hold, and saves reach the persister in capture order, so a stale
	// capture can never overwrite an already-acknowledged newer one. Readers
	// take the read side and therefore never observe state that a failed
	// persist would roll back.
	commit sync.RWMutex
}

// New returns a ledger service over the given stores.
func New(accounts *accountstore.Store, log *transactionlog.Log, persister Persister, idgen idpkg.Generator) *Service {
	return &Service{
		accounts:  accounts,
		log:       log,
		persister: persister,
		idgen:     idgen,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lock acquires the mutation locks of the given accounts. Locks are always
// taken in ascending id order so that two transfers moving money in opposite
// directions between the same pair of accounts cannot deadlock. The returned
// function releases the locks in reverse order.
func (s *Service) lock(ids ...string) func() {
	sorted := make([]string, 0, len(ids))

	for _, id := range ids {
		duplicate := false

		for _, seen := range sorted {
			if seen == id {
				duplicate = true
				break
			}
		}

		if !duplicate {
			sorted = append(sorted, id)
		}
	}

	sort.Strings(sorted)

	locks := make([]*sync.Mutex, len(sorted))

	s.mu.Lock()
	for i, id := range sorted {
		m, ok := s.locks[id]
		if !ok {
			m = &sync.Mutex{}
			s.locks[id] = m
		}

		locks[i] = m
	}
	s.mu.Unlock()

	for _, m := range locks {
		m.Lock()
	}

	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// persist saves the full ledger snapshot. It must be called while holding
// commit for writing and the locks of every account the pending mutation
// touched, so that the caller is never acknowledged before its effect is
// durable.
func (s *Service) persist(ctx context.Context) error {
	snapshot := domain.LedgerSnapshot{
		Accounts:     s.accounts.All(),
		Transactions: s.log.All(),
	}

	return s.persister.Save(ctx, snapshot)
}

// CreateAccount creates an account for the given user and currency. A
// positive initial balance is recorded as an opening deposit so that
// replaying the log from zero reproduces the account's balance.
func (s *Service) CreateAccount(ctx context.Context, userID, currency string, initialBalance decimal.Decimal) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	now := time.Now().UTC()

	s.commit.Lock()
	defer s.commit.Unlock()

	account, err := s.accounts.Create(userID, currency, initialBalance, now)
	if err != nil {
		l.Info().Err(err).Send()
		return domain.Account{}, err
	}

	logLen := s.log.Len()

	if initialBalance.IsPositive() {
		opening := domain.Transaction{
			ID:               s.idgen.New(),
			AccountID:        account.ID,
			Type:             domain.TransactionDeposit,
			Amount:           initialBalance,
			ResultingBalance: account.Balance,
			Description:      "opening balance",
			CreatedAt:        now,
		}

		if err := s.log.Append(opening); err != nil {
			l.Error().Err(err).Send()
			s.accounts.Remove(account.ID)

			return domain.Account{}, err
		}
	}

	if err := s.persist(ctx); err != nil {
		l.Error().Err(err).Send()
		s.log.TruncateTo(logLen)
		s.accounts.Remove(account.ID)

		return domain.Account{}, domain.ErrPersistenceFailed
	}

	return account, nil
}

// GetAccount returns the account and its most recent transactions.
func (s *Service) GetAccount(ctx context.Context, accountID, requestingUserID string) (domain.Account, []domain.Transaction, error) {
	s.commit.RLock()
	defer s.commit.RUnlock()

	account, err := s.accounts.Get(accountID)
	if err != nil {
		return domain.Account{}, nil, err
	}

	if account.UserID != requestingUserID {
		return domain.Account{}, nil, domain.ErrAccountOwnerMismatch
	}

	return account, s.log.Recent(accountID, RecentTransactions), nil
}

// ListAccounts returns the user's accounts in creation order.
func (s *Service) ListAccounts(ctx context.Context, userID string) []domain.Account {
	s.commit.RLock()
	defer s.commit.RUnlock()

	return s.accounts.ListByUser(userID)
}

// Deposit credits the account and logs a deposit transaction.
func (s *Service) Deposit(ctx context.Context, accountID, requestingUserID string, amount decimal.Decimal, currency, description string) (domain.Account, domain.Transaction, error) {
	l := zerolog.Ctx(ctx)

	if !amount.IsPositive() {
		return domain.Account{}, domain.Transaction{}, domain.ErrInvalidAmount
	}

	unlock := s.lock(accountID)
	defer unlock()

	prev, err := s.accounts.Get(accountID)
	if err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}

	if prev.UserID != requestingUserID {
		return domain.Account{}, domain.Transaction{}, domain.ErrAccountOwnerMismatch
	}

	if prev.Currency != currency {
		return domain.Account{}, domain.Transaction{}, domain.ErrCurrencyMismatch
	}

	if description == "" {
		description = "deposit"
	}

	account, transaction, err := s.apply(ctx, prev, domain.TransactionDeposit, amount, amount, description, "")
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Account{}, domain.Transaction{}, err
	}

	return account, transaction, nil
}

// Expense debits the account and logs an expense transaction.
func (s *Service) Expense(ctx context.Context, accountID, requestingUserID string, amount decimal.Decimal, description string) (domain.Account, domain.Transaction, error) {
	l := zerolog.Ctx(ctx)

	if !amount.IsPositive() {
		return domain.Account{}, domain.Transaction{}, domain.ErrInvalidAmount
	}

	unlock := s.lock(accountID)
	defer unlock()

	prev, err := s.accounts.Get(accountID)
	if err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}

	if prev.UserID != requestingUserID {
		return domain.Account{}, domain.Transaction{}, domain.ErrAccountOwnerMismatch
	}

	if prev.Balance.LessThan(amount) {
		return domain.Account{}, domain.Transaction{}, domain.ErrInsufficientBalance
	}

	if description == "" {
		description = "expense"
	}

	account, transaction, err := s.apply(ctx, prev, domain.TransactionExpense, amount.Neg(), amount, description, "")
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Account{}, domain.Transaction{}, err
	}

	return account, transaction, nil
}

// apply mutates a single locked account, appends the matching transaction
// and persists the result, rolling everything back if the persist fails.
func (s *Service) apply(ctx context.Context, prev domain.Account, kind domain.TransactionType, delta, amount decimal.Decimal, description, transferID string) (domain.Account, domain.Transaction, error) {
	s.commit.Lock()
	defer s.commit.Unlock()

	now := time.Now().UTC()
	logLen := s.log.Len()

	account, err := s.accounts.ApplyDelta(prev.ID, delta, now)
	if err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}

	transaction := domain.Transaction{
		ID:               s.idgen.New(),
		AccountID:        account.ID,
		Type:             kind,
		Amount:           amount,
		ResultingBalance: account.Balance,
		Description:      description,
		TransferID:       transferID,
		CreatedAt:        now,
	}

	if err := s.log.Append(transaction); err != nil {
		_ = s.accounts.Overwrite(prev)
		return domain.Account{}, domain.Transaction{}, err
	}

	if err := s.persist(ctx); err != nil {
		s.log.TruncateTo(logLen)
		_ = s.accounts.Overwrite(prev)

		return domain.Account{}, domain.Transaction{}, domain.ErrPersistenceFailed
	}

	return account, transaction, nil
}

// Transfer atomically moves the amount between two accounts and logs the two
// correlated transfer legs. Either every effect is committed and persisted or
// none is observable.
func (s *Service) Transfer(ctx context.Context, requestingUserID string, arg domain.CreateTransferParams) (domain.TransferResult, error) {
	l := zerolog.Ctx(ctx)

	var result domain.TransferResult

	if !arg.Amount.IsPositive() {
		return result, domain.ErrInvalidAmount
	}

	if arg.FromAccountID == arg.ToAccountID {
		return result, domain.ErrSameAccountTransfer
	}

	unlock := s.lock(arg.FromAccountID, arg.ToAccountID)
	defer unlock()

	prevFrom, err := s.accounts.Get(arg.FromAccountID)
	if err != nil {
		return result, err
	}

	prevTo, err := s.accounts.Get(arg.ToAccountID)
	if err != nil {
		return result, err
	}

	if prevFrom.UserID != requestingUserID {
		return result, domain.ErrAccountOwnerMismatch
	}

	if prevFrom.Currency != prevTo.Currency {
		return result, domain.ErrCurrencyMismatch
	}

	if prevFrom.Balance.LessThan(arg.Amount) {
		return result, domain.ErrInsufficientBalance
	}

	s.commit.Lock()
	defer s.commit.Unlock()

	now := time.Now().UTC()
	logLen := s.log.Len()

	rollback := func() {
		s.log.TruncateTo(logLen)
		_ = s.accounts.Overwrite(prevFrom)
		_ = s.accounts.Overwrite(prevTo)
	}

	fromAccount, err := s.accounts.ApplyDelta(arg.FromAccountID, arg.Amount.Neg(), now)
	if err != nil {
		l.Error().Err(err).Send()
		return result, err
	}

	toAccount, err := s.accounts.ApplyDelta(arg.ToAccountID, arg.Amount, now)
	if err != nil {
		l.Error().Err(err).Send()
		rollback()

		return result, err
	}

	transferID := s.idgen.New()

	outEntry := domain.Transaction{
		ID:               s.idgen.New(),
		AccountID:        fromAccount.ID,
		Type:             domain.TransactionTransferOut,
		Amount:           arg.Amount,
		ResultingBalance: fromAccount.Balance,
		Description:      "transfer to " + toAccount.ID,
		TransferID:       transferID,
		CreatedAt:        now,
	}

	inEntry := domain.Transaction{
		ID:               s.idgen.New(),
		AccountID:        toAccount.ID,
		Type:             domain.TransactionTransferIn,
		Amount:           arg.Amount,
		ResultingBalance: toAccount.Balance,
		Description:      "transfer from " + fromAccount.ID,
		TransferID:       transferID,
		CreatedAt:        now,
	}

	if err := s.log.Append(outEntry); err != nil {
		l.Error().Err(err).Send()
		rollback()

		return result, err
	}

	if err := s.log.Append(inEntry); err != nil {
		l.Error().Err(err).Send()
		rollback()

		return result, err
	}

	if err := s.persist(ctx); err != nil {
		l.Error().Err(err).Send()
		rollback()

		return result, domain.ErrPersistenceFailed
	}

	result = domain.TransferResult{
		TransferID:  transferID,
		FromAccount: fromAccount,
		ToAccount:   toAccount,
		OutEntry:    outEntry,
		InEntry:     inEntry,
	}

	return result, nil
}

// DeleteAccount removes a zero-balance account owned by the requesting user.
// The account's transactions remain in the log for audit purposes.
func (s *Service) DeleteAccount(ctx context.Context, accountID, requestingUserID string) error {
	l := zerolog.Ctx(ctx)

	unlock := s.lock(accountID)
	defer unlock()

	prev, err := s.accounts.Get(accountID)
	if err != nil {
		return err
	}

	if prev.UserID != requestingUserID {
		return domain.ErrAccountOwnerMismatch
	}

	s.commit.Lock()
	defer s.commit.Unlock()

	if err := s.accounts.Delete(accountID); err != nil {
		return err
	}

	if err := s.persist(ctx); err != nil {
		l.Error().Err(err).Send()
		_ = s.accounts.Put(prev)

		return domain.ErrPersistenceFailed
	}

	return nil
}

// ListTransactions returns the account's transactions passing the filter,
// newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID, requestingUserID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.commit.RLock()
	defer s.commit.RUnlock()

	account, err := s.accounts.Get(accountID)
	if err != nil {
		return nil, err
	}

	if account.UserID != requestingUserID {
		return nil, domain.ErrAccountOwnerMismatch
	}

	return s.log.Query(accountID, filter), nil
}
