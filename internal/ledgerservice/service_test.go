package ledgerservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/go-fin/fin-ledger/internal/accountstore"
	"github.com/go-fin/fin-ledger/internal/domain"
	"github.com/go-fin/fin-ledger/internal/transactionlog"
	"github.com/go-fin/fin-ledger/pkg/currencypkg"
	"github.com/go-fin/fin-ledger/pkg/idpkg"
	"github.com/go-fin/fin-ledger/pkg/randompkg"
)

// fakePersister records saved snapshots and can be switched to fail.
type fakePersister struct {
	mu      sync.Mutex
	failing bool
	saves   int
	last    domain.LedgerSnapshot
}

func (p *fakePersister) Save(ctx context.Context, snapshot domain.LedgerSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failing {
		return errors.New("disk full")
	}

	p.saves++
	p.last = snapshot

	return nil
}

func (p *fakePersister) setFailing(failing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing = failing
}

// gatedPersister blocks the first Save after arm() until release is closed,
// so a test can overlap an in-flight persist with other operations.
type gatedPersister struct {
	fakePersister
	gateMu  sync.Mutex
	armed   bool
	gated   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedPersister() *gatedPersister {
	return &gatedPersister{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *gatedPersister) arm() {
	p.gateMu.Lock()
	p.armed = true
	p.gateMu.Unlock()
}

func (p *gatedPersister) Save(ctx context.Context, snapshot domain.LedgerSnapshot) error {
	p.gateMu.Lock()
	gate := p.armed && !p.gated
	if gate {
		p.gated = true
	}
	p.gateMu.Unlock()

	if gate {
		close(p.entered)
		<-p.release
	}

	return p.fakePersister.Save(ctx, snapshot)
}

func newTestService() (*Service, *accountstore.Store, *transactionlog.Log, *fakePersister) {
	accounts := accountstore.New(idpkg.UUID{})
	log := transactionlog.New()
	persister := &fakePersister{}

	return New(accounts, log, persister, idpkg.UUID{}), accounts, log, persister
}

func fund(t *testing.T, s *Service, owner, currency string, balance int64) domain.Account {
	t.Helper()

	account, err := s.CreateAccount(context.Background(), owner, currency, decimal.NewFromInt(balance))
	require.NoError(t, err)

	return account
}

func TestCreateAccount(t *testing.T) {
	ctx := context.Background()
	s, _, log, persister := newTestService()
	owner := randompkg.Owner()

	// Zero balance: no opening transaction.
	account, err := s.CreateAccount(ctx, owner, currencypkg.USD, decimal.Zero)
	require.NoError(t, err)
	require.True(t, account.Balance.IsZero())
	require.Equal(t, 0, log.Len())
	require.Equal(t, 1, persister.saves)

	// Positive initial balance: opening deposit keeps the log replayable.
	funded, err := s.CreateAccount(ctx, owner, currencypkg.EUR, decimal.NewFromInt(100))
	require.NoError(t, err)

	opening := log.Recent(funded.ID, 1)
	require.Len(t, opening, 1)
	require.Equal(t, domain.TransactionDeposit, opening[0].Type)
	require.True(t, opening[0].Amount.Equal(decimal.NewFromInt(100)))
	require.True(t, opening[0].ResultingBalance.Equal(decimal.NewFromInt(100)))

	_, err = s.CreateAccount(ctx, owner, currencypkg.USD, decimal.Zero)
	require.ErrorIs(t, err, domain.ErrCurrencyAlreadyExists)

	_, err = s.CreateAccount(ctx, owner, "XXX", decimal.Zero)
	require.ErrorIs(t, err, domain.ErrCurrencyNotSupported)

	_, err = s.CreateAccount(ctx, owner, currencypkg.BDT, decimal.NewFromInt(-10))
	require.ErrorIs(t, err, domain.ErrNegativeBalance)
}

func TestCreateAccountPersistFailure(t *testing.T) {
	ctx := context.Background()
	s, accounts, log, persister := newTestService()

	persister.setFailing(true)

	_, err := s.CreateAccount(ctx, randompkg.Owner(), currencypkg.USD, decimal.NewFromInt(50))
	require.ErrorIs(t, err, domain.ErrPersistenceFailed)
	require.Empty(t, accounts.All())
	require.Equal(t, 0, log.Len())
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	s, _, log, _ := newTestService()
	owner := randompkg.Owner()
	account := fund(t, s, owner, currencypkg.USD, 100)

	got, transaction, err := s.Deposit(ctx, account.ID, owner, decimal.NewFromInt(50), currencypkg.USD, "salary")
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(decimal.NewFromInt(150)))
	require.Equal(t, domain.TransactionDeposit, transaction.Type)
	require.True(t, transaction.Amount.Equal(decimal.NewFromInt(50)))
	require.True(t, transaction.ResultingBalance.Equal(decimal.NewFromInt(150)))
	require.Equal(t, "salary", transaction.Description)
	require.Equal(t, account.ID, transaction.AccountID)

	_, _, err = s.Deposit(ctx, account.ID, owner, decimal.Zero, currencypkg.USD, "")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, _, err = s.Deposit(ctx, account.ID, owner, decimal.NewFromInt(10), currencypkg.EUR, "")
	require.ErrorIs(t, err, domain.ErrCurrencyMismatch)

	_, _, err = s.Deposit(ctx, account.ID, "intruder", decimal.NewFromInt(10), currencypkg.USD, "")
	require.ErrorIs(t, err, domain.ErrAccountOwnerMismatch)

	_, _, err = s.Deposit(ctx, "missing", owner, decimal.NewFromInt(10), currencypkg.USD, "")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	// Only the funding and the successful deposit are logged.
	require.Equal(t, 2, log.Len())
}

func TestExpense(t *testing.T) {
	ctx := context.Background()
	s, accounts, log, _ := newTestService()
	owner := randompkg.Owner()
	account := fund(t, s, owner, currencypkg.USD, 100)

	got, transaction, err := s.Expense(ctx, account.ID, owner, decimal.NewFromInt(30), "groceries")
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(decimal.NewFromInt(70)))
	require.Equal(t, domain.TransactionExpense, transaction.Type)
	require.True(t, transaction.ResultingBalance.Equal(decimal.NewFromInt(70)))

	logLen := log.Len()

	_, _, err = s.Expense(ctx, account.ID, owner, decimal.NewFromInt(200), "")
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Balance and log untouched after the failed expense.
	current, err := accounts.Get(account.ID)
	require.NoError(t, err)
	require.True(t, current.Balance.Equal(decimal.NewFromInt(70)))
	require.Equal(t, logLen, log.Len())

	_, _, err = s.Expense(ctx, account.ID, owner, decimal.NewFromInt(-1), "")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestDepositPersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s, accounts, log, persister := newTestService()
	owner := randompkg.Owner()
	account := fund(t, s, owner, currencypkg.USD, 100)

	logLen := log.Len()

	persister.setFailing(true)

	_, _, err := s.Deposit(ctx, account.ID, owner, decimal.NewFromInt(50), currencypkg.USD, "")
	require.ErrorIs(t, err, domain.ErrPersistenceFailed)

	current, err := accounts.Get(account.ID)
	require.NoError(t, err)
	require.True(t, current.Balance.Equal(decimal.NewFromInt(100)))
	require.Equal(t, account.LastUpdatedAt, current.LastUpdatedAt)
	require.Equal(t, logLen, log.Len())
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestService()
	owner := randompkg.Owner()
	other := randompkg.Owner()

	from := fund(t, s, owner, currencypkg.USD, 100)
	to := fund(t, s, other, currencypkg.USD, 10)

	arg := domain.CreateTransferParams{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        decimal.NewFromInt(30),
	}

	result, err := s.Transfer(ctx, owner, arg)
	require.NoError(t, err)

	require.True(t, result.FromAccount.Balance.Equal(decimal.NewFromInt(70)))
	require.True(t, result.ToAccount.Balance.Equal(decimal.NewFromInt(40)))

	require.Equal(t, domain.TransactionTransferOut, result.OutEntry.Type)
	require.Equal(t, from.ID, result.OutEntry.AccountID)
	require.True(t, result.OutEntry.ResultingBalance.Equal(decimal.NewFromInt(70)))

	require.Equal(t, domain.TransactionTransferIn, result.InEntry.Type)
	require.Equal(t, to.ID, result.InEntry.AccountID)
	require.True(t, result.InEntry.ResultingBalance.Equal(decimal.NewFromInt(40)))

	// Both legs share the correlation id.
	require.NotEmpty(t, result.TransferID)
	require.Equal(t, result.TransferID, result.OutEntry.TransferID)
	require.Equal(t, result.TransferID, result.InEntry.TransferID)
}

func TestTransferValidation(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestService()
	owner := randompkg.Owner()
	other := randompkg.Owner()

	from := fund(t, s, owner, currencypkg.USD, 100)
	to := fund(t, s, other, currencypkg.USD, 10)
	foreign := fund(t, s, other, currencypkg.EUR, 10)

	testCases := []struct {
		name         string
		fromUsername string
		arg          domain.CreateTransferParams
		wantErr      error
	}{
		{
			name:         "NonPositiveAmount",
			fromUsername: owner,
			arg:          domain.CreateTransferParams{FromAccountID: from.ID, ToAccountID: to.ID, Amount: decimal.Zero},
			wantErr:      domain.ErrInvalidAmount,
		},
		{
			name:         "SameAccount",
			fromUsername: owner,
			arg:          domain.CreateTransferParams{FromAccountID: from.ID, ToAccountID: from.ID, Amount: decimal.NewFromInt(5)},
			wantErr:      domain.ErrSameAccountTransfer,
		},
		{
			name:         "SourceNotFound",
			fromUsername: owner,
			arg:          domain.CreateTransferParams{FromAccountID: "missing", ToAccountID: to.ID, Amount: decimal.NewFromInt(5)},
			wantErr:      domain.ErrAccountNotFound,
		},
		{
			name:         "DestinationNotFound",
			fromUsername: owner,
			arg:          domain.CreateTransferParams{FromAccountID: from.ID, ToAccountID: "missing", Amount: decimal.NewFromInt(5)},
			wantErr:      domain.ErrAccountNotFound,
		},
		{
			name:         "NotOwner",
			fromUsername: other,
			arg:          domain.CreateTransferParams{FromAccountID: from.ID, ToAccountID: to.ID, Amount: decimal.NewFromInt(5)},
			wantErr:      domain.ErrAccountOwnerMismatch,
		},
		{
			name:         "CurrencyMismatch",
			fromUsername: owner,
			arg:          domain.CreateTransferParams{FromAccountID: from.ID, ToAccountID: foreign.ID, Amount: decimal.NewFromInt(5)},
			wantErr:      domain.ErrCurrencyMismatch,
		},
		{
			name:         "InsufficientBalance",
			fromUsername: owner,
			arg:          domain.CreateTransferParams{FromAccountID: from.ID, ToAccountID: to.ID, Amount: decimal.NewFromInt(1000)},
			wantErr:      domain.ErrInsufficientBalance,
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Transfer(ctx, tc.fromUsername, tc.arg)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestTransferPersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s, accounts, log, persister := newTestService()
	owner := randompkg.Owner()
	other := randompkg.Owner()

	from := fund(t, s, owner, currencypkg.USD, 100)
	to := fund(t, s, other, currencypkg.USD, 10)

	logLen := log.Len()

	persister.setFailing(true)

	arg := domain.CreateTransferParams{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        decimal.NewFromInt(30),
	}

	_, err := s.Transfer(ctx, owner, arg)
	require.ErrorIs(t, err, domain.ErrPersistenceFailed)

	gotFrom, err := accounts.Get(from.ID)
	require.NoError(t, err)
	require.True(t, gotFrom.Balance.Equal(decimal.NewFromInt(100)))

	gotTo, err := accounts.Get(to.ID)
	require.NoError(t, err)
	require.True(t, gotTo.Balance.Equal(decimal.NewFromInt(10)))

	require.Equal(t, logLen, log.Len())
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestService()
	owner := randompkg.Owner()

	empty := fund(t, s, owner, currencypkg.USD, 0)
	funded := fund(t, s, owner, currencypkg.EUR, 10)

	require.ErrorIs(t, s.DeleteAccount(ctx, funded.ID, owner), domain.ErrNonZeroBalance)
	require.ErrorIs(t, s.DeleteAccount(ctx, empty.ID, "intruder"), domain.ErrAccountOwnerMismatch)
	require.ErrorIs(t, s.DeleteAccount(ctx, "missing", owner), domain.ErrAccountNotFound)

	require.NoError(t, s.DeleteAccount(ctx, empty.ID, owner))

	_, _, err := s.GetAccount(ctx, empty.ID, owner)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	// The funded account survived its failed deletion.
	_, _, err = s.GetAccount(ctx, funded.ID, owner)
	require.NoError(t, err)
}

func TestDeleteAccountPersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s, _, _, persister := newTestService()
	owner := randompkg.Owner()

	account := fund(t, s, owner, currencypkg.USD, 0)

	persister.setFailing(true)

	require.ErrorIs(t, s.DeleteAccount(ctx, account.ID, owner), domain.ErrPersistenceFailed)

	persister.setFailing(false)

	got, _, err := s.GetAccount(ctx, account.ID, owner)
	require.NoError(t, err)
	require.Equal(t, account.ID, got.ID)
}

func TestDeletedAccountTransactionsRemain(t *testing.T) {
	ctx := context.Background()
	s, _, log, _ := newTestService()
	owner := randompkg.Owner()

	account := fund(t, s, owner, currencypkg.USD, 0)

	_, _, err := s.Deposit(ctx, account.ID, owner, decimal.NewFromInt(10), currencypkg.USD, "")
	require.NoError(t, err)
	_, _, err = s.Expense(ctx, account.ID, owner, decimal.NewFromInt(10), "")
	require.NoError(t, err)

	require.NoError(t, s.DeleteAccount(ctx, account.ID, owner))

	// Audit history survives the deletion.
	require.Len(t, log.Query(account.ID, domain.TransactionFilter{}), 2)
}

func TestGetAccount(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestService()
	owner := randompkg.Owner()

	account := fund(t, s, owner, currencypkg.USD, 0)

	for i := 1; i <= 7; i++ {
		_, _, err := s.Deposit(ctx, account.ID, owner, decimal.NewFromInt(int64(i)), currencypkg.USD, "")
		require.NoError(t, err)
	}

	got, recent, err := s.GetAccount(ctx, account.ID, owner)
	require.NoError(t, err)
	require.Equal(t, account.ID, got.ID)
	require.Len(t, recent, RecentTransactions)
	require.True(t, recent[0].Amount.Equal(decimal.NewFromInt(7)))

	_, _, err = s.GetAccount(ctx, account.ID, "intruder")
	require.ErrorIs(t, err, domain.ErrAccountOwnerMismatch)
}

func TestListTransactions(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestService()
	owner := randompkg.Owner()

	account := fund(t, s, owner, currencypkg.USD, 100)

	_, _, err := s.Expense(ctx, account.ID, owner, decimal.NewFromInt(10), "")
	require.NoError(t, err)
	_, _, err = s.Deposit(ctx, account.ID, owner, decimal.NewFromInt(20), currencypkg.USD, "")
	require.NoError(t, err)
	_, _, err = s.Expense(ctx, account.ID, owner, decimal.NewFromInt(30), "")
	require.NoError(t, err)

	got, err := s.ListTransactions(ctx, account.ID, owner, domain.TransactionFilter{Type: domain.TransactionExpense})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	require.True(t, got[0].Amount.Equal(decimal.NewFromInt(30)))
	require.True(t, got[1].Amount.Equal(decimal.NewFromInt(10)))

	_, err = s.ListTransactions(ctx, account.ID, "intruder", domain.TransactionFilter{})
	require.ErrorIs(t, err, domain.ErrAccountOwnerMismatch)

	_, err = s.ListTransactions(ctx, "missing", owner, domain.TransactionFilter{})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestReplayReproducesResultingBalances(t *testing.T) {
	ctx := context.Background()
	s, _, log, _ := newTestService()
	owner := randompkg.Owner()
	other := randompkg.Owner()

	a := fund(t, s, owner, currencypkg.USD, 100)
	b := fund(t, s, other, currencypkg.USD, 50)

	_, _, err := s.Deposit(ctx, a.ID, owner, decimal.NewFromInt(25), currencypkg.USD, "")
	require.NoError(t, err)
	_, _, err = s.Expense(ctx, a.ID, owner, decimal.NewFromInt(40), "")
	require.NoError(t, err)

	_, err = s.Transfer(ctx, owner, domain.CreateTransferParams{
		FromAccountID: a.ID,
		ToAccountID:   b.ID,
		Amount:        decimal.NewFromInt(15),
	})
	require.NoError(t, err)

	// Replaying each account's history from zero reproduces every
	// resulting balance exactly.
	balances := map[string]decimal.Decimal{}

	for _, tr := range log.All() {
		balance, ok := balances[tr.AccountID]
		if !ok {
			balance = decimal.Zero
		}

		switch tr.Type {
		case domain.TransactionDeposit, domain.TransactionTransferIn:
			balance = balance.Add(tr.Amount)
		case domain.TransactionExpense, domain.TransactionTransferOut:
			balance = balance.Sub(tr.Amount)
		}

		require.True(t, balance.Equal(tr.ResultingBalance),
			"replayed balance %s != recorded %s for %s", balance, tr.ResultingBalance, tr.ID)

		balances[tr.AccountID] = balance
	}
}

func TestConcurrentDeposits(t *testing.T) {
	ctx := context.Background()
	s, accounts, log, _ := newTestService()
	owner := randompkg.Owner()

	account := fund(t, s, owner, currencypkg.USD, 0)

	const n = 50

	amount := decimal.NewFromInt(10)
	errs := make(chan error, n)

	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _, err := s.Deposit(ctx, account.ID, owner, amount, currencypkg.USD, "")
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := accounts.Get(account.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(decimal.NewFromInt(n*10)),
		"lost update: final balance %s", got.Balance)
	require.Equal(t, n, log.Len())
}

func TestConcurrentOpposingTransfers(t *testing.T) {
	ctx := context.Background()
	s, accounts, _, _ := newTestService()
	owner := randompkg.Owner()
	other := randompkg.Owner()

	a := fund(t, s, owner, currencypkg.USD, 1000)
	b := fund(t, s, other, currencypkg.USD, 1000)

	const n = 25

	amount := decimal.NewFromInt(1)
	errs := make(chan error, 2*n)

	var wg sync.WaitGroup

	// Opposing directions between the same pair must not deadlock.
	for i := 0; i < n; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()

			_, err := s.Transfer(ctx, owner, domain.CreateTransferParams{
				FromAccountID: a.ID, ToAccountID: b.ID, Amount: amount,
			})
			errs <- err
		}()

		go func() {
			defer wg.Done()

			_, err := s.Transfer(ctx, other, domain.CreateTransferParams{
				FromAccountID: b.ID, ToAccountID: a.ID, Amount: amount,
			})
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	gotA, err := accounts.Get(a.ID)
	require.NoError(t, err)
	gotB, err := accounts.Get(b.ID)
	require.NoError(t, err)

	require.True(t, gotA.Balance.Equal(decimal.NewFromInt(1000)))
	require.True(t, gotB.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestSaveOrderMatchesCommitOrder(t *testing.T) {
	ctx := context.Background()
	persister := newGatedPersister()
	s := New(accountstore.New(idpkg.UUID{}), transactionlog.New(), persister, idpkg.UUID{})

	owner := randompkg.Owner()
	other := randompkg.Owner()

	x := fund(t, s, owner, currencypkg.USD, 0)
	y := fund(t, s, other, currencypkg.USD, 0)

	persister.arm()

	var firstErr, secondErr error

	firstDone := make(chan struct{})

	go func() {
		defer close(firstDone)
		_, _, firstErr = s.Deposit(ctx, x.ID, owner, decimal.NewFromInt(10), currencypkg.USD, "")
	}()

	<-persister.entered

	secondDone := make(chan struct{})

	go func() {
		defer close(secondDone)
		_, _, secondErr = s.Deposit(ctx, y.ID, other, decimal.NewFromInt(20), currencypkg.USD, "")
	}()

	// While the first save is in flight, a later deposit must not commit, or
	// the first capture could land on disk after the later one and erase it.
	select {
	case <-secondDone:
		t.Fatal("second deposit was acknowledged while the first save was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(persister.release)
	<-firstDone
	<-secondDone

	require.NoError(t, firstErr)
	require.NoError(t, secondErr)

	// The last durable snapshot holds both acknowledged deposits.
	persister.mu.Lock()
	last := persister.last
	persister.mu.Unlock()

	balances := map[string]decimal.Decimal{}
	for _, a := range last.Accounts {
		balances[a.ID] = a.Balance
	}

	require.True(t, balances[x.ID].Equal(decimal.NewFromInt(10)))
	require.True(t, balances[y.ID].Equal(decimal.NewFromInt(20)))
}

func TestReadersNeverSeeRolledBackState(t *testing.T) {
	ctx := context.Background()
	persister := newGatedPersister()
	s := New(accountstore.New(idpkg.UUID{}), transactionlog.New(), persister, idpkg.UUID{})

	owner := randompkg.Owner()
	other := randompkg.Owner()

	from := fund(t, s, owner, currencypkg.USD, 100)
	to := fund(t, s, other, currencypkg.USD, 10)

	persister.arm()

	var transferErr error

	transferDone := make(chan struct{})

	go func() {
		defer close(transferDone)
		_, transferErr = s.Transfer(ctx, owner, domain.CreateTransferParams{
			FromAccountID: from.ID,
			ToAccountID:   to.ID,
			Amount:        decimal.NewFromInt(30),
		})
	}()

	<-persister.entered

	type getResult struct {
		account domain.Account
		err     error
	}

	read := make(chan getResult, 1)

	go func() {
		account, _, err := s.GetAccount(ctx, from.ID, owner)
		read <- getResult{account: account, err: err}
	}()

	// The read must wait for the in-flight transfer to settle; otherwise it
	// could observe the debit of a transfer that is about to be rolled back.
	select {
	case <-read:
		t.Fatal("read returned while a mutation was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	persister.setFailing(true)
	close(persister.release)
	<-transferDone

	require.ErrorIs(t, transferErr, domain.ErrPersistenceFailed)

	got := <-read
	require.NoError(t, got.err)
	require.True(t, got.account.Balance.Equal(decimal.NewFromInt(100)),
		"reader observed rolled-back state: balance %s", got.account.Balance)
}
