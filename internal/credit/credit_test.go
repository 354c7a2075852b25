package credit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	cfg := &config.CreditConfig{
		InitialGrant:   3,
		CostPerMessage: 1,
		HistoryLimit:   10,
	}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewMemoryStore(cfg, logger)
}

func TestGetOrCreateGrantsInitialCredits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct, err := store.GetOrCreate(ctx, "oUser1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if acct.Balance != 3 {
		t.Errorf("new account balance = %d, want 3", acct.Balance)
	}
	if acct.OpenID != "oUser1" {
		t.Errorf("OpenID = %q, want %q", acct.OpenID, "oUser1")
	}

	// A second call must return the same account, not grant again.
	again, err := store.GetOrCreate(ctx, "oUser1")
	if err != nil {
		t.Fatalf("GetOrCreate() second call error = %v", err)
	}
	if again.Balance != 3 {
		t.Errorf("second GetOrCreate balance = %d, want 3", again.Balance)
	}
}

func TestGetUnknownAccount(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "oNobody")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrAccountNotFound", err)
	}
}

func TestDebitSpendsDownToZero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "oUser1"); err != nil {
		t.Fatal(err)
	}

	for i, want := range []int{2, 1, 0} {
		balance, err := store.Debit(ctx, "oUser1", 1, "question")
		if err != nil {
			t.Fatalf("Debit #%d error = %v", i+1, err)
		}
		if balance != want {
			t.Errorf("Debit #%d balance = %d, want %d", i+1, balance, want)
		}
	}

	// The fourth debit must fail and leave the balance at zero.
	if _, err := store.Debit(ctx, "oUser1", 1, "question"); !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("Debit over balance error = %v, want ErrInsufficientCredits", err)
	}

	acct, err := store.Get(ctx, "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 0 {
		t.Errorf("balance after failed debit = %d, want 0", acct.Balance)
	}
	if acct.TotalDebits != 3 {
		t.Errorf("TotalDebits = %d, want 3", acct.TotalDebits)
	}
}

func TestFailedDebitLeavesAccountUnchanged(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "oUser1"); err != nil {
		t.Fatal(err)
	}

	_, err := store.Debit(ctx, "oUser1", 5, "too much")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("Debit error = %v, want ErrInsufficientCredits", err)
	}

	acct, err := store.Get(ctx, "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 3 {
		t.Errorf("balance = %d, want 3", acct.Balance)
	}
	if acct.TotalDebits != 0 {
		t.Errorf("TotalDebits = %d, want 0", acct.TotalDebits)
	}
	if len(acct.History) != 0 {
		t.Errorf("history length = %d, want 0", len(acct.History))
	}
}

func TestDebitInvalidAmount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "oUser1"); err != nil {
		t.Fatal(err)
	}

	for _, amount := range []int{0, -1} {
		if _, err := store.Debit(ctx, "oUser1", amount, ""); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Debit(%d) error = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestCreditCreatesAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Crediting an unseen openid must create the account with the grant
	// plus the credited amount.
	balance, err := store.Credit(ctx, "oNew", 50)
	if err != nil {
		t.Fatalf("Credit() error = %v", err)
	}
	if balance != 53 {
		t.Errorf("balance = %d, want 53", balance)
	}
}

func TestCreditInvalidAmount(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Credit(context.Background(), "oUser1", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Credit(0) error = %v, want ErrInvalidAmount", err)
	}
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Credit(ctx, "oUser1", 20); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 15; i++ {
		if _, err := store.Debit(ctx, "oUser1", 1, fmt.Sprintf("note-%d", i)); err != nil {
			t.Fatalf("Debit #%d error = %v", i, err)
		}
	}

	acct, err := store.Get(ctx, "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	if len(acct.History) != 10 {
		t.Fatalf("history length = %d, want 10", len(acct.History))
	}
	// Oldest retained entry is #5, newest is #14.
	if got := acct.History[0].Note; got != "note-5" {
		t.Errorf("oldest history note = %q, want %q", got, "note-5")
	}
	if got := acct.History[9].Note; got != "note-14" {
		t.Errorf("newest history note = %q, want %q", got, "note-14")
	}
}

func TestReturnedAccountIsACopy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct, err := store.GetOrCreate(ctx, "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	acct.Balance = 999

	fresh, err := store.Get(ctx, "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Balance != 3 {
		t.Errorf("stored balance = %d after mutating a returned copy, want 3", fresh.Balance)
	}
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Credit(ctx, "oUser1", 47); err != nil {
		t.Fatal(err)
	}
	// 3 granted + 47 credited = 50 available, 100 attempted.

	done := make(chan error, 100)
	for i := 0; i < 100; i++ {
		go func() {
			_, err := store.Debit(ctx, "oUser1", 1, "")
			done <- err
		}()
	}

	var succeeded, refused int
	for i := 0; i < 100; i++ {
		switch err := <-done; {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientCredits):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 50 || refused != 50 {
		t.Errorf("succeeded = %d, refused = %d, want 50/50", succeeded, refused)
	}

	acct, err := store.Get(ctx, "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 0 {
		t.Errorf("final balance = %d, want 0", acct.Balance)
	}
}
