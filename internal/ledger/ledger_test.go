package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestCreateOrder(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	order, err := store.Create(ctx, "oUser1", "5")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if order.OpenID != "oUser1" {
		t.Errorf("OpenID = %q, want %q", order.OpenID, "oUser1")
	}
	if order.Amount != 500 {
		t.Errorf("Amount = %d, want 500", order.Amount)
	}
	if order.Credits != 300 {
		t.Errorf("Credits = %d, want 300", order.Credits)
	}
	if order.Status != StatusPending {
		t.Errorf("Status = %q, want %q", order.Status, StatusPending)
	}
	if !strings.HasPrefix(order.OrderNo, "ORDER") {
		t.Errorf("OrderNo = %q, want ORDER prefix", order.OrderNo)
	}

	got, err := store.Get(ctx, order.OrderNo)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.OrderNo != order.OrderNo {
		t.Errorf("Get returned order %q, want %q", got.OrderNo, order.OrderNo)
	}
}

func TestCreateUnknownPackage(t *testing.T) {
	store := NewMemoryStore(testLogger())

	_, err := store.Create(context.Background(), "oUser1", "99")
	if !errors.Is(err, ErrUnknownPackage) {
		t.Fatalf("Create(unknown package) error = %v, want ErrUnknownPackage", err)
	}
}

func TestGetUnknownOrder(t *testing.T) {
	store := NewMemoryStore(testLogger())

	_, err := store.Get(context.Background(), "ORDER0000000000000xxxxxxxxx")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrOrderNotFound", err)
	}
}

func TestSetPayParams(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	order, err := store.Create(ctx, "oUser1", "1")
	if err != nil {
		t.Fatal(err)
	}

	params := `{"appId":"wx123","signType":"RSA"}`
	if err := store.SetPayParams(ctx, order.OrderNo, params); err != nil {
		t.Fatalf("SetPayParams() error = %v", err)
	}

	got, err := store.Get(ctx, order.OrderNo)
	if err != nil {
		t.Fatal(err)
	}
	if got.PayParams != params {
		t.Errorf("PayParams = %q, want %q", got.PayParams, params)
	}

	if err := store.SetPayParams(ctx, "ORDERmissing", params); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("SetPayParams(unknown) error = %v, want ErrOrderNotFound", err)
	}
}

func TestMarkSettledHappensOnce(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	order, err := store.Create(ctx, "oUser1", "10")
	if err != nil {
		t.Fatal(err)
	}

	settled, err := store.MarkSettled(ctx, order.OrderNo)
	if err != nil {
		t.Fatalf("MarkSettled() error = %v", err)
	}
	if settled.Status != StatusSettled {
		t.Errorf("Status = %q, want %q", settled.Status, StatusSettled)
	}
	if settled.SettledAt.IsZero() {
		t.Error("SettledAt is zero after settlement")
	}

	if _, err := store.MarkSettled(ctx, order.OrderNo); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("second MarkSettled error = %v, want ErrAlreadySettled", err)
	}
}

func TestMarkSettledUnknownOrder(t *testing.T) {
	store := NewMemoryStore(testLogger())

	_, err := store.MarkSettled(context.Background(), "ORDERmissing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("MarkSettled(unknown) error = %v, want ErrOrderNotFound", err)
	}
}

func TestConcurrentSettlementSingleWinner(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	order, err := store.Create(ctx, "oUser1", "1")
	if err != nil {
		t.Fatal(err)
	}

	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := store.MarkSettled(ctx, order.OrderNo)
			results <- err
		}()
	}

	var won, lost int
	for i := 0; i < 20; i++ {
		switch err := <-results; {
		case err == nil:
			won++
		case errors.Is(err, ErrAlreadySettled):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("settlement winners = %d, want exactly 1", won)
	}
}

func TestOrderNoFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		no := newOrderNo()
		if !strings.HasPrefix(no, "ORDER") {
			t.Fatalf("order no %q missing ORDER prefix", no)
		}
		if len(no) != len("ORDER")+13+9 {
			t.Fatalf("order no %q has length %d", no, len(no))
		}
		if seen[no] {
			t.Fatalf("duplicate order no %q", no)
		}
		seen[no] = true
	}
}
