package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MemoryStore keeps orders in a process-local map behind one mutex.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	logger *logrus.Logger
}

func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		logger: logger,
	}
}

func (s *MemoryStore) Create(ctx context.Context, openID, packageID string) (*Order, error) {
	pkg, err := LookupPackage(packageID)
	if err != nil {
		return nil, err
	}

	order := &Order{
		OrderNo:   newOrderNo(),
		OpenID:    openID,
		PackageID: pkg.ID,
		Amount:    pkg.Amount,
		Credits:   pkg.Credits,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.orders[order.OrderNo] = order
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"order_no": order.OrderNo,
		"open_id":  openID,
		"package":  pkg.ID,
		"amount":   pkg.Amount,
	}).Info("Order created")

	return cloneOrder(order), nil
}

func (s *MemoryStore) Get(ctx context.Context, orderNo string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderNo]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (s *MemoryStore) SetPayParams(ctx context.Context, orderNo, payParams string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderNo]
	if !ok {
		return ErrOrderNotFound
	}
	order.PayParams = payParams
	return nil
}

func (s *MemoryStore) MarkSettled(ctx context.Context, orderNo string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderNo]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if order.Status == StatusSettled {
		return nil, ErrAlreadySettled
	}

	order.Status = StatusSettled
	order.SettledAt = time.Now()
	return cloneOrder(order), nil
}

func cloneOrder(o *Order) *Order {
	c := *o
	return &c
}
