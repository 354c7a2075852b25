// Package ledger holds the recharge order book and the payment
// reconciliation engine. An order is created pending, settles at most once,
// and is retained afterwards for audit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
)

var (
	// ErrUnknownPackage is returned when a package id is not in the price
	// table. No order is created.
	ErrUnknownPackage = errors.New("unknown recharge package")

	// ErrOrderNotFound is returned for order numbers with no ledger entry.
	ErrOrderNotFound = errors.New("order not found")

	// ErrAlreadySettled guards against duplicate payment notifications:
	// MarkSettled on a settled order mutates nothing.
	ErrAlreadySettled = errors.New("order already settled")
)

// Status of an order. There is exactly one transition, pending -> settled.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
)

// Order is a pending-or-settled record of a requested top-up.
type Order struct {
	OrderNo   string    `json:"order_no"`
	OpenID    string    `json:"open_id"`
	PackageID string    `json:"package_id"`
	Amount    int       `json:"amount"`
	Credits   int       `json:"credits"`
	Status    Status    `json:"status"`
	PayParams string    `json:"pay_params,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	SettledAt time.Time `json:"settled_at,omitempty"`
}

// Store defines the order book. MarkSettled must be atomic with respect to
// concurrent notifications for the same order: only one caller observes the
// pending state.
type Store interface {
	// Create opens a pending order for the package, or fails with
	// ErrUnknownPackage leaving no entry behind.
	Create(ctx context.Context, openID, packageID string) (*Order, error)

	// Get returns the order or ErrOrderNotFound.
	Get(ctx context.Context, orderNo string) (*Order, error)

	// SetPayParams attaches the JSAPI invocation parameters produced by
	// the payment provider to an existing order.
	SetPayParams(ctx context.Context, orderNo, payParams string) error

	// MarkSettled transitions pending -> settled and returns the settled
	// order. ErrAlreadySettled or ErrOrderNotFound means no mutation.
	MarkSettled(ctx context.Context, orderNo string) (*Order, error)
}

// NewStore builds the configured backend
func NewStore(cfg *config.Config, logger *logrus.Logger) (Store, error) {
	switch cfg.Storage.Type {
	case "redis":
		return NewRedisStore(cfg, logger)
	case "memory":
		return NewMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

const orderRandChars = "0123456789abcdefghijklmnopqrstuvwxyz"

// newOrderNo derives a fresh order number from the current time plus a
// random base36 suffix, e.g. ORDER1735689600123k3v9x2q1z.
func newOrderNo() string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = orderRandChars[rand.Intn(len(orderRandChars))]
	}
	return fmt.Sprintf("ORDER%d%s", time.Now().UnixMilli(), suffix)
}
