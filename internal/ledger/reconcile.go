package ledger

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/credit"
)

// Notification is a payment callback after signature verification and
// decryption. Matching is by explicit order number only; there is no
// fallback matching by paid amount, since two packages could share a price.
type Notification struct {
	OrderNo string
	OpenID  string
	Amount  int
}

// ResultStatus classifies one reconciliation outcome.
type ResultStatus string

const (
	// ResultSettled means the order settled now and credits were applied.
	ResultSettled ResultStatus = "settled"
	// ResultAlreadySettled means a duplicate notification was dropped.
	ResultAlreadySettled ResultStatus = "already_settled"
	// ResultOrderNotFound means the notification matched no order.
	ResultOrderNotFound ResultStatus = "order_not_found"
)

// Result reports what a notification did.
type Result struct {
	Status     ResultStatus
	Order      *Order
	NewBalance int
}

// Notifier delivers a best-effort recharge confirmation to the user. A
// delivery failure never rolls back the credit.
type Notifier interface {
	NotifyRechargeSuccess(ctx context.Context, openID string, order *Order, newBalance int) error
}

// Reconciler applies verified payment notifications to the order book and
// the credit store exactly once per order.
type Reconciler struct {
	orders   Store
	credits  credit.Store
	notifier Notifier
	logger   *logrus.Logger
}

func NewReconciler(orders Store, credits credit.Store, notifier Notifier, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		orders:   orders,
		credits:  credits,
		notifier: notifier,
		logger:   logger,
	}
}

// Apply settles the referenced order and credits its account. Duplicate and
// unmatched notifications are no-ops reported through the Result status;
// they are not errors, since the provider retries until it gets an ack.
func (r *Reconciler) Apply(ctx context.Context, n Notification) (*Result, error) {
	log := r.logger.WithFields(logrus.Fields{
		"order_no": n.OrderNo,
		"open_id":  n.OpenID,
		"amount":   n.Amount,
	})

	// Settle first: this is the idempotency gate. Crediting happens only
	// for the single caller that wins the pending -> settled transition.
	order, err := r.orders.MarkSettled(ctx, n.OrderNo)
	if errors.Is(err, ErrAlreadySettled) {
		log.Info("Duplicate payment notification, no credit applied")
		return &Result{Status: ResultAlreadySettled}, nil
	}
	if errors.Is(err, ErrOrderNotFound) {
		log.Warn("Payment notification matched no order, no credit applied")
		return &Result{Status: ResultOrderNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	if n.Amount != 0 && n.Amount != order.Amount {
		// Credited per the order anyway: the order is the contract the
		// user accepted, the discrepancy is an operator concern.
		log.WithField("order_amount", order.Amount).Warn("Paid amount differs from order amount")
	}
	if n.OpenID != "" && n.OpenID != order.OpenID {
		log.WithField("order_open_id", order.OpenID).Warn("Notification openid differs from order owner")
	}

	newBalance, err := r.credits.Credit(ctx, order.OpenID, order.Credits)
	if err != nil {
		// The order is settled but the account was not credited. Surface
		// the error so the provider retries; the retry will hit the
		// already-settled guard, so this needs operator attention.
		log.WithError(err).Error("Order settled but crediting failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"credits":     order.Credits,
		"new_balance": newBalance,
	}).Info("Recharge settled")

	if r.notifier != nil {
		if err := r.notifier.NotifyRechargeSuccess(ctx, order.OpenID, order, newBalance); err != nil {
			log.WithError(err).Warn("Failed to queue recharge confirmation")
		}
	}

	return &Result{Status: ResultSettled, Order: order, NewBalance: newBalance}, nil
}
