package handlers

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/i18n"
	"github.com/wenkexue-ai/wechat-bot/internal/ledger"
	"github.com/wenkexue-ai/wechat-bot/internal/middleware"
	"github.com/wenkexue-ai/wechat-bot/internal/models"
	"github.com/wenkexue-ai/wechat-bot/internal/queue"
)

// QueueNotifier delivers recharge confirmations by enqueueing a push task,
// so a slow or failing customer-message API never blocks reconciliation.
type QueueNotifier struct {
	queue     queue.Queue
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

func NewQueueNotifier(q queue.Queue, localizer *i18n.Localizer, metrics *middleware.Metrics, logger *logrus.Logger) *QueueNotifier {
	return &QueueNotifier{queue: q, localizer: localizer, metrics: metrics, logger: logger}
}

var _ ledger.Notifier = (*QueueNotifier)(nil)

func (n *QueueNotifier) NotifyRechargeSuccess(ctx context.Context, openID string, order *ledger.Order, newBalance int) error {
	content := n.localizer.Default(i18n.MsgRechargeSuccess, map[string]interface{}{
		"Yuan":    fmt.Sprintf("%g", float64(order.Amount)/100),
		"Credits": order.Credits,
		"Balance": newBalance,
	})

	err := n.queue.Push(ctx, &models.PushTask{OpenID: openID, Content: content})
	if err != nil {
		n.metrics.RecordPushTask("enqueue_failed")
		n.logger.WithError(err).WithField("open_id", openID).Warn("Failed to enqueue recharge notice")
		return err
	}

	n.metrics.RecordPushTask("enqueued")
	return nil
}
