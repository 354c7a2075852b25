package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/i18n"
	"github.com/wenkexue-ai/wechat-bot/internal/ledger"
	"github.com/wenkexue-ai/wechat-bot/internal/models"
	"github.com/wenkexue-ai/wechat-bot/internal/services/wechat"
)

// Chat commands recognized before a message is treated as a chat turn.
// Kept as the Chinese words the original account published to its users.
const (
	cmdBalance        = "余额"
	cmdBalanceLong    = "查询余额"
	cmdRecharge       = "充值"
	cmdBuy            = "购买"
	cmdRechargePrefix = "充值 "
)

// handleCommand intercepts command messages. It returns the reply text and
// whether the message was a command; an empty reply with handled=true means
// the handler already wrote the response (the news-card order reply).
func (h *WebhookHandler) handleCommand(w http.ResponseWriter, r *http.Request, msg *models.InboundMessage, text string) (string, bool) {
	text = strings.TrimSpace(text)

	switch text {
	case cmdBalance, cmdBalanceLong:
		return h.balanceReply(r, msg.FromUserName), true
	case cmdRecharge, cmdBuy:
		return h.rechargeMenu(), true
	}

	if strings.HasPrefix(text, cmdRechargePrefix) {
		packageID := strings.TrimSpace(strings.TrimPrefix(text, cmdRechargePrefix))
		h.handleRecharge(w, r, msg, packageID)
		return "", true
	}

	return "", false
}

func (h *WebhookHandler) balanceReply(r *http.Request, openID string) string {
	acct, err := h.credits.GetOrCreate(r.Context(), openID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load account for balance query")
		return h.localizer.Default(i18n.MsgProviderDown, nil)
	}

	return h.localizer.Default(i18n.MsgBalance, map[string]interface{}{
		"Balance":     acct.Balance,
		"TotalDebits": acct.TotalDebits,
	})
}

// rechargeMenu renders the package list from the price table.
func (h *WebhookHandler) rechargeMenu() string {
	var menu strings.Builder
	menu.WriteString(h.localizer.Default(i18n.MsgRechargeMenuHeader, nil))
	for _, pkg := range ledger.Packages() {
		menu.WriteString(fmt.Sprintf("%s. %s\n", pkg.ID, pkg.Desc))
	}
	menu.WriteString(h.localizer.Default(i18n.MsgRechargeMenuFooter, nil))
	return menu.String()
}

// handleRecharge opens an order and replies with a news card whose link
// opens the payment page.
func (h *WebhookHandler) handleRecharge(w http.ResponseWriter, r *http.Request, msg *models.InboundMessage, packageID string) {
	openID := msg.FromUserName
	log := h.logger.WithFields(logrus.Fields{
		"open_id": openID,
		"package": packageID,
	})

	order, err := h.orders.Create(r.Context(), openID, packageID)
	if errors.Is(err, ledger.ErrUnknownPackage) {
		h.writeTextReply(w, msg, h.localizer.Default(i18n.MsgOrderFailed, nil)+"\n\n"+h.rechargeMenu())
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to create order")
		h.writeTextReply(w, msg, h.localizer.Default(i18n.MsgOrderFailed, nil)+"\n\n"+h.rechargeMenu())
		return
	}

	// Ensure the account exists before any payment is attempted against it.
	if _, err := h.credits.GetOrCreate(r.Context(), openID); err != nil {
		log.WithError(err).Error("Failed to ensure account")
	}

	result, err := h.payClient.CreateJSAPIOrder(r.Context(), order)
	if err != nil {
		log.WithError(err).Error("Unified order failed")
		h.writeTextReply(w, msg, h.localizer.Default(i18n.MsgOrderFailed, nil)+"\n\n"+h.rechargeMenu())
		return
	}

	if result.Params != nil {
		if err := h.storePayParams(r, order.OrderNo, result.Params); err != nil {
			log.WithError(err).Error("Failed to store pay params")
		}
	}

	h.metrics.RecordOrderCreated(packageID)
	log.WithField("order_no", order.OrderNo).Info("Recharge order issued")

	pkg, _ := ledger.LookupPackage(packageID)
	article := models.Article{
		Title: h.localizer.Default(i18n.MsgOrderCreatedTitle, nil),
		Description: h.localizer.Default(i18n.MsgOrderCreatedDesc, map[string]interface{}{
			"Desc": pkg.Desc,
			"Yuan": fmt.Sprintf("%.2f", float64(order.Amount)/100),
		}),
		PicURL: strings.TrimSuffix(h.cfg.Pay.PayPageURL, "/pay.html") + "/pay-icon.png",
		URL:    result.PayURL,
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write([]byte(wechat.BuildNewsReply(msg.FromUserName, msg.ToUserName, []models.Article{article})))
}

func (h *WebhookHandler) storePayParams(r *http.Request, orderNo string, params interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return h.orders.SetPayParams(r.Context(), orderNo, string(data))
}
