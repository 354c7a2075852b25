package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
	"github.com/wenkexue-ai/wechat-bot/internal/credit"
	"github.com/wenkexue-ai/wechat-bot/internal/ledger"
	"github.com/wenkexue-ai/wechat-bot/internal/middleware"
	"github.com/wenkexue-ai/wechat-bot/internal/services/pay"
)

// PaymentHandler serves the payment notification callback and the pay-page
// support endpoints.
type PaymentHandler struct {
	cfg        *config.Config
	orders     ledger.Store
	credits    credit.Store
	reconciler *ledger.Reconciler
	metrics    *middleware.Metrics
	logger     *logrus.Logger
}

func NewPaymentHandler(
	cfg *config.Config,
	orders ledger.Store,
	credits credit.Store,
	reconciler *ledger.Reconciler,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		cfg:        cfg,
		orders:     orders,
		credits:    credits,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
	}
}

type notifyAck struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleNotify processes a WeChat Pay v3 payment notification. The provider
// redelivers until it receives a SUCCESS ack, so the ack is written only
// after reconciliation finished; a payload that fails decryption is
// rejected outright and credits nothing.
func (h *PaymentHandler) HandleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, notifyAck{Code: "FAIL", Message: "read body failed"})
		return
	}

	txn, err := pay.DecryptNotification(h.cfg.Pay.APIKey, body)
	if err != nil {
		// Possibly forged or corrupt. Fail closed and loudly: operators
		// need to see this.
		h.metrics.RecordReconciliation("decrypt_error")
		h.logger.WithError(err).Error("Payment notification rejected")
		writeJSON(w, http.StatusInternalServerError, notifyAck{Code: "FAIL", Message: "invalid notification"})
		return
	}

	if txn.TradeState != "" && txn.TradeState != "SUCCESS" {
		h.logger.WithFields(logrus.Fields{
			"order_no": txn.OutTradeNo,
			"state":    txn.TradeState,
		}).Info("Ignoring non-success trade state")
		writeJSON(w, http.StatusOK, notifyAck{Code: "SUCCESS", Message: "成功"})
		return
	}

	result, err := h.reconciler.Apply(r.Context(), ledger.Notification{
		OrderNo: txn.OutTradeNo,
		OpenID:  txn.OpenID(),
		Amount:  txn.Amount.Total,
	})
	if err != nil {
		h.metrics.RecordReconciliation("error")
		h.logger.WithError(err).Error("Reconciliation failed")
		// No ack: the provider will retry and the settle guard keeps the
		// retry idempotent.
		writeJSON(w, http.StatusInternalServerError, notifyAck{Code: "FAIL", Message: "处理失败"})
		return
	}

	h.metrics.RecordReconciliation(string(result.Status))
	if result.Status == ledger.ResultSettled {
		h.metrics.RecordGrant(result.Order.Credits)
	}

	writeJSON(w, http.StatusOK, notifyAck{Code: "SUCCESS", Message: "成功"})
}

// HandlePayParams returns the stored JSAPI invocation parameters for the
// pay page.
func (h *PaymentHandler) HandlePayParams(w http.ResponseWriter, r *http.Request) {
	orderNo := mux.Vars(r)["orderNo"]

	order, err := h.orders.Get(r.Context(), orderNo)
	if errors.Is(err, ledger.ErrOrderNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "订单不存在",
		})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false})
		return
	}

	var params json.RawMessage
	if order.PayParams != "" {
		params = json.RawMessage(order.PayParams)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"orderNo":   order.OrderNo,
		"amount":    order.Amount,
		"credits":   order.Credits,
		"payParams": params,
	})
}

// HandleTestRecharge injects credits directly, for development only. The
// route is registered only when pay.test_endpoints is enabled.
func (h *PaymentHandler) HandleTestRecharge(w http.ResponseWriter, r *http.Request) {
	openID := r.URL.Query().Get("openid")
	if openID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "缺少openid参数",
		})
		return
	}

	amount := 50
	if v := r.URL.Query().Get("credits"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			amount = n
		}
	}

	newBalance, err := h.credits.Credit(r.Context(), openID, amount)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"open_id": openID,
		"credits": amount,
	}).Warn("Test recharge applied")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"credits":    amount,
		"newBalance": newBalance,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
