// Package pay implements the WeChat Pay v3 merchant API surface the bot
// needs: JSAPI unified orders, client paySign generation and notification
// decryption. Signature plumbing lives in sign.go.
package pay

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
	"github.com/wenkexue-ai/wechat-bot/internal/ledger"
)

const (
	payAPIHost    = "https://api.mch.weixin.qq.com"
	jsapiPath     = "/v3/pay/transactions/jsapi"
	codeClientErr = 400
)

// ErrProvider wraps any payment API failure so callers can translate it to
// a user-facing message without inspecting HTTP details.
var ErrProvider = errors.New("payment provider error")

// PayParams are the parameters the pay page feeds to WeixinJSBridge.
type PayParams struct {
	AppID     string `json:"appId"`
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// OrderResult is what the chat layer needs to hand the user a payable order.
type OrderResult struct {
	Order    *ledger.Order
	PayURL   string
	Params   *PayParams
	TestMode bool
}

// Client talks to the WeChat Pay v3 API. When no merchant private key is
// configured it degrades to test mode: orders are created locally with a
// pay URL but no provider call, mirroring a dev deployment without certs.
type Client struct {
	cfg        *config.Config
	key        *rsa.PrivateKey
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(cfg *config.Config, logger *logrus.Logger) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}

	if cfg.Pay.PrivateKeyPath != "" {
		key, err := loadPrivateKey(cfg.Pay.PrivateKeyPath)
		if err != nil {
			logger.WithError(err).Warn("Merchant private key not loaded, payment runs in test mode")
		} else {
			c.key = key
			logger.Info("Merchant private key loaded")
		}
	} else {
		logger.Warn("No merchant private key configured, payment runs in test mode")
	}

	return c
}

// TestMode reports whether provider calls are disabled.
func (c *Client) TestMode() bool {
	return c.key == nil
}

func (c *Client) payURL(order *ledger.Order) string {
	return fmt.Sprintf("%s?order=%s&price=%s&openid=%s",
		c.cfg.Pay.PayPageURL, order.OrderNo, order.PackageID, url.QueryEscape(order.OpenID))
}

// CreateJSAPIOrder registers the order with WeChat Pay and produces the
// JSAPI invocation parameters. In test mode it only builds the pay URL.
func (c *Client) CreateJSAPIOrder(ctx context.Context, order *ledger.Order) (*OrderResult, error) {
	if c.TestMode() {
		return &OrderResult{Order: order, PayURL: c.payURL(order), TestMode: true}, nil
	}

	reqBody := map[string]interface{}{
		"appid":        c.cfg.WeChat.AppID,
		"mchid":        c.cfg.Pay.MchID,
		"description":  fmt.Sprintf("充值%d次对话", order.Credits),
		"out_trade_no": order.OrderNo,
		"notify_url":   c.cfg.Pay.NotifyURL,
		"amount": map[string]interface{}{
			"total":    order.Amount,
			"currency": "CNY",
		},
		"payer": map[string]string{
			"openid": order.OpenID,
		},
		// Echoed back in the notification; identifies the account there.
		"attach": order.OpenID,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	auth, err := buildAuthorization(c.key, c.cfg.Pay.MchID, c.cfg.Pay.CertSerial, http.MethodPost, jsapiPath, string(body))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payAPIHost+jsapiPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(respBody),
		}).Error("Unified order request rejected")
		return nil, fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}

	var result struct {
		PrepayID string `json:"prepay_id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || result.PrepayID == "" {
		return nil, fmt.Errorf("%w: missing prepay_id", ErrProvider)
	}

	params, err := c.buildPayParams(result.PrepayID)
	if err != nil {
		return nil, err
	}

	c.logger.WithField("order_no", order.OrderNo).Info("Unified order created")

	return &OrderResult{
		Order:  order,
		PayURL: c.payURL(order),
		Params: params,
	}, nil
}

// buildPayParams signs the WeixinJSBridge invocation for one prepay id.
func (c *Client) buildPayParams(prepayID string) (*PayParams, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonceStr := nonce(32)
	pkg := "prepay_id=" + prepayID

	message := fmt.Sprintf("%s\n%s\n%s\n%s\n", c.cfg.WeChat.AppID, timestamp, nonceStr, pkg)
	paySign, err := signSHA256RSA(c.key, message)
	if err != nil {
		return nil, err
	}

	return &PayParams{
		AppID:     c.cfg.WeChat.AppID,
		TimeStamp: timestamp,
		NonceStr:  nonceStr,
		Package:   pkg,
		SignType:  "RSA",
		PaySign:   paySign,
	}, nil
}
