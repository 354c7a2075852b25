package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
)

const customSendURL = "https://api.weixin.qq.com/cgi-bin/message/custom/send"

// Pusher sends customer-service messages, the platform's channel for
// messages initiated by the account rather than the user.
type Pusher struct {
	tokens     *TokenManager
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewPusher(cfg *config.WeChatConfig, logger *logrus.Logger) *Pusher {
	return &Pusher{
		tokens:     NewTokenManager(cfg, logger),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SendText pushes a text message to the user. Best effort: callers treat a
// failure as a logged nuisance, not a reason to undo anything.
func (p *Pusher) SendText(ctx context.Context, openID, content string) error {
	token, err := p.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access_token: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"touser":  openID,
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s?access_token=%s", customSendURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send custom message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return err
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("custom message rejected: %d %s", result.ErrCode, result.ErrMsg)
	}

	p.logger.WithField("open_id", openID).Debug("Customer message delivered")
	return nil
}
