package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
)

const tokenURL = "https://api.weixin.qq.com/cgi-bin/token"

// earlyExpiry refreshes the token before the platform invalidates it.
const earlyExpiry = 5 * time.Minute

// TokenManager caches the Official Account access_token and refreshes it
// on expiry.
type TokenManager struct {
	cfg        *config.WeChatConfig
	httpClient *http.Client
	logger     *logrus.Logger

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func NewTokenManager(cfg *config.WeChatConfig, logger *logrus.Logger) *TokenManager {
	return &TokenManager{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// AccessToken returns the cached token, refreshing it when expired.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	if m.token != "" && time.Now().Before(m.expiresAt) {
		token := m.token
		m.mu.RUnlock()
		return token, nil
	}
	m.mu.RUnlock()

	return m.refresh(ctx)
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if m.token != "" && time.Now().Before(m.expiresAt) {
		return m.token, nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credential")
	q.Set("appid", m.cfg.AppID)
	q.Set("secret", m.cfg.AppSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch access_token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("access_token request failed: %d %s", result.ErrCode, result.ErrMsg)
	}

	m.token = result.AccessToken
	m.expiresAt = time.Now().Add(time.Duration(result.ExpiresIn)*time.Second - earlyExpiry)

	m.logger.WithField("expires_in", result.ExpiresIn).Debug("Refreshed WeChat access_token")

	return m.token, nil
}
