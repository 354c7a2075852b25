package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
	"github.com/wenkexue-ai/wechat-bot/internal/models"
)

// ErrProvider wraps any chat completion failure. The caller answers the
// user with a fallback message and, importantly, does not debit the turn.
var ErrProvider = errors.New("chat provider error")

// Service represents the chat completion interface
type Service interface {
	GetResponse(ctx context.Context, messages []models.Message) (string, error)
}

// Client calls an OpenAI-compatible chat completion endpoint with retries.
type Client struct {
	cfg        *config.AIConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(cfg *config.AIConfig, logger *logrus.Logger) Service {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

// GetResponse gets an AI response with retry logic
func (c *Client) GetResponse(ctx context.Context, messages []models.Message) (string, error) {
	const maxRetries = 3
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		response, err := c.request(ctx, messages, attempt)
		if err == nil {
			return response, nil
		}

		lastErr = err
		c.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("AI request failed")

		// Client errors will not get better on retry
		if errors.Is(err, errClientRejected) {
			break
		}

		if attempt < maxRetries {
			// Exponential backoff: 2s, 4s
			waitTime := time.Duration(2<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrProvider, ctx.Err())
			case <-time.After(waitTime):
			}
		}
	}

	return "", fmt.Errorf("%w: %v", ErrProvider, lastErr)
}

var errClientRejected = errors.New("request rejected by provider")

// request performs a single attempt
func (c *Client) request(ctx context.Context, messages []models.Message, attempt int) (string, error) {
	openAIMessages := make([]map[string]string, 0, len(messages)+1)
	if c.cfg.SystemPrompt != "" {
		openAIMessages = append(openAIMessages, map[string]string{
			"role":    "system",
			"content": c.cfg.SystemPrompt,
		})
	}
	for _, msg := range messages {
		openAIMessages = append(openAIMessages, map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}

	reqBody := map[string]interface{}{
		"model":       c.cfg.Model,
		"messages":    openAIMessages,
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": c.cfg.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	// Bound each attempt separately so a stuck attempt still leaves room
	// for a retry within the caller's deadline.
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/chat/completions", strings.TrimSuffix(c.cfg.BaseURL, "/"))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.APIKey))

	c.logger.WithFields(logrus.Fields{
		"model":   c.cfg.Model,
		"attempt": attempt,
	}).Debug("Sending AI request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"status":  resp.StatusCode,
			"body":    string(body),
			"attempt": attempt,
		}).Error("AI request failed")

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", fmt.Errorf("%w: status %d", errClientRejected, resp.StatusCode)
		}
		return "", fmt.Errorf("AI request failed with status %d", resp.StatusCode)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Error.Message != "" {
		return "", fmt.Errorf("AI error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("no response from AI")
	}

	return result.Choices[0].Message.Content, nil
}
