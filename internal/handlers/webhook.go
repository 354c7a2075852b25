package handlers

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
	"github.com/wenkexue-ai/wechat-bot/internal/credit"
	"github.com/wenkexue-ai/wechat-bot/internal/i18n"
	"github.com/wenkexue-ai/wechat-bot/internal/ledger"
	"github.com/wenkexue-ai/wechat-bot/internal/middleware"
	"github.com/wenkexue-ai/wechat-bot/internal/models"
	"github.com/wenkexue-ai/wechat-bot/internal/queue"
	"github.com/wenkexue-ai/wechat-bot/internal/services/ai"
	"github.com/wenkexue-ai/wechat-bot/internal/services/cache"
	"github.com/wenkexue-ai/wechat-bot/internal/services/pay"
	"github.com/wenkexue-ai/wechat-bot/internal/services/wechat"
	"github.com/wenkexue-ai/wechat-bot/pkg/markdown"
)

// passiveReplyDeadline is how long we wait for the AI before answering the
// webhook with nothing. WeChat aborts the request at 5 seconds; leaving
// slack means our reply still gets through. If the deadline passes, the
// finished answer is cached for the platform's retry and pushed as a
// customer-service message.
const passiveReplyDeadline = 4200 * time.Millisecond

// chatTurnTimeout bounds the full turn including retries once the webhook
// request has already been answered.
const chatTurnTimeout = 90 * time.Second

// WebhookHandler serves the Official Account callback endpoint.
type WebhookHandler struct {
	cfg         *config.Config
	credits     credit.Store
	orders      ledger.Store
	aiService   ai.Service
	payClient   *pay.Client
	replyCache  *cache.ReplyCache
	pushQueue   queue.Queue
	rateLimiter middleware.RateLimiter
	localizer   *i18n.Localizer
	metrics     *middleware.Metrics
	logger      *logrus.Logger
}

func NewWebhookHandler(
	cfg *config.Config,
	credits credit.Store,
	orders ledger.Store,
	aiService ai.Service,
	payClient *pay.Client,
	replyCache *cache.ReplyCache,
	pushQueue queue.Queue,
	rateLimiter middleware.RateLimiter,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		cfg:         cfg,
		credits:     credits,
		orders:      orders,
		aiService:   aiService,
		payClient:   payClient,
		replyCache:  replyCache,
		pushQueue:   pushQueue,
		rateLimiter: rateLimiter,
		localizer:   localizer,
		metrics:     metrics,
		logger:      logger,
	}
}

// HandleVerify answers the platform's echostr handshake.
func (h *WebhookHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if wechat.VerifySignature(h.cfg.WeChat.Token, q.Get("signature"), q.Get("timestamp"), q.Get("nonce")) {
		h.logger.Info("WeChat server verification succeeded")
		w.Write([]byte(q.Get("echostr")))
		return
	}

	h.logger.Warn("WeChat server verification failed")
	http.Error(w, "invalid signature", http.StatusUnauthorized)
}

// HandleMessage processes a pushed message and writes the passive reply.
func (h *WebhookHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !wechat.VerifySignature(h.cfg.WeChat.Token, q.Get("signature"), q.Get("timestamp"), q.Get("nonce")) {
		h.logger.Warn("Message signature verification failed")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	var msg models.InboundMessage
	if err := xml.Unmarshal(body, &msg); err != nil {
		h.logger.WithError(err).Warn("Failed to parse inbound XML")
		h.writeTextReply(w, &msg, h.localizer.Default(i18n.MsgParseFailed, nil))
		return
	}

	h.metrics.RecordMessageReceived(msg.MsgType)
	h.logger.WithFields(logrus.Fields{
		"open_id":  msg.FromUserName,
		"msg_type": msg.MsgType,
		"msg_id":   msg.MsgID,
	}).Info("Message received")

	switch msg.MsgType {
	case "text":
		h.handleText(w, r, &msg, msg.Content)
	case "voice":
		if msg.Recognition != "" {
			// Platform speech recognition produced text, meter it as a
			// normal chat turn.
			h.handleText(w, r, &msg, msg.Recognition)
		} else {
			h.writeTextReply(w, &msg, h.localizer.Default(i18n.MsgVoiceReceived, nil))
		}
	case "image":
		h.writeTextReply(w, &msg, h.localizer.Default(i18n.MsgImageReceived, nil))
	case "video", "shortvideo":
		h.writeTextReply(w, &msg, h.localizer.Default(i18n.MsgVideoReceived, nil))
	case "location":
		h.writeTextReply(w, &msg, h.localizer.Default(i18n.MsgLocationReceived, map[string]interface{}{
			"Label": msg.Label,
		}))
	case "link":
		h.writeTextReply(w, &msg, h.localizer.Default(i18n.MsgLinkReceived, nil))
	case "event":
		h.handleEvent(w, r, &msg)
	default:
		h.writeTextReply(w, &msg, h.localizer.Default(i18n.MsgUnsupportedType, nil))
	}
}

func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request, msg *models.InboundMessage) {
	switch msg.Event {
	case "subscribe":
		acct, err := h.credits.GetOrCreate(r.Context(), msg.FromUserName)
		if err != nil {
			h.logger.WithError(err).Error("Failed to create account on subscribe")
			h.writeEmptyReply(w)
			return
		}
		h.writeTextReply(w, msg, h.localizer.Default(i18n.MsgWelcome, map[string]interface{}{
			"Grant": acct.Balance,
		}))
	case "unsubscribe":
		h.writeEmptyReply(w)
	default:
		h.writeTextReply(w, msg, h.localizer.Default(i18n.MsgEventThanks, nil))
	}
}

func (h *WebhookHandler) handleText(w http.ResponseWriter, r *http.Request, msg *models.InboundMessage, text string) {
	if reply, handled := h.handleCommand(w, r, msg, text); handled {
		if reply != "" {
			h.writeTextReply(w, msg, reply)
		}
		return
	}

	h.handleChatTurn(w, r, msg, text)
}

// handleChatTurn meters one AI conversation turn. Credits are debited only
// after the provider produced a reply: a failed call costs the user nothing.
func (h *WebhookHandler) handleChatTurn(w http.ResponseWriter, r *http.Request, msg *models.InboundMessage, question string) {
	openID := msg.FromUserName

	if !h.rateLimiter.Allow(openID) {
		h.metrics.RecordRateLimitExceeded()
		h.writeTextReply(w, msg, h.localizer.Default(i18n.MsgRateLimitExceeded, nil))
		return
	}

	// WeChat retries undelivered messages with the same MsgId. Replay a
	// finished answer, and never start a second turn for one in flight.
	if entry, found := h.replyCache.Get(msg.MsgID); found {
		if entry.Content != "" {
			h.writeTextReply(w, msg, entry.Content)
		} else {
			h.writeEmptyReply(w)
		}
		return
	}

	acct, err := h.credits.GetOrCreate(r.Context(), openID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load account")
		h.writeTextReply(w, msg, h.localizer.Default(i18n.MsgProviderDown, nil))
		return
	}

	cost := h.cfg.Credit.CostPerMessage
	if acct.Balance < cost {
		h.metrics.RecordInsufficientCredits()
		h.writeTextReply(w, msg, h.localizer.Default(i18n.MsgInsufficientCredits, map[string]interface{}{
			"Balance": acct.Balance,
			"Menu":    h.rechargeMenu(),
		}))
		return
	}

	h.replyCache.MarkProcessing(msg.MsgID)

	var timedOut atomic.Bool
	done := make(chan string, 1)

	go func() {
		reply := h.runChatTurn(openID, msg.MsgID, question, cost)
		done <- reply

		// The webhook already answered with nothing; deliver the finished
		// reply out of band.
		if timedOut.Load() && reply != "" {
			h.enqueuePush(openID, reply)
		}
	}()

	select {
	case reply := <-done:
		h.writeTextReply(w, msg, reply)
	case <-time.After(passiveReplyDeadline):
		timedOut.Store(true)
		h.logger.WithField("msg_id", msg.MsgID).Info("Passive reply deadline passed, answer will be pushed")
		h.writeEmptyReply(w)
	}
}

// runChatTurn performs the provider call and, on success only, the debit.
// It runs detached from the webhook request context: once started, a turn
// finishes even if WeChat has given up on the original request.
func (h *WebhookHandler) runChatTurn(openID, msgID, question string, cost int) string {
	ctx, cancel := context.WithTimeout(context.Background(), chatTurnTimeout)
	defer cancel()

	start := time.Now()
	answer, err := h.aiService.GetResponse(ctx, []models.Message{
		{Role: "user", Content: question},
	})
	if err != nil {
		h.metrics.RecordAIRequest("error", time.Since(start))
		h.metrics.RecordChatTurn("provider_error")
		h.logger.WithError(err).WithField("open_id", openID).Error("Chat provider failed, turn not debited")

		reply := h.localizer.Default(i18n.MsgProviderDown, nil)
		h.replyCache.Set(msgID, reply)
		return reply
	}
	h.metrics.RecordAIRequest("success", time.Since(start))

	reply := markdown.ToWeChatText(answer)

	newBalance, err := h.credits.Debit(ctx, openID, cost, truncateNote(question))
	switch {
	case errors.Is(err, credit.ErrInsufficientCredits):
		// Lost a race against another debit since the balance check.
		h.metrics.RecordInsufficientCredits()
		reply = h.localizer.Default(i18n.MsgInsufficientCredits, map[string]interface{}{
			"Balance": 0,
			"Menu":    h.rechargeMenu(),
		})
		h.replyCache.Set(msgID, reply)
		return reply
	case err != nil:
		h.logger.WithError(err).WithField("open_id", openID).Error("Debit failed after successful reply")
	default:
		h.metrics.RecordDebit(cost)
		reply += h.localizer.Default(i18n.MsgRemainingSuffix, map[string]interface{}{
			"Balance": newBalance,
		})
	}

	h.metrics.RecordChatTurn("success")
	h.replyCache.Set(msgID, reply)
	return reply
}

func (h *WebhookHandler) enqueuePush(openID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.pushQueue.Push(ctx, &models.PushTask{OpenID: openID, Content: content})
	if err != nil {
		h.metrics.RecordPushTask("enqueue_failed")
		h.logger.WithError(err).WithField("open_id", openID).Warn("Failed to enqueue push")
		return
	}
	h.metrics.RecordPushTask("enqueued")
}

func (h *WebhookHandler) writeTextReply(w http.ResponseWriter, msg *models.InboundMessage, content string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write([]byte(wechat.BuildTextReply(msg.FromUserName, msg.ToUserName, content)))
}

// writeEmptyReply tells the platform there is nothing to render.
func (h *WebhookHandler) writeEmptyReply(w http.ResponseWriter) {
	w.Write([]byte("success"))
}

func truncateNote(s string) string {
	const max = 60
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
