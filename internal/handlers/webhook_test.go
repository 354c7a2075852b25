package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
	"github.com/wenkexue-ai/wechat-bot/internal/credit"
	"github.com/wenkexue-ai/wechat-bot/internal/i18n"
	"github.com/wenkexue-ai/wechat-bot/internal/ledger"
	"github.com/wenkexue-ai/wechat-bot/internal/middleware"
	"github.com/wenkexue-ai/wechat-bot/internal/models"
	"github.com/wenkexue-ai/wechat-bot/internal/queue"
	"github.com/wenkexue-ai/wechat-bot/internal/services/cache"
	"github.com/wenkexue-ai/wechat-bot/internal/services/pay"
	"github.com/wenkexue-ai/wechat-bot/internal/services/wechat"
)

const testToken = "testtoken"

type stubAI struct {
	reply string
	err   error
}

func (s *stubAI) GetResponse(ctx context.Context, messages []models.Message) (string, error) {
	return s.reply, s.err
}

func testLocalizer(t *testing.T) *i18n.Localizer {
	t.Helper()

	dir := t.TempDir()
	messages := `{
		"welcome": "欢迎！赠送 {{.Grant}} 次",
		"balance": "余额 {{.Balance}} 次，已用 {{.TotalDebits}} 次",
		"recharge_menu_header": "充值套餐\n",
		"recharge_menu_footer": "\n回复 充值 编号",
		"insufficient_credits": "次数不足（{{.Balance}}）\n{{.Menu}}",
		"order_created_title": "点击完成支付",
		"order_created_desc": "{{.Desc}}，应付 {{.Yuan}} 元",
		"order_failed": "订单创建失败",
		"recharge_success": "充值成功 {{.Credits}} 次，余额 {{.Balance}}",
		"remaining_suffix": "（剩余 {{.Balance}} 次）",
		"provider_down": "服务繁忙",
		"rate_limit_exceeded": "太快了",
		"image_received": "收到图片",
		"voice_received": "收到语音",
		"video_received": "收到视频",
		"location_received": "收到位置 {{.Label}}",
		"link_received": "收到链接",
		"unsupported_type": "不支持的类型",
		"parse_failed": "解析失败",
		"event_thanks": "感谢互动"
	}`
	if err := os.WriteFile(filepath.Join(dir, "zh.json"), []byte(messages), 0o644); err != nil {
		t.Fatal(err)
	}

	localizer, err := i18n.NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "zh",
		Languages:       []string{"zh"},
		Directory:       dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	return localizer
}

func newWebhookFixture(t *testing.T, aiService *stubAI) (*WebhookHandler, credit.Store) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &config.Config{}
	cfg.WeChat.Token = testToken
	cfg.WeChat.AppID = "wxtest"
	cfg.Credit.InitialGrant = 3
	cfg.Credit.CostPerMessage = 1
	cfg.Credit.HistoryLimit = 10
	cfg.Pay.PayPageURL = "https://example.com/pay.html"

	credits := credit.NewMemoryStore(&cfg.Credit, logger)
	orders := ledger.NewMemoryStore(logger)
	payClient := pay.NewClient(cfg, logger)
	replyCache := cache.NewReplyCache(logger)
	pushQueue := queue.NewMemoryQueue(16)
	rateLimiter := middleware.NewRateLimiter(cfg, logger)
	metrics := middleware.NewMetrics()

	h := NewWebhookHandler(
		cfg, credits, orders, aiService, payClient,
		replyCache, pushQueue, rateLimiter, testLocalizer(t), metrics, logger,
	)
	return h, credits
}

func signedURL(timestamp, nonce string) string {
	sig := wechat.Signature(testToken, timestamp, nonce)
	return fmt.Sprintf("/wechat?signature=%s&timestamp=%s&nonce=%s", sig, timestamp, nonce)
}

func postMessage(t *testing.T, h *WebhookHandler, msgID, content string) *httptest.ResponseRecorder {
	t.Helper()

	body := fmt.Sprintf(`<xml>
		<ToUserName><![CDATA[gh_account]]></ToUserName>
		<FromUserName><![CDATA[oUser1]]></FromUserName>
		<CreateTime>1700000000</CreateTime>
		<MsgType><![CDATA[text]]></MsgType>
		<Content><![CDATA[%s]]></Content>
		<MsgId>%s</MsgId>
	</xml>`, content, msgID)

	req := httptest.NewRequest(http.MethodPost, signedURL("1700000000", "nonce1"), strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)
	return rec
}

func TestHandleVerify(t *testing.T) {
	h, _ := newWebhookFixture(t, &stubAI{})

	req := httptest.NewRequest(http.MethodGet, signedURL("1700000000", "n1")+"&echostr=echo42", nil)
	rec := httptest.NewRecorder()
	h.HandleVerify(rec, req)

	if rec.Body.String() != "echo42" {
		t.Errorf("verify body = %q, want echo42", rec.Body.String())
	}
}

func TestHandleVerifyRejectsBadSignature(t *testing.T) {
	h, _ := newWebhookFixture(t, &stubAI{})

	req := httptest.NewRequest(http.MethodGet, "/wechat?signature=bad&timestamp=1&nonce=2&echostr=echo42", nil)
	rec := httptest.NewRecorder()
	h.HandleVerify(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "echo42") {
		t.Error("echostr leaked despite bad signature")
	}
}

func TestHandleMessageRejectsBadSignature(t *testing.T) {
	h, _ := newWebhookFixture(t, &stubAI{})

	req := httptest.NewRequest(http.MethodPost, "/wechat?signature=bad&timestamp=1&nonce=2", strings.NewReader("<xml></xml>"))
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestChatTurnDebitsAfterReply(t *testing.T) {
	h, credits := newWebhookFixture(t, &stubAI{reply: "复利就是利滚利。"})

	rec := postMessage(t, h, "1001", "什么是复利？")

	body := rec.Body.String()
	if !strings.Contains(body, "复利就是利滚利。") {
		t.Errorf("reply missing answer:\n%s", body)
	}
	if !strings.Contains(body, "剩余 2 次") {
		t.Errorf("reply missing remaining balance:\n%s", body)
	}

	acct, err := credits.Get(context.Background(), "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 2 {
		t.Errorf("balance = %d, want 2", acct.Balance)
	}
}

func TestChatTurnProviderFailureNotDebited(t *testing.T) {
	h, credits := newWebhookFixture(t, &stubAI{err: errors.New("upstream down")})

	rec := postMessage(t, h, "1002", "你好")

	if !strings.Contains(rec.Body.String(), "服务繁忙") {
		t.Errorf("reply = %s", rec.Body.String())
	}

	acct, err := credits.Get(context.Background(), "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 3 {
		t.Errorf("balance = %d, want 3 (failed turn must not be charged)", acct.Balance)
	}
}

func TestChatTurnInsufficientCredits(t *testing.T) {
	h, credits := newWebhookFixture(t, &stubAI{reply: "ok"})
	ctx := context.Background()

	if _, err := credits.GetOrCreate(ctx, "oUser1"); err != nil {
		t.Fatal(err)
	}
	if _, err := credits.Debit(ctx, "oUser1", 3, "drain"); err != nil {
		t.Fatal(err)
	}

	rec := postMessage(t, h, "1003", "再问一个")

	body := rec.Body.String()
	if !strings.Contains(body, "次数不足") {
		t.Errorf("reply = %s", body)
	}
	if !strings.Contains(body, "充值套餐") {
		t.Errorf("recharge menu missing from reply:\n%s", body)
	}

	acct, err := credits.Get(ctx, "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 0 {
		t.Errorf("balance = %d, want 0", acct.Balance)
	}
}

func TestDuplicateMsgIDReplaysCachedReply(t *testing.T) {
	h, credits := newWebhookFixture(t, &stubAI{reply: "第一次的答案"})

	first := postMessage(t, h, "2001", "问题")
	second := postMessage(t, h, "2001", "问题")

	if !strings.Contains(first.Body.String(), "第一次的答案") {
		t.Errorf("original reply = %s", first.Body.String())
	}
	if !strings.Contains(second.Body.String(), "第一次的答案") {
		t.Errorf("retry reply = %s", second.Body.String())
	}

	acct, err := credits.Get(context.Background(), "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	// One debit despite two deliveries of the same MsgId.
	if acct.Balance != 2 {
		t.Errorf("balance = %d, want 2", acct.Balance)
	}
}

func TestBalanceCommand(t *testing.T) {
	h, credits := newWebhookFixture(t, &stubAI{reply: "unused"})
	ctx := context.Background()

	if _, err := credits.GetOrCreate(ctx, "oUser1"); err != nil {
		t.Fatal(err)
	}
	if _, err := credits.Debit(ctx, "oUser1", 1, ""); err != nil {
		t.Fatal(err)
	}

	rec := postMessage(t, h, "3001", "余额")

	body := rec.Body.String()
	if !strings.Contains(body, "余额 2 次") || !strings.Contains(body, "已用 1 次") {
		t.Errorf("balance reply = %s", body)
	}

	// A command is free: the balance stays at 2.
	acct, err := credits.Get(ctx, "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 2 {
		t.Errorf("balance after command = %d, want 2", acct.Balance)
	}
}

func TestRechargeMenuCommand(t *testing.T) {
	h, _ := newWebhookFixture(t, &stubAI{reply: "unused"})

	rec := postMessage(t, h, "3002", "充值")

	body := rec.Body.String()
	for _, want := range []string{"充值套餐", "1元50次", "5元300次", "10元700次"} {
		if !strings.Contains(body, want) {
			t.Errorf("menu missing %q:\n%s", want, body)
		}
	}
}

func TestRechargeCommandCreatesOrder(t *testing.T) {
	h, _ := newWebhookFixture(t, &stubAI{reply: "unused"})

	rec := postMessage(t, h, "3003", "充值 5")

	body := rec.Body.String()
	if !strings.Contains(body, "<MsgType><![CDATA[news]]></MsgType>") {
		t.Errorf("expected a news reply:\n%s", body)
	}
	if !strings.Contains(body, "点击完成支付") {
		t.Errorf("pay card title missing:\n%s", body)
	}
	if !strings.Contains(body, "order=ORDER") {
		t.Errorf("pay link missing order number:\n%s", body)
	}
}

func TestRechargeCommandUnknownPackage(t *testing.T) {
	h, _ := newWebhookFixture(t, &stubAI{reply: "unused"})

	rec := postMessage(t, h, "3004", "充值 99")

	body := rec.Body.String()
	if !strings.Contains(body, "订单创建失败") {
		t.Errorf("expected order failure reply:\n%s", body)
	}
	if !strings.Contains(body, "充值套餐") {
		t.Errorf("expected menu after failure:\n%s", body)
	}
}

func TestSubscribeEventGrantsWelcome(t *testing.T) {
	h, credits := newWebhookFixture(t, &stubAI{})

	body := `<xml>
		<ToUserName><![CDATA[gh_account]]></ToUserName>
		<FromUserName><![CDATA[oUser1]]></FromUserName>
		<CreateTime>1700000000</CreateTime>
		<MsgType><![CDATA[event]]></MsgType>
		<Event><![CDATA[subscribe]]></Event>
	</xml>`

	req := httptest.NewRequest(http.MethodPost, signedURL("1700000000", "n2"), strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)

	if !strings.Contains(rec.Body.String(), "赠送 3 次") {
		t.Errorf("welcome reply = %s", rec.Body.String())
	}

	acct, err := credits.Get(context.Background(), "oUser1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 3 {
		t.Errorf("balance = %d, want 3", acct.Balance)
	}
}
