package wechat

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"testing"

	"github.com/wenkexue-ai/wechat-bot/internal/models"
)

func TestSignature(t *testing.T) {
	// Known vector: sorted("token","1609459200","abc") joins to
	// "1609459200abctoken".
	h := sha1.Sum([]byte("1609459200abctoken"))
	want := fmt.Sprintf("%x", h)

	got := Signature("token", "1609459200", "abc")
	if got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}
}

func TestSignatureIsOrderIndependent(t *testing.T) {
	// The dictionary sort means swapping timestamp and nonce changes
	// nothing when their sorted order is the same set.
	a := Signature("tok", "111", "222")
	b := Signature("tok", "222", "111")
	if a != b {
		t.Errorf("Signature not order independent: %q vs %q", a, b)
	}
}

func TestVerifySignature(t *testing.T) {
	sig := Signature("mytoken", "1700000000", "nonce42")

	if !VerifySignature("mytoken", sig, "1700000000", "nonce42") {
		t.Error("VerifySignature rejected a valid signature")
	}
	if VerifySignature("mytoken", sig, "1700000000", "other") {
		t.Error("VerifySignature accepted a wrong nonce")
	}
	if VerifySignature("othertoken", sig, "1700000000", "nonce42") {
		t.Error("VerifySignature accepted a wrong token")
	}
	if VerifySignature("mytoken", "", "1700000000", "nonce42") {
		t.Error("VerifySignature accepted an empty signature")
	}
}

func TestBuildTextReply(t *testing.T) {
	xml := BuildTextReply("oUser1", "gh_account", "你好！")

	for _, want := range []string{
		"<ToUserName><![CDATA[oUser1]]></ToUserName>",
		"<FromUserName><![CDATA[gh_account]]></FromUserName>",
		"<MsgType><![CDATA[text]]></MsgType>",
		"<Content><![CDATA[你好！]]></Content>",
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("reply missing %q:\n%s", want, xml)
		}
	}
}

func TestBuildTextReplyEscapesCDATA(t *testing.T) {
	xml := BuildTextReply("oUser1", "gh_account", "evil]]><script>")

	if strings.Contains(xml, "]]><script>") {
		t.Errorf("CDATA terminator leaked through:\n%s", xml)
	}
	if !strings.Contains(xml, "]]&gt;<script>") {
		t.Errorf("expected escaped terminator in:\n%s", xml)
	}
}

func TestBuildNewsReply(t *testing.T) {
	xml := BuildNewsReply("oUser1", "gh_account", []models.Article{
		{
			Title:       "点击完成支付",
			Description: "5元300次",
			PicURL:      "https://example.com/icon.png",
			URL:         "https://example.com/pay.html?orderNo=ORDER123",
		},
	})

	for _, want := range []string{
		"<MsgType><![CDATA[news]]></MsgType>",
		"<ArticleCount>1</ArticleCount>",
		"<Title><![CDATA[点击完成支付]]></Title>",
		"<Url><![CDATA[https://example.com/pay.html?orderNo=ORDER123]]></Url>",
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("news reply missing %q:\n%s", want, xml)
		}
	}
}
