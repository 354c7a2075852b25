package wechat

import (
	"fmt"
	"strings"
	"time"

	"github.com/wenkexue-ai/wechat-bot/internal/models"
)

// Passive replies use hand-built XML: the platform requires CDATA sections,
// which encoding/xml does not emit.

const textReplyFormat = `<xml>
  <ToUserName><![CDATA[%s]]></ToUserName>
  <FromUserName><![CDATA[%s]]></FromUserName>
  <CreateTime>%d</CreateTime>
  <MsgType><![CDATA[text]]></MsgType>
  <Content><![CDATA[%s]]></Content>
</xml>`

// BuildTextReply renders a passive text reply. toUser is the user's OpenID,
// fromUser the Official Account id.
func BuildTextReply(toUser, fromUser, content string) string {
	return fmt.Sprintf(textReplyFormat, toUser, fromUser, time.Now().Unix(), escapeCDATA(content))
}

// BuildNewsReply renders a passive news-card reply.
func BuildNewsReply(toUser, fromUser string, articles []models.Article) string {
	var items strings.Builder
	for _, a := range articles {
		items.WriteString(fmt.Sprintf(`
    <item>
      <Title><![CDATA[%s]]></Title>
      <Description><![CDATA[%s]]></Description>
      <PicUrl><![CDATA[%s]]></PicUrl>
      <Url><![CDATA[%s]]></Url>
    </item>`, escapeCDATA(a.Title), escapeCDATA(a.Description), escapeCDATA(a.PicURL), escapeCDATA(a.URL)))
	}

	return fmt.Sprintf(`<xml>
  <ToUserName><![CDATA[%s]]></ToUserName>
  <FromUserName><![CDATA[%s]]></FromUserName>
  <CreateTime>%d</CreateTime>
  <MsgType><![CDATA[news]]></MsgType>
  <ArticleCount>%d</ArticleCount>
  <Articles>%s
  </Articles>
</xml>`, toUser, fromUser, time.Now().Unix(), len(articles), items.String())
}

// escapeCDATA keeps user-influenced content from terminating the CDATA
// section early.
func escapeCDATA(s string) string {
	return strings.ReplaceAll(s, "]]>", "]]&gt;")
}
