package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/models"
)

// replyTTL covers WeChat's retry window: the platform resends a message up
// to three times over ~15 seconds when no reply arrives in 5. A little
// extra slack makes replays safe even under clock skew.
const replyTTL = 2 * time.Minute

const cleanupInterval = 5 * time.Minute

// ReplyCache remembers finished replies by MsgId so platform retries
// replay the original answer instead of re-metering the turn.
type ReplyCache struct {
	cache  *gocache.Cache
	logger *logrus.Logger
}

func NewReplyCache(logger *logrus.Logger) *ReplyCache {
	return &ReplyCache{
		cache:  gocache.New(replyTTL, cleanupInterval),
		logger: logger,
	}
}

// Get returns the cache entry for a MsgId. An entry with empty Content
// means the turn is still being processed.
func (c *ReplyCache) Get(msgID string) (*models.CachedReply, bool) {
	if msgID == "" {
		return nil, false
	}
	if val, found := c.cache.Get(msgID); found {
		entry := val.(*models.CachedReply)
		c.logger.WithFields(logrus.Fields{
			"msg_id": msgID,
			"age":    time.Since(entry.CreatedAt),
		}).Debug("Retried message hit reply cache")
		return entry, true
	}
	return nil, false
}

// MarkProcessing records that a turn for this MsgId is in flight, so a
// platform retry does not start a second one.
func (c *ReplyCache) MarkProcessing(msgID string) {
	if msgID == "" {
		return
	}
	c.cache.SetDefault(msgID, &models.CachedReply{CreatedAt: time.Now()})
}

// Set stores the finished reply for a MsgId.
func (c *ReplyCache) Set(msgID, content string) {
	if msgID == "" {
		return
	}
	c.cache.SetDefault(msgID, &models.CachedReply{
		Content:   content,
		CreatedAt: time.Now(),
	})
}
