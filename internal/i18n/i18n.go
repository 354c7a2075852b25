package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
	"golang.org/x/text/language"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.Chinese)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range cfg.Languages {
		path := filepath.Join(cfg.Directory, lang+".json")
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", path, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Default returns the message in the default language.
func (l *Localizer) Default(messageID string, data map[string]interface{}) string {
	return l.Get(l.defaultLanguage, messageID, data)
}

// Message IDs
const (
	MsgWelcome             = "welcome"
	MsgBalance             = "balance"
	MsgRechargeMenuHeader  = "recharge_menu_header"
	MsgRechargeMenuFooter  = "recharge_menu_footer"
	MsgInsufficientCredits = "insufficient_credits"
	MsgOrderCreatedTitle   = "order_created_title"
	MsgOrderCreatedDesc    = "order_created_desc"
	MsgOrderFailed         = "order_failed"
	MsgRechargeSuccess     = "recharge_success"
	MsgRemainingSuffix     = "remaining_suffix"
	MsgProviderDown        = "provider_down"
	MsgRateLimitExceeded   = "rate_limit_exceeded"
	MsgImageReceived       = "image_received"
	MsgVoiceReceived       = "voice_received"
	MsgVideoReceived       = "video_received"
	MsgLocationReceived    = "location_received"
	MsgLinkReceived        = "link_received"
	MsgUnsupportedType     = "unsupported_type"
	MsgParseFailed         = "parse_failed"
	MsgEventThanks         = "event_thanks"
)
