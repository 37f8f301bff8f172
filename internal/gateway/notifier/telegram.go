package notifier

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram 通知器：把 desk 的处置与持仓事件推送到指定群/频道。
type Telegram struct {
	BotToken string
	ChatID   string
	client   *resty.Client
}

type TelegramOption func(*Telegram)

// WithBaseURL 覆盖 Bot API 地址，测试与自建代理使用。
func WithBaseURL(url string) TelegramOption {
	return func(t *Telegram) { t.client.SetBaseURL(url) }
}

// WithRetryWait 调整重试间隔。
func WithRetryWait(wait time.Duration) TelegramOption {
	return func(t *Telegram) {
		t.client.SetRetryWaitTime(wait).SetRetryMaxWaitTime(wait * 3)
	}
}

func NewTelegram(botToken, chatID string, opts ...TelegramOption) *Telegram {
	client := resty.New().
		SetBaseURL(defaultTelegramAPI).
		SetTimeout(15*time.Second).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})
	t := &Telegram{BotToken: botToken, ChatID: chatID, client: client}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SendText 发送文本消息（含首发最多 3 次尝试）
func (t *Telegram) SendText(text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram 配置不完整")
	}
	resp, err := t.client.R().
		SetBody(map[string]any{
			"chat_id":    t.ChatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.BotToken))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("telegram status=%d", resp.StatusCode())
	}
	return nil
}
