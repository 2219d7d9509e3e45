package telegram

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// WebhookPath is where the HTTP surface accepts updates.
const WebhookPath = "/webhook"

// DefaultSendTimeout bounds one Bot API call when none is configured.
const DefaultSendTimeout = 15 * time.Second

// NewBot builds a Bot API client whose calls give up after timeout.
// Updates arrive through the webhook, so the bot neither polls nor calls
// getMe at startup.
func NewBot(token string, timeout time.Duration) (*tele.Bot, error) {
	bot, err := tele.NewBot(botSettings(token, timeout))
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return bot, nil
}

func botSettings(token string, timeout time.Duration) tele.Settings {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return tele.Settings{
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	}
}

type webhookSetter interface {
	SetWebhook(w *tele.Webhook) error
}

// RegisterWebhook points Telegram at publicURL + WebhookPath.
func RegisterWebhook(bot webhookSetter, publicURL, secret string) (string, error) {
	url := strings.TrimRight(publicURL, "/") + WebhookPath
	err := bot.SetWebhook(&tele.Webhook{
		Endpoint:       &tele.WebhookEndpoint{PublicURL: url},
		SecretToken:    secret,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return "", fmt.Errorf("telegram: set webhook: %w", err)
	}
	return url, nil
}
