// Package telegram adapts the Telegram Bot API to the dialog package:
// webhook updates become events, replies and alerts become messages.
package telegram

import (
	"encoding/json"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"github.com/i474232898/weather-bot/internal/dialog"
)

// DecodeUpdate parses a webhook request body.
func DecodeUpdate(body []byte) (tele.Update, error) {
	var u tele.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return tele.Update{}, fmt.Errorf("telegram: decode update: %w", err)
	}
	return u, nil
}

// EventFromUpdate turns an update into an inbound event. Updates the bot
// has no use for (edits, stickers, channel posts) report false.
func EventFromUpdate(u tele.Update) (dialog.Event, bool) {
	msg := u.Message
	if msg == nil || msg.Sender == nil || msg.Chat == nil {
		return dialog.Event{}, false
	}

	switch {
	case msg.Location != nil:
		return dialog.LocationEvent(msg.Sender.ID, msg.Chat.ID, float64(msg.Location.Lat), float64(msg.Location.Lng)), true
	case msg.Text != "":
		return dialog.TextEvent(msg.Sender.ID, msg.Chat.ID, msg.Text), true
	default:
		return dialog.Event{}, false
	}
}
