package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/i474232898/weather-bot/internal/alert"
	"github.com/i474232898/weather-bot/internal/dialog"
)

// botAPI is the part of *tele.Bot used for outbound messages.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Sender delivers dialog replies and alert notifications through the Bot API.
type Sender struct {
	bot    botAPI
	menu   *tele.ReplyMarkup
	logger *slog.Logger
}

func NewSender(bot botAPI, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{bot: bot, menu: mainMenu(), logger: logger}
}

func mainMenu() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{ResizeKeyboard: true}
	rows := make([]tele.Row, 0, len(dialog.MenuLayout))
	for _, captions := range dialog.MenuLayout {
		btns := make([]tele.Btn, len(captions))
		for i, c := range captions {
			btns[i] = m.Text(c)
		}
		rows = append(rows, m.Row(btns...))
	}
	m.Reply(rows...)
	return m
}

// Send sends every non-empty part of reply: text, then chart, then audio.
// It stops at the first failing part.
func (s *Sender) Send(ctx context.Context, chatID int64, reply dialog.Reply) error {
	to := tele.ChatID(chatID)

	if reply.Text != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		var opts []interface{}
		if reply.Menu {
			opts = append(opts, s.menu)
		}
		if _, err := s.bot.Send(to, reply.Text, opts...); err != nil {
			return fmt.Errorf("telegram: send text: %w", err)
		}
	}

	if len(reply.Image) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(reply.Image))}
		if _, err := s.bot.Send(to, photo); err != nil {
			return fmt.Errorf("telegram: send chart: %w", err)
		}
	}

	if len(reply.Audio) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		audio := &tele.Audio{
			File:     tele.FromReader(bytes.NewReader(reply.Audio)),
			FileName: "forecast.mp3",
			MIME:     "audio/mpeg",
			Title:    "Forecast",
		}
		if _, err := s.bot.Send(to, audio); err != nil {
			return fmt.Errorf("telegram: send audio: %w", err)
		}
	}
	return nil
}

// Notify sends an alert to the user's private chat, whose id is the user id.
func (s *Sender) Notify(ctx context.Context, n alert.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.bot.Send(tele.ChatID(n.UserID), n.Text()); err != nil {
		return fmt.Errorf("telegram: send alert: %w", err)
	}
	s.logger.Debug("telegram: alert delivered", "user_id", n.UserID, "city", n.City)
	return nil
}
