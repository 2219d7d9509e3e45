// Package dialog routes inbound chat events to commands, the location fast
// path or the user's open dialog, and turns the outcome into replies.
package dialog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-bot/internal/weather"
)

// Event is one inbound message from the transport.
type Event struct {
	ID         uuid.UUID
	UserID     int64
	ChatID     int64
	Text       string
	Location   *weather.Coordinates
	ReceivedAt time.Time
}

// TextEvent builds an event carrying free text (commands included).
func TextEvent(userID, chatID int64, text string) Event {
	return Event{
		ID:         uuid.New(),
		UserID:     userID,
		ChatID:     chatID,
		Text:       strings.TrimSpace(text),
		ReceivedAt: time.Now().UTC(),
	}
}

// LocationEvent builds an event carrying a shared location.
func LocationEvent(userID, chatID int64, lat, lon float64) Event {
	return Event{
		ID:         uuid.New(),
		UserID:     userID,
		ChatID:     chatID,
		Location:   &weather.Coordinates{Lat: lat, Lon: lon},
		ReceivedAt: time.Now().UTC(),
	}
}

// Reply is one outbound message. Each non-empty part is sent, text first.
type Reply struct {
	Text  string
	Image []byte
	Audio []byte
	// Menu asks the transport to show the main menu keyboard.
	Menu bool
}
