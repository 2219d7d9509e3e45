package dialog

import (
	"fmt"
	"strings"

	"github.com/i474232898/weather-bot/internal/session"
	"github.com/i474232898/weather-bot/internal/store"
	"github.com/i474232898/weather-bot/internal/weather"
)

const (
	welcomeText = "Hi! I can tell you the weather.\n" +
		"/weather - current weather in a city\n" +
		"/forecast - 5 day forecast with a chart and a voice message\n" +
		"/alert - notify me when the temperature changes\n" +
		"/alerts, /pause, /resume, /unalert - manage your alert\n" +
		"/history - your recent cities\n" +
		"You can also share your location."

	cancelledText        = "Cancelled. What next?"
	tooManyAttemptsText  = "Let's start over. Pick an option from the menu."
	noAlertText          = "You have no alert set. Use /alert to create one."
	alertDeletedText     = "Your alert was removed."
	alertPausedText      = "Your alert is paused. Use /resume to turn it back on."
	alertResumedText     = "Your alert is active again."
	alertSaveFailedText  = "I couldn't save your alert. Please try again later."
	storageFailedText    = "Something went wrong on my side. Please try again later."
	emptyHistoryText     = "You haven't looked up any cities yet."
	fallbackLocationName = "your location"
)

func promptFor(kind session.DialogKind, step session.Step) string {
	switch step {
	case session.StepAwaitingThreshold:
		return "By how many degrees should the temperature change before I notify you? (for example, 5)"
	case session.StepAwaitingCity:
		switch kind {
		case session.DialogForecast:
			return "Enter a city for the forecast:"
		case session.DialogAlertSetup:
			return "Enter a city to watch:"
		default:
			return "Enter a city name:"
		}
	default:
		return welcomeText
	}
}

func validationText(err *session.ValidationError) string {
	switch err.Tag {
	case session.TagEmptyCity:
		return "Please send a city name."
	case session.TagCityTooLong:
		return fmt.Sprintf("That name is too long (max %d characters). Try again:", session.MaxCityLength)
	case session.TagNotANumber:
		return "The threshold must be a number. Try again:"
	case session.TagNonPositiveNumber:
		return "The threshold must be greater than zero. Try again:"
	default:
		return "I didn't understand that. Try again:"
	}
}

func gatewayFailureText(reason weather.Reason, forecast bool) string {
	if reason == weather.ReasonNotFound {
		if forecast {
			return "Couldn't get a forecast. Check the city name."
		}
		return "Couldn't get the weather. Check the city name."
	}
	return "The weather service is unavailable right now. Please try again later."
}

func locationFailureText() string {
	return "Couldn't determine the weather for your location."
}

func formatCurrent(place string, snap weather.WeatherSnapshot) string {
	return fmt.Sprintf("🌤 Weather in %s:\n"+
		"🌡 Temperature: %.1f°C (feels like %.1f°C)\n"+
		"💧 Humidity: %.0f%%\n"+
		"🌬 Wind: %.1f m/s\n"+
		"☁️ %s",
		place, snap.Temperature, snap.FeelsLike, snap.Humidity, snap.WindSpeed, snap.ConditionText)
}

func formatLocation(place string, snap weather.WeatherSnapshot) string {
	return fmt.Sprintf("📍 Weather in %s:\n🌡 %.1f°C, %s\nUse /weather or /forecast for details.",
		place, snap.Temperature, snap.ConditionText)
}

func formatForecast(city string, fc weather.Forecast) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 %d day forecast for %s:\n", len(fc), city)
	for _, p := range fc {
		fmt.Fprintf(&b, "\n🗓 %s: %.1f°C, %s", p.DateLabel, p.Temperature, p.ConditionText)
	}
	return b.String()
}

// speechText is formatForecast without emoji, which TTS reads out literally.
func speechText(city string, fc weather.Forecast) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Forecast for %s.\n", city)
	for _, p := range fc {
		fmt.Fprintf(&b, "%s: %.0f degrees, %s.\n", p.DateLabel, p.Temperature, p.ConditionText)
	}
	return b.String()
}

func chartTitle(city string, days int) string {
	return fmt.Sprintf("%d day temperature forecast, %s", days, city)
}

func formatAlertSet(reg store.AlertRegistration) string {
	return fmt.Sprintf("Alert set! I'll let you know if the temperature in %s changes by %s°C or more (now %.1f°C).",
		reg.City, formatNumber(reg.Threshold), reg.BaselineTemperature)
}

func formatAlertStatus(reg store.AlertRegistration) string {
	state := "active"
	if !reg.Enabled {
		state = "paused"
	}
	return fmt.Sprintf("🔔 Alert for %s (%s)\nThreshold: %s°C\nLast reading: %.1f°C",
		reg.City, state, formatNumber(reg.Threshold), reg.BaselineTemperature)
}

func formatHistory(entries []store.QueryLogEntry) string {
	var b strings.Builder
	b.WriteString("🕘 Your recent cities:")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n%s - %s", e.CreatedAt.Format("02.01 15:04"), e.City)
	}
	return b.String()
}

func formatNumber(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
