package weather

import (
	"fmt"
	"strings"
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Coordinates is a lat/lon pair shared by a user's location message.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Query identifies the place a lookup is for: either a free-text city name
// or a coordinate pair. Coords wins when both are set.
type Query struct {
	City   string       `json:"city,omitempty"`
	Coords *Coordinates `json:"coords,omitempty"`
}

// CityQuery builds a Query for a free-text location.
func CityQuery(city string) Query {
	return Query{City: strings.TrimSpace(city)}
}

// CoordsQuery builds a Query for a coordinate pair.
func CoordsQuery(lat, lon float64) Query {
	return Query{Coords: &Coordinates{Lat: lat, Lon: lon}}
}

// IsZero reports whether the query names no place at all.
func (q Query) IsZero() bool {
	return q.Coords == nil && q.City == ""
}

// Key returns a canonical string key for logging and indexing.
func (q Query) Key() string {
	if q.Coords != nil {
		return fmt.Sprintf("%.4f,%.4f", q.Coords.Lat, q.Coords.Lon)
	}
	return strings.ToLower(q.City)
}

// WeatherSnapshot is the normalized current-conditions view of a place.
type WeatherSnapshot struct {
	// Place is the provider-reported name of the place, if any.
	Place         string    `json:"place,omitempty"`
	Timestamp     time.Time `json:"timestamp"` // always UTC
	Temperature   float64   `json:"temperatureC"`
	FeelsLike     float64   `json:"feelsLikeC"`
	Humidity      float64   `json:"humidityPercent"`
	WindSpeed     float64   `json:"windSpeed"`
	Condition     Condition `json:"condition"`
	ConditionText string    `json:"conditionText"`

	// Providers contributing to this snapshot.
	Providers []ProviderContribution `json:"providers,omitempty"`
	// Partial is set when some configured provider failed, so the averages
	// cover fewer sources than usual.
	Partial bool `json:"partial,omitempty"`
}

// ForecastPoint is one daily sample of a multi-day forecast.
type ForecastPoint struct {
	Date          time.Time `json:"date"`
	DateLabel     string    `json:"dateLabel"` // dd.mm
	Temperature   float64   `json:"temperatureC"`
	Condition     Condition `json:"condition"`
	ConditionText string    `json:"conditionText"`
}

// Forecast is an ordered (by Date ascending) sequence of daily points.
type Forecast []ForecastPoint

// ProviderContribution describes data coming from a single provider used in aggregation.
type ProviderContribution struct {
	ProviderName string    `json:"provider"`
	Timestamp    time.Time `json:"timestamp"`
}

// DateLabel formats a forecast date the way replies show it.
func DateLabel(t time.Time) string {
	return t.Format("02.01")
}
