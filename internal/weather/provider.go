package weather

import (
	"context"
	"time"
)

// ForecastSampleHour is the local hour providers sample each forecast day at.
const ForecastSampleHour = 12

// MaxForecastDays bounds how many daily points a forecast carries.
const MaxForecastDays = 5

// ProviderReading represents a single provider's normalized reading
// that can be aggregated into a WeatherSnapshot or a ForecastPoint.
type ProviderReading struct {
	ProviderName string
	Timestamp    time.Time
	Place        string

	TemperatureC float64
	FeelsLikeC   float64
	HumidityPct  float64
	WindSpeedMS  float64
	Condition    Condition
	Description  string
}

// Provider abstracts a weather data source (e.g. OpenWeatherMap, WeatherAPI, Open-Meteo).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, q Query) (ProviderReading, error)
}

// ForecastProvider is implemented by providers that can return one reading
// per day sampled at ForecastSampleHour, ordered by date.
type ForecastProvider interface {
	FetchForecast(ctx context.Context, q Query, days int) ([]ProviderReading, error)
}
