package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/i474232898/weather-bot/internal/httpx"
	"github.com/i474232898/weather-bot/internal/weather"
)

const openMeteoTimeLayout = "2006-01-02T15:04"

// OpenMeteoProvider implements weather.Provider and weather.ForecastProvider
// for Open-Meteo. The API only accepts coordinates, so city queries need a
// Geocoder; without one they are reported as unavailable.
type OpenMeteoProvider struct {
	name     string
	baseURL  string
	client   *httpx.Client
	geocoder Geocoder
}

func NewOpenMeteoProvider(client *http.Client, geo Geocoder, opts ...Option) *OpenMeteoProvider {
	s := newSettings("https://api.open-meteo.com/v1", opts)
	return &OpenMeteoProvider{
		name:     "openmeteo",
		baseURL:  s.baseURL,
		client:   httpx.NewClient(client, "openmeteo", s.backoff),
		geocoder: geo,
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

// Circuit is the breaker-guarded client used for this upstream.
func (p *OpenMeteoProvider) Circuit() *httpx.Client {
	return p.client
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, q weather.Query) (weather.ProviderReading, error) {
	coords, err := p.resolve(ctx, q)
	if err != nil {
		return weather.ProviderReading{}, err
	}

	values := p.baseValues(coords)
	values.Set("current", "temperature_2m,relative_humidity_2m,apparent_temperature,wind_speed_10m,weather_code")

	var payload struct {
		Current struct {
			Time                string  `json:"time"`
			Temperature         float64 `json:"temperature_2m"`
			RelativeHumidity    float64 `json:"relative_humidity_2m"`
			ApparentTemperature float64 `json:"apparent_temperature"`
			WindSpeed           float64 `json:"wind_speed_10m"`
			WeatherCode         int     `json:"weather_code"`
		} `json:"current"`
	}

	if err := getJSON(ctx, p.name, p.client, p.baseURL+"/forecast?"+values.Encode(), &payload); err != nil {
		return weather.ProviderReading{}, err
	}

	ts, err := time.Parse(openMeteoTimeLayout, payload.Current.Time)
	if err != nil {
		ts = time.Now().UTC()
	}

	cond := mapOpenMeteoCondition(payload.Current.WeatherCode)

	return weather.ProviderReading{
		ProviderName: p.name,
		Timestamp:    ts,
		TemperatureC: payload.Current.Temperature,
		FeelsLikeC:   payload.Current.ApparentTemperature,
		HumidityPct:  payload.Current.RelativeHumidity,
		WindSpeedMS:  payload.Current.WindSpeed,
		Condition:    cond,
		Description:  string(cond),
	}, nil
}

// FetchForecast reads the hourly series and keeps the 12:00 (local) sample of each day.
func (p *OpenMeteoProvider) FetchForecast(ctx context.Context, q weather.Query, days int) ([]weather.ProviderReading, error) {
	coords, err := p.resolve(ctx, q)
	if err != nil {
		return nil, err
	}

	values := p.baseValues(coords)
	values.Set("hourly", "temperature_2m,weather_code")
	values.Set("forecast_days", fmt.Sprintf("%d", days))

	var payload struct {
		Hourly struct {
			Time        []string  `json:"time"`
			Temperature []float64 `json:"temperature_2m"`
			WeatherCode []int     `json:"weather_code"`
		} `json:"hourly"`
	}

	if err := getJSON(ctx, p.name, p.client, p.baseURL+"/forecast?"+values.Encode(), &payload); err != nil {
		return nil, err
	}

	h := payload.Hourly
	if len(h.Temperature) != len(h.Time) || len(h.WeatherCode) != len(h.Time) {
		return nil, weather.NewGatewayError(p.name, weather.ReasonMalformed, errors.New("hourly series length mismatch"))
	}

	var readings []weather.ProviderReading
	for i, raw := range h.Time {
		if len(readings) >= days {
			break
		}
		ts, err := time.Parse(openMeteoTimeLayout, raw)
		if err != nil || ts.Hour() != weather.ForecastSampleHour {
			continue
		}
		cond := mapOpenMeteoCondition(h.WeatherCode[i])
		readings = append(readings, weather.ProviderReading{
			ProviderName: p.name,
			Timestamp:    ts,
			TemperatureC: h.Temperature[i],
			Condition:    cond,
			Description:  string(cond),
		})
	}
	return readings, nil
}

func (p *OpenMeteoProvider) resolve(ctx context.Context, q weather.Query) (weather.Coordinates, error) {
	if q.Coords != nil {
		return *q.Coords, nil
	}
	if p.geocoder == nil {
		return weather.Coordinates{}, weather.NewGatewayError(p.name, weather.ReasonUnavailable,
			errors.New("openmeteo requires latitude and longitude"))
	}
	coords, err := p.geocoder.Geocode(ctx, q.City)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return weather.Coordinates{}, weather.NewGatewayError(p.name, weather.ReasonNetwork, err)
		}
		return weather.Coordinates{}, weather.NewGatewayError(p.name, weather.ReasonNotFound, err)
	}
	return coords, nil
}

func (p *OpenMeteoProvider) baseValues(c weather.Coordinates) url.Values {
	values := url.Values{}
	values.Set("latitude", fmt.Sprintf("%f", c.Lat))
	values.Set("longitude", fmt.Sprintf("%f", c.Lon))
	values.Set("wind_speed_unit", "ms")
	values.Set("timezone", "auto")
	return values
}

func mapOpenMeteoCondition(code int) weather.Condition {
	// Mapping based on Open-Meteo weather codes (simplified).
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}
