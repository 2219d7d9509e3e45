package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/i474232898/weather-bot/internal/httpx"
	"github.com/i474232898/weather-bot/internal/weather"
)

// OpenWeatherProvider implements weather.Provider and weather.ForecastProvider
// for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	lang    string
	client  *httpx.Client
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, opts ...Option) *OpenWeatherProvider {
	s := newSettings("https://api.openweathermap.org/data/2.5", opts)
	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: s.baseURL,
		lang:    s.lang,
		client:  httpx.NewClient(client, "openweather", s.backoff),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// Circuit is the breaker-guarded client used for this upstream.
func (p *OpenWeatherProvider) Circuit() *httpx.Client {
	return p.client
}

type owmCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, q weather.Query) (weather.ProviderReading, error) {
	if p.apiKey == "" {
		return weather.ProviderReading{}, errMissingKey(p.name)
	}

	var payload struct {
		Name string `json:"name"`
		Dt   int64  `json:"dt"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  float64 `json:"humidity"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Weather []owmCondition `json:"weather"`
	}

	if err := getJSON(ctx, p.name, p.client, p.endpoint("weather", q), &payload); err != nil {
		return weather.ProviderReading{}, err
	}

	ts := time.Now().UTC()
	if payload.Dt > 0 {
		ts = time.Unix(payload.Dt, 0).UTC()
	}

	cond, desc := mapOpenWeatherCondition(payload.Weather)

	return weather.ProviderReading{
		ProviderName: p.name,
		Timestamp:    ts,
		Place:        payload.Name,
		TemperatureC: payload.Main.Temp,
		FeelsLikeC:   payload.Main.FeelsLike,
		HumidityPct:  payload.Main.Humidity,
		WindSpeedMS:  payload.Wind.Speed,
		Condition:    cond,
		Description:  desc,
	}, nil
}

// FetchForecast reads the 5-day/3-hour forecast and keeps the 12:00 entry of each day.
func (p *OpenWeatherProvider) FetchForecast(ctx context.Context, q weather.Query, days int) ([]weather.ProviderReading, error) {
	if p.apiKey == "" {
		return nil, errMissingKey(p.name)
	}

	var payload struct {
		List []struct {
			Dt    int64  `json:"dt"`
			DtTxt string `json:"dt_txt"`
			Main  struct {
				Temp float64 `json:"temp"`
			} `json:"main"`
			Weather []owmCondition `json:"weather"`
		} `json:"list"`
	}

	if err := getJSON(ctx, p.name, p.client, p.endpoint("forecast", q), &payload); err != nil {
		return nil, err
	}

	sample := fmt.Sprintf("%02d:00:00", weather.ForecastSampleHour)
	var readings []weather.ProviderReading
	for _, item := range payload.List {
		if len(readings) >= days {
			break
		}
		if !strings.HasSuffix(item.DtTxt, sample) {
			continue
		}
		ts, err := time.Parse("2006-01-02 15:04:05", item.DtTxt)
		if err != nil {
			continue
		}
		cond, desc := mapOpenWeatherCondition(item.Weather)
		readings = append(readings, weather.ProviderReading{
			ProviderName: p.name,
			Timestamp:    ts,
			TemperatureC: item.Main.Temp,
			Condition:    cond,
			Description:  desc,
		})
	}
	return readings, nil
}

func (p *OpenWeatherProvider) endpoint(path string, q weather.Query) string {
	values := url.Values{}
	values.Set("appid", p.apiKey)
	values.Set("units", "metric")
	values.Set("lang", p.lang)
	if q.Coords != nil {
		values.Set("lat", fmt.Sprintf("%f", q.Coords.Lat))
		values.Set("lon", fmt.Sprintf("%f", q.Coords.Lon))
	} else {
		values.Set("q", q.City)
	}
	return fmt.Sprintf("%s/%s?%s", p.baseURL, path, values.Encode())
}

func mapOpenWeatherCondition(items []owmCondition) (weather.Condition, string) {
	if len(items) == 0 {
		return weather.ConditionUnknown, ""
	}
	desc := items[0].Description
	switch items[0].Main {
	case "Clear":
		return weather.ConditionClear, desc
	case "Clouds":
		return weather.ConditionCloudy, desc
	case "Rain", "Drizzle":
		return weather.ConditionRain, desc
	case "Snow":
		return weather.ConditionSnow, desc
	case "Thunderstorm":
		return weather.ConditionStorm, desc
	case "Mist", "Fog", "Haze", "Smoke":
		return weather.ConditionMist, desc
	default:
		return weather.ConditionUnknown, desc
	}
}
