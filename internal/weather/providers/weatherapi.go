package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/i474232898/weather-bot/internal/common"
	"github.com/i474232898/weather-bot/internal/httpx"
	"github.com/i474232898/weather-bot/internal/weather"
)

// WeatherAPIProvider implements weather.Provider and weather.ForecastProvider
// for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	lang    string
	client  *httpx.Client
}

func NewWeatherAPIProvider(client *http.Client, apiKey string, opts ...Option) *WeatherAPIProvider {
	s := newSettings("https://api.weatherapi.com/v1", opts)
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: s.baseURL,
		lang:    s.lang,
		client:  httpx.NewClient(client, "weatherapi", s.backoff),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

// Circuit is the breaker-guarded client used for this upstream.
func (p *WeatherAPIProvider) Circuit() *httpx.Client {
	return p.client
}

type wapiCondition struct {
	Text string `json:"text"`
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, q weather.Query) (weather.ProviderReading, error) {
	if p.apiKey == "" {
		return weather.ProviderReading{}, errMissingKey(p.name)
	}

	var payload struct {
		Location struct {
			Name           string `json:"name"`
			LocaltimeEpoch int64  `json:"localtime_epoch"`
		} `json:"location"`
		Current struct {
			TempC      float64       `json:"temp_c"`
			FeelsLikeC float64       `json:"feelslike_c"`
			Humidity   float64       `json:"humidity"`
			WindKph    float64       `json:"wind_kph"`
			Condition  wapiCondition `json:"condition"`
		} `json:"current"`
	}

	if err := getJSON(ctx, p.name, p.client, p.endpoint("current.json", q, 0), &payload); err != nil {
		return weather.ProviderReading{}, err
	}

	ts := time.Now().UTC()
	if payload.Location.LocaltimeEpoch > 0 {
		ts = time.Unix(payload.Location.LocaltimeEpoch, 0).UTC()
	}

	return weather.ProviderReading{
		ProviderName: p.name,
		Timestamp:    ts,
		Place:        payload.Location.Name,
		TemperatureC: payload.Current.TempC,
		FeelsLikeC:   payload.Current.FeelsLikeC,
		HumidityPct:  payload.Current.Humidity,
		// Convert wind from kph to m/s (approx).
		WindSpeedMS: payload.Current.WindKph / 3.6,
		Condition:   mapWeatherAPICondition(payload.Current.Condition.Text),
		Description: payload.Current.Condition.Text,
	}, nil
}

// FetchForecast reads forecast.json and keeps the 12:00 hour of each day,
// falling back to the daily average when the hourly block is missing.
func (p *WeatherAPIProvider) FetchForecast(ctx context.Context, q weather.Query, days int) ([]weather.ProviderReading, error) {
	if p.apiKey == "" {
		return nil, errMissingKey(p.name)
	}

	var payload struct {
		Forecast struct {
			ForecastDay []struct {
				Date string `json:"date"`
				Day  struct {
					AvgTempC  float64       `json:"avgtemp_c"`
					Condition wapiCondition `json:"condition"`
				} `json:"day"`
				Hour []struct {
					Time      string        `json:"time"`
					TempC     float64       `json:"temp_c"`
					Condition wapiCondition `json:"condition"`
				} `json:"hour"`
			} `json:"forecastday"`
		} `json:"forecast"`
	}

	if err := getJSON(ctx, p.name, p.client, p.endpoint("forecast.json", q, days), &payload); err != nil {
		return nil, err
	}

	sample := fmt.Sprintf(" %02d:00", weather.ForecastSampleHour)
	var readings []weather.ProviderReading
	for _, day := range payload.Forecast.ForecastDay {
		if len(readings) >= days {
			break
		}
		date, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			continue
		}

		temp, text := day.Day.AvgTempC, day.Day.Condition.Text
		for _, h := range day.Hour {
			if strings.HasSuffix(h.Time, sample) {
				temp, text = h.TempC, h.Condition.Text
				break
			}
		}

		readings = append(readings, weather.ProviderReading{
			ProviderName: p.name,
			Timestamp:    date.Add(weather.ForecastSampleHour * time.Hour),
			TemperatureC: temp,
			Condition:    mapWeatherAPICondition(text),
			Description:  text,
		})
	}
	return readings, nil
}

func (p *WeatherAPIProvider) endpoint(path string, q weather.Query, days int) string {
	values := url.Values{}
	values.Set("key", p.apiKey)
	values.Set("lang", p.lang)
	// WeatherAPI uses "q" for location; it accepts a city name or "lat,lon".
	if q.Coords != nil {
		values.Set("q", fmt.Sprintf("%f,%f", q.Coords.Lat, q.Coords.Lon))
	} else {
		values.Set("q", q.City)
	}
	if days > 0 {
		values.Set("days", fmt.Sprintf("%d", days))
	}
	return fmt.Sprintf("%s/%s?%s", p.baseURL, path, values.Encode())
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case common.HasAny(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.HasAny(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.HasAny(text, "snow", "sleet", "blizzard", "ice"):
		return weather.ConditionSnow
	case common.HasAny(text, "mist", "fog"):
		return weather.ConditionMist
	case common.HasAny(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.HasAny(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
