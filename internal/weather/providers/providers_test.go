package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kelvins/geocoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-bot/internal/httpx"
	"github.com/i474232898/weather-bot/internal/weather"
)

var testBackoff = WithBackoff(httpx.BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond})

func serve(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"cod":"404","message":"city not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenWeatherFetch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{
			"name": "Berlin", "dt": 1700000000,
			"main": {"temp": 7.5, "feels_like": 4.1, "humidity": 81},
			"wind": {"speed": 3.2},
			"weather": [{"main": "Clouds", "description": "broken clouds"}]
		}`))
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(srv.Client(), "key", WithBaseURL(srv.URL), WithLanguage("ru"), testBackoff)
	r, err := p.Fetch(context.Background(), weather.CoordsQuery(52.52, 13.4))
	require.NoError(t, err)

	assert.Equal(t, "Berlin", r.Place)
	assert.Equal(t, 7.5, r.TemperatureC)
	assert.Equal(t, 4.1, r.FeelsLikeC)
	assert.Equal(t, 81.0, r.HumidityPct)
	assert.Equal(t, weather.ConditionCloudy, r.Condition)
	assert.Equal(t, "broken clouds", r.Description)
	assert.Contains(t, gotQuery, "lat=52.520000")
	assert.Contains(t, gotQuery, "lang=ru")
	assert.NotContains(t, gotQuery, "q=")
}

func TestOpenWeatherForecastSamplesNoon(t *testing.T) {
	srv := serve(t, map[string]string{"/forecast": `{"list": [
		{"dt_txt": "2024-05-01 09:00:00", "main": {"temp": 10}, "weather": [{"main": "Clear", "description": "clear sky"}]},
		{"dt_txt": "2024-05-01 12:00:00", "main": {"temp": 15}, "weather": [{"main": "Clear", "description": "clear sky"}]},
		{"dt_txt": "2024-05-02 12:00:00", "main": {"temp": 12}, "weather": [{"main": "Rain", "description": "light rain"}]},
		{"dt_txt": "2024-05-03 12:00:00", "main": {"temp": 11}, "weather": [{"main": "Snow", "description": "snow"}]}
	]}`})

	p := NewOpenWeatherProvider(srv.Client(), "key", WithBaseURL(srv.URL), testBackoff)
	readings, err := p.FetchForecast(context.Background(), weather.CityQuery("Oslo"), 2)
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, 15.0, readings[0].TemperatureC)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), readings[0].Timestamp)
	assert.Equal(t, weather.ConditionRain, readings[1].Condition)
}

func TestOpenWeatherUnknownCity(t *testing.T) {
	srv := serve(t, nil)

	p := NewOpenWeatherProvider(srv.Client(), "key", WithBaseURL(srv.URL), testBackoff)
	_, err := p.Fetch(context.Background(), weather.CityQuery("Atlantis"))
	require.Error(t, err)
	assert.Equal(t, weather.ReasonNotFound, weather.ReasonOf(err))
}

func TestOpenWeatherMissingKey(t *testing.T) {
	p := NewOpenWeatherProvider(http.DefaultClient, "")
	_, err := p.Fetch(context.Background(), weather.CityQuery("Oslo"))
	assert.Equal(t, weather.ReasonUnavailable, weather.ReasonOf(err))
}

func TestOpenWeatherMalformedBody(t *testing.T) {
	srv := serve(t, map[string]string{"/weather": `{"main": `})

	p := NewOpenWeatherProvider(srv.Client(), "key", WithBaseURL(srv.URL), testBackoff)
	_, err := p.Fetch(context.Background(), weather.CityQuery("Oslo"))
	assert.Equal(t, weather.ReasonMalformed, weather.ReasonOf(err))
}

func TestWeatherAPIFetchAndForecast(t *testing.T) {
	srv := serve(t, map[string]string{
		"/current.json": `{
			"location": {"name": "Paris", "localtime_epoch": 1700000000},
			"current": {"temp_c": 18, "feelslike_c": 17, "humidity": 60, "wind_kph": 36,
				"condition": {"text": "Patchy rain possible"}}
		}`,
		"/forecast.json": `{"forecast": {"forecastday": [
			{"date": "2024-05-01", "day": {"avgtemp_c": 14, "condition": {"text": "Sunny"}},
			 "hour": [{"time": "2024-05-01 11:00", "temp_c": 16, "condition": {"text": "Sunny"}},
			          {"time": "2024-05-01 12:00", "temp_c": 17, "condition": {"text": "Sunny"}}]},
			{"date": "2024-05-02", "day": {"avgtemp_c": 9, "condition": {"text": "Overcast"}}, "hour": []}
		]}}`,
	})

	p := NewWeatherAPIProvider(srv.Client(), "key", WithBaseURL(srv.URL), testBackoff)

	r, err := p.Fetch(context.Background(), weather.CityQuery("Paris"))
	require.NoError(t, err)
	assert.Equal(t, "Paris", r.Place)
	assert.InDelta(t, 10.0, r.WindSpeedMS, 0.001)
	assert.Equal(t, weather.ConditionRain, r.Condition)

	readings, err := p.FetchForecast(context.Background(), weather.CityQuery("Paris"), 5)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, 17.0, readings[0].TemperatureC)
	assert.Equal(t, weather.ConditionClear, readings[0].Condition)
	assert.Equal(t, 9.0, readings[1].TemperatureC)
	assert.Equal(t, weather.ConditionCloudy, readings[1].Condition)
	assert.Equal(t, 12, readings[1].Timestamp.Hour())
}

func TestMapWeatherAPICondition(t *testing.T) {
	cases := map[string]weather.Condition{
		"":                               weather.ConditionUnknown,
		"Moderate or heavy snow":         weather.ConditionSnow,
		"Thundery outbreaks possible":    weather.ConditionStorm,
		"Patchy light rain with thunder": weather.ConditionStorm,
		"Freezing fog":                   weather.ConditionMist,
		"Partly cloudy":                  weather.ConditionCloudy,
		"Clear":                          weather.ConditionClear,
	}
	for text, want := range cases {
		assert.Equal(t, want, mapWeatherAPICondition(text), text)
	}
}

type fakeGeocoder struct {
	coords weather.Coordinates
	err    error
	calls  int
}

func (g *fakeGeocoder) Geocode(ctx context.Context, city string) (weather.Coordinates, error) {
	g.calls++
	return g.coords, g.err
}

func TestOpenMeteoCurrentAndForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("current") != "" {
			_, _ = w.Write([]byte(`{"current": {"time": "2024-05-01T13:15", "temperature_2m": 21.5,
				"relative_humidity_2m": 40, "apparent_temperature": 22, "wind_speed_10m": 2.5, "weather_code": 0}}`))
			return
		}
		_, _ = w.Write([]byte(`{"hourly": {
			"time": ["2024-05-01T11:00", "2024-05-01T12:00", "2024-05-02T12:00"],
			"temperature_2m": [19, 20, 23],
			"weather_code": [0, 2, 61]
		}}`))
	}))
	defer srv.Close()

	geo := &fakeGeocoder{coords: weather.Coordinates{Lat: 1, Lon: 2}}
	p := NewOpenMeteoProvider(srv.Client(), geo, WithBaseURL(srv.URL), testBackoff)

	r, err := p.Fetch(context.Background(), weather.CityQuery("Rome"))
	require.NoError(t, err)
	assert.Equal(t, 21.5, r.TemperatureC)
	assert.Equal(t, weather.ConditionClear, r.Condition)
	assert.Equal(t, 1, geo.calls)

	readings, err := p.FetchForecast(context.Background(), weather.CoordsQuery(1, 2), 5)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, weather.ConditionCloudy, readings[0].Condition)
	assert.Equal(t, weather.ConditionRain, readings[1].Condition)
	assert.Equal(t, 1, geo.calls, "coordinate queries skip geocoding")
}

func TestOpenMeteoCityWithoutGeocoder(t *testing.T) {
	p := NewOpenMeteoProvider(http.DefaultClient, nil)
	_, err := p.Fetch(context.Background(), weather.CityQuery("Rome"))
	assert.Equal(t, weather.ReasonUnavailable, weather.ReasonOf(err))
}

func TestOpenMeteoGeocodingFailure(t *testing.T) {
	geo := &fakeGeocoder{err: errors.New("ZERO_RESULTS")}
	p := NewOpenMeteoProvider(http.DefaultClient, geo)
	_, err := p.Fetch(context.Background(), weather.CityQuery("Nowhere"))
	assert.Equal(t, weather.ReasonNotFound, weather.ReasonOf(err))
}

func TestGoogleGeocoderUsesLookup(t *testing.T) {
	g := NewGoogleGeocoder("secret")
	g.lookup = func(a geocoder.Address) (geocoder.Location, error) {
		assert.Equal(t, "Lisbon", a.City)
		assert.Equal(t, "secret", geocoder.ApiKey)
		return geocoder.Location{Latitude: 38.72, Longitude: -9.14}, nil
	}

	c, err := g.Geocode(context.Background(), " Lisbon ")
	require.NoError(t, err)
	assert.Equal(t, weather.Coordinates{Lat: 38.72, Lon: -9.14}, c)

	_, err = g.Geocode(context.Background(), "  ")
	assert.Error(t, err)
}

func TestGoogleGeocoderStuckLookupDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stuck := NewGoogleGeocoder("key")
	stuck.lookup = func(geocoder.Address) (geocoder.Location, error) {
		<-release
		return geocoder.Location{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := stuck.Geocode(ctx, "Hanging")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	healthy := NewGoogleGeocoder("key")
	healthy.lookup = func(geocoder.Address) (geocoder.Location, error) {
		return geocoder.Location{Latitude: 48.85, Longitude: 2.35}, nil
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel2()
	c, err := healthy.Geocode(ctx2, "Paris")
	require.NoError(t, err)
	assert.Equal(t, weather.Coordinates{Lat: 48.85, Lon: 2.35}, c)
}

func TestGoogleGeocoderBoundsAbandonedLookups(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	var calls atomic.Int32
	g := &GoogleGeocoder{
		lookup: func(geocoder.Address) (geocoder.Location, error) {
			calls.Add(1)
			<-release
			return geocoder.Location{}, nil
		},
		slots: make(chan struct{}, 1),
	}

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := g.Geocode(ctx, "Hanging")
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, int32(1), calls.Load(), "no new lookup starts while the slot is held")
}

func TestProvidersExposeNamedBreakers(t *testing.T) {
	assert.Equal(t, "openweather", NewOpenWeatherProvider(http.DefaultClient, "key").Circuit().Name())
	assert.Equal(t, "weatherapi", NewWeatherAPIProvider(http.DefaultClient, "key").Circuit().Name())
	assert.Equal(t, "openmeteo", NewOpenMeteoProvider(http.DefaultClient, nil).Circuit().Name())
	assert.Equal(t, "closed", NewOpenMeteoProvider(http.DefaultClient, nil).Circuit().State().String())
}
