package providers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-bot/internal/weather"
)

// maxGeocodeInFlight bounds concurrent lookups per geocoder. The library
// call cannot be cancelled, so an abandoned lookup keeps its slot until the
// request finally returns.
const maxGeocodeInFlight = 4

// Geocoder resolves a free-text city to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, city string) (weather.Coordinates, error)
}

// GoogleGeocoder resolves cities through the Google Geocoding API.
type GoogleGeocoder struct {
	lookup func(geocoder.Address) (geocoder.Location, error)
	slots  chan struct{}
}

// The geocoder package reads its key from a package variable, so the key
// is process-wide and only written when a geocoder is built.
var geocoderKeyMu sync.Mutex

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	geocoderKeyMu.Lock()
	geocoder.ApiKey = apiKey
	geocoderKeyMu.Unlock()

	return &GoogleGeocoder{
		lookup: geocoder.Geocoding,
		slots:  make(chan struct{}, maxGeocodeInFlight),
	}
}

func (g *GoogleGeocoder) Geocode(ctx context.Context, city string) (weather.Coordinates, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return weather.Coordinates{}, errors.New("empty city")
	}

	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return weather.Coordinates{}, ctx.Err()
	}

	type result struct {
		loc geocoder.Location
		err error
	}
	done := make(chan result, 1)

	// geocoder.Geocoding takes no context; abandon it if ctx expires first.
	go func() {
		defer func() { <-g.slots }()
		loc, err := g.lookup(geocoder.Address{City: city})
		done <- result{loc: loc, err: err}
	}()

	select {
	case <-ctx.Done():
		return weather.Coordinates{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return weather.Coordinates{}, r.err
		}
		return weather.Coordinates{Lat: r.loc.Latitude, Lon: r.loc.Longitude}, nil
	}
}
