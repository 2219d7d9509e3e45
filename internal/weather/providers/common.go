package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/i474232898/weather-bot/internal/httpx"
	"github.com/i474232898/weather-bot/internal/weather"
)

// Option customises a provider at construction time.
type Option func(*settings)

type settings struct {
	baseURL string
	lang    string
	backoff httpx.BackoffConfig
}

// WithBaseURL points the provider at a different API root (tests, proxies).
func WithBaseURL(u string) Option {
	return func(s *settings) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

// WithLanguage selects the language of condition descriptions.
func WithLanguage(lang string) Option {
	return func(s *settings) {
		s.lang = lang
	}
}

// WithBackoff overrides the retry policy.
func WithBackoff(b httpx.BackoffConfig) Option {
	return func(s *settings) {
		s.backoff = b
	}
}

func newSettings(defaultURL string, opts []Option) settings {
	s := settings{
		baseURL: defaultURL,
		lang:    "en",
		backoff: httpx.DefaultBackoff,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// getJSON performs a resilient GET and decodes the JSON body into out,
// translating every failure into a *weather.GatewayError.
func getJSON(ctx context.Context, provider string, client *httpx.Client, url string, out any) error {
	resp, err := client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return mapError(provider, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return weather.NewGatewayError(provider, weather.ReasonMalformed, err)
	}
	return nil
}

func mapError(provider string, err error) error {
	var statusErr *httpx.StatusError
	switch {
	case errors.As(err, &statusErr):
		switch statusErr.Code {
		case http.StatusBadRequest, http.StatusNotFound:
			return weather.NewGatewayError(provider, weather.ReasonNotFound, err)
		default:
			return weather.NewGatewayError(provider, weather.ReasonUnavailable, err)
		}
	case errors.Is(err, httpx.ErrCircuitOpen),
		errors.Is(err, httpx.ErrRateLimited),
		errors.Is(err, httpx.ErrServerError),
		errors.Is(err, httpx.ErrInvalidConfig),
		errors.Is(err, httpx.ErrNoHTTPClient):
		return weather.NewGatewayError(provider, weather.ReasonUnavailable, err)
	default:
		return weather.NewGatewayError(provider, weather.ReasonNetwork, err)
	}
}

func errMissingKey(provider string) error {
	return weather.NewGatewayError(provider, weather.ReasonUnavailable,
		fmt.Errorf("%s api key is not configured", provider))
}
