package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds a single gateway call when none is configured.
const DefaultTimeout = 10 * time.Second

// Service is the Weather Data Gateway: it fans a query out to every
// configured provider concurrently and aggregates the successful readings.
type Service struct {
	providers []Provider
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService creates a new Service.
func NewService(providers []Provider, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		providers: providers,
		timeout:   timeout,
		logger:    logger,
	}
}

// FetchCurrent returns the aggregated current conditions for q. Partial
// provider failure is tolerated and flagged on the snapshot; if no provider
// succeeds the returned error is a *GatewayError carrying the most
// significant reason.
func (s *Service) FetchCurrent(ctx context.Context, q Query) (WeatherSnapshot, error) {
	if q.IsZero() {
		return WeatherSnapshot{}, NewGatewayError("", ReasonNotFound, errors.New("empty location query"))
	}
	if len(s.providers) == 0 {
		return WeatherSnapshot{}, NewGatewayError("", ReasonNoProviders, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		readings []ProviderReading
		errs     []error
	)

	for _, p := range s.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()

			r, err := p.Fetch(ctx, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Log and continue; we want partial success when possible.
				s.logger.Warn("weather: provider fetch failed",
					"provider", p.Name(), "query", q.Key(), "error", err)
				errs = append(errs, classify(p.Name(), err))
				return
			}
			readings = append(readings, r)
		}(p)
	}

	wg.Wait()

	if len(readings) == 0 {
		return WeatherSnapshot{}, NewGatewayError("", mostSignificant(errs), errors.Join(errs...))
	}

	// Keep aggregation deterministic regardless of goroutine completion order.
	sort.Slice(readings, func(i, j int) bool {
		return readings[i].ProviderName < readings[j].ProviderName
	})

	snapshot := AggregateReadings(readings)
	snapshot.Partial = len(errs) > 0
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now().UTC()
	}
	return snapshot, nil
}

// FetchForecast fetches daily forecasts from providers that support it,
// aggregates them per day, and returns at most MaxForecastDays points.
func (s *Service) FetchForecast(ctx context.Context, q Query) (Forecast, error) {
	if q.IsZero() {
		return nil, NewGatewayError("", ReasonNotFound, errors.New("empty location query"))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type dayKey string

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		dayReadings = make(map[dayKey][]ProviderReading)
		dayDates    = make(map[dayKey]time.Time)
		errs        []error
		attempted   int
	)

	for _, p := range s.providers {
		fp, ok := p.(ForecastProvider)
		if !ok {
			continue
		}
		attempted++

		wg.Add(1)
		go func(fp ForecastProvider, providerName string) {
			defer wg.Done()

			readings, err := fp.FetchForecast(ctx, q, MaxForecastDays)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				s.logger.Warn("weather: provider forecast failed",
					"provider", providerName, "query", q.Key(), "error", err)
				errs = append(errs, classify(providerName, err))
				return
			}

			for _, r := range readings {
				ts := r.Timestamp
				k := dayKey(ts.Format("2006-01-02"))
				dayReadings[k] = append(dayReadings[k], r)
				if _, exists := dayDates[k]; !exists {
					dayDates[k] = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
				}
			}
		}(fp, p.Name())
	}

	wg.Wait()

	if attempted == 0 {
		return nil, NewGatewayError("", ReasonNoProviders, errors.New("no forecast-capable providers"))
	}
	if len(dayReadings) == 0 {
		if len(errs) == 0 {
			return nil, NewGatewayError("", ReasonNotFound, errors.New("no forecast data available"))
		}
		return nil, NewGatewayError("", mostSignificant(errs), errors.Join(errs...))
	}

	// Collect and sort all date keys.
	keys := make([]string, 0, len(dayReadings))
	for k := range dayReadings {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	forecast := make(Forecast, 0, MaxForecastDays)
	for _, k := range keys {
		if len(forecast) >= MaxForecastDays {
			break
		}
		dk := dayKey(k)
		readings := dayReadings[dk]
		sort.Slice(readings, func(i, j int) bool {
			return readings[i].ProviderName < readings[j].ProviderName
		})
		forecast = append(forecast, AggregateDay(dayDates[dk], readings))
	}

	return forecast, nil
}

// classify makes sure every provider error carries a Reason; context
// expiry counts as a network failure.
func classify(provider string, err error) error {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewGatewayError(provider, ReasonNetwork, err)
	}
	return NewGatewayError(provider, ReasonUnavailable, fmt.Errorf("%w", err))
}
