// Package alert re-checks every enabled temperature alert and notifies users
// whose city drifted by at least their threshold.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/i474232898/weather-bot/internal/metrics"
	"github.com/i474232898/weather-bot/internal/store"
	"github.com/i474232898/weather-bot/internal/weather"
)

type Gateway interface {
	FetchCurrent(ctx context.Context, q weather.Query) (weather.WeatherSnapshot, error)
}

// Store is the part of store.Store the monitor needs.
type Store interface {
	ListEnabledAlerts(ctx context.Context) ([]store.AlertRegistration, error)
	UpdateBaseline(ctx context.Context, userID, version int64, temperature float64) error
}

// Notifier delivers an alert to its user outside any request/reply cycle.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Notification is a qualifying temperature change.
type Notification struct {
	UserID    int64
	City      string
	Baseline  float64
	Current   float64
	Threshold float64
}

func (n Notification) Text() string {
	return fmt.Sprintf("⚠️ Temperature in %s changed!\nWas: %.1f°C, now: %.1f°C", n.City, n.Baseline, n.Current)
}

// Outcome of checking one registration.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeNotified
	OutcomeSkipped // the gateway could not provide a complete reading
	OutcomeFailed  // notifying or persisting failed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotified:
		return metrics.AlertNotified
	case OutcomeSkipped:
		return metrics.AlertSkipped
	case OutcomeFailed:
		return metrics.AlertFailed
	default:
		return metrics.AlertUnchanged
	}
}

// TickReport summarizes one pass.
type TickReport struct {
	Checked   int
	Notified  int
	Unchanged int
	Skipped   int
	Failed    int
}

func (r *TickReport) add(o Outcome) {
	r.Checked++
	switch o {
	case OutcomeNotified:
		r.Notified++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Unchanged++
	}
}

type Config struct {
	// Concurrency bounds how many registrations are checked at once.
	Concurrency    int
	GatewayTimeout time.Duration
	StoreTimeout   time.Duration
}

type Monitor struct {
	gateway  Gateway
	store    Store
	notifier Notifier
	metrics  *metrics.Metrics
	cfg      Config
	logger   *slog.Logger
}

func NewMonitor(gw Gateway, st Store, n Notifier, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = weather.DefaultTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Monitor{gateway: gw, store: st, notifier: n, metrics: m, cfg: cfg, logger: logger}
}

// Tick evaluates every enabled registration once. A failure on one
// registration never stops the others; only failing to list registrations
// is returned as an error.
func (m *Monitor) Tick(ctx context.Context) (TickReport, error) {
	start := time.Now()
	defer func() { m.metrics.ObserveTick(time.Since(start)) }()

	var report TickReport

	lctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	regs, err := m.store.ListEnabledAlerts(lctx)
	cancel()
	if err != nil {
		m.metrics.RecordFailure(metrics.FailureStorage)
		return report, fmt.Errorf("alert: list registrations: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for _, reg := range regs {
		g.Go(func() error {
			outcome := m.check(gctx, reg)
			m.metrics.RecordAlertCheck(outcome.String())
			mu.Lock()
			report.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("alert: tick finished",
		"checked", report.Checked, "notified", report.Notified,
		"skipped", report.Skipped, "failed", report.Failed,
		"duration", time.Since(start))
	return report, nil
}

// check handles one registration: notify when the drift reaches the
// threshold, then move the baseline. A failed send keeps the old baseline
// so the next tick retries.
func (m *Monitor) check(ctx context.Context, reg store.AlertRegistration) Outcome {
	log := m.logger.With("user_id", reg.UserID, "city", reg.City)

	fctx, cancel := context.WithTimeout(ctx, m.cfg.GatewayTimeout)
	snap, err := m.gateway.FetchCurrent(fctx, weather.CityQuery(reg.City))
	cancel()
	if err != nil {
		m.metrics.RecordFailure(metrics.FailureGateway)
		log.Warn("alert: weather lookup failed, skipping", "reason", weather.ReasonOf(err), "error", err)
		return OutcomeSkipped
	}

	// An average over fewer providers than the baseline was taken from
	// would read as a change; wait for a complete reading.
	if snap.Partial {
		log.Warn("alert: partial reading, skipping", "providers", len(snap.Providers))
		return OutcomeSkipped
	}

	if !Exceeds(reg.BaselineTemperature, snap.Temperature, reg.Threshold) {
		return OutcomeUnchanged
	}

	n := Notification{
		UserID:    reg.UserID,
		City:      reg.City,
		Baseline:  reg.BaselineTemperature,
		Current:   snap.Temperature,
		Threshold: reg.Threshold,
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		m.metrics.RecordFailure(metrics.FailureSend)
		log.Error("alert: failed to notify, baseline kept", "error", err)
		return OutcomeFailed
	}

	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	err = m.store.UpdateBaseline(sctx, reg.UserID, reg.Version, snap.Temperature)
	cancel()
	switch {
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		// The user changed or removed the alert meanwhile; their write wins.
		log.Info("alert: registration changed during check, baseline not updated", "error", err)
	case err != nil:
		m.metrics.RecordFailure(metrics.FailureStorage)
		log.Error("alert: failed to persist baseline", "temperature", snap.Temperature, "error", err)
		return OutcomeFailed
	}
	log.Info("alert: notified", "baseline", reg.BaselineTemperature, "current", snap.Temperature)
	return OutcomeNotified
}

// thresholdTolerance absorbs float error so a change of exactly the
// threshold (20.3 -> 20.1 with 0.2) still counts.
const thresholdTolerance = 1e-9

// Exceeds reports whether the drift from baseline to current reaches threshold.
func Exceeds(baseline, current, threshold float64) bool {
	return math.Abs(current-baseline) >= threshold-thresholdTolerance
}
