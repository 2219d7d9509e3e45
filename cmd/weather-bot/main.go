package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/i474232898/weather-bot/internal/alert"
	httpapi "github.com/i474232898/weather-bot/internal/api/http"
	"github.com/i474232898/weather-bot/internal/config"
	"github.com/i474232898/weather-bot/internal/dialog"
	"github.com/i474232898/weather-bot/internal/httpx"
	"github.com/i474232898/weather-bot/internal/metrics"
	"github.com/i474232898/weather-bot/internal/render"
	"github.com/i474232898/weather-bot/internal/scheduler"
	"github.com/i474232898/weather-bot/internal/session"
	"github.com/i474232898/weather-bot/internal/store"
	"github.com/i474232898/weather-bot/internal/store/postgres"
	"github.com/i474232898/weather-bot/internal/store/sqlite"
	"github.com/i474232898/weather-bot/internal/telegram"
	"github.com/i474232898/weather-bot/internal/weather"
	"github.com/i474232898/weather-bot/internal/weather/providers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := cfg.NewLogger(os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("weather-bot stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info("store ready", "driver", cfg.StoreDriver)

	// Shared HTTP client for outbound provider and TTS calls.
	httpClient := &http.Client{Timeout: cfg.GatewayTimeout}

	provs, circuits := buildProviders(cfg, httpClient, log)
	gateway := weather.NewService(provs, cfg.GatewayTimeout, log)
	speaker := render.NewSpeaker(&http.Client{Timeout: cfg.RenderTimeout}, cfg.TTSURL, httpx.DefaultBackoff)
	circuits = append(circuits, speaker.Circuit())

	bot, err := telegram.NewBot(cfg.TelegramToken, cfg.SendTimeout)
	if err != nil {
		return err
	}
	if cfg.WebhookURL != "" {
		url, err := telegram.RegisterWebhook(bot, cfg.WebhookURL, cfg.WebhookSecret)
		if err != nil {
			return err
		}
		log.Info("webhook registered", "url", url)
	}
	sender := telegram.NewSender(bot, log)

	m := metrics.New()

	sessions := session.NewManager(
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
		session.WithMaxAttempts(cfg.SessionMaxAttempts),
	)
	m.RegisterSessionGauge(sessions.Len)

	dispatcher := dialog.NewDispatcher(dialog.Deps{
		Sessions: sessions,
		Gateway:  gateway,
		Store:    st,
		Charts:   render.NewChartRenderer(),
		Speech:   speaker,
		Sender:   sender,
		Metrics:  m,
	}, dialog.Config{
		GatewayTimeout: cfg.GatewayTimeout,
		RenderTimeout:  cfg.RenderTimeout,
		StoreTimeout:   cfg.StoreTimeout,
		SpeechLang:     cfg.TTSLang,
	}, log)

	inbox := dialog.NewInbox(dispatcher, log,
		dialog.WithBuffer(cfg.InboxBuffer),
		dialog.WithMetrics(m),
	)

	monitor := alert.NewMonitor(gateway, st, sender, m, alert.Config{
		Concurrency:    cfg.AlertConcurrency,
		GatewayTimeout: cfg.GatewayTimeout,
		StoreTimeout:   cfg.StoreTimeout,
	}, log)

	sched, err := buildScheduler(cfg, monitor, st, sessions, log)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-bot",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Inbox:         inbox,
		Store:         st,
		Metrics:       m,
		Circuits:      circuits,
		WebhookSecret: cfg.WebhookSecret,
		StoreTimeout:  cfg.StoreTimeout,
		Logger:        log,
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "port", cfg.Port)
		serverErr <- app.Listen(":" + cfg.Port)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
		log.Error("http server failed, shutting down", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Both exits land here: stop taking updates first, then drain what is
	// already queued.
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during http shutdown", "error", err)
	}
	if err := inbox.Close(shutdownCtx); err != nil {
		log.Error("inbox did not drain", "error", err)
	}
	return runErr
}

func openStore(ctx context.Context, cfg *config.AppConfig) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return store.NewMemoryStore(cfg.HistoryMaxEntries), nil
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	default:
		return sqlite.Open(ctx, cfg.SQLitePath)
	}
}

// buildProviders returns the configured providers and their breakers.
func buildProviders(cfg *config.AppConfig, client *http.Client, log *slog.Logger) ([]weather.Provider, []httpapi.Circuit) {
	var (
		provs    []weather.Provider
		circuits []httpapi.Circuit
	)
	if cfg.OpenWeatherAPIKey != "" {
		p := providers.NewOpenWeatherProvider(client, cfg.OpenWeatherAPIKey, providers.WithLanguage(cfg.WeatherLang))
		provs = append(provs, p)
		circuits = append(circuits, p.Circuit())
	}
	if cfg.WeatherAPIKey != "" {
		p := providers.NewWeatherAPIProvider(client, cfg.WeatherAPIKey, providers.WithLanguage(cfg.WeatherLang))
		provs = append(provs, p)
		circuits = append(circuits, p.Circuit())
	}
	// Open-Meteo needs no key, but city queries go through Google geocoding.
	if cfg.GeocoderAPIKey != "" {
		p := providers.NewOpenMeteoProvider(client, providers.NewGoogleGeocoder(cfg.GeocoderAPIKey))
		provs = append(provs, p)
		circuits = append(circuits, p.Circuit())
	}
	if len(provs) == 0 {
		log.Warn("no weather providers configured; every lookup will fail")
	}
	return provs, circuits
}

func buildScheduler(cfg *config.AppConfig, monitor *alert.Monitor, st store.Store, sessions *session.Manager, log *slog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(log)

	err := sched.Every("alert-monitor", cfg.AlertInterval, false, func(ctx context.Context) error {
		_, err := monitor.Tick(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	if cfg.SessionIdleTimeout > 0 {
		err := sched.Every("session-sweep", cfg.SessionIdleTimeout, false, func(context.Context) error {
			if n := sessions.Sweep(); n > 0 {
				log.Debug("scheduler: expired sessions removed", "count", n)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.HistoryMaxAge > 0 {
		err := sched.Daily("history-prune", "03:00", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			n, err := st.PruneQueries(ctx, time.Now().UTC().Add(-cfg.HistoryMaxAge))
			if err != nil {
				return err
			}
			log.Info("scheduler: query log pruned", "removed", n)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return sched, nil
}
