package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type AppConfig struct {
	Port      string `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`

	TelegramToken string `envconfig:"TELEGRAM_TOKEN" validate:"required"`
	// WebhookURL is the public base URL; when set the webhook is registered at startup.
	WebhookURL    string `envconfig:"WEBHOOK_URL" validate:"omitempty,url"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	OpenWeatherAPIKey string `envconfig:"OPENWEATHER_API_KEY"`
	WeatherAPIKey     string `envconfig:"WEATHERAPI_API_KEY"`
	// GeocoderAPIKey enables the Open-Meteo provider, which needs geocoding
	// for city queries.
	GeocoderAPIKey string `envconfig:"GEOCODER_API_KEY"`
	WeatherLang    string `envconfig:"WEATHER_LANG" default:"en" validate:"required"`

	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s" validate:"gt=0"`
	RenderTimeout  time.Duration `envconfig:"RENDER_TIMEOUT" default:"10s" validate:"gt=0"`
	StoreTimeout   time.Duration `envconfig:"STORE_TIMEOUT" default:"5s" validate:"gt=0"`

	// SendTimeout bounds each Bot API call, including photo and audio uploads.
	SendTimeout time.Duration `envconfig:"SEND_TIMEOUT" default:"15s" validate:"gt=0"`

	AlertInterval    time.Duration `envconfig:"ALERT_INTERVAL" default:"1h" validate:"gte=1m"`
	AlertConcurrency int           `envconfig:"ALERT_CONCURRENCY" default:"4" validate:"gte=1,lte=64"`

	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m" validate:"gte=0"`
	SessionMaxAttempts int           `envconfig:"SESSION_MAX_ATTEMPTS" default:"0" validate:"gte=0"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"weather.db" validate:"required_if=StoreDriver sqlite"`
	DatabaseURL string `envconfig:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`

	// HistoryMaxAge of 0 keeps the query log forever.
	HistoryMaxAge time.Duration `envconfig:"HISTORY_MAX_AGE" default:"0" validate:"gte=0"`
	// HistoryMaxEntries caps the in-memory log per user.
	HistoryMaxEntries int `envconfig:"HISTORY_MAX_ENTRIES" default:"100" validate:"gte=0"`

	TTSURL  string `envconfig:"TTS_URL" default:"https://translate.google.com/translate_tts" validate:"required,url"`
	TTSLang string `envconfig:"TTS_LANG" default:"en" validate:"required"`

	InboxBuffer int `envconfig:"INBOX_BUFFER" default:"16" validate:"gte=1"`
}

// Load reads .env when present, then the environment, and validates the result.
func Load() (*AppConfig, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv populates the config from the process environment only.
func FromEnv() (*AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *AppConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
