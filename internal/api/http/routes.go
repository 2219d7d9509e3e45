package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-bot/internal/dialog"
	"github.com/i474232898/weather-bot/internal/metrics"
	"github.com/i474232898/weather-bot/internal/store"
	"github.com/i474232898/weather-bot/internal/telegram"
)

var validate = validator.New()

// SecretHeader carries the webhook secret Telegram echoes back.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Enqueuer accepts inbound events for asynchronous handling.
type Enqueuer interface {
	Enqueue(ev dialog.Event) error
}

// Reader is the read-only part of the store exposed over HTTP.
type Reader interface {
	RecentQueries(ctx context.Context, userID int64, limit int) ([]store.QueryLogEntry, error)
	GetAlert(ctx context.Context, userID int64) (store.AlertRegistration, error)
}

// Circuit is an upstream breaker reported by /health.
type Circuit interface {
	Name() string
	State() gobreaker.State
}

type Deps struct {
	Inbox         Enqueuer
	Store         Reader
	Metrics       *metrics.Metrics
	Circuits      []Circuit
	WebhookSecret string
	StoreTimeout  time.Duration
	Logger        *slog.Logger
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = 5 * time.Second
	}

	app.Get("/health", healthHandler(deps.Circuits))

	app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))

	app.Post(telegram.WebhookPath, webhookHandler(deps))

	v1 := app.Group("/api/v1")

	v1.Get("/users/:id/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), deps.StoreTimeout)
		defer cancel()
		entries, err := deps.Store.RecentQueries(ctx, req.UserID, req.Limit)
		if err != nil {
			deps.Logger.Error("http: failed to read history", "user_id", req.UserID, "error", err)
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read history")
		}
		if entries == nil {
			entries = []store.QueryLogEntry{}
		}

		return c.JSON(fiber.Map{
			"userId":  req.UserID,
			"entries": entries,
		})
	})

	v1.Get("/users/:id/alert", func(c *fiber.Ctx) error {
		var req userPath
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), deps.StoreTimeout)
		defer cancel()
		reg, err := deps.Store.GetAlert(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no alert for requested user")
			}
			deps.Logger.Error("http: failed to read alert", "user_id", req.UserID, "error", err)
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read alert")
		}

		return c.JSON(reg)
	})
}

// healthHandler reports each upstream breaker. An open breaker degrades the
// status but still answers 200; the bot keeps serving from other providers.
func healthHandler(circuits []Circuit) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := "ok"
		upstreams := make(map[string]string, len(circuits))
		for _, cb := range circuits {
			state := cb.State()
			if state == gobreaker.StateOpen {
				status = "degraded"
			}
			upstreams[cb.Name()] = state.String()
		}
		return c.JSON(fiber.Map{
			"status":    status,
			"service":   "weather-bot",
			"upstreams": upstreams,
		})
	}
}

// webhookHandler acknowledges an update as soon as it is queued; the reply
// is sent later by the user's worker. A full queue answers 503 so Telegram
// redelivers the update.
func webhookHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.WebhookSecret != "" && c.Get(SecretHeader) != deps.WebhookSecret {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook secret")
		}

		update, err := telegram.DecodeUpdate(c.Body())
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed update")
		}

		ev, ok := telegram.EventFromUpdate(update)
		if !ok {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		if err := deps.Inbox.Enqueue(ev); err != nil {
			deps.Logger.Warn("http: update not queued",
				"update_id", update.ID, "user_id", ev.UserID, "error", err)
			return fiber.NewError(fiber.StatusServiceUnavailable, "busy, retry later")
		}

		return c.JSON(fiber.Map{"status": "ok"})
	}
}

// userPath holds the :id path parameter.
type userPath struct {
	UserID int64 `validate:"gt=0"`
}

func (p *userPath) bind(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return errors.New("user id must be an integer")
	}
	p.UserID = id
	return nil
}

// historyQuery holds the parameters of the history endpoint.
type historyQuery struct {
	userPath
	Limit int `validate:"gte=1,lte=100"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	if err := h.userPath.bind(c); err != nil {
		return err
	}

	h.Limit = 10
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("limit must be an integer")
		}
		h.Limit = n
	}
	return nil
}
