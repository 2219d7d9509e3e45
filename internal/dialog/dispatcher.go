package dialog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/i474232898/weather-bot/internal/metrics"
	"github.com/i474232898/weather-bot/internal/render"
	"github.com/i474232898/weather-bot/internal/session"
	"github.com/i474232898/weather-bot/internal/store"
	"github.com/i474232898/weather-bot/internal/weather"
)

// Gateway is the weather data source.
type Gateway interface {
	FetchCurrent(ctx context.Context, q weather.Query) (weather.WeatherSnapshot, error)
	FetchForecast(ctx context.Context, q weather.Query) (weather.Forecast, error)
}

// Store is the part of store.Store the dispatcher writes and reads.
type Store interface {
	AppendQuery(ctx context.Context, entry store.QueryLogEntry) error
	RecentQueries(ctx context.Context, userID int64, limit int) ([]store.QueryLogEntry, error)
	UpsertAlert(ctx context.Context, reg store.AlertRegistration) (store.AlertRegistration, error)
	GetAlert(ctx context.Context, userID int64) (store.AlertRegistration, error)
	SetAlertEnabled(ctx context.Context, userID int64, enabled bool) error
	DeleteAlert(ctx context.Context, userID int64) error
}

type ChartRenderer interface {
	RenderChart(ctx context.Context, title string, points []render.Point) ([]byte, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Sender delivers replies to a chat. Every non-empty part of the reply is
// sent, text first.
type Sender interface {
	Send(ctx context.Context, chatID int64, reply Reply) error
}

// Route is the dispatch decision for an event.
type Route int

const (
	RouteWelcome Route = iota
	RouteCommand
	RouteLocation
	RouteAnswer
)

func (r Route) String() string {
	switch r {
	case RouteCommand:
		return metrics.RouteCommand
	case RouteLocation:
		return metrics.RouteLocation
	case RouteAnswer:
		return metrics.RouteAnswer
	default:
		return metrics.RouteWelcome
	}
}

// Action is what Route decided; Command is set for RouteCommand.
type Action struct {
	Route   Route
	Command Command
}

// Config holds the dispatcher's time bounds and presentation settings.
type Config struct {
	GatewayTimeout time.Duration
	RenderTimeout  time.Duration
	StoreTimeout   time.Duration
	SpeechLang     string
	HistoryLimit   int
}

func (c *Config) setDefaults() {
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = weather.DefaultTimeout
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 10 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.SpeechLang == "" {
		c.SpeechLang = "en"
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 5
	}
}

// Deps are the dispatcher's collaborators. Charts and Speech may be nil,
// in which case forecasts are text only.
type Deps struct {
	Sessions *session.Manager
	Gateway  Gateway
	Store    Store
	Charts   ChartRenderer
	Speech   SpeechSynthesizer
	Sender   Sender
	Metrics  *metrics.Metrics
}

// Dispatcher handles inbound events. Handle serializes events of the same
// user and runs different users in parallel.
type Dispatcher struct {
	deps   Deps
	locks  *session.KeyedMutex
	cfg    Config
	logger *slog.Logger
}

func NewDispatcher(deps Deps, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager()
	}
	cfg.setDefaults()
	return &Dispatcher{
		deps:   deps,
		locks:  session.NewKeyedMutex(),
		cfg:    cfg,
		logger: logger,
	}
}

// Route decides how ev is handled: commands first, then shared locations,
// then an answer to the open dialog, otherwise the welcome prompt. It never
// begins or advances a dialog.
func (d *Dispatcher) Route(ev Event) Action {
	if cmd, ok := ParseCommand(ev.Text); ok {
		return Action{Route: RouteCommand, Command: cmd}
	}
	if ev.Location != nil {
		return Action{Route: RouteLocation}
	}
	if _, ok := d.deps.Sessions.Current(ev.UserID); ok {
		return Action{Route: RouteAnswer}
	}
	return Action{Route: RouteWelcome}
}

// Handle processes one event to completion. Failures are turned into
// replies and logged; nothing is returned to the caller.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	unlock := d.locks.Lock(ev.UserID)
	defer unlock()

	action := d.Route(ev)
	d.deps.Metrics.RecordRoute(action.Route.String())
	d.logger.Debug("dialog: routing event",
		"event_id", ev.ID, "user_id", ev.UserID, "route", action.Route.String(), "command", action.Command)

	switch action.Route {
	case RouteCommand:
		d.handleCommand(ctx, ev, action.Command)
	case RouteLocation:
		d.handleLocation(ctx, ev)
	case RouteAnswer:
		d.handleAnswer(ctx, ev)
	default:
		d.send(ctx, ev, Reply{Text: welcomeText, Menu: true})
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, ev Event, cmd Command) {
	var kind session.DialogKind
	switch cmd {
	case CmdWeather:
		kind = session.DialogCurrentWeather
	case CmdForecast:
		kind = session.DialogForecast
	case CmdAlert:
		kind = session.DialogAlertSetup
	}
	if kind != session.DialogNone {
		s, err := d.deps.Sessions.Begin(ev.UserID, kind)
		if err != nil {
			d.logger.Error("dialog: failed to begin dialog", "user_id", ev.UserID, "kind", kind, "error", err)
			d.send(ctx, ev, Reply{Text: welcomeText, Menu: true})
			return
		}
		d.send(ctx, ev, Reply{Text: promptFor(s.Kind, s.Step)})
		return
	}

	// Every other command interrupts whatever dialog was open.
	d.deps.Sessions.End(ev.UserID)

	switch cmd {
	case CmdCancel:
		d.send(ctx, ev, Reply{Text: cancelledText, Menu: true})
	case CmdAlerts:
		d.showAlert(ctx, ev)
	case CmdUnalert:
		d.changeAlert(ctx, ev, "delete alert", alertDeletedText, func(ctx context.Context) error {
			return d.deps.Store.DeleteAlert(ctx, ev.UserID)
		})
	case CmdPause:
		d.changeAlert(ctx, ev, "pause alert", alertPausedText, func(ctx context.Context) error {
			return d.deps.Store.SetAlertEnabled(ctx, ev.UserID, false)
		})
	case CmdResume:
		d.changeAlert(ctx, ev, "resume alert", alertResumedText, func(ctx context.Context) error {
			return d.deps.Store.SetAlertEnabled(ctx, ev.UserID, true)
		})
	case CmdHistory:
		d.showHistory(ctx, ev)
	default:
		d.send(ctx, ev, Reply{Text: welcomeText, Menu: true})
	}
}

// handleLocation never reads or writes the user's session.
func (d *Dispatcher) handleLocation(ctx context.Context, ev Event) {
	q := weather.CoordsQuery(ev.Location.Lat, ev.Location.Lon)
	snap, err := d.fetchCurrent(ctx, q)
	if err != nil {
		d.gatewayFailed(ev, q, err)
		d.send(ctx, ev, Reply{Text: locationFailureText()})
		return
	}

	place := snap.Place
	if place == "" {
		place = fallbackLocationName
	}
	d.send(ctx, ev, Reply{Text: formatLocation(place, snap)})

	if snap.Place != "" {
		d.logQuery(ctx, ev.UserID, snap.Place)
	}
}

func (d *Dispatcher) handleAnswer(ctx context.Context, ev Event) {
	res, err := d.deps.Sessions.Advance(ev.UserID, ev.Text)

	var verr *session.ValidationError
	switch {
	case errors.As(err, &verr):
		d.deps.Metrics.RecordFailure(metrics.FailureValidation)
		if res.Abandoned {
			d.send(ctx, ev, Reply{Text: tooManyAttemptsText, Menu: true})
			return
		}
		d.send(ctx, ev, Reply{Text: validationText(verr)})
		return
	case errors.Is(err, session.ErrNoSession):
		d.send(ctx, ev, Reply{Text: welcomeText, Menu: true})
		return
	case err != nil:
		d.logger.Error("dialog: session in unexpected state", "user_id", ev.UserID, "error", err)
		d.deps.Sessions.End(ev.UserID)
		d.send(ctx, ev, Reply{Text: welcomeText, Menu: true})
		return
	}

	if !res.Complete {
		d.send(ctx, ev, Reply{Text: promptFor(res.Session.Kind, res.Next)})
		return
	}

	// The dialog is over whatever the terminal action does.
	d.deps.Sessions.End(ev.UserID)

	switch res.Session.Kind {
	case session.DialogCurrentWeather:
		d.finishCurrent(ctx, ev, res.Session.City())
	case session.DialogForecast:
		d.finishForecast(ctx, ev, res.Session.City())
	case session.DialogAlertSetup:
		threshold, _ := res.Session.Threshold()
		d.finishAlert(ctx, ev, res.Session.City(), threshold)
	}
}

func (d *Dispatcher) finishCurrent(ctx context.Context, ev Event, city string) {
	q := weather.CityQuery(city)
	snap, err := d.fetchCurrent(ctx, q)
	if err != nil {
		d.gatewayFailed(ev, q, err)
		d.send(ctx, ev, Reply{Text: gatewayFailureText(weather.ReasonOf(err), false)})
		return
	}
	d.send(ctx, ev, Reply{Text: formatCurrent(city, snap)})
	d.logQuery(ctx, ev.UserID, city)
}

func (d *Dispatcher) finishForecast(ctx context.Context, ev Event, city string) {
	q := weather.CityQuery(city)

	gctx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
	fc, err := d.deps.Gateway.FetchForecast(gctx, q)
	cancel()
	if err != nil {
		d.gatewayFailed(ev, q, err)
		d.send(ctx, ev, Reply{Text: gatewayFailureText(weather.ReasonOf(err), true)})
		return
	}

	text := formatForecast(city, fc)
	d.send(ctx, ev, Reply{Text: text})

	if attachments := d.renderForecast(ctx, ev, city, fc); len(attachments.Image) > 0 || len(attachments.Audio) > 0 {
		d.send(ctx, ev, attachments)
	}
	d.logQuery(ctx, ev.UserID, city)
}

// renderForecast draws the chart and the voice clip concurrently. Either
// may fail; failures are logged and the attachment left out.
func (d *Dispatcher) renderForecast(ctx context.Context, ev Event, city string, fc weather.Forecast) Reply {
	var out Reply

	rctx, cancel := context.WithTimeout(ctx, d.cfg.RenderTimeout)
	defer cancel()

	var g errgroup.Group
	if d.deps.Charts != nil {
		points := make([]render.Point, len(fc))
		for i, p := range fc {
			points[i] = render.Point{Label: p.DateLabel, Value: p.Temperature}
		}
		g.Go(func() error {
			img, err := d.deps.Charts.RenderChart(rctx, chartTitle(city, len(points)), points)
			if err != nil {
				d.renderFailed(ev, err)
				return nil
			}
			out.Image = img
			return nil
		})
	}
	if d.deps.Speech != nil {
		g.Go(func() error {
			audio, err := d.deps.Speech.Synthesize(rctx, speechText(city, fc), d.cfg.SpeechLang)
			if err != nil {
				d.renderFailed(ev, err)
				return nil
			}
			out.Audio = audio
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dispatcher) finishAlert(ctx context.Context, ev Event, city string, threshold float64) {
	q := weather.CityQuery(city)
	snap, err := d.fetchCurrent(ctx, q)
	if err != nil {
		d.gatewayFailed(ev, q, err)
		d.send(ctx, ev, Reply{Text: gatewayFailureText(weather.ReasonOf(err), false)})
		return
	}
	// The monitor only compares complete readings, so the baseline must be one.
	if snap.Partial {
		d.logger.Warn("dialog: partial reading, alert not saved", "user_id", ev.UserID, "city", city)
		d.send(ctx, ev, Reply{Text: gatewayFailureText(weather.ReasonUnavailable, false)})
		return
	}

	sctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	reg, err := d.deps.Store.UpsertAlert(sctx, store.AlertRegistration{
		UserID:              ev.UserID,
		City:                city,
		Threshold:           threshold,
		BaselineTemperature: snap.Temperature,
		Enabled:             true,
	})
	cancel()
	if err != nil {
		d.storageFailed(ev, "upsert alert", err)
		d.send(ctx, ev, Reply{Text: alertSaveFailedText})
		return
	}
	d.send(ctx, ev, Reply{Text: formatAlertSet(reg)})
}

func (d *Dispatcher) showAlert(ctx context.Context, ev Event) {
	sctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	reg, err := d.deps.Store.GetAlert(sctx, ev.UserID)
	cancel()
	switch {
	case errors.Is(err, store.ErrNotFound):
		d.send(ctx, ev, Reply{Text: noAlertText})
	case err != nil:
		d.storageFailed(ev, "get alert", err)
		d.send(ctx, ev, Reply{Text: storageFailedText})
	default:
		d.send(ctx, ev, Reply{Text: formatAlertStatus(reg)})
	}
}

func (d *Dispatcher) changeAlert(ctx context.Context, ev Event, op, okText string, change func(context.Context) error) {
	sctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	err := change(sctx)
	cancel()
	switch {
	case errors.Is(err, store.ErrNotFound):
		d.send(ctx, ev, Reply{Text: noAlertText})
	case err != nil:
		d.storageFailed(ev, op, err)
		d.send(ctx, ev, Reply{Text: storageFailedText})
	default:
		d.send(ctx, ev, Reply{Text: okText})
	}
}

func (d *Dispatcher) showHistory(ctx context.Context, ev Event) {
	sctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	entries, err := d.deps.Store.RecentQueries(sctx, ev.UserID, d.cfg.HistoryLimit)
	cancel()
	switch {
	case err != nil:
		d.storageFailed(ev, "recent queries", err)
		d.send(ctx, ev, Reply{Text: storageFailedText})
	case len(entries) == 0:
		d.send(ctx, ev, Reply{Text: emptyHistoryText})
	default:
		d.send(ctx, ev, Reply{Text: formatHistory(entries)})
	}
}

func (d *Dispatcher) fetchCurrent(ctx context.Context, q weather.Query) (weather.WeatherSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
	defer cancel()
	return d.deps.Gateway.FetchCurrent(ctx, q)
}

// logQuery records a successful lookup. Failures are reported but never
// reach the user.
func (d *Dispatcher) logQuery(ctx context.Context, userID int64, city string) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	defer cancel()
	if err := d.deps.Store.AppendQuery(ctx, store.NewQueryLogEntry(userID, city)); err != nil {
		d.deps.Metrics.RecordFailure(metrics.FailureStorage)
		d.logger.Warn("dialog: failed to record query", "user_id", userID, "city", city, "error", err)
	}
}

func (d *Dispatcher) send(ctx context.Context, ev Event, reply Reply) {
	if err := d.deps.Sender.Send(ctx, ev.ChatID, reply); err != nil {
		d.deps.Metrics.RecordFailure(metrics.FailureSend)
		d.logger.Error("dialog: failed to send reply", "event_id", ev.ID, "chat_id", ev.ChatID, "error", err)
	}
}

func (d *Dispatcher) gatewayFailed(ev Event, q weather.Query, err error) {
	d.deps.Metrics.RecordFailure(metrics.FailureGateway)
	d.logger.Warn("dialog: weather lookup failed",
		"user_id", ev.UserID, "query", q.Key(), "reason", weather.ReasonOf(err), "error", err)
}

func (d *Dispatcher) renderFailed(ev Event, err error) {
	d.deps.Metrics.RecordFailure(metrics.FailureRender)
	d.logger.Warn("dialog: attachment dropped", "user_id", ev.UserID, "error", err)
}

func (d *Dispatcher) storageFailed(ev Event, op string, err error) {
	d.deps.Metrics.RecordFailure(metrics.FailureStorage)
	d.logger.Warn("dialog: storage failure", "user_id", ev.UserID, "op", op, "error", err)
}

// OpenSessions reports the number of users inside a dialog.
func (d *Dispatcher) OpenSessions() int {
	return d.deps.Sessions.Len()
}
