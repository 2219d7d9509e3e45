package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-bot/internal/dialog"
	"github.com/i474232898/weather-bot/internal/httpx"
	"github.com/i474232898/weather-bot/internal/metrics"
	"github.com/i474232898/weather-bot/internal/store"
)

type fakeInbox struct {
	mu     sync.Mutex
	events []dialog.Event
	err    error
}

func (f *fakeInbox) Enqueue(ev dialog.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

const textUpdate = `{"update_id":1,"message":{"message_id":1,"date":1700000000,
	"from":{"id":42,"is_bot":false,"first_name":"Ann"},
	"chat":{"id":42,"type":"private"},"text":"/forecast"}}`

func newTestApp(t *testing.T, inbox *fakeInbox, secret string) (*fiber.App, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(0)
	app := fiber.New()
	RegisterRoutes(app, Deps{
		Inbox:         inbox,
		Store:         st,
		Metrics:       metrics.New(),
		WebhookSecret: secret,
	})
	return app, st
}

func postUpdate(t *testing.T, app *fiber.App, body, secret string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestWebhookQueuesEvent(t *testing.T) {
	inbox := &fakeInbox{}
	app, _ := newTestApp(t, inbox, "")

	resp := postUpdate(t, app, textUpdate, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp)["status"])

	require.Len(t, inbox.events, 1)
	assert.Equal(t, int64(42), inbox.events[0].UserID)
	assert.Equal(t, "/forecast", inbox.events[0].Text)
}

func TestWebhookSecret(t *testing.T) {
	inbox := &fakeInbox{}
	app, _ := newTestApp(t, inbox, "s3cret")

	resp := postUpdate(t, app, textUpdate, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postUpdate(t, app, textUpdate, "s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, inbox.events, 1)
}

func TestWebhookMalformedAndIgnoredUpdates(t *testing.T) {
	inbox := &fakeInbox{}
	app, _ := newTestApp(t, inbox, "")

	resp := postUpdate(t, app, "{", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postUpdate(t, app, `{"update_id":2}`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, inbox.events)
}

func TestWebhookBusyInbox(t *testing.T) {
	app, _ := newTestApp(t, &fakeInbox{err: dialog.ErrInboxFull}, "")

	resp := postUpdate(t, app, textUpdate, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	app, _ := newTestApp(t, &fakeInbox{}, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp)["status"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

type stuckCircuit struct {
	name  string
	state gobreaker.State
}

func (c stuckCircuit) Name() string           { return c.name }
func (c stuckCircuit) State() gobreaker.State { return c.state }

func TestHealthReportsUpstreamBreakers(t *testing.T) {
	closed := httpx.NewClient(http.DefaultClient, "openweather", httpx.DefaultBackoff)

	app := fiber.New()
	RegisterRoutes(app, Deps{
		Inbox:    &fakeInbox{},
		Store:    store.NewMemoryStore(0),
		Metrics:  metrics.New(),
		Circuits: []Circuit{closed},
	})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	out := decode(t, resp)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, map[string]any{"openweather": "closed"}, out["upstreams"])

	app = fiber.New()
	RegisterRoutes(app, Deps{
		Inbox:    &fakeInbox{},
		Store:    store.NewMemoryStore(0),
		Metrics:  metrics.New(),
		Circuits: []Circuit{closed, stuckCircuit{name: "tts", state: gobreaker.StateOpen}},
	})
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out = decode(t, resp)
	assert.Equal(t, "degraded", out["status"])
	assert.Equal(t, map[string]any{"openweather": "closed", "tts": "open"}, out["upstreams"])
}

func TestHistoryEndpoint(t *testing.T) {
	app, st := newTestApp(t, &fakeInbox{}, "")
	ctx := context.Background()
	for _, city := range []string{"London", "Paris", "Rome"} {
		require.NoError(t, st.AppendQuery(ctx, store.NewQueryLogEntry(7, city)))
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/users/7/history?limit=2", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	entries, ok := out["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)
	assert.Equal(t, "Rome", entries[0].(map[string]any)["city"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/users/8/history", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode(t, resp)["entries"])
}

func TestHistoryValidation(t *testing.T) {
	app, _ := newTestApp(t, &fakeInbox{}, "")

	for _, url := range []string{
		"/api/v1/users/abc/history",
		"/api/v1/users/0/history",
		"/api/v1/users/7/history?limit=0",
		"/api/v1/users/7/history?limit=101",
		"/api/v1/users/7/history?limit=ten",
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, url, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, url)
	}
}

func TestAlertEndpoint(t *testing.T) {
	app, st := newTestApp(t, &fakeInbox{}, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/users/7/alert", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = st.UpsertAlert(context.Background(), store.AlertRegistration{
		UserID: 7, City: "Paris", Threshold: 3, BaselineTemperature: 18.5, Enabled: true,
	})
	require.NoError(t, err)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/users/7/alert", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "Paris", out["city"])
	assert.Equal(t, 3.0, out["threshold"])
	assert.Equal(t, true, out["enabled"])
}
