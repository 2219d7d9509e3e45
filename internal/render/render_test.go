package render

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-bot/internal/httpx"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestRenderChartProducesPNG(t *testing.T) {
	r := NewChartRenderer()
	png, err := r.RenderChart(context.Background(), "Oslo", []Point{
		{Label: "01.05", Value: 12},
		{Label: "02.05", Value: 15.5},
		{Label: "03.05", Value: 9},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))
}

func TestRenderChartNeedsTwoPoints(t *testing.T) {
	_, err := NewChartRenderer().RenderChart(context.Background(), "Oslo", []Point{{Label: "01.05", Value: 1}})

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, KindChart, rerr.Kind)
}

func TestRenderChartHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChartRenderer().RenderChart(ctx, "Oslo", []Point{{"a", 1}, {"b", 2}})
	// Either the render finished first or the cancellation won; a cancelled
	// result must be a chart error.
	if err != nil {
		var rerr *Error
		require.True(t, errors.As(err, &rerr))
		assert.ErrorIs(t, err, context.Canceled)
	}
}

var fastBackoff = httpx.BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond}

func TestSynthesizeConcatenatesChunks(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		assert.Equal(t, "ru", r.URL.Query().Get("tl"))
		assert.Equal(t, "tw-ob", r.URL.Query().Get("client"))
		_, _ = w.Write([]byte("MP3:" + r.URL.Query().Get("idx") + ";"))
	}))
	defer srv.Close()

	s := NewSpeaker(srv.Client(), srv.URL, fastBackoff)
	text := strings.Repeat("погода ", 30) + "\nконец"

	audio, err := s.Synthesize(context.Background(), text, "ru")
	require.NoError(t, err)

	require.Greater(t, len(queries), 1)
	for _, q := range queries {
		assert.LessOrEqual(t, utf8.RuneCountInString(q), maxChunkRunes)
	}
	assert.True(t, strings.HasPrefix(string(audio), "MP3:0;MP3:1;"))
}

func TestSynthesizeFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSpeaker(srv.Client(), srv.URL, fastBackoff)

	_, err := s.Synthesize(context.Background(), "hello", "en")
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, KindSpeech, rerr.Kind)

	_, err = s.Synthesize(context.Background(), "   ", "en")
	require.True(t, errors.As(err, &rerr))
}

func TestSplitText(t *testing.T) {
	assert.Empty(t, splitText("  \n ", 10))
	assert.Equal(t, []string{"one two", "three"}, splitText("one two three", 7))
	assert.Equal(t, []string{"line one", "line two"}, splitText("line one\nline two", 50))
	assert.Equal(t, []string{"abcde", "fgh x"}, splitText("abcdefgh x", 5))
}
