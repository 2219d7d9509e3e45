package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/i474232898/weather-bot/internal/httpx"
)

// DefaultSpeechURL is the translate TTS endpoint the bot has always used.
const DefaultSpeechURL = "https://translate.google.com/translate_tts"

// maxChunkRunes is the longest text the TTS endpoint accepts per request.
const maxChunkRunes = 100

// Speaker synthesizes speech through an HTTP TTS endpoint returning MP3.
// Long text is split into chunks whose MP3 streams are concatenated.
type Speaker struct {
	baseURL string
	client  *httpx.Client
}

func NewSpeaker(client *http.Client, baseURL string, backoff httpx.BackoffConfig) *Speaker {
	if baseURL == "" {
		baseURL = DefaultSpeechURL
	}
	return &Speaker{
		baseURL: baseURL,
		client:  httpx.NewClient(client, "tts", backoff),
	}
}

func (s *Speaker) Circuit() *httpx.Client {
	return s.client
}

func (s *Speaker) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	chunks := splitText(text, maxChunkRunes)
	if len(chunks) == 0 {
		return nil, &Error{Kind: KindSpeech, Err: errors.New("empty text")}
	}
	if lang == "" {
		lang = "en"
	}

	var audio bytes.Buffer
	for i, chunk := range chunks {
		values := url.Values{}
		values.Set("ie", "UTF-8")
		values.Set("client", "tw-ob")
		values.Set("tl", lang)
		values.Set("q", chunk)
		values.Set("total", fmt.Sprintf("%d", len(chunks)))
		values.Set("idx", fmt.Sprintf("%d", i))
		values.Set("textlen", fmt.Sprintf("%d", utf8.RuneCountInString(chunk)))
		endpoint := s.baseURL + "?" + values.Encode()

		resp, err := s.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", "Mozilla/5.0")
			return req, nil
		})
		if err != nil {
			return nil, &Error{Kind: KindSpeech, Err: err}
		}
		_, err = io.Copy(&audio, resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &Error{Kind: KindSpeech, Err: err}
		}
	}

	if audio.Len() == 0 {
		return nil, &Error{Kind: KindSpeech, Err: errors.New("empty audio response")}
	}
	return audio.Bytes(), nil
}

// splitText breaks text into pieces of at most limit runes, preferring
// line and word boundaries. A single word longer than limit is cut.
func splitText(text string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, line := range strings.Split(text, "\n") {
		for _, word := range strings.Fields(line) {
			for utf8.RuneCountInString(word) > limit {
				flush()
				r := []rune(word)
				chunks = append(chunks, string(r[:limit]))
				word = string(r[limit:])
			}
			n := utf8.RuneCountInString(word)
			if curLen > 0 && curLen+1+n > limit {
				flush()
			}
			if curLen > 0 {
				cur.WriteByte(' ')
				curLen++
			}
			cur.WriteString(word)
			curLen += n
		}
		flush()
	}
	return chunks
}
