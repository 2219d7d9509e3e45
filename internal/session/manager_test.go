package session

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginStartsAtFirstStep(t *testing.T) {
	m := NewManager()

	for kind, want := range map[DialogKind]Step{
		DialogCurrentWeather: StepAwaitingCity,
		DialogForecast:       StepAwaitingCity,
		DialogAlertSetup:     StepAwaitingCity,
	} {
		s, err := m.Begin(1, kind)
		require.NoError(t, err)
		assert.Equal(t, want, s.Step, kind.String())
		assert.Empty(t, s.Collected)
	}

	_, err := m.Begin(1, DialogNone)
	assert.ErrorIs(t, err, ErrUnknownDialog)
	_, err = m.Begin(1, DialogKind(42))
	assert.ErrorIs(t, err, ErrUnknownDialog)
}

func TestValidAnswersReachComplete(t *testing.T) {
	cases := []struct {
		kind    DialogKind
		answers []string
		want    map[string]string
	}{
		{DialogCurrentWeather, []string{"  New   York "}, map[string]string{KeyCity: "New York"}},
		{DialogForecast, []string{"Oslo"}, map[string]string{KeyCity: "Oslo"}},
		{DialogAlertSetup, []string{"Oslo", "2,5"}, map[string]string{KeyCity: "Oslo", KeyThreshold: "2.5"}},
	}

	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			m := NewManager()
			_, err := m.Begin(7, tc.kind)
			require.NoError(t, err)

			var res StepResult
			for i, a := range tc.answers {
				res, err = m.Advance(7, a)
				require.NoError(t, err)
				assert.Equal(t, i == len(tc.answers)-1, res.Complete)
			}
			assert.Equal(t, StepComplete, res.Session.Step)
			assert.Equal(t, tc.want, res.Session.Collected)

			_, err = m.Advance(7, "again")
			assert.ErrorIs(t, err, ErrComplete)

			m.End(7)
			_, ok := m.Current(7)
			assert.False(t, ok)
		})
	}
}

func TestInvalidAnswerKeepsStep(t *testing.T) {
	m := NewManager()
	_, err := m.Begin(1, DialogAlertSetup)
	require.NoError(t, err)

	_, err = m.Advance(1, "   ")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, TagEmptyCity, verr.Tag)

	res, err := m.Advance(1, "Oslo")
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingThreshold, res.Next)

	for input, tag := range map[string]ValidationTag{
		"warm": TagNotANumber,
		"NaN":  TagNotANumber,
		"0":    TagNonPositiveNumber,
		"-3":   TagNonPositiveNumber,
	} {
		res, err = m.Advance(1, input)
		require.True(t, errors.As(err, &verr), input)
		assert.Equal(t, tag, verr.Tag, input)
		assert.Equal(t, StepAwaitingThreshold, res.Session.Step, input)
		assert.Equal(t, map[string]string{KeyCity: "Oslo"}, res.Session.Collected)
	}

	res, err = m.Advance(1, "5°C")
	require.NoError(t, err)
	assert.True(t, res.Complete)
	v, ok := res.Session.Threshold()
	assert.True(t, ok)
	assert.Equal(t, 5.0, v)
}

func TestCityTooLong(t *testing.T) {
	m := NewManager()
	_, err := m.Begin(1, DialogForecast)
	require.NoError(t, err)

	long := make([]rune, MaxCityLength+1)
	for i := range long {
		long[i] = 'я'
	}
	_, err = m.Advance(1, string(long))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, TagCityTooLong, verr.Tag)
}

func TestBeginDiscardsPreviousDialog(t *testing.T) {
	m := NewManager()
	_, err := m.Begin(1, DialogAlertSetup)
	require.NoError(t, err)
	_, err = m.Advance(1, "Oslo")
	require.NoError(t, err)

	s, err := m.Begin(1, DialogForecast)
	require.NoError(t, err)
	assert.Equal(t, DialogForecast, s.Kind)
	assert.Equal(t, StepAwaitingCity, s.Step)
	assert.Empty(t, s.Collected)

	cur, ok := m.Current(1)
	require.True(t, ok)
	assert.Empty(t, cur.Collected)
}

func TestAdvanceWithoutSession(t *testing.T) {
	m := NewManager()
	_, err := m.Advance(1, "Oslo")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestReturnedSessionIsACopy(t *testing.T) {
	m := NewManager()
	_, err := m.Begin(1, DialogAlertSetup)
	require.NoError(t, err)
	res, err := m.Advance(1, "Oslo")
	require.NoError(t, err)

	res.Session.Collected[KeyCity] = "Hacked"

	cur, ok := m.Current(1)
	require.True(t, ok)
	assert.Equal(t, "Oslo", cur.City())
}

func TestIdleTimeoutExpiresSession(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(WithIdleTimeout(10*time.Minute), WithClock(func() time.Time { return now }))

	_, err := m.Begin(1, DialogForecast)
	require.NoError(t, err)
	_, err = m.Begin(2, DialogForecast)
	require.NoError(t, err)

	now = now.Add(9 * time.Minute)
	_, ok := m.Current(1)
	assert.True(t, ok)

	// Answering refreshes the activity time.
	_, err = m.Advance(2, "")
	require.Error(t, err)

	now = now.Add(2 * time.Minute)
	_, ok = m.Current(1)
	assert.False(t, ok)
	_, err = m.Advance(1, "Oslo")
	assert.ErrorIs(t, err, ErrNoSession)

	assert.Equal(t, 1, m.Len())
	now = now.Add(time.Hour)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 0, m.Len())
}

func TestMaxAttemptsAbandonsDialog(t *testing.T) {
	m := NewManager(WithMaxAttempts(2))
	_, err := m.Begin(1, DialogAlertSetup)
	require.NoError(t, err)
	_, err = m.Advance(1, "Oslo")
	require.NoError(t, err)

	res, err := m.Advance(1, "x")
	require.Error(t, err)
	assert.False(t, res.Abandoned)

	res, err = m.Advance(1, "y")
	require.Error(t, err)
	assert.True(t, res.Abandoned)

	_, ok := m.Current(1)
	assert.False(t, ok)
}

func TestMaxAttemptsResetsOnValidAnswer(t *testing.T) {
	m := NewManager(WithMaxAttempts(2))
	_, err := m.Begin(1, DialogAlertSetup)
	require.NoError(t, err)

	_, err = m.Advance(1, "")
	require.Error(t, err)
	_, err = m.Advance(1, "Oslo")
	require.NoError(t, err)

	res, err := m.Advance(1, "nope")
	require.Error(t, err)
	assert.False(t, res.Abandoned)
}

// Two users answer their alert dialogs with arbitrary interleaving; neither
// sees the other's answers.
func TestInterleavedUsersDoNotShareAnswers(t *testing.T) {
	m := NewManager()
	locks := NewKeyedMutex()

	type script struct {
		user    int64
		answers []string
	}
	users := []script{
		{user: 1, answers: []string{"Oslo", "3"}},
		{user: 2, answers: []string{"Lima", "7.5"}},
	}

	for round := 0; round < 50; round++ {
		for _, u := range users {
			_, err := m.Begin(u.user, DialogAlertSetup)
			require.NoError(t, err)
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			results = map[int64]Session{}
		)
		for _, u := range users {
			wg.Add(1)
			go func(u script) {
				defer wg.Done()
				for _, a := range u.answers {
					time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)
					unlock := locks.Lock(u.user)
					res, err := m.Advance(u.user, a)
					unlock()
					if err != nil {
						t.Errorf("user %d: %v", u.user, err)
						return
					}
					if res.Complete {
						mu.Lock()
						results[u.user] = res.Session
						mu.Unlock()
					}
				}
			}(u)
		}
		wg.Wait()

		require.Len(t, results, 2, fmt.Sprintf("round %d", round))
		assert.Equal(t, map[string]string{KeyCity: "Oslo", KeyThreshold: "3"}, results[1].Collected)
		assert.Equal(t, map[string]string{KeyCity: "Lima", KeyThreshold: "7.5"}, results[2].Collected)
	}
	assert.Equal(t, 0, locks.Len())
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		active  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(5)
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(100 * time.Microsecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, k.Len())
}

func TestKeyedMutexUnlockIsIdempotent(t *testing.T) {
	k := NewKeyedMutex()
	unlock := k.Lock(1)
	unlock()
	unlock()

	other := k.Lock(1)
	other()
	assert.Equal(t, 0, k.Len())
}
