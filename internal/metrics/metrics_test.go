package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoiceCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	v := NewVoice(reg)

	v.Transition("idle", "recording")
	v.Transition("idle", "recording")
	v.Stale("transcribed")
	v.ObserveCall("chat", 200*time.Millisecond, nil)
	v.ObserveCall("chat", time.Second, errors.New("boom"))
	v.SessionStarted()
	v.SessionStarted()
	v.SessionEnded()
	v.Utterance(time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(v.transitions.WithLabelValues("idle", "recording")))
	assert.Equal(t, 1.0, testutil.ToFloat64(v.stale.WithLabelValues("transcribed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(v.callErrors.WithLabelValues("chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(v.sessions))

	count, err := testutil.GatherAndCount(reg, "voice_collaborator_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilVoiceIsNoop(t *testing.T) {
	var v *Voice
	assert.NotPanics(t, func() {
		v.Transition("a", "b")
		v.Stale("x")
		v.ObserveCall("chat", time.Second, errors.New("x"))
		v.SessionStarted()
		v.SessionEnded()
		v.Utterance(time.Second)
	})
}

func TestHTTPMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHTTP(reg)

	e := echo.New()
	e.Use(h.Middleware())
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(h.requests.WithLabelValues("GET", "/healthz", "200")))
}
