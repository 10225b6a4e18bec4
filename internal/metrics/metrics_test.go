package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postcast/internal/destination"
)

func TestObservers(t *testing.T) {
	m := New()
	m.ObserveCall("telegram:a", "messages.sendMedia", 10*time.Millisecond, nil)
	m.ObserveCall("telegram:a", "messages.sendMedia", 10*time.Millisecond, errors.New("x"))
	m.ObserveFloodWait("telegram:a", 3*time.Second, true)
	m.ObservePart("telegram", 512)
	m.ObservePart("telegram", 512)
	m.ObserveUpload("telegram", true, nil)
	m.ObserveOutcome("pixelfed", destination.StatusFailed, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("messages.sendMedia", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.floodWaits.WithLabelValues("true")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.partBytes.WithLabelValues("telegram")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("telegram", "true", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("pixelfed", "failed")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveOutcome("discord", destination.StatusSucceeded, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `postcast_post_outcomes_total{destination="discord",status="succeeded"} 1`)
}
