package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Contribution(400)
	m.Contribution(200)
	m.Invitation("pending")
	m.Invitation("accepted")
	m.PollerTick(ScheduleContribution, nil)
	m.PollerTick(ScheduleContribution, errors.New("boom"))
	m.EventConsumed("contribution.applied")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.contributions))
	assert.Equal(t, 600.0, testutil.ToFloat64(m.contributedCents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invitations.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pollerTicks.WithLabelValues(ScheduleContribution)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollerErrors.WithLabelValues(ScheduleContribution)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsConsumed.WithLabelValues("contribution.applied")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Contribution(400)
	m.ObserveOperation("goals.create", 50*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "savtogether_contributions_total 1"), string(body))
	assert.True(t, strings.Contains(string(body), `savtogether_operation_seconds_count{op="goals.create"} 1`), string(body))
}

func TestHTTPCounters(t *testing.T) {
	m := New()
	m.HTTPRequest("POST", 201)
	m.HTTPRequest("POST", 201)
	m.RateLimited()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `savtogether_http_requests_total{code="201",method="POST"} 2`)
	assert.Contains(t, body, "savtogether_http_rate_limited_total 1")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Contribution(1)
	m.Invitation("pending")
	m.PollerTick(ScheduleInvitationWatch, nil)
	m.ObserveOperation("x", time.Second)
	m.EventConsumed("x")
	m.HTTPRequest("GET", 200)
	m.RateLimited()
	m.SuspiciousRequest()
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
