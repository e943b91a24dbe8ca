package http

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savtogether/internal/clock"
	"savtogether/internal/core"
	"savtogether/internal/facade"
	"savtogether/internal/latency"
	"savtogether/internal/metrics"
	"savtogether/internal/poller"
	"savtogether/internal/random"
	"savtogether/internal/store/memory"
)

var epoch = time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	srv     *Server
	clock   *clock.Fake
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	c := clock.NewFake(epoch)
	m := metrics.New()
	f := facade.New(facade.Config{}, facade.Deps{
		Store:   memory.New(),
		Clock:   c,
		Latency: latency.Disabled(),
		Random:  random.NewSequence(0.99),
		Metrics: m,
	})
	opts.Clock = c
	opts.Metrics = m
	srv := NewServer(":0", f, opts)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		f.Close()
	})
	return &testServer{srv: srv, clock: c, metrics: m}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// partnered logs in over HTTP and advances the clock until the invitation
// acceptance shows up on the current user.
func (ts *testServer) partnered(t *testing.T) core.User {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"demo@test.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/partner/invite", `{"email":"partner@test.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var u core.User
	require.Eventually(t, func() bool {
		ts.clock.Advance(poller.DefaultInvitationInterval)
		rec := ts.do(t, http.MethodGet, "/api/auth/user", "")
		if rec.Code != http.StatusOK {
			return false
		}
		u = decode[userResponse](t, rec).User
		return u.HasPartner()
	}, 2*time.Second, 10*time.Millisecond)
	return u
}

const tripBody = `{"name":"Trip","targetAmount":50000,"deadline":"2026-02-22","frequency":"daily","contributionPerPerson":"2.00"}`

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, http.MethodGet, "/api/auth/user", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, decode[ErrorBody](t, rec).Error)

	rec = ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"demo@test.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	u := decode[userResponse](t, rec).User
	assert.Equal(t, "demo", u.FullName)
	assert.Equal(t, "demo@test.com", u.Email)

	rec = ts.do(t, http.MethodPatch, "/api/auth/user", `{"fullName":"  Demo User "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Demo User", decode[userResponse](t, rec).User.FullName)

	rec = ts.do(t, http.MethodPost, "/api/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/auth/user", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/signup", `{"fullName":"Ravi","email":"ravi@test.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Ravi", decode[userResponse](t, rec).User.FullName)
}

func TestRejectsMalformedBodies(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"demo@test.com","admin":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "body", decode[ErrorBody](t, rec).Field)

	rec = ts.do(t, http.MethodPost, "/api/auth/login", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@b.c"}{"email":"d@e.f"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGoalsNeedPartner(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"demo@test.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/goals", tripBody)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/goals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"goals":[]}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/goals/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"goal":null}`, rec.Body.String())
}

func TestInvitationEndpoints(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"demo@test.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/partner/invitation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"invitation":null}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/partner/invite", `{"email":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/partner/invite", `{"email":"partner@test.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	inv := decode[invitationResponse](t, rec).Invitation
	require.NotNil(t, inv)
	assert.Equal(t, core.InvitationPending, inv.Status)

	rec = ts.do(t, http.MethodPost, "/api/partner/invitation/reject", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.InvitationRejected, decode[invitationResponse](t, rec).Invitation.Status)

	rec = ts.do(t, http.MethodPost, "/api/partner/invitation/reject", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGoalLifecycle(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.partnered(t)

	rec := ts.do(t, http.MethodPost, "/api/goals", tripBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	g := decode[goalResponse](t, rec).Goal
	require.NotNil(t, g)
	assert.Equal(t, int64(200), g.ContributionPerPerson.Cents)
	assert.Equal(t, core.GoalActive, g.Status)

	rec = ts.do(t, http.MethodPut, "/api/view/goal", `{"goalId":"`+g.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"transactions":[]}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/goals/"+g.ID+"/contributions", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	contrib := decode[contributionResponse](t, rec)
	assert.Equal(t, int64(400), contrib.Goal.CurrentAmount.Cents)
	assert.Len(t, contrib.Transactions, 2)

	rec = ts.do(t, http.MethodGet, "/api/goals/"+g.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(400), decode[goalResponse](t, rec).Goal.CurrentAmount.Cents)

	rec = ts.do(t, http.MethodGet, "/api/goals/"+g.ID+"/transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[transactionsResponse](t, rec).Transactions, 2)

	rec = ts.do(t, http.MethodGet, "/api/transactions?type=credit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"transactions":[]}`, rec.Body.String())
	rec = ts.do(t, http.MethodGet, "/api/transactions?type=refund", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "type", decode[ErrorBody](t, rec).Field)

	rec = ts.do(t, http.MethodGet, "/api/activity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	days := decode[activityResponse](t, rec).Days
	require.Len(t, days, 1)
	assert.Equal(t, core.NewDate(2025, 11, 1), days[0].Day)
	assert.Len(t, days[0].Transactions, 2)

	rec = ts.do(t, http.MethodGet, "/api/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"totalSaved":400,"activeGoals":1,"pausedGoals":0,"completedGoals":0}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/goals/"+g.ID+"/status", `{"status":"paused"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.GoalPaused, decode[goalResponse](t, rec).Goal.Status)

	rec = ts.do(t, http.MethodPost, "/api/goals/"+g.ID+"/contributions", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/view/goal", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/goals/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	ts := newTestServer(t, Options{RequestsPerMinute: 2})

	for range 2 {
		rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"demo@test.com"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"demo@test.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	for range 3 {
		rec = ts.do(t, http.MethodGet, "/api/auth/user", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "savtogether_http_rate_limited_total 1")
	assert.Contains(t, rec.Body.String(), `savtogether_http_requests_total{code="429",method="POST"} 1`)
}

func TestEventsStream(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"demo@test.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	hs := httptest.NewServer(ts.srv.Handler)
	defer hs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hs.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := hs.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rec = ts.do(t, http.MethodGet, "/api/goals", "")
	require.Equal(t, http.StatusOK, rec.Code)

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
		if line == "" {
			if event == "goals" {
				break
			}
			event, data = "", ""
		}
	}
	require.Equal(t, "goals", event)
	assert.Contains(t, data, `"kind":"goals"`)
}

func TestShutdownEndsOpenEventStreams(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"demo@test.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- ts.srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, ts.srv.Shutdown(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, <-served, http.ErrServerClosed)

	_, err = io.Copy(io.Discard, resp.Body)
	assert.NoError(t, err, "stream ends cleanly")
}
