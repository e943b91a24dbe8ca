package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"savtogether/internal/clock"
	"savtogether/internal/facade"
	"savtogether/internal/log"
	"savtogether/internal/metrics"
	"savtogether/internal/middleware/ratelimit"
	"savtogether/internal/middleware/security"
	"savtogether/internal/middleware/trace"
)

const (
	limiterPruneInterval = time.Minute
	limiterIdleTTL       = 10 * time.Minute
	eventsKeepAlive      = 15 * time.Second
)

// Options tunes the server. Zero values pick defaults.
type Options struct {
	RequestsPerMinute int
	// TrustedProxies are CIDRs whose forwarding headers are honored.
	TrustedProxies []string
	// Location is used to bucket the activity feed by day.
	Location *time.Location
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Logger   *log.Logger
}

type Server struct {
	http.Server

	facade   *facade.Facade
	metrics  *metrics.Metrics
	logger   *log.Logger
	clock    clock.Clock
	location *time.Location

	limiter   *ratelimit.Limiter
	pruneStop chan struct{}
	pruneDone chan struct{}
	stopOnce  sync.Once

	// streams is closed on shutdown so open event streams end
	streams     chan struct{}
	streamsOnce sync.Once
}

func NewServer(addr string, f *facade.Facade, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = ratelimit.DefaultConfig().RequestsPerMinute
	}

	s := &Server{
		facade:    f,
		metrics:   opts.Metrics,
		logger:    opts.Logger.WithComponent(log.ComponentHTTP),
		clock:     opts.Clock,
		location:  opts.Location,
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute}, opts.Clock),
		pruneStop: make(chan struct{}),
		pruneDone: make(chan struct{}),
		streams:   make(chan struct{}),
	}

	detector := security.NewDetector(func(*http.Request) { s.metrics.SuspiciousRequest() })
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			s.logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(detector.ExtractClientIP, func(*http.Request) { s.metrics.RateLimited() })(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = detector.Middleware(handler)
	handler = trace.NewMiddleware(opts.Logger, detector.ExtractClientIP, s.observe).Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		// no WriteTimeout: /api/events streams for as long as the client stays
	}
	s.RegisterOnShutdown(s.closeStreams)

	go s.pruneLimiter()

	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /api/auth/restore", s.handleRestore)
	mux.HandleFunc("GET /api/auth/user", s.handleCurrentUser)
	mux.HandleFunc("PATCH /api/auth/user", s.handleUpdateUser)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.HandleFunc("POST /api/partner/invite", s.handleInvite)
	mux.HandleFunc("GET /api/partner/invitation", s.handleInvitation)
	mux.HandleFunc("POST /api/partner/invitation/reject", s.handleRejectInvitation)

	mux.HandleFunc("GET /api/goals", s.handleListGoals)
	mux.HandleFunc("POST /api/goals", s.handleCreateGoal)
	mux.HandleFunc("GET /api/goals/active", s.handleActiveGoal)
	mux.HandleFunc("GET /api/goals/{id}", s.handleGetGoal)
	mux.HandleFunc("POST /api/goals/{id}/status", s.handleSetGoalStatus)
	mux.HandleFunc("POST /api/goals/{id}/contributions", s.handleContribute)
	mux.HandleFunc("GET /api/goals/{id}/transactions", s.handleGoalTransactions)

	mux.HandleFunc("PUT /api/view/goal", s.handleOpenGoal)
	mux.HandleFunc("DELETE /api/view/goal", s.handleCloseGoal)

	mux.HandleFunc("GET /api/transactions", s.handleAllTransactions)
	mux.HandleFunc("GET /api/activity", s.handleActivity)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/events", s.handleEvents)
}

func (s *Server) observe(r *http.Request, statusCode int, _ time.Duration) {
	s.metrics.HTTPRequest(r.Method, statusCode)
}

func (s *Server) pruneLimiter() {
	defer close(s.pruneDone)
	ticker := s.clock.NewTicker(limiterPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if n := s.limiter.Prune(limiterIdleTTL); n > 0 {
				s.logger.Debug("Pruned idle rate limit entries", "count", n)
			}
		case <-s.pruneStop:
			return
		}
	}
}

func (s *Server) closeStreams() {
	s.streamsOnce.Do(func() { close(s.streams) })
}

// Shutdown stops background maintenance, then gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.pruneStop)
		<-s.pruneDone
	})
	return s.Server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
