package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/facility-review-core/internal/access"
	"github.com/nerrad567/facility-review-core/internal/audit"
	"github.com/nerrad567/facility-review-core/internal/auth"
	"github.com/nerrad567/facility-review-core/internal/console"
	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/config"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/logging"
	"github.com/nerrad567/facility-review-core/internal/provisioning"
	"github.com/nerrad567/facility-review-core/internal/review"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Pagination config.PaginationConfig
	Logger     *logging.Logger

	Gate         *access.Gate
	Auth         *auth.Service
	Authorizer   *auth.ResourceAuthorizer
	Catalog      facility.Repository
	Reviews      *review.Store
	Machine      *review.Machine
	Provisioning *provisioning.Service
	Console      *console.Client

	// AuditRepo serves GET /audit-logs; Audit queues request-level entries.
	// Both are optional.
	AuditRepo audit.Repository
	Audit     *audit.Recorder

	// Hub is shared with the event dispatcher. If nil the server creates its own.
	Hub *Hub

	// Clock defaults to time.Now. The contractor gate and reviewing_info
	// are evaluated against it.
	Clock   func() time.Time
	Version string
}

// Server serves the contractor and admin HTTP APIs and the admin live feed.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	pageSize   int
	logger     *logging.Logger
	gate       *access.Gate
	auth       *auth.Service
	authorizer *auth.ResourceAuthorizer
	catalog    facility.Repository
	reviews    *review.Store
	machine    *review.Machine
	qr         *provisioning.Service
	console    *console.Client
	auditRepo  audit.Repository
	audit      *audit.Recorder
	hub        *Hub
	tickets    *ticketStore
	now        func() time.Time
	version    string
	server     *http.Server
	cancel     context.CancelFunc
}

// New validates deps and builds an unstarted Server.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Gate == nil:
		return nil, errors.New("access gate is required")
	case deps.Auth == nil || deps.Authorizer == nil:
		return nil, errors.New("admin auth is required")
	case deps.Catalog == nil || deps.Reviews == nil || deps.Machine == nil:
		return nil, errors.New("catalogue and review stores are required")
	case deps.Provisioning == nil:
		return nil, errors.New("provisioning service is required")
	case deps.Console == nil:
		return nil, errors.New("console client is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		pageSize:   deps.Pagination.DefaultPageSize,
		logger:     deps.Logger,
		gate:       deps.Gate,
		auth:       deps.Auth,
		authorizer: deps.Authorizer,
		catalog:    deps.Catalog,
		reviews:    deps.Reviews,
		machine:    deps.Machine,
		qr:         deps.Provisioning,
		console:    deps.Console,
		auditRepo:  deps.AuditRepo,
		audit:      deps.Audit,
		hub:        deps.Hub,
		tickets:    newTicketStore(),
		now:        deps.Clock,
		version:    deps.Version,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.pageSize <= 0 {
		s.pageSize = defaultPageSize
	}
	if s.wsCfg.PingInterval <= 0 {
		s.wsCfg.PingInterval = 30
	}
	if s.wsCfg.PongTimeout <= 0 {
		s.wsCfg.PongTimeout = 10
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s, nil
}

// Handler returns the routed handler with the full middleware stack.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the live feed hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start launches the feed hub, the ticket sweeper and the HTTP listener,
// then returns. Listener failures after startup are logged. Close stops
// all three.
func (s *Server) Start(ctx context.Context) error {
	bg, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.hub.Run(bg)
	go s.tickets.cleanLoop(bg)

	read := time.Duration(s.cfg.Timeouts.Read) * time.Second
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	serve := s.server.ListenAndServe
	if tls := s.cfg.TLS; tls.Enabled {
		serve = func() error { return s.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile) }
	}
	s.logger.Info("API server listening", "address", s.server.Addr, "tls", s.cfg.TLS.Enabled)

	go func() {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()
	return nil
}

// Close stops background work and drains in-flight requests for up to
// gracefulShutdownTimeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("draining API server: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has run.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
