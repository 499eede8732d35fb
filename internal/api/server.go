// Package api provides the HTTP REST API and WebSocket server for Payload Core.
//
// It exposes camera control, the capture ledger, and a live event stream to
// operator tooling on the ground segment.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/payload-core/internal/audit"
	"github.com/nerrad567/payload-core/internal/auth"
	"github.com/nerrad567/payload-core/internal/camera"
	"github.com/nerrad567/payload-core/internal/infrastructure/config"
	"github.com/nerrad567/payload-core/internal/infrastructure/logging"
	"github.com/nerrad567/payload-core/internal/ledger"
)

const (
	// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
	// to complete during shutdown.
	gracefulShutdownTimeout = 10 * time.Second

	// defaultRequestTimeout bounds one camera request. Initialize waits for
	// the device to reboot, so this is generous.
	defaultRequestTimeout = 2 * time.Minute

	// eventBuffer is the engine subscription depth for the WebSocket relay.
	eventBuffer = 64
)

// Engine is the part of the camera engine the API drives.
// *camera.Engine satisfies it.
type Engine interface {
	Do(ctx context.Context, req camera.Request) (any, error)
	Subscribe(buffer int) *camera.Subscription[camera.CameraEvent]
	Health() camera.Health
}

// ConnectionStatus reports whether an optional link is up.
// *mqtt.Client satisfies it.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Engine   Engine
	Ledger   ledger.Repository // optional
	Audit    audit.Repository  // optional
	MQTT     ConnectionStatus  // optional, reported by /metrics
	DB       *sql.DB           // optional, reported by /metrics
	Version  string

	// RequestTimeout bounds each camera request. Default: 2m
	RequestTimeout time.Duration
}

// Server is the HTTP API server for Payload Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	secCfg         config.SecurityConfig
	logger         *logging.Logger
	engine         Engine
	ledger         ledger.Repository
	audit          audit.Repository
	mqtt           ConnectionStatus
	db             *sql.DB
	version        string
	requestTimeout time.Duration
	keys           *auth.KeyRing
	tickets        *ticketStore
	startTime      time.Time
	server         *http.Server
	hub            *Hub
	cancel         context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("camera engine is required")
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}

	return &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		secCfg:         deps.Security,
		logger:         deps.Logger,
		engine:         deps.Engine,
		ledger:         deps.Ledger,
		audit:          deps.Audit,
		mqtt:           deps.MQTT,
		db:             deps.DB,
		version:        deps.Version,
		requestTimeout: deps.RequestTimeout,
		keys:           auth.NewKeyRing(deps.Security.OperatorKey, deps.Security.ObserverKey),
		tickets:        newTicketStore(),
		startTime:      time.Now(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the engine event relay, then launches the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	go s.relayEvents(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// relayEvents forwards engine events to WebSocket subscribers until ctx is
// cancelled.
func (s *Server) relayEvents(ctx context.Context) {
	sub := s.engine.Subscribe(eventBuffer)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			s.hub.Broadcast(eventChannel(ev.Type), newEventPayload(ev))
		}
	}
}
